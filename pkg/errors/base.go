// Package errors defines the error classes that decide how a translation problem
// is treated at the event-source boundary.
package errors

import "fmt"

// base is a struct that holds the common fields for error types
type base struct {
	message string
	err     error
}

// error is a method that returns the error message for the base struct
// any changes to the error message here will be reflected in all error types that embed base
func (b base) error() string {
	if b.err == nil {
		return b.message
	}
	return fmt.Sprintf("%s: %v", b.message, b.err)
}

// Unwrap exposes the cause so errors.Is can reach sentinel values.
func (b base) Unwrap() error {
	return b.err
}

// chain links causes into one error, outermost first. Unlike errors.Join the
// message stays on a single line; errors.Is and errors.As still reach every cause.
func chain(causes []error) error {
	var chained error
	for _, cause := range causes {
		switch {
		case cause == nil:
		case chained == nil:
			chained = cause
		default:
			chained = fmt.Errorf("%w: %w", chained, cause)
		}
	}
	return chained
}
