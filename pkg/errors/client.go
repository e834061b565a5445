package errors

import "errors"

// Skip represents an expected condition where the event is not translated.
// It is logged and never propagated to the event source.
type Skip struct {
	base
}

// Error returns the error message for Skip.
func (s Skip) Error() string {
	return s.error()
}

// NewSkip creates a new Skip error with the provided message.
func NewSkip(message string, err ...error) Skip {
	return Skip{
		base: base{
			message: message,
			err:     chain(err),
		},
	}
}

// Validation represents an event whose content could not be resolved
// (malformed representation, unknown role). The event is dropped.
type Validation struct {
	base
}

// Error returns the error message for Validation.
func (v Validation) Error() string {
	return v.error()
}

// NewValidation creates a new Validation error with the provided message.
func NewValidation(message string, err ...error) Validation {
	return Validation{
		base: base{
			message: message,
			err:     chain(err),
		},
	}
}

// IsSkip reports whether err carries a Skip anywhere in its chain.
func IsSkip(err error) bool {
	var s Skip
	return errors.As(err, &s)
}

// IsValidation reports whether err carries a Validation anywhere in its chain.
func IsValidation(err error) bool {
	var v Validation
	return errors.As(err, &v)
}
