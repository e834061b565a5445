package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	errSentinel = errors.New("sentinel")
	errCause    = errors.New("cause")
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"skip without cause", NewSkip("not handled"), "not handled"},
		{"skip with cause", NewSkip("not handled", errCause), "not handled: cause"},
		{"validation", NewValidation("bad payload", errCause), "bad payload: cause"},
		{"validation with sentinel and cause", NewValidation("bad payload", errSentinel, errCause), "bad payload: sentinel: cause"},
		{"service unavailable", NewServiceUnavailable("store down", errCause), "store down: cause"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestClassification(t *testing.T) {
	wrapped := fmt.Errorf("normalize: %w", NewSkip("not handled", errCause))

	assert.True(t, IsSkip(wrapped))
	assert.False(t, IsValidation(wrapped))
	assert.ErrorIs(t, wrapped, errCause)

	validation := NewValidation("bad payload", errCause)
	assert.True(t, IsValidation(validation))
	assert.False(t, IsSkip(validation))
	assert.ErrorIs(t, validation, errCause)

	assert.False(t, IsSkip(NewServiceUnavailable("down")))
}

func TestChainedCausesStayReachable(t *testing.T) {
	err := NewValidation("event representation cannot be parsed", errSentinel, errors.New("invalid character 'o' in literal null"))

	assert.ErrorIs(t, err, errSentinel)
	assert.NotContains(t, err.Error(), "\n")
	assert.Equal(t, "event representation cannot be parsed: sentinel: invalid character 'o' in literal null", err.Error())

	assert.NoError(t, chain(nil))
	assert.Equal(t, errCause, chain([]error{nil, errCause}))
}
