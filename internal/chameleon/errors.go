package chameleon

import (
	"errors"
	"net/http"
)

// Kind classifies a transformation failure.
type Kind int

const (
	// KindConfiguration is a destination setup problem.
	KindConfiguration Kind = iota + 1
	// KindInstrumentation is a malformed or incomplete event.
	KindInstrumentation
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindInstrumentation:
		return "instrumentation"
	default:
		return "unknown"
	}
}

// Error is a typed transformation failure for a single event.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// StatusCode is the HTTP-style status reported for the failed event.
func (e *Error) StatusCode() int { return http.StatusBadRequest }

// ConfigurationError returns a KindConfiguration error.
func ConfigurationError(msg string) *Error {
	return &Error{Kind: KindConfiguration, Message: msg}
}

// InstrumentationError returns a KindInstrumentation error.
func InstrumentationError(msg string) *Error {
	return &Error{Kind: KindInstrumentation, Message: msg}
}

// KindOf returns the Kind of err, or 0 when err is not a transformation error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
