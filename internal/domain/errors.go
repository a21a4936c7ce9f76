package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAborted         = errors.New("ritual aborted")
	ErrTimeout         = errors.New("ritual timed out")
	ErrNoCredits       = errors.New("no threads remaining")
	ErrConflict        = errors.New("generation already in flight")
	ErrCooldown        = errors.New("generation cooldown active")
	ErrUnsupportedTier = errors.New("unsupported tier")
	ErrInvalidProfile  = errors.New("invalid profile")
	ErrPanelMissing    = errors.New("panel missing from payload")
)

// FailureClass is the user-facing classification of a failed ritual.
type FailureClass string

const (
	FailureAuthRequired      FailureClass = "AUTH_REQUIRED"
	FailureNoCredits         FailureClass = "NO_CREDITS"
	FailureRateLimited       FailureClass = "RATE_LIMITED"
	FailureRequestConflict   FailureClass = "REQUEST_CONFLICT"
	FailureEndpointNotFound  FailureClass = "ENDPOINT_NOT_FOUND"
	FailureServerError       FailureClass = "SERVER_ERROR"
	FailureTimeout           FailureClass = "TIMEOUT"
	FailureMalformedResponse FailureClass = "MALFORMED_RESPONSE"
	FailureAborted           FailureClass = "ABORTED"
	FailureVoidResponse      FailureClass = "VOID_RESPONSE"
)

var failureMessages = map[FailureClass]string{
	FailureAuthRequired:      "Uplink identity required.",
	FailureNoCredits:         "No threads remaining this cycle.",
	FailureRateLimited:       "Signal saturated. Try again shortly.",
	FailureRequestConflict:   "Another case is already being pulled.",
	FailureEndpointNotFound:  "Uplink endpoint unreachable.",
	FailureServerError:       "Signal lost.",
	FailureTimeout:           "Neural uplink timed out.",
	FailureMalformedResponse: "Corrupted case file received.",
	FailureAborted:           "Uplink aborted.",
	FailureVoidResponse:      "Empty transmission received.",
}

// Message returns the short human-readable text shown to the reader.
func (c FailureClass) Message() string {
	if msg, ok := failureMessages[c]; ok {
		return msg
	}
	return failureMessages[FailureServerError]
}

// Failure is a classified error. The wrapped cause is for logs only.
type Failure struct {
	Class FailureClass
	Err   error
}

// NewFailure wraps err with the given classification.
func NewFailure(class FailureClass, err error) *Failure {
	return &Failure{Class: class, Err: err}
}

// Failf builds a Failure from a formatted cause.
func Failf(class FailureClass, format string, args ...any) *Failure {
	return &Failure{Class: class, Err: fmt.Errorf(format, args...)}
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Class)
	}
	return fmt.Sprintf("%s: %v", f.Class, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Classify maps any error produced while running a ritual to its class.
func Classify(err error) FailureClass {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Class
	}
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, ErrAborted), errors.Is(err, context.Canceled):
		return FailureAborted
	case errors.Is(err, ErrNoCredits):
		return FailureNoCredits
	case errors.Is(err, ErrConflict):
		return FailureRequestConflict
	case errors.Is(err, ErrCooldown):
		return FailureRateLimited
	default:
		return FailureServerError
	}
}

// AsFailure returns err as a *Failure, classifying it when needed.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Class: Classify(err), Err: err}
}
