package retry

import (
	"context"
	"errors"
)

// Class partitions phase failures by how the retry loop should treat them.
type Class int

const (
	// ClassTransient covers network errors, timeouts, rate limits --
	// anything that may succeed on a later attempt.
	ClassTransient Class = iota
	// ClassPermanent covers configuration and input errors that no amount
	// of retrying will fix. They fail the phase immediately.
	ClassPermanent
)

func (c Class) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}

// classedError tags an error with a failure class so the executor can
// inspect it without relying on collaborator-specific error types.
type classedError struct {
	class Class
	err   error
}

func (e *classedError) Error() string { return e.err.Error() }
func (e *classedError) Unwrap() error { return e.err }

// Transient wraps err as a retryable phase failure. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classedError{class: ClassTransient, err: err}
}

// Permanent wraps err as a non-retryable phase failure. Returns nil for nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classedError{class: ClassPermanent, err: err}
}

// Classify returns the failure class of err. Deadline expiry is transient
// (a slow collaborator may respond next time); unclassified errors default
// to transient so that only explicitly-permanent failures skip the retry
// loop.
func Classify(err error) Class {
	var ce *classedError
	if errors.As(err, &ce) {
		return ce.class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassTransient
}

// IsPermanent reports whether err is classified as permanent.
func IsPermanent(err error) bool {
	return err != nil && Classify(err) == ClassPermanent
}
