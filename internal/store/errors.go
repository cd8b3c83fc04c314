package store

import (
	"errors"
	"fmt"
)

// ErrorClass partitions store failures by how callers must react.
type ErrorClass int

const (
	// ClassInvalidArgument rejects the operation at the boundary.
	ClassInvalidArgument ErrorClass = iota + 1
	// ClassTransient covers timeouts, commit conflicts and throttling.
	// The current tick logs and returns; the next tick retries.
	ClassTransient
	// ClassNotPrimary means this replica lost write status mid-flight.
	// The current tick is abandoned without commit.
	ClassNotPrimary
	// ClassNotFound reports a missing key or table.
	ClassNotFound
	// ClassFatal marks invariant violations.
	ClassFatal
)

// Error is the error type returned by every store operation.
type Error struct {
	Class   ErrorClass
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError wraps cause with a class and message.
func NewError(class ErrorClass, message string, cause error) *Error {
	return &Error{Class: class, Message: message, Cause: cause}
}

func classOf(err error) ErrorClass {
	var se *Error
	if errors.As(err, &se) {
		return se.Class
	}
	return 0
}

// IsTransient reports whether err should be retried on the next tick.
func IsTransient(err error) bool { return classOf(err) == ClassTransient }

// IsNotPrimary reports whether err means the replica lost primacy.
func IsNotPrimary(err error) bool { return classOf(err) == ClassNotPrimary }

// IsNotFound reports whether err is a missing-key failure.
func IsNotFound(err error) bool { return classOf(err) == ClassNotFound }

// IsInvalidArgument reports whether err was rejected at the boundary.
func IsInvalidArgument(err error) bool { return classOf(err) == ClassInvalidArgument }
