// Package kernelerrors provides the error taxonomy used across the kernel
// (§7). It mirrors the shape of a structured service error — a stable code,
// a human message, and an optional wrapped cause — the way the rest of the
// ambient stack does it, but the codes are the kernel's own error kinds
// rather than HTTP-status-coded application errors.
package kernelerrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy of §7. These are kinds, not Go types:
// every KernelError carries exactly one Kind.
type Kind string

const (
	InvalidArgument  Kind = "InvalidArgument"
	InvalidState     Kind = "InvalidState"
	NotFound         Kind = "NotFound"
	StorageFailure   Kind = "StorageFailure"
	NetworkTransient Kind = "NetworkTransient"
	NetworkPermanent Kind = "NetworkPermanent"
	Timeout          Kind = "Timeout"
	PolicyReject     Kind = "PolicyReject"
	HandlerFailure   Kind = "HandlerFailure"
	RemoteFailure    Kind = "RemoteFailure"
	Unauthorized     Kind = "Unauthorized"
	Internal         Kind = "Internal"
)

// KernelError is the concrete error type raised by kernel operations.
type KernelError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *KernelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *KernelError) Unwrap() error {
	return e.Cause
}

// New constructs a KernelError of the given kind.
func New(kind Kind, message string) *KernelError {
	return &KernelError{Kind: kind, Message: message}
}

// Wrap constructs a KernelError of the given kind around an existing cause.
func Wrap(kind Kind, message string, cause error) *KernelError {
	return &KernelError{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a KernelError of the given kind.
func Is(err error, kind Kind) bool {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to Internal for errors that
// did not originate from this package.
func KindOf(err error) Kind {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return Internal
}

// Timeoutf is a convenience constructor matching the §7 note that timeouts
// are indistinguishable from NetworkPermanent failures at the kernel level;
// it is still tagged Timeout so callers that care about the distinction
// (e.g. "Timeout during claim" in scenario 2 of §8) can still test for it.
func Timeoutf(format string, args ...interface{}) *KernelError {
	return New(Timeout, fmt.Sprintf(format, args...))
}
