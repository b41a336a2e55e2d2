// Package fault defines the failure taxonomy for the VoiceDesk pipeline.
// Every failure that can surface to the user or drive a retry decision is
// classified here, so retry policy branches on cause rather than on string
// matching. No fault is fatal to the process: each one resolves to a
// reportable conversational turn.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// None indicates no failure.
	None Kind = ""

	// ResolverTimeout indicates the language-model collaborator did not
	// answer within its deadline.
	ResolverTimeout Kind = "resolver_timeout"

	// ResolverMalformedResponse indicates the collaborator answered with
	// text that cannot be mapped to any command.
	ResolverMalformedResponse Kind = "resolver_malformed_response"

	// ValidationFailed indicates a resolved command was missing a required
	// parameter or carried a parameter of the wrong semantic type.
	ValidationFailed Kind = "validation_failed"

	// ConfirmationExpired indicates an affirmative reply arrived after the
	// pending confirmation's deadline had elapsed.
	ConfirmationExpired Kind = "confirmation_expired"

	// ConfirmationMismatch indicates a reply that was neither clearly
	// affirmative nor clearly negative.
	ConfirmationMismatch Kind = "confirmation_mismatch"

	// ExecutorTransient indicates a retryable backend failure such as a
	// dropped connection or a momentary network error.
	ExecutorTransient Kind = "executor_transient"

	// ExecutorPermanent indicates a non-retryable backend failure:
	// authentication, not-found, or permission.
	ExecutorPermanent Kind = "executor_permanent"

	// ExecutorTimeout indicates a backend call exceeded its per-call deadline.
	ExecutorTimeout Kind = "executor_timeout"
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	if k == None {
		return "none"
	}
	return string(k)
}

// Retryable reports whether the dispatcher may retry a failure of this kind.
// Only transient executor failures are retried; everything else either
// recovers locally (validation, malformed response) or surfaces immediately.
func (k Kind) Retryable() bool {
	return k == ExecutorTransient
}

// Fault is an error carrying a taxonomy Kind and an optional wrapped cause.
type Fault struct {
	Kind   Kind
	Detail string
	Err    error
}

// New creates a Fault of the given kind with a formatted detail message.
func New(kind Kind, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap creates a Fault of the given kind wrapping an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Detail, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (f *Fault) Unwrap() error {
	return f.Err
}

// KindOf extracts the taxonomy kind from an error chain.
// Errors that carry no Fault classify as None.
func KindOf(err error) Kind {
	if err == nil {
		return None
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return None
}

// IsKind reports whether err carries the given taxonomy kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
