package services

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or out-of-range caller input. It names
// the offending field so the API can return a structured 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a referenced resource that does not exist or is not
// visible to the caller.
type NotFoundError struct {
	Resource string
	ID       any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Resource, e.ID)
}

// AuthorizationError reports a caller lacking rights on a resource.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "forbidden: " + e.Reason
}

// ProviderError wraps a failed or timed-out text-generation call. The
// classifier and composer absorb it and degrade to deterministic behavior;
// it never reaches the orchestrator as a failure.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ParseError reports unparsable structured output from the provider. Like
// ProviderError it is absorbed locally and triggers the documented fallback.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparsable provider output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// InvalidStateTransition reports an illegal aiStatus move. It is surfaced
// to the caller, never silently ignored.
type InvalidStateTransition struct {
	From string
	To   string
}

func (e *InvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid ai status transition %s -> %s", e.From, e.To)
}

// StorageError reports a durable-write failure. Fatal for the current
// operation; retry policy belongs to the storage layer, not the engine.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
