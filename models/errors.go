package models

import "fmt"

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ConflictError is returned once optimistic retries are exhausted.
type ConflictError struct {
	ID       string
	Attempts int
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting writes on %q after %d attempts: %v", e.ID, e.Attempts, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// PermissionError is an access-policy rejection.
type PermissionError struct {
	Op     string
	Reason string
	Err    error
}

func (e *PermissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: permission denied: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: permission denied: %s", e.Op, e.Reason)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// StoreUnavailableError means the persistence layer could not be reached.
// Callers may retry; the core does not.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: store unavailable: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }
