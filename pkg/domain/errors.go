package domain

import "fmt"

// NotFoundError is returned when a referenced entity does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ConflictError is returned when an operation would violate a lifecycle
// invariant: a duplicate outstanding application, an animal already
// committed to another approval, or an availability flip blocked by an
// approved application.
type ConflictError struct {
	Entity EntityType
	ID     string
	Reason string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

// InvalidTransitionError is returned when the requested status change is
// not allowed from the application's current status. No-op transitions are
// rejected with this error rather than silently accepted.
type InvalidTransitionError struct {
	From ApplicationStatus
	To   ApplicationStatus
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// ForbiddenError is returned when the caller lacks the staff capability
// required for state-changing transitions.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason == "" {
		return "operation forbidden"
	}
	return e.Reason
}

// UnavailableError wraps storage-layer failures. The whole atomic unit has
// rolled back and the caller may retry the full operation.
type UnavailableError struct {
	Err error
}

func (e UnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Err)
}

// Unwrap exposes the underlying storage error.
func (e UnavailableError) Unwrap() error { return e.Err }
