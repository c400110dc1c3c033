package store

import "fmt"

// NotFoundError indicates the item was not found within the caller's tenant scope.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// InvariantViolationError indicates a client-supplied value that the data
// model rejects, such as an importance score outside [0, 1] or a write to
// a system-managed field.
type InvariantViolationError struct {
	Field   string
	Message string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ConflictError indicates a concurrent modification lost the race.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// BackendUnavailableError indicates a dependency (database, vector index)
// could not be reached. The wrapped error carries the cause.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}
