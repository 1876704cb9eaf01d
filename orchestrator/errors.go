package orchestrator

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when a retry policy allows no attempts.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrBatchNotFound is returned when a batch id is not registered.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrSupervisorClosed is returned by Begin after Close.
	ErrSupervisorClosed = errors.New("supervisor is closed")

	// ErrStoreRequired is returned when a Supervisor is built without a store.
	ErrStoreRequired = errors.New("asset repository is required")
)
