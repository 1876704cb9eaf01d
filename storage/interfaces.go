package storage

import (
	"context"
	"iter"

	"github.com/poiesic/curator/core"
)

// Predicate selects records during a scan. A nil predicate selects everything.
type Predicate func(*core.AssetRecord) bool

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// WithTransaction executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// AssetRepository is the Metadata Store: the source of truth for asset records.
// The text and vector indices are projections that can be rebuilt from it.
type AssetRepository interface {
	Repository

	// GetByID retrieves a record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetByID(ctx context.Context, id core.ID) (*core.AssetRecord, error)

	// GetByHash retrieves the record owning a content hash.
	// Returns ErrNotFound if no record owns the hash.
	GetByHash(ctx context.Context, hash string) (*core.AssetRecord, error)

	// GetByPath retrieves the record currently located at path.
	// Returns ErrNotFound if no record is known at path.
	GetByPath(ctx context.Context, path string) (*core.AssetRecord, error)

	// GetByIDs retrieves multiple records.
	// Returns only the records that exist (no error for missing records).
	GetByIDs(ctx context.Context, ids ...core.ID) ([]*core.AssetRecord, error)

	// Create stores a new record and assigns its ID from a sequence.
	// Returns a *DuplicateHashError wrapping ErrDuplicateKey if the content
	// hash already belongs to another record.
	Create(ctx context.Context, record *core.AssetRecord) (*core.AssetRecord, error)

	// Upsert writes a record atomically. The stored state must be allowed to
	// move to the new state (core.CanTransition), otherwise *core.StaleWriteError
	// is returned and nothing is written. Transaction conflicts with concurrent
	// writers are retried internally.
	Upsert(ctx context.Context, record *core.AssetRecord) (*core.AssetRecord, error)

	// Scan lazily yields records in ID order that match predicate.
	Scan(ctx context.Context, predicate Predicate) iter.Seq2[*core.AssetRecord, error]

	// MarkMissing flags a record whose file is gone. The record stays in the
	// store until Purge.
	MarkMissing(ctx context.Context, id core.ID) error

	// Purge deletes every missing record and returns their IDs.
	Purge(ctx context.Context) ([]core.ID, error)

	// Stats summarizes the store.
	Stats(ctx context.Context) (core.Stats, error)

	// Count returns the number of records matching predicate.
	Count(ctx context.Context, predicate Predicate) (int, error)
}

// CheckpointRepository stores resume positions for restartable operations.
type CheckpointRepository interface {
	// SaveCheckpoint persists a checkpoint, stamping UpdatedAt.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint returns the named checkpoint, or nil, nil if none exists.
	LoadCheckpoint(ctx context.Context, name string) (*core.Checkpoint, error)

	// DeleteCheckpoint removes the named checkpoint. Deleting an absent checkpoint is not an error.
	DeleteCheckpoint(ctx context.Context, name string) error
}
