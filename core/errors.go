package core

import (
	"errors"
	"fmt"
)

// Domain validation errors
var (
	// ErrInvalidAssetRecord indicates an AssetRecord failed validation.
	ErrInvalidAssetRecord = errors.New("invalid asset record")

	// ErrEmptyContentHash indicates the ContentHash field is empty.
	ErrEmptyContentHash = errors.New("content hash cannot be empty")

	// ErrEmptyPath indicates the Path field is empty.
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrInvalidState indicates an unknown PipelineState value.
	ErrInvalidState = errors.New("invalid pipeline state")

	// ErrInvalidKind indicates an unknown Kind value.
	ErrInvalidKind = errors.New("invalid asset kind")

	// ErrInvalidTimestamp indicates a timestamp is in the future.
	ErrInvalidTimestamp = errors.New("timestamp cannot be in the future")

	// ErrNegativeSize indicates SizeBytes is negative.
	ErrNegativeSize = errors.New("size cannot be negative")

	// ErrIndexRebuilding is returned by queries while an index is rebuilt from the store.
	ErrIndexRebuilding = errors.New("index unavailable, rebuilding")
)

// IoError is a transient failure to read an asset or talk to a collaborator.
// The orchestrator retries it with bounded backoff.
type IoError struct {
	Path string
	Op   string
	Err  error
}

func (e *IoError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("io error: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("io error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// ParseError is a terminal per-asset failure to extract metadata.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DimensionMismatchError is returned when a vector's length differs from the index dimension.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// StaleWriteError is returned by the store when a write would move a record's
// state backwards. Callers re-read and retry.
type StaleWriteError struct {
	ID      ID
	Current PipelineState
	Attempt PipelineState
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("stale write for asset %d: %s -> %s", e.ID, e.Current, e.Attempt)
}

// IndexCorruptionError reports an index whose durable state cannot be read.
// It is fatal to that index only; the index is rebuilt from the store.
type IndexCorruptionError struct {
	Index string
	Err   error
}

func (e *IndexCorruptionError) Error() string {
	return fmt.Sprintf("%s index corrupted: %v", e.Index, e.Err)
}

func (e *IndexCorruptionError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var ioErr *IoError
	return errors.As(err, &ioErr)
}

// IsCorruption reports whether err signals a corrupted index.
func IsCorruption(err error) bool {
	var corrupt *IndexCorruptionError
	return errors.As(err, &corrupt)
}
