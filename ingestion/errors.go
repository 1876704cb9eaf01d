package ingestion

import (
	"errors"
	"fmt"
)

var (
	// ErrAssetRepositoryRequired is returned when an asset repository is not provided.
	ErrAssetRepositoryRequired = errors.New("asset repository required")

	// ErrTextIndexRequired is returned when a text index is not provided.
	ErrTextIndexRequired = errors.New("text index required")

	// ErrVectorIndexRequired is returned when a vector index is not provided.
	ErrVectorIndexRequired = errors.New("vector index required")

	// ErrSupervisorRequired is returned when a supervisor is not provided.
	ErrSupervisorRequired = errors.New("supervisor required")

	// ErrPipelineClosed is returned by submissions after Release.
	ErrPipelineClosed = errors.New("pipeline is closed")

	// ErrNotDirectory is returned by SubmitDirectory for a root that is not a directory.
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotRegular rejects symlinks, devices and other non-regular files found by a walk.
	ErrNotRegular = errors.New("not a regular file")
)

// Rejection records a path a directory walk did not submit, or a directory it
// could not enumerate.
type Rejection struct {
	Path string
	Err  error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %v", r.Path, r.Err)
}

func (r *Rejection) Unwrap() error { return r.Err }
