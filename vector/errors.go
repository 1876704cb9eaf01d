package vector

import "errors"

var (
	// ErrClosed is returned by operations on a closed index.
	ErrClosed = errors.New("vector index is closed")

	// ErrInvalidID is returned when inserting the zero ID.
	ErrInvalidID = errors.New("invalid vector id")

	// ErrEmptyVector is returned when inserting or searching with a zero-length vector.
	ErrEmptyVector = errors.New("empty vector")
)
