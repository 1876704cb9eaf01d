package lexical

import "errors"

var (
	// ErrClosed is returned by operations on a closed index.
	ErrClosed = errors.New("text index is closed")

	// ErrInvalidID is returned when indexing the zero ID.
	ErrInvalidID = errors.New("invalid document id")
)
