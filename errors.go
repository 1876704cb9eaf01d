package curator

import "errors"

var (
	// ErrLibraryClosed is returned by operations on a closed Library.
	ErrLibraryClosed = errors.New("library is closed")

	// ErrEmbedderUnavailable is returned by Reembed when no embedder is configured.
	ErrEmbedderUnavailable = errors.New("no embedder configured")
)
