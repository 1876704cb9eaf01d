package watch

import "errors"

var (
	ErrSubmitRequired = errors.New("submit function is required")
	ErrRemoveRequired = errors.New("remove function is required")
	ErrNotDirectory   = errors.New("not a directory")
	ErrClosed         = errors.New("watcher is closed")
)
