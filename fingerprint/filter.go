package fingerprint

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	// ErrHidden rejects dotfiles.
	ErrHidden = errors.New("hidden file")

	// ErrIgnoredExtension rejects scratch files such as .tmp or .log.
	ErrIgnoredExtension = errors.New("ignored extension")
)

var ignoredExtensions = map[string]struct{}{
	"tmp": {}, "temp": {}, "log": {}, "bak": {}, "cache": {},
}

// Check reports why path should not be ingested, or nil if it should.
func Check(path string) error {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return ErrHidden
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
	if _, ok := ignoredExtensions[ext]; ok {
		return ErrIgnoredExtension
	}
	return nil
}

// ShouldIngest reports whether path looks like an asset worth ingesting.
func ShouldIngest(path string) bool {
	return Check(path) == nil
}

// HiddenDir reports whether a directory should be skipped during a walk.
func HiddenDir(name string) bool {
	return len(name) > 1 && strings.HasPrefix(name, ".") && name != ".."
}
