package parser

import (
	"context"

	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/fingerprint"
)

// Parser extracts a draft from the file at path.
// Implementations must be safe for concurrent use.
type Parser interface {
	Parse(ctx context.Context, path string, fp fingerprint.Result) (*core.AssetDraft, error)
}

// Func adapts a function to the Parser interface.
type Func func(ctx context.Context, path string, fp fingerprint.Result) (*core.AssetDraft, error)

// Parse calls f.
func (f Func) Parse(ctx context.Context, path string, fp fingerprint.Result) (*core.AssetDraft, error) {
	return f(ctx, path, fp)
}
