package search

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/curator/core"
)

// DefaultLimit is used when a query does not set one.
const DefaultLimit = 20

// Query is a free-text search request.
type Query struct {
	Text   string
	Limit  int
	Filter Filter
}

// Filter narrows results. Zero fields match everything; set fields must all match.
type Filter struct {
	Kinds      []core.Kind
	Tags       []string // every tag must be present
	PathPrefix string
	Predicate  func(*core.AssetRecord) bool
}

// Match reports whether r passes the filter.
func (f Filter) Match(r *core.AssetRecord) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, r.Kind) {
		return false
	}
	for _, tag := range f.Tags {
		if !r.HasTag(tag) {
			return false
		}
	}
	if f.PathPrefix != "" && !strings.HasPrefix(r.Path, f.PathPrefix) {
		return false
	}
	if f.Predicate != nil && !f.Predicate(r) {
		return false
	}
	return true
}

// Hit is one ranked result. TextScore and VectorScore are the normalized
// per-leg scores; zero when the asset did not appear in that leg.
type Hit struct {
	AssetID     core.ID
	Score       float64
	TextScore   float64
	VectorScore float64
	Path        string
	Kind        core.Kind
	Tags        []string
	IndexedAt   time.Time
	Fields      map[string]string
}

// Response holds ranked results.
type Response struct {
	Results []Hit

	// TotalCandidates counts the visible, filtered candidates before truncation.
	TotalCandidates int

	// Partial is set when the caller's deadline cut a leg short.
	Partial bool
}

func hitFor(r *core.AssetRecord, c candidate, score float64) Hit {
	return Hit{
		AssetID:     r.ID,
		Score:       score,
		TextScore:   c.text,
		VectorScore: c.vector,
		Path:        r.Path,
		Kind:        r.Kind,
		Tags:        slices.Clone(r.Tags),
		IndexedAt:   r.IndexedAt,
		Fields:      maps.Clone(r.LexicalFields),
	}
}
