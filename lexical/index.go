package lexical

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/poiesic/curator/core"
)

// Hit is one scored document.
type Hit struct {
	ID    core.ID
	Score float64
}

// Index is the text index contract shared by Segmented and Memory.
// Implementations are safe for concurrent use.
type Index interface {
	// Index adds or replaces the document for id.
	Index(ctx context.Context, id core.ID, fields map[string]string) error

	// Remove deletes the document for id. Removing an unknown id is a no-op.
	Remove(ctx context.Context, id core.ID) error

	// Search returns up to limit documents matching at least one term, best first.
	// Equal scores are ordered by ascending id. A limit <= 0 returns every match.
	Search(ctx context.Context, terms []string, limit int) ([]Hit, error)

	// Len returns the number of live documents.
	Len() int

	// Merge compacts pending writes and sealed segments into one segment.
	Merge(ctx context.Context) error

	// Flush makes every acknowledged write durable.
	Flush(ctx context.Context) error

	// Reset drops every document.
	Reset(ctx context.Context) error

	// Close flushes and releases the index.
	Close() error
}

const defaultStagingLimit = 512

// Option configures a Segmented index.
type Option func(*Segmented) error

// WithStagingLimit sets how many staged documents trigger an automatic merge.
// Zero disables automatic merges.
func WithStagingLimit(n int) Option {
	return func(s *Segmented) error {
		if n < 0 {
			n = 0
		}
		s.stagingLimit = n
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Segmented) error {
		s.logger = logger.With("component", "lexical")
		return nil
	}
}

// normalizeTerms lowercases query terms and drops blanks and repeats.
func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !stopWords[t] {
			out = append(out, t)
		}
	}
	return distinct(out)
}

// idf is ln(1 + N/df); it stays positive even when every document matches.
func idf(n, df int) float64 {
	if df == 0 {
		return 0
	}
	return math.Log(1 + float64(n)/float64(df))
}

// rank orders accumulated scores best first with ascending id as tie-break.
func rank(scores map[core.ID]float64, limit int) []Hit {
	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{ID: id, Score: score})
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
