package vector

import (
	"context"
	"log/slog"
	"math"
	"slices"

	"github.com/poiesic/curator/core"
)

// Hit is one search result. Score is the cosine similarity in [-1, 1].
type Hit struct {
	ID    core.ID
	Score float32
}

// Index is the vector index contract shared by HNSW and Flat.
// Implementations are safe for concurrent use.
type Index interface {
	// Insert adds or replaces the vector for id.
	Insert(ctx context.Context, id core.ID, embedding []float32) error

	// Remove deletes the vector for id. Removing an unknown id is a no-op.
	Remove(ctx context.Context, id core.ID) error

	// Search returns up to k nearest vectors, most similar first.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)

	// Dimension returns the fixed vector length, or 0 before the first insert.
	Dimension() int

	// Len returns the number of live vectors.
	Len() int

	// Compact drops removed vectors from the underlying structure.
	Compact(ctx context.Context) error

	// Save persists the index. Indices without a path do nothing.
	Save(ctx context.Context) error

	// Reset drops every vector and clears the dimension.
	Reset(ctx context.Context) error

	// Close saves and releases the index.
	Close() error
}

// Options configures an index.
type Options struct {
	// M is the number of links established per node on each layer above 0.
	M int
	// EFConstruction is the candidate list size while inserting.
	EFConstruction int
	// EFSearch is the minimum candidate list size while searching.
	EFSearch int
	// Seed makes level assignment reproducible.
	Seed int64
	// Path is the snapshot file. Empty means the index is never saved.
	Path string
	Logger *slog.Logger
}

// DefaultOptions are tuned for embedding sizes of a few hundred dimensions.
var DefaultOptions = Options{
	M:              16,
	EFConstruction: 200,
	EFSearch:       64,
	Seed:           1,
}

// Option mutates Options.
type Option func(o *Options)

// WithPath sets the snapshot file.
func WithPath(path string) Option {
	return func(o *Options) { o.Path = path }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithM sets the graph degree.
func WithM(m int) Option {
	return func(o *Options) { o.M = m }
}

// WithEF sets the construction and search candidate list sizes.
func WithEF(construction, search int) Option {
	return func(o *Options) {
		o.EFConstruction = construction
		o.EFSearch = search
	}
}

// WithSeed sets the level generator seed.
func WithSeed(seed int64) Option {
	return func(o *Options) { o.Seed = seed }
}

func buildOptions(optFns []Option) Options {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.M < 2 {
		// M == 1 would make the level normalization factor 1/ln(1)
		opts.M = 2
	}
	opts.EFConstruction = max(opts.EFConstruction, opts.M)
	opts.EFSearch = max(opts.EFSearch, 1)
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With("component", "vector")
	return opts
}

// Normalize returns a unit-length copy of v. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	out := slices.Clone(v)
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range out {
		out[i] *= inv
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// distance is the cosine distance between two unit vectors.
func distance(a, b []float32) float32 {
	return 1 - dot(a, b)
}

func checkDimension(expected int, v []float32) error {
	if len(v) == 0 {
		return ErrEmptyVector
	}
	if expected != 0 && len(v) != expected {
		return &core.DimensionMismatchError{Expected: expected, Actual: len(v)}
	}
	return nil
}

func sortHits(hits []Hit) {
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
}
