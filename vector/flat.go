package vector

import (
	"context"
	"sync"

	"github.com/poiesic/curator/core"
)

// Flat is an exact index that compares the query against every vector.
// It is meant for small libraries and as a reference for HNSW recall.
type Flat struct {
	opts Options

	mu      sync.RWMutex
	dim     int
	vectors map[core.ID][]float32
	closed  bool
}

var _ Index = (*Flat)(nil)

// NewFlat creates a flat index, loading the snapshot at the configured path if present.
func NewFlat(optFns ...Option) (*Flat, error) {
	opts := buildOptions(optFns)
	f := &Flat{opts: opts, vectors: make(map[core.ID][]float32)}
	if opts.Path == "" {
		return f, nil
	}
	snap, err := loadSnapshot(opts.Path)
	if err != nil || snap == nil {
		return f, err
	}
	if snap.Kind != "flat" {
		return nil, corrupt(errKindMismatch)
	}
	if err := snap.validate(); err != nil {
		return nil, corrupt(err)
	}
	f.dim = snap.Dim
	for _, n := range snap.Nodes {
		f.vectors[n.ID] = n.Vector
	}
	return f, nil
}

func (f *Flat) Insert(ctx context.Context, id core.ID, embedding []float32) error {
	if id == 0 {
		return ErrInvalidID
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if err := checkDimension(f.dim, embedding); err != nil {
		return err
	}
	if f.dim == 0 {
		f.dim = len(embedding)
	}
	f.vectors[id] = Normalize(embedding)
	return nil
}

func (f *Flat) Remove(ctx context.Context, id core.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	delete(f.vectors, id)
	return nil
}

func (f *Flat) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}
	if err := checkDimension(f.dim, query); err != nil {
		return nil, err
	}
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}

	q := Normalize(query)
	hits := make([]Hit, 0, len(f.vectors))
	for id, v := range f.vectors {
		hits = append(hits, Hit{ID: id, Score: dot(q, v)})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *Flat) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dim
}

func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Compact is a no-op: removals free their vector immediately.
func (f *Flat) Compact(ctx context.Context) error { return nil }

func (f *Flat) Save(ctx context.Context) error {
	if f.opts.Path == "" {
		return nil
	}
	f.mu.RLock()
	snap := &snapshot{Version: snapshotVersion, Kind: "flat", Dim: f.dim}
	for id, v := range f.vectors {
		snap.Nodes = append(snap.Nodes, &node{ID: id, Vector: v})
	}
	f.mu.RUnlock()
	return saveSnapshot(f.opts.Path, snap)
}

func (f *Flat) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.dim = 0
	f.vectors = make(map[core.ID][]float32)
	return removeSnapshot(f.opts.Path)
}

func (f *Flat) Close() error {
	f.mu.RLock()
	closed := f.closed
	f.mu.RUnlock()
	if closed {
		return nil
	}
	err := f.Save(context.Background())
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return err
}
