package lexical

import (
	"context"
	"sync"

	"github.com/poiesic/curator/core"
)

// Memory is an unsegmented, non-persistent Index.
type Memory struct {
	mu     sync.RWMutex
	docs   *staging
	closed bool
}

var _ Index = (*Memory)(nil)

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{docs: newStaging()}
}

func (m *Memory) Index(ctx context.Context, id core.ID, fields map[string]string) error {
	if id == 0 {
		return ErrInvalidID
	}
	weights := weighTerms(fields)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.docs.put(id, weights)
	return nil
}

func (m *Memory) Remove(ctx context.Context, id core.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.docs.remove(id)
	return nil
}

func (m *Memory) Search(ctx context.Context, terms []string, limit int) ([]Hit, error) {
	terms = normalizeTerms(terms)
	if len(terms) == 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	n := m.docs.len()
	scores := make(map[core.ID]float64)
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		postings := m.docs.terms[term]
		weight := idf(n, len(postings))
		for id, w := range postings {
			scores[id] += w * weight
		}
	}
	return rank(scores, limit), nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docs.len()
}

func (m *Memory) Merge(ctx context.Context) error { return nil }

func (m *Memory) Flush(ctx context.Context) error { return nil }

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = newStaging()
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
