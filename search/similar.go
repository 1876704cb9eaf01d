package search

import (
	"context"
	"fmt"

	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/storage"
)

// SimilarQuery asks for the assets whose embeddings lie closest to a stored asset's.
type SimilarQuery struct {
	AssetID core.ID
	Limit   int

	// MinScore drops neighbours whose cosine similarity is below it.
	// Zero keeps every neighbour.
	MinScore float64

	Filter Filter
}

// Similar ranks visible assets by cosine similarity to the embedding of
// q.AssetID. The asset itself is never returned. Score and VectorScore carry
// the raw similarity, not a normalized one, so MinScore means the same thing
// across queries.
func (s *Searcher) Similar(ctx context.Context, q SimilarQuery) (*Response, error) {
	if s.rebuilding.Load() {
		return nil, core.ErrIndexRebuilding
	}
	source, err := s.store.GetByID(ctx, q.AssetID)
	if err != nil {
		return nil, err
	}
	if !source.Visible() {
		return nil, fmt.Errorf("%w: asset %d is not searchable", storage.ErrNotFound, q.AssetID)
	}
	if len(source.Embedding) == 0 {
		return nil, fmt.Errorf("%w: asset %d", ErrNoEmbedding, q.AssetID)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	// One extra slot for the source asset, which is its own nearest neighbour.
	neighbours, err := s.vectors.Search(ctx, source.Embedding, candidateFactor*limit+1)
	if err != nil {
		if core.IsCorruption(err) {
			s.logger.Error("vector index corruption detected", "err", err)
			if s.onCorruption != nil {
				s.onCorruption(err)
			}
		}
		return nil, err
	}

	scores := make(map[core.ID]float64, len(neighbours))
	ids := make([]core.ID, 0, len(neighbours))
	for _, n := range neighbours {
		score := float64(n.Score)
		if n.ID == source.ID || (q.MinScore > 0 && score < q.MinScore) {
			continue
		}
		scores[n.ID] = score
		ids = append(ids, n.ID)
	}
	if len(ids) == 0 {
		return &Response{Results: []Hit{}}, nil
	}

	records, err := s.store.GetByIDs(ctx, ids...)
	if err != nil {
		s.logger.Error("error retrieving asset records", "recordCount", len(ids), "err", err)
		return nil, err
	}
	hits := make([]Hit, 0, len(records))
	for _, record := range records {
		if record == nil || !record.Visible() || !q.Filter.Match(record) {
			continue
		}
		score := scores[record.ID]
		hits = append(hits, hitFor(record, candidate{vector: score, inVector: true}, score))
	}
	rank(hits)

	resp := &Response{Results: hits, TotalCandidates: len(hits)}
	if len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}
	return resp, nil
}
