package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/poiesic/curator/ai"
	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/lexical"
	"github.com/poiesic/curator/storage"
	"github.com/poiesic/curator/vector"
)

const (
	candidateFactor  = 4
	defaultCacheSize = 256
)

// Searcher provides hybrid lexical and semantic search over asset records.
type Searcher struct {
	store     storage.AssetRepository
	text      lexical.Index
	vectors   vector.Index
	embedder  ai.Embedder
	cache     *lru.Cache[string, []float32]
	cacheSize int

	textWeight   float64
	vectorWeight float64

	rebuilding   atomic.Bool
	onCorruption func(error)
	logger       *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithEmbedder enables the semantic leg. Without an embedder search is lexical only.
func WithEmbedder(embedder ai.Embedder) Option {
	return func(s *Searcher) error {
		s.embedder = embedder
		return nil
	}
}

// WithWeights sets the fusion weights of the text and vector legs.
// Default is 0.5 each.
func WithWeights(text, vector float64) Option {
	return func(s *Searcher) error {
		if text < 0 || vector < 0 || text+vector == 0 {
			return fmt.Errorf("%w: text=%v vector=%v", ErrInvalidWeights, text, vector)
		}
		s.textWeight = text
		s.vectorWeight = vector
		return nil
	}
}

// WithCacheSize sets how many query embeddings are cached.
func WithCacheSize(n int) Option {
	return func(s *Searcher) error {
		if n < 1 {
			return fmt.Errorf("cache size must be positive, got %d", n)
		}
		s.cacheSize = n
		return nil
	}
}

// WithCorruptionHandler is called when an index reports corruption during a search.
func WithCorruptionHandler(fn func(error)) Option {
	return func(s *Searcher) error {
		s.onCorruption = fn
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(
	store storage.AssetRepository,
	text lexical.Index,
	vectors vector.Index,
	opts ...Option,
) (*Searcher, error) {
	if store == nil {
		return nil, ErrAssetRepositoryRequired
	}
	if text == nil {
		return nil, ErrTextIndexRequired
	}
	if vectors == nil {
		return nil, ErrVectorIndexRequired
	}

	s := &Searcher{
		store:        store,
		text:         text,
		vectors:      vectors,
		cacheSize:    defaultCacheSize,
		textWeight:   0.5,
		vectorWeight: 0.5,
		logger:       slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "search")

	cache, err := lru.New[string, []float32](s.cacheSize)
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

// SetRebuilding marks the indices as being rebuilt. While set, Search
// returns core.ErrIndexRebuilding.
func (s *Searcher) SetRebuilding(rebuilding bool) {
	s.rebuilding.Store(rebuilding)
}

// Rebuilding reports whether the indices are being rebuilt.
func (s *Searcher) Rebuilding() bool {
	return s.rebuilding.Load()
}

// PurgeCache drops every cached query embedding.
func (s *Searcher) PurgeCache() {
	s.cache.Purge()
}

// Search returns up to q.Limit visible assets ranked by fused relevance.
func (s *Searcher) Search(ctx context.Context, q Query) (*Response, error) {
	return s.SearchWithMonitor(ctx, q, nil)
}

// SearchWithMonitor is Search with tracing hooks.
// If ctx expires before both legs finish, the legs that did finish are
// ranked and the response is marked Partial.
func (s *Searcher) SearchWithMonitor(ctx context.Context, q Query, monitor SearchMonitor) (*Response, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if s.rebuilding.Load() {
		return nil, core.ErrIndexRebuilding
	}
	monitor.Start(q)

	terms := lexical.QueryTerms(q.Text)
	if len(terms) == 0 {
		resp := &Response{Results: []Hit{}}
		monitor.Finish(resp)
		return resp, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	textHits, vectorHits, partial, err := s.runLegs(ctx, q.Text, terms, candidateFactor*limit)
	if err != nil {
		return nil, err
	}
	monitor.AfterTextSearch(textHits)
	monitor.AfterVectorSearch(vectorHits)

	candidates := merge(textHits, vectorHits)
	if len(candidates) == 0 {
		resp := &Response{Results: []Hit{}, Partial: partial}
		monitor.Finish(resp)
		return resp, nil
	}

	ids := make([]core.ID, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	// Records are read even past the deadline so finished legs can be returned.
	records, err := s.store.GetByIDs(context.WithoutCancel(ctx), ids...)
	if err != nil {
		s.logger.Error("error retrieving asset records", "recordCount", len(ids), "err", err)
		return nil, err
	}
	monitor.AfterRecordRetrieval(records)

	hits := make([]Hit, 0, len(records))
	for _, record := range records {
		// Stale index entries for missing, failed or purged assets are dropped here.
		if record == nil || !record.Visible() || !q.Filter.Match(record) {
			continue
		}
		c := candidates[record.ID]
		switch {
		case c.inText && c.inVector:
			monitor.TextAndVectorHit(record)
		case c.inText:
			monitor.TextHit(record)
		default:
			monitor.VectorHit(record)
		}
		score := s.textWeight*c.text + s.vectorWeight*c.vector
		hits = append(hits, hitFor(record, c, score))
	}
	rank(hits)

	resp := &Response{Results: hits, TotalCandidates: len(hits), Partial: partial}
	if len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}
	monitor.Finish(resp)
	return resp, nil
}

// legs collects results from the concurrent legs. Once sealed, late legs are discarded.
type legs struct {
	mu         sync.Mutex
	sealed     bool
	wantVector bool
	textDone   bool
	vectorDone bool
	textHits   []lexical.Hit
	vectorHits []vector.Hit
}

func (l *legs) setText(hits []lexical.Hit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.sealed {
		l.textHits = hits
		l.textDone = true
	}
}

func (l *legs) setVector(hits []vector.Hit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.sealed {
		l.vectorHits = hits
		l.vectorDone = true
	}
}

// seal stops accepting results. complete is false when a leg was cut short.
func (l *legs) seal() (textHits []lexical.Hit, vectorHits []vector.Hit, complete bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sealed = true
	complete = l.textDone && (!l.wantVector || l.vectorDone)
	return l.textHits, l.vectorHits, complete
}

func (s *Searcher) runLegs(ctx context.Context, query string, terms []string, k int) ([]lexical.Hit, []vector.Hit, bool, error) {
	results := &legs{wantVector: s.embedder != nil && s.vectors.Len() > 0}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hits, err := s.text.Search(gctx, terms, k)
		if err != nil {
			return err
		}
		results.setText(hits)
		return nil
	})

	if results.wantVector {
		g.Go(func() error {
			hits, err := s.vectorLeg(gctx, query, k)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				// Semantic failures degrade to lexical-only results.
				s.vectorFailed(err)
			}
			results.setVector(hits)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil {
			return nil, nil, false, s.textFailed(err)
		}
	case <-ctx.Done():
	}
	textHits, vectorHits, complete := results.seal()
	if !complete {
		s.logger.Debug("search deadline reached", "textLeg", textHits != nil, "vectorLeg", vectorHits != nil)
	}
	return textHits, vectorHits, !complete, nil
}

func (s *Searcher) vectorLeg(ctx context.Context, query string, k int) ([]vector.Hit, error) {
	embedding, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.vectors.Search(ctx, embedding, k)
}

// embed returns the query embedding, consulting the cache first.
func (s *Searcher) embed(ctx context.Context, query string) ([]float32, error) {
	key := strings.TrimSpace(query)
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}
	v, err := s.embedder.EmbedText(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, v)
	return v, nil
}

func (s *Searcher) vectorFailed(err error) {
	switch {
	case errors.Is(err, ai.ErrUnavailable), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Debug("semantic leg skipped", "err", err)
	case core.IsCorruption(err):
		s.logger.Error("vector index corruption detected", "err", err)
		if s.onCorruption != nil {
			s.onCorruption(err)
		}
	default:
		s.logger.Warn("semantic leg failed, using lexical results only", "err", err)
	}
}

func (s *Searcher) textFailed(err error) error {
	if core.IsCorruption(err) {
		s.logger.Error("text index corruption detected", "err", err)
		if s.onCorruption != nil {
			s.onCorruption(err)
		}
		return err
	}
	s.logger.Error("error querying text index", "err", err)
	return err
}
