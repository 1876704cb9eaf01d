package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/curator/ai"
	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/fingerprint"
	"github.com/poiesic/curator/lexical"
	"github.com/poiesic/curator/orchestrator"
	"github.com/poiesic/curator/parser"
	"github.com/poiesic/curator/storage"
	"github.com/poiesic/curator/vector"
	"golang.org/x/sync/singleflight"
)

const defaultQueueDepth = 64

// SubmitResult describes where one asset ended up.
type SubmitResult struct {
	AssetID   core.ID // 0 when the file could not be fingerprinted
	Path      string
	State     core.PipelineState
	Duplicate bool  // content was already indexed; no new index entries were made
	Shared    bool  // another concurrent submission of the same path did the work
	Err       error // why the asset failed, when State is Failed
}

// Pipeline orchestrates the ingestion and processing of assets.
// Ingest and enrichment stages run on separate worker pools joined by a
// bounded queue.
type Pipeline struct {
	store       storage.AssetRepository
	checkpoints storage.CheckpointRepository
	text        lexical.Index
	vectors     vector.Index
	supervisor  *orchestrator.Supervisor
	parser      parser.Parser
	fingerprint fingerprint.Func
	enricher    ai.Enricher
	policy      orchestrator.Policy

	poolSize       int
	enrichPoolSize int
	queueDepth     int
	ingestPool     *ants.Pool
	enrichPool     *ants.Pool
	enrichQueue    chan *task
	dispatcherDone chan struct{}

	group        singleflight.Group
	onCorruption func(error)
	logger       *slog.Logger

	// active holds a channel per content hash being resolved in this process.
	active sync.Map

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of ingest workers.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		p.poolSize = size
		return nil
	}
}

// WithEnrichmentPoolSize sets the number of enrichment workers. Default is the ingest pool size.
func WithEnrichmentPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		p.enrichPoolSize = size
		return nil
	}
}

// WithQueueDepth bounds the hand-off queues between stages.
func WithQueueDepth(depth int) Option {
	return func(p *Pipeline) error {
		if depth < 1 {
			return fmt.Errorf("queue depth must be positive, got %d", depth)
		}
		p.queueDepth = depth
		return nil
	}
}

// WithParser replaces the built-in parser.
func WithParser(ps parser.Parser) Option {
	return func(p *Pipeline) error {
		if ps == nil {
			return errors.New("parser cannot be nil")
		}
		p.parser = ps
		return nil
	}
}

// WithFingerprinter replaces fingerprint.Fingerprint.
func WithFingerprinter(fn fingerprint.Func) Option {
	return func(p *Pipeline) error {
		if fn == nil {
			return errors.New("fingerprinter cannot be nil")
		}
		p.fingerprint = fn
		return nil
	}
}

// WithEnricher enables the enrichment stage. Without one, assets stop at
// LexicallyIndexed.
func WithEnricher(e ai.Enricher) Option {
	return func(p *Pipeline) error {
		p.enricher = e
		return nil
	}
}

// WithCheckpoints makes directory walks resumable.
func WithCheckpoints(repo storage.CheckpointRepository) Option {
	return func(p *Pipeline) error {
		p.checkpoints = repo
		return nil
	}
}

// WithRetryPolicy sets how transient failures are retried.
func WithRetryPolicy(policy orchestrator.Policy) Option {
	return func(p *Pipeline) error {
		if err := policy.Validate(); err != nil {
			return err
		}
		p.policy = policy
		return nil
	}
}

// WithCorruptionHandler is called whenever an index reports corruption.
// The asset itself proceeds: the store stays authoritative and a rebuild
// restores the index.
func WithCorruptionHandler(fn func(error)) Option {
	return func(p *Pipeline) error {
		p.onCorruption = fn
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	store storage.AssetRepository,
	text lexical.Index,
	vectors vector.Index,
	supervisor *orchestrator.Supervisor,
	opts ...Option,
) (*Pipeline, error) {
	if store == nil {
		return nil, ErrAssetRepositoryRequired
	}
	if text == nil {
		return nil, ErrTextIndexRequired
	}
	if vectors == nil {
		return nil, ErrVectorIndexRequired
	}
	if supervisor == nil {
		return nil, ErrSupervisorRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	p := &Pipeline{
		store:       store,
		text:        text,
		vectors:     vectors,
		supervisor:  supervisor,
		fingerprint: fingerprint.Fingerprint,
		policy:      orchestrator.DefaultPolicy,
		poolSize:    poolSize,
		queueDepth:  defaultQueueDepth,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.enrichPoolSize == 0 {
		p.enrichPoolSize = p.poolSize
	}
	p.logger = p.logger.With("component", "ingestion")

	if p.parser == nil {
		basic, err := parser.NewBasic(parser.WithLogger(p.logger))
		if err != nil {
			return nil, err
		}
		p.parser = basic
	}

	ingestPool, err := ants.NewPool(p.poolSize)
	if err != nil {
		return nil, err
	}
	enrichPool, err := ants.NewPool(p.enrichPoolSize)
	if err != nil {
		ingestPool.Release()
		return nil, err
	}
	p.ingestPool = ingestPool
	p.enrichPool = enrichPool
	p.enrichQueue = make(chan *task, p.queueDepth)
	p.dispatcherDone = make(chan struct{})
	go p.dispatchEnrichment()

	return p, nil
}

// task carries one asset between stages. done receives exactly one result.
type task struct {
	ctx    context.Context
	batch  *orchestrator.Batch
	path   string
	record *core.AssetRecord
	done   chan SubmitResult
}

// Submit runs the pipeline for one file and waits for its outcome.
// Per-asset failures are reported in the result; the error is non-nil only
// when the asset could not be scheduled at all.
func (p *Pipeline) Submit(ctx context.Context, path string) (SubmitResult, error) {
	return p.submit(ctx, nil, path)
}

func (p *Pipeline) submit(ctx context.Context, batch *orchestrator.Batch, path string) (SubmitResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return SubmitResult{}, err
	}
	abs = filepath.Clean(abs)

	v, err, shared := p.group.Do(abs, func() (any, error) {
		return p.run(ctx, batch, abs)
	})
	if err != nil {
		return SubmitResult{}, err
	}
	res := v.(SubmitResult)
	res.Shared = shared
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, batch *orchestrator.Batch, path string) (SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, err
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return SubmitResult{}, ErrPipelineClosed
	}
	p.inflight.Add(1)
	p.mu.RUnlock()
	defer p.inflight.Done()

	t := &task{ctx: ctx, batch: batch, path: path, done: make(chan SubmitResult, 1)}
	if err := p.ingestPool.Submit(func() { p.ingest(t) }); err != nil {
		return SubmitResult{}, err
	}
	// The asset always finishes once started, so wait regardless of ctx.
	return <-t.done, nil
}

// dispatchEnrichment feeds queued tasks to the enrichment pool. A busy pool
// blocks here, which fills the queue, which blocks the ingest workers.
func (p *Pipeline) dispatchEnrichment() {
	defer close(p.dispatcherDone)
	for t := range p.enrichQueue {
		if err := p.enrichPool.Submit(func() { t.done <- p.enrich(t) }); err != nil {
			p.logger.Error("error scheduling enrichment", "path", t.path, "err", err)
			t.done <- resultFor(t.record)
		}
	}
}

// claim serializes work on one content hash so that copies submitted together
// resolve to a single record. The returned func releases the claim.
func (p *Pipeline) claim(hash string) func() {
	for {
		ch := make(chan struct{})
		prev, loaded := p.active.LoadOrStore(hash, ch)
		if !loaded {
			return func() {
				p.active.Delete(hash)
				close(ch)
			}
		}
		<-prev.(chan struct{})
	}
}

func (p *Pipeline) corruption(err error) {
	p.logger.Error("index corruption detected", "err", err)
	if p.onCorruption != nil {
		p.onCorruption(err)
	}
}

func resultFor(rec *core.AssetRecord) SubmitResult {
	res := SubmitResult{AssetID: rec.ID, Path: rec.Path, State: rec.State}
	if rec.State == core.StateFailed && rec.LastError != "" {
		res.Err = errors.New(rec.LastError)
	}
	return res
}

// Release waits for in-flight assets, then releases the worker pools.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.inflight.Wait()
	close(p.enrichQueue)
	<-p.dispatcherDone
	p.ingestPool.Release()
	p.enrichPool.Release()
}
