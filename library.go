// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package curator indexes digital assets found on local storage and answers
// ranked queries that combine lexical relevance with semantic similarity.
//
// A Library owns one directory holding the metadata store and the two
// indices projected from it:
//
//	<dir>/store    badger metadata store, the source of truth
//	<dir>/text     text index segments
//	<dir>/vectors  vector index snapshot
package curator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/poiesic/curator/ai"
	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/ingestion"
	"github.com/poiesic/curator/lexical"
	"github.com/poiesic/curator/orchestrator"
	"github.com/poiesic/curator/reindex"
	"github.com/poiesic/curator/search"
	"github.com/poiesic/curator/storage"
	"github.com/poiesic/curator/storage/badger"
	"github.com/poiesic/curator/vector"
	"github.com/poiesic/curator/watch"
)

const (
	storeDir     = "store"
	textDir      = "text"
	vectorDir    = "vectors"
	snapshotFile = "index.hnsw"
)

// Library is an asset library rooted at one directory.
type Library struct {
	dir         string
	backend     *badger.Backend
	store       *badger.AssetRepository
	checkpoints storage.CheckpointRepository
	text        *lexical.Segmented
	vectors     *vector.HNSW
	supervisor  *orchestrator.Supervisor
	pipeline    *ingestion.Pipeline
	searcher    *search.Searcher
	enricher    ai.Enricher
	opts        *options
	logger      *slog.Logger

	// mu is held exclusively while the indices are rebuilt.
	mu sync.RWMutex

	rebuildQueued atomic.Bool
	background    sync.WaitGroup

	stateMu  sync.Mutex
	closed   bool
	watchers map[*watch.Watcher]struct{}
}

// Open opens the library in dir, creating it if needed. Indices that fail to
// load or disagree with the store are rebuilt from the store before Open
// returns.
func Open(dir string, opts ...Option) (*Library, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	l := &Library{
		dir:      dir,
		enricher: o.enricher,
		opts:     o,
		logger:   o.logger.With("component", "library"),
		watchers: make(map[*watch.Watcher]struct{}),
	}
	needsRebuild, err := l.open()
	if err != nil {
		l.release()
		return nil, err
	}

	ctx := context.Background()
	if !needsRebuild {
		reason, err := l.verify(ctx)
		if err != nil {
			l.release()
			return nil, err
		}
		if reason != "" {
			l.logger.Warn("indices disagree with the store", "reason", reason)
			needsRebuild = true
		}
	}
	if needsRebuild {
		if _, err := l.Rebuild(ctx); err != nil {
			l.release()
			return nil, fmt.Errorf("rebuild indices: %w", err)
		}
	}
	return l, nil
}

// open wires every component. It reports whether an index had to be
// discarded because it could not be loaded.
func (l *Library) open() (bool, error) {
	o := l.opts
	backend, err := badger.OpenBackend(filepath.Join(l.dir, storeDir), false)
	if err != nil {
		return false, err
	}
	l.backend = backend

	store, err := badger.NewAssetRepository(backend)
	if err != nil {
		return false, err
	}
	l.store = store
	l.checkpoints = badger.NewCheckpointRepository(backend)

	textOpts := []lexical.Option{lexical.WithLogger(o.logger)}
	if o.stagingLimit != nil {
		textOpts = append(textOpts, lexical.WithStagingLimit(*o.stagingLimit))
	}
	textPath := filepath.Join(l.dir, textDir)
	discarded := false
	text, err := lexical.Open(textPath, textOpts...)
	if core.IsCorruption(err) {
		l.logger.Error("discarding unreadable text index", "dir", textPath, "err", err)
		discarded = true
		if err := os.RemoveAll(textPath); err != nil {
			return false, err
		}
		text, err = lexical.Open(textPath, textOpts...)
	}
	if err != nil {
		return false, err
	}
	l.text = text

	snapshot := filepath.Join(l.dir, vectorDir, snapshotFile)
	vectorOpts := append([]vector.Option{vector.WithLogger(o.logger)}, o.vectorOpts...)
	vectorOpts = append(vectorOpts, vector.WithPath(snapshot))
	vectors, err := vector.NewHNSW(vectorOpts...)
	if core.IsCorruption(err) {
		l.logger.Error("discarding unreadable vector index", "path", snapshot, "err", err)
		discarded = true
		if err := os.Remove(snapshot); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
		vectors, err = vector.NewHNSW(vectorOpts...)
	}
	if err != nil {
		return false, err
	}
	l.vectors = vectors

	supervisor, err := orchestrator.NewSupervisor(store, orchestrator.WithLogger(o.logger))
	if err != nil {
		return false, err
	}
	l.supervisor = supervisor

	pipelineOpts := []ingestion.Option{
		ingestion.WithLogger(o.logger),
		ingestion.WithCheckpoints(l.checkpoints),
		ingestion.WithCorruptionHandler(l.corruption),
	}
	if o.enricher != nil {
		pipelineOpts = append(pipelineOpts, ingestion.WithEnricher(o.enricher))
	}
	if o.parser != nil {
		pipelineOpts = append(pipelineOpts, ingestion.WithParser(o.parser))
	}
	if o.poolSize != 0 {
		pipelineOpts = append(pipelineOpts, ingestion.WithPoolSize(o.poolSize))
	}
	if o.enrichPoolSize != 0 {
		pipelineOpts = append(pipelineOpts, ingestion.WithEnrichmentPoolSize(o.enrichPoolSize))
	}
	if o.queueDepth != 0 {
		pipelineOpts = append(pipelineOpts, ingestion.WithQueueDepth(o.queueDepth))
	}
	if o.policy != nil {
		pipelineOpts = append(pipelineOpts, ingestion.WithRetryPolicy(*o.policy))
	}
	pipeline, err := ingestion.NewPipeline(store, text, vectors, supervisor, pipelineOpts...)
	if err != nil {
		return false, err
	}
	l.pipeline = pipeline

	searchOpts := []search.Option{
		search.WithLogger(o.logger),
		search.WithCorruptionHandler(l.corruption),
	}
	if embedder := l.embedder(); embedder != nil {
		searchOpts = append(searchOpts, search.WithEmbedder(embedder))
	}
	if o.textWeight != 0 || o.vectorWeight != 0 {
		searchOpts = append(searchOpts, search.WithWeights(o.textWeight, o.vectorWeight))
	}
	if o.cacheSize != 0 {
		searchOpts = append(searchOpts, search.WithCacheSize(o.cacheSize))
	}
	searcher, err := search.NewSearcher(store, text, vectors, searchOpts...)
	if err != nil {
		return false, err
	}
	l.searcher = searcher
	return discarded, nil
}

func (l *Library) embedder() ai.Embedder {
	if l.enricher == nil {
		return nil
	}
	return l.enricher.Embedder()
}

// verify compares index sizes with the store. Missing assets keep their
// index entries until Compact, so each index must hold at least the visible
// assets and at most the searchable ones.
func (l *Library) verify(ctx context.Context) (string, error) {
	var visibleText, allText, visibleVectors, allVectors int
	for rec, err := range l.store.Scan(ctx, nil) {
		if err != nil {
			return "", err
		}
		if !rec.State.Searchable() {
			continue
		}
		allText++
		if len(rec.Embedding) > 0 {
			allVectors++
		}
		if rec.Missing {
			continue
		}
		visibleText++
		if rec.State == core.StateVectorIndexed {
			visibleVectors++
		}
	}

	if n := l.text.Len(); n < visibleText || n > allText {
		return fmt.Sprintf("text index holds %d documents, store expects %d to %d", n, visibleText, allText), nil
	}
	if n := l.vectors.Len(); n < visibleVectors || n > allVectors {
		return fmt.Sprintf("vector index holds %d vectors, store expects %d to %d", n, visibleVectors, allVectors), nil
	}
	return "", nil
}

func (l *Library) isClosed() bool {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.closed
}

// Submit ingests one file and waits until it settles.
func (l *Library) Submit(ctx context.Context, path string) (ingestion.SubmitResult, error) {
	if l.isClosed() {
		return ingestion.SubmitResult{}, ErrLibraryClosed
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pipeline.Submit(ctx, path)
}

// SubmitDirectory imports every ingestible file under root as one batch.
func (l *Library) SubmitDirectory(ctx context.Context, root string) (ingestion.DirectoryReport, error) {
	if l.isClosed() {
		return ingestion.DirectoryReport{}, ErrLibraryClosed
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pipeline.SubmitDirectory(ctx, root)
}

// Search runs a hybrid query. While the indices are rebuilt it returns
// core.ErrIndexRebuilding.
func (l *Library) Search(ctx context.Context, q search.Query) (*search.Response, error) {
	if l.isClosed() {
		return nil, ErrLibraryClosed
	}
	return l.searcher.Search(ctx, q)
}

// Similar returns the assets that look most like the given one.
func (l *Library) Similar(ctx context.Context, q search.SimilarQuery) (*search.Response, error) {
	if l.isClosed() {
		return nil, ErrLibraryClosed
	}
	return l.searcher.Similar(ctx, q)
}

// Stats counts assets by state.
func (l *Library) Stats(ctx context.Context) (core.Stats, error) {
	if l.isClosed() {
		return core.Stats{}, ErrLibraryClosed
	}
	return l.store.Stats(ctx)
}

// Subscribe streams progress events. Call the returned func to unsubscribe.
func (l *Library) Subscribe(buffer int) (<-chan core.ProgressEvent, func()) {
	return l.supervisor.Bus().Subscribe(buffer)
}

// Batches reports the directory imports in progress.
func (l *Library) Batches() []orchestrator.Progress {
	return l.supervisor.Batches()
}

// Cancel stops the directory import with the given batch id.
func (l *Library) Cancel(batchID string) error {
	return l.supervisor.Cancel(batchID)
}

// MarkMissingPath flags the asset at path, and every asset below it when
// path was a directory, as missing once their files are gone. It returns
// the number of assets flagged.
func (l *Library) MarkMissingPath(ctx context.Context, path string) (int, error) {
	if l.isClosed() {
		return 0, ErrLibraryClosed
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	abs = filepath.Clean(abs)
	prefix := abs + string(filepath.Separator)

	var gone []core.ID
	for rec, err := range l.store.Scan(ctx, func(r *core.AssetRecord) bool {
		return !r.Missing && (r.Path == abs || strings.HasPrefix(r.Path, prefix))
	}) {
		if err != nil {
			return 0, err
		}
		if _, err := os.Stat(rec.Path); errors.Is(err, fs.ErrNotExist) {
			gone = append(gone, rec.ID)
		}
	}
	for _, id := range gone {
		if err := l.store.MarkMissing(ctx, id); err != nil {
			return 0, err
		}
	}
	if len(gone) > 0 {
		l.logger.Info("marked assets missing", "path", abs, "count", len(gone))
	}
	return len(gone), nil
}

// Rebuild discards both indices and replays the store into them. Searches
// fail with core.ErrIndexRebuilding and submissions wait until it finishes.
func (l *Library) Rebuild(ctx context.Context) (reindex.RebuildReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.searcher.SetRebuilding(true)
	defer l.searcher.SetRebuilding(false)

	r, err := reindex.NewRebuilder(l.store, l.text, l.vectors,
		reindex.WithLogger(l.opts.logger),
		reindex.WithProgress(l.opts.progress, reindex.DefaultBatchSize))
	if err != nil {
		return reindex.RebuildReport{}, err
	}
	return r.Run(ctx)
}

// corruption schedules a background rebuild. Reports arriving while one is
// queued or running are folded into it.
func (l *Library) corruption(err error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.closed || !l.rebuildQueued.CompareAndSwap(false, true) {
		return
	}
	l.logger.Error("index corruption reported, rebuilding", "err", err)
	l.background.Add(1)
	go func() {
		defer l.background.Done()
		defer l.rebuildQueued.Store(false)
		if _, err := l.Rebuild(context.Background()); err != nil {
			l.logger.Error("background rebuild failed", "err", err)
		}
	}()
}

// Reembed embeds every visible asset that has no vector yet. With all set
// every visible asset is embedded again into an empty vector index, which
// is what switching embedding models requires.
func (l *Library) Reembed(ctx context.Context, all bool) (reindex.ReembedReport, error) {
	if l.isClosed() {
		return reindex.ReembedReport{}, ErrLibraryClosed
	}
	embedder := l.embedder()
	if embedder == nil {
		return reindex.ReembedReport{}, ErrEmbedderUnavailable
	}
	if all {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.searcher.PurgeCache()
	} else {
		l.mu.RLock()
		defer l.mu.RUnlock()
	}

	config := reindex.DefaultConfig()
	config.All = all
	if l.opts.policy != nil {
		config.Policy = *l.opts.policy
	}
	r, err := reindex.NewReembedder(l.store, l.vectors, embedder, l.supervisor, config, l.opts.progress, l.opts.logger)
	if err != nil {
		return reindex.ReembedReport{}, err
	}
	return r.Run(ctx)
}

// CompactReport summarizes a compaction.
type CompactReport struct {
	Purged int // missing assets deleted from the store and both indices
}

// Compact deletes missing assets, then merges the text index and drops
// removed vectors from the graph.
func (l *Library) Compact(ctx context.Context) (CompactReport, error) {
	if l.isClosed() {
		return CompactReport{}, ErrLibraryClosed
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var report CompactReport
	purged, purgeErr := l.store.Purge(ctx)
	report.Purged = len(purged)
	// Deleted records leave both indices even when the purge stopped early.
	detached := context.WithoutCancel(ctx)
	for _, id := range purged {
		if err := errors.Join(l.text.Remove(detached, id), l.vectors.Remove(detached, id)); err != nil {
			return report, err
		}
	}
	if purgeErr != nil {
		return report, fmt.Errorf("purge missing assets: %w", purgeErr)
	}
	if err := l.text.Merge(ctx); err != nil {
		return report, fmt.Errorf("merge text index: %w", err)
	}
	if err := l.vectors.Compact(ctx); err != nil {
		return report, fmt.Errorf("compact vector index: %w", err)
	}
	if err := errors.Join(l.text.Flush(ctx), l.vectors.Save(ctx)); err != nil {
		return report, err
	}
	l.logger.Info("library compacted", "purged", report.Purged)
	return report, nil
}

// Watch submits files created or changed under roots and flags removed
// ones as missing until ctx is cancelled or the library is closed.
func (l *Library) Watch(ctx context.Context, roots ...string) error {
	watchOpts := []watch.Option{watch.WithLogger(l.opts.logger)}
	if l.opts.debounce > 0 {
		watchOpts = append(watchOpts, watch.WithDebounce(l.opts.debounce))
	}
	w, err := watch.New(
		func(ctx context.Context, path string) error {
			_, err := l.Submit(ctx, path)
			return err
		},
		func(ctx context.Context, path string) error {
			_, err := l.MarkMissingPath(ctx, path)
			return err
		},
		watchOpts...,
	)
	if err != nil {
		return err
	}
	defer w.Close()

	for _, root := range roots {
		if err := w.Add(root); err != nil {
			return err
		}
	}

	l.stateMu.Lock()
	if l.closed {
		l.stateMu.Unlock()
		return ErrLibraryClosed
	}
	l.watchers[w] = struct{}{}
	l.stateMu.Unlock()
	defer func() {
		l.stateMu.Lock()
		delete(l.watchers, w)
		l.stateMu.Unlock()
	}()

	return w.Run(ctx)
}

// Close stops watchers, waits for in-flight work and persists both indices.
func (l *Library) Close() error {
	l.stateMu.Lock()
	if l.closed {
		l.stateMu.Unlock()
		return nil
	}
	l.closed = true
	watchers := make([]*watch.Watcher, 0, len(l.watchers))
	for w := range l.watchers {
		watchers = append(watchers, w)
	}
	l.stateMu.Unlock()

	var errs []error
	for _, w := range watchers {
		errs = append(errs, w.Close())
	}
	l.background.Wait()
	errs = append(errs, l.release())
	return errors.Join(errs...)
}

// release closes whatever open managed to create, in reverse order.
func (l *Library) release() error {
	var errs []error
	if l.pipeline != nil {
		l.pipeline.Release()
	}
	if l.supervisor != nil {
		l.supervisor.Close()
	}
	if l.text != nil {
		if err := l.text.Close(); err != nil {
			l.logger.Error("error closing text index", "err", err)
			errs = append(errs, err)
		}
	}
	if l.vectors != nil {
		if err := l.vectors.Close(); err != nil {
			l.logger.Error("error closing vector index", "err", err)
			errs = append(errs, err)
		}
	}
	if l.enricher != nil {
		if err := l.enricher.Close(); err != nil {
			l.logger.Error("error closing enricher", "err", err)
		}
	}
	if l.store != nil {
		if err := l.store.Close(); err != nil {
			l.logger.Error("error closing asset repository", "err", err)
			errs = append(errs, err)
		}
	}
	if l.backend != nil {
		if err := l.backend.Close(); err != nil {
			l.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
