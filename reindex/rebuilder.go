package reindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/lexical"
	"github.com/poiesic/curator/storage"
	"github.com/poiesic/curator/vector"
)

// RebuildReport summarizes a rebuild.
type RebuildReport struct {
	Records       int // visible records replayed
	TextIndexed   int
	VectorIndexed int
	Skipped       int // embeddings the vector index rejected
	Elapsed       time.Duration
}

// Rebuilder replays the store into empty indices.
type Rebuilder struct {
	store          storage.AssetRepository
	text           lexical.Index
	vectors        vector.Index
	batchSize      int
	reportInterval int
	progress       io.Writer
	logger         *slog.Logger
}

// RebuildOption configures a Rebuilder.
type RebuildOption func(*Rebuilder) error

// WithBatchSize sets how many records are read per batch.
func WithBatchSize(n int) RebuildOption {
	return func(r *Rebuilder) error {
		if n <= 0 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		r.batchSize = n
		return nil
	}
}

// WithProgress writes progress lines to w every interval records.
func WithProgress(w io.Writer, interval int) RebuildOption {
	return func(r *Rebuilder) error {
		r.progress = w
		r.reportInterval = interval
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) RebuildOption {
	return func(r *Rebuilder) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRebuilder creates a rebuilder.
func NewRebuilder(store storage.AssetRepository, text lexical.Index, vectors vector.Index, opts ...RebuildOption) (*Rebuilder, error) {
	if store == nil {
		return nil, ErrAssetRepositoryRequired
	}
	if text == nil {
		return nil, ErrTextIndexRequired
	}
	if vectors == nil {
		return nil, ErrVectorIndexRequired
	}
	r := &Rebuilder{
		store:          store,
		text:           text,
		vectors:        vectors,
		batchSize:      DefaultBatchSize,
		reportInterval: DefaultBatchSize,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "rebuild")
	return r, nil
}

// Run clears both indices and reindexes every visible record. The indices
// are merged and saved at the end so the rebuild survives a restart.
// Running it twice over the same store yields identical search results.
func (r *Rebuilder) Run(ctx context.Context) (RebuildReport, error) {
	var report RebuildReport
	start := time.Now()

	if err := errors.Join(r.text.Reset(ctx), r.vectors.Reset(ctx)); err != nil {
		return report, fmt.Errorf("failed to reset indices: %w", err)
	}

	iterator := NewRecordIterator(r.store, (*core.AssetRecord).Visible, r.batchSize)
	total, err := iterator.Count(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to count records: %w", err)
	}
	r.logger.Info("rebuilding indices", "records", total)

	tracker := NewProgressTracker(r.progress, "Rebuild", total, r.reportInterval)
	tracker.Start()

	err = iterator.ForEach(ctx, func(records []*core.AssetRecord) error {
		for _, rec := range records {
			if err := r.replay(ctx, rec, &report); err != nil {
				return err
			}
		}
		report.Records += len(records)
		tracker.Increment(len(records))
		return nil
	})
	tracker.Finish()
	if err != nil {
		return report, err
	}

	if err := r.text.Merge(ctx); err != nil {
		return report, fmt.Errorf("failed to merge text index: %w", err)
	}
	if err := errors.Join(r.text.Flush(ctx), r.vectors.Save(ctx)); err != nil {
		return report, fmt.Errorf("failed to persist indices: %w", err)
	}

	report.Elapsed = time.Since(start)
	r.logger.Info("rebuild complete",
		"records", report.Records, "text", report.TextIndexed, "vectors", report.VectorIndexed,
		"skipped", report.Skipped, "elapsed", report.Elapsed.Round(time.Millisecond))
	return report, nil
}

func (r *Rebuilder) replay(ctx context.Context, rec *core.AssetRecord, report *RebuildReport) error {
	if len(rec.LexicalFields) > 0 {
		if err := r.text.Index(ctx, rec.ID, rec.LexicalFields); err != nil {
			return fmt.Errorf("failed to index asset %d: %w", rec.ID, err)
		}
		report.TextIndexed++
	}
	if len(rec.Embedding) == 0 {
		return nil
	}

	err := r.vectors.Insert(ctx, rec.ID, rec.Embedding)
	var mismatch *core.DimensionMismatchError
	switch {
	case errors.As(err, &mismatch):
		// The asset stays lexically searchable; reembedding can repair it.
		r.logger.Warn("skipping embedding with foreign dimension", "asset", rec.ID, "err", err)
		report.Skipped++
	case err != nil:
		return fmt.Errorf("failed to insert vector for asset %d: %w", rec.ID, err)
	default:
		report.VectorIndexed++
	}
	return nil
}
