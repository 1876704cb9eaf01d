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

package reindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/curator/ai"
	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/orchestrator"
	"github.com/poiesic/curator/storage"
	"github.com/poiesic/curator/vector"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of records embedded per request
	BatchSize int

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int

	// Policy controls retries of transient embedding failures
	Policy orchestrator.Policy

	// All re-embeds every visible record and starts from an empty vector
	// index, for switching embedding models.
	All bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: DefaultBatchSize,
		Policy:         orchestrator.DefaultPolicy,
	}
}

// ReembedReport summarizes a reembedding run.
type ReembedReport struct {
	Records  int // records considered
	Embedded int // records that reached VectorIndexed
	Skipped  int // embeddings the vector index rejected
	Elapsed  time.Duration
}

// Reembedder brings lexically indexed assets up to VectorIndexed.
type Reembedder struct {
	vectors    vector.Index
	embedder   ai.Embedder
	supervisor *orchestrator.Supervisor
	config     *Config
	progress   io.Writer
	iterator   *RecordIterator
	logger     *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr, may be nil)
func NewReembedder(
	store storage.AssetRepository,
	vectors vector.Index,
	embedder ai.Embedder,
	supervisor *orchestrator.Supervisor,
	config *Config,
	progress io.Writer,
	logger *slog.Logger,
) (*Reembedder, error) {
	switch {
	case store == nil:
		return nil, ErrAssetRepositoryRequired
	case vectors == nil:
		return nil, ErrVectorIndexRequired
	case embedder == nil:
		return nil, ErrEmbedderRequired
	case supervisor == nil:
		return nil, ErrSupervisorRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	all := config.All
	pending := func(r *core.AssetRecord) bool {
		return r.Visible() && (all || r.State != core.StateVectorIndexed)
	}
	return &Reembedder{
		vectors:    vectors,
		embedder:   embedder,
		supervisor: supervisor,
		config:     config,
		progress:   progress,
		iterator:   NewRecordIterator(store, pending, config.BatchSize),
		logger:     logger.With("component", "reembed"),
	}, nil
}

// Run executes the reembedding operation.
// Records that already carry an embedding are inserted as they are unless
// Config.All is set. Progress is reported to the configured writer.
func (r *Reembedder) Run(ctx context.Context) (ReembedReport, error) {
	var report ReembedReport
	start := time.Now()

	total, err := r.iterator.Count(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to query records: %w", err)
	}
	if total == 0 {
		r.logger.Info("no records need embedding")
		return report, nil
	}
	if r.config.All {
		if err := r.vectors.Reset(ctx); err != nil {
			return report, fmt.Errorf("failed to reset vector index: %w", err)
		}
	}
	r.logger.Info("starting reembedding", "records", total, "batchSize", r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, "Reembed", total, r.config.ReportInterval)
	tracker.Start()

	err = r.iterator.ForEach(ctx, func(records []*core.AssetRecord) error {
		if err := r.process(ctx, records, &report); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		report.Records += len(records)
		tracker.Increment(len(records))
		return nil
	})
	tracker.Finish()
	if err != nil {
		return report, err
	}

	if err := r.vectors.Save(ctx); err != nil {
		return report, fmt.Errorf("failed to save vector index: %w", err)
	}
	report.Elapsed = time.Since(start)
	r.logger.Info("reembedding complete", "records", report.Records, "embedded", report.Embedded,
		"skipped", report.Skipped, "elapsed", report.Elapsed.Round(time.Millisecond))
	return report, nil
}

// process embeds one batch with a single request, then indexes each record.
func (r *Reembedder) process(ctx context.Context, records []*core.AssetRecord, report *ReembedReport) error {
	var need []*core.AssetRecord
	for _, rec := range records {
		if r.config.All || len(rec.Embedding) == 0 {
			need = append(need, rec)
		}
	}

	if len(need) > 0 {
		texts := make([]string, len(need))
		for i, rec := range need {
			texts[i] = ai.InfoFromRecord(rec).Describe()
		}

		var embeddings [][]float32
		err := orchestrator.Retry(ctx, func() error {
			var err error
			embeddings, err = r.embedder.EmbedTexts(ctx, texts)
			return err
		}, r.config.Policy)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(embeddings) != len(need) {
			return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(need), len(embeddings))
		}
		for i, rec := range need {
			rec.Embedding = embeddings[i]
		}
	}

	for _, rec := range records {
		if err := r.index(ctx, rec, report); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reembedder) index(ctx context.Context, rec *core.AssetRecord, report *ReembedReport) error {
	err := r.vectors.Insert(ctx, rec.ID, rec.Embedding)
	var mismatch *core.DimensionMismatchError
	if errors.As(err, &mismatch) {
		r.logger.Warn("embedding rejected by vector index", "asset", rec.ID, "err", err)
		report.Skipped++
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to insert vector for asset %d: %w", rec.ID, err)
	}

	embedding := rec.Embedding
	stored, err := r.supervisor.Transition(ctx, nil, rec.ID, core.StateVectorIndexed, func(next *core.AssetRecord) error {
		next.Embedding = embedding
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record embedding for asset %d: %w", rec.ID, err)
	}
	if stored.State == core.StateVectorIndexed {
		report.Embedded++
	}
	return nil
}
