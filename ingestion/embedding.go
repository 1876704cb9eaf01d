package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/poiesic/curator/ai"
	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/orchestrator"
)

// enrich runs on the enrichment pool. Enrichment is optional: when every
// service is missing, unavailable or failing, the asset stays LexicallyIndexed.
func (p *Pipeline) enrich(t *task) SubmitResult {
	ctx := context.WithoutCancel(t.ctx)
	rec := t.record
	logger := p.logger.With("stage", "enrichment", "asset", rec.ID)

	e := p.gather(ctx, rec, logger)
	if len(e.Tags) == 0 && e.Caption == "" && e.Transcript == "" && len(e.Embedding) == 0 {
		return resultFor(rec)
	}

	fieldsChanged := len(e.Tags) > 0 || e.Caption != "" || e.Transcript != ""
	rec, err := p.supervisor.Transition(ctx, t.batch, rec.ID, core.StateEnriched, func(r *core.AssetRecord) error {
		ApplyEnrichment(r, e)
		return nil
	})
	if err != nil {
		logger.Error("error storing enrichment", "err", err)
		return resultFor(t.record)
	}
	if rec.State != core.StateEnriched {
		return resultFor(rec)
	}

	if fieldsChanged {
		if err := p.text.Index(ctx, rec.ID, rec.LexicalFields); err != nil {
			if core.IsCorruption(err) {
				p.corruption(err)
			} else {
				logger.Warn("error reindexing enriched fields", "err", err)
			}
		}
	}
	if len(rec.Embedding) == 0 {
		return resultFor(rec)
	}
	return p.insertVector(ctx, t, rec, logger)
}

// gather asks each enrichment service in turn. Failures are logged and skipped.
func (p *Pipeline) gather(ctx context.Context, rec *core.AssetRecord, logger *slog.Logger) core.Enrichment {
	var e core.Enrichment
	info := ai.InfoFromRecord(rec)

	if tagger := p.enricher.Tagger(); tagger != nil {
		var result ai.TagResult
		err := orchestrator.Retry(ctx, func() error {
			var err error
			result, err = tagger.Tag(ctx, info)
			return err
		}, p.policy)
		if err != nil {
			logEnrichmentError(logger, "tagging", err)
		} else {
			e.Tags = result.Tags
			e.Caption = result.Caption
		}
	}

	if transcriber := p.enricher.Transcriber(); transcriber != nil && rec.Kind.Timed() {
		err := orchestrator.Retry(ctx, func() error {
			var err error
			e.Transcript, err = transcriber.Transcribe(ctx, info)
			return err
		}, p.policy)
		if err != nil {
			e.Transcript = ""
			logEnrichmentError(logger, "transcription", err)
		}
	}

	if embedder := p.enricher.Embedder(); embedder != nil {
		preview := rec.Clone()
		ApplyEnrichment(preview, e)
		text := ai.InfoFromRecord(preview).Describe()
		err := orchestrator.Retry(ctx, func() error {
			var err error
			e.Embedding, err = embedder.EmbedText(ctx, text)
			return err
		}, p.policy)
		if err != nil {
			e.Embedding = nil
			logEnrichmentError(logger, "embedding", err)
		}
	}
	return e
}

func (p *Pipeline) insertVector(ctx context.Context, t *task, rec *core.AssetRecord, logger *slog.Logger) SubmitResult {
	err := orchestrator.Retry(ctx, func() error {
		return p.vectors.Insert(ctx, rec.ID, rec.Embedding)
	}, p.policy)

	var mismatch *core.DimensionMismatchError
	switch {
	case errors.As(err, &mismatch):
		logger.Warn("embedding rejected by vector index", "err", err)
		if err := p.text.Remove(ctx, rec.ID); err != nil {
			logger.Warn("error removing failed asset from text index", "err", err)
		}
		return p.fail(ctx, t, rec.ID, err)
	case core.IsCorruption(err):
		// The embedding is stored; the rebuild puts it back into the index.
		p.corruption(err)
	case err != nil:
		logger.Error("vector index write failed", "err", err)
		return resultFor(rec)
	}

	updated, err := p.supervisor.Transition(ctx, t.batch, rec.ID, core.StateVectorIndexed, nil)
	if err != nil {
		logger.Error("error recording vector index state", "err", err)
		return resultFor(rec)
	}
	return resultFor(updated)
}

// ApplyEnrichment merges e into r: tags join the tag set, caption and
// transcript become lexical fields, and a non-empty embedding replaces r's.
func ApplyEnrichment(r *core.AssetRecord, e core.Enrichment) {
	if r.LexicalFields == nil {
		r.LexicalFields = make(map[string]string)
	}
	if len(e.Tags) > 0 {
		r.AddTags(e.Tags...)
		r.LexicalFields[core.FieldTags] = strings.Join(r.Tags, " ")
	}
	if e.Caption != "" {
		r.LexicalFields[core.FieldCaption] = e.Caption
	}
	if e.Transcript != "" {
		r.LexicalFields[core.FieldTranscription] = e.Transcript
	}
	if len(e.Embedding) > 0 {
		r.Embedding = e.Embedding
	}
}

func logEnrichmentError(logger *slog.Logger, service string, err error) {
	if errors.Is(err, ai.ErrUnavailable) {
		logger.Debug("enrichment unavailable", "service", service, "err", err)
		return
	}
	logger.Warn("enrichment failed", "service", service, "err", err)
}
