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

package ingestion

import (
	"context"
	"errors"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/fingerprint"
	"github.com/poiesic/curator/orchestrator"
	"github.com/poiesic/curator/storage"
)

// ingest runs on the ingest pool: fingerprint, dedup, parse and text index.
// It either reports a result or hands the task to the enrichment queue.
func (p *Pipeline) ingest(t *task) {
	res, next := p.ingestStage(t)
	if !next {
		t.done <- res
		return
	}
	select {
	case p.enrichQueue <- t:
	case <-t.ctx.Done():
		// Cancelled batches stop before enrichment; the asset is already searchable.
		t.done <- res
	}
}

func (p *Pipeline) ingestStage(t *task) (SubmitResult, bool) {
	// Started assets run to completion even if the batch is cancelled.
	ctx := context.WithoutCancel(t.ctx)
	logger := p.logger.With("path", t.path)

	var fp fingerprint.Result
	err := orchestrator.Retry(ctx, func() error {
		var err error
		fp, err = p.fingerprint(ctx, t.path)
		return err
	}, p.policy)
	if err != nil {
		logger.Warn("fingerprint failed", "err", err)
		return p.fingerprintFailed(ctx, t, err), false
	}

	release := p.claim(fp.ContentHash)
	defer release()

	rec, resume, res, err := p.resolve(ctx, t, fp)
	if err != nil {
		logger.Error("error resolving asset", "err", err)
		return SubmitResult{Path: t.path, State: core.StateFailed, Err: err}, false
	}
	if !resume {
		return res, false
	}
	id := rec.ID

	if rec.State < core.StateParsed {
		draft, err := p.parse(ctx, t.path, fp)
		if err != nil {
			logger.Warn("parse failed", "err", err)
			return p.fail(ctx, t, id, err), false
		}
		rec, err = p.supervisor.Transition(ctx, t.batch, id, core.StateParsed, func(r *core.AssetRecord) error {
			r.LexicalFields = lexicalFields(r.Path, r.Kind, draft)
			r.AddTags(draft.Tags...)
			if len(r.Tags) > 0 {
				r.LexicalFields[core.FieldTags] = strings.Join(r.Tags, " ")
			}
			return nil
		})
		if err != nil {
			return p.fail(ctx, t, id, err), false
		}
		if rec.State != core.StateParsed {
			return resultFor(rec), false
		}
	}

	err = orchestrator.Retry(ctx, func() error {
		return p.text.Index(ctx, id, rec.LexicalFields)
	}, p.policy)
	switch {
	case core.IsCorruption(err):
		p.corruption(err)
	case err != nil:
		logger.Error("text index write failed", "err", err)
		return p.fail(ctx, t, id, err), false
	}

	rec, err = p.supervisor.Transition(ctx, t.batch, id, core.StateLexicallyIndexed, func(r *core.AssetRecord) error {
		r.IndexedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return p.fail(ctx, t, id, err), false
	}
	if p.enricher == nil || rec.State != core.StateLexicallyIndexed {
		return resultFor(rec), false
	}
	t.record = rec
	return resultFor(rec), true
}

// resolve finds or creates the record for fingerprinted content. resume is
// false when the content needs no further work.
func (p *Pipeline) resolve(ctx context.Context, t *task, fp fingerprint.Result) (rec *core.AssetRecord, resume bool, res SubmitResult, err error) {
	existing, err := p.store.GetByHash(ctx, fp.ContentHash)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return p.create(ctx, t, fp)
	case err != nil:
		return nil, false, SubmitResult{}, err
	case existing.State == core.StateFailed:
		rec, err := p.restart(ctx, t, existing, fp)
		return rec, err == nil, SubmitResult{}, err
	default:
		return p.duplicate(ctx, t, existing)
	}
}

func (p *Pipeline) create(ctx context.Context, t *task, fp fingerprint.Result) (*core.AssetRecord, bool, SubmitResult, error) {
	// New content at a known path means the old content is gone.
	if prev, err := p.store.GetByPath(ctx, t.path); err == nil && prev.ContentHash != fp.ContentHash && !prev.Missing {
		if err := p.store.MarkMissing(ctx, prev.ID); err != nil {
			p.logger.Warn("error marking replaced asset missing", "asset", prev.ID, "err", err)
		}
	}

	rec, err := p.supervisor.Create(ctx, t.batch, &core.AssetRecord{
		ContentHash: fp.ContentHash,
		Path:        t.path,
		Kind:        fp.Kind,
		MimeType:    fp.MimeType,
		SizeBytes:   fp.SizeBytes,
		State:       core.StateFingerprinted,
		Attempts:    1,
	})
	var dup *storage.DuplicateHashError
	if errors.As(err, &dup) {
		// Same content arrived through another path at the same moment.
		existing, err := p.store.GetByID(ctx, dup.Existing)
		if err != nil {
			return nil, false, SubmitResult{}, err
		}
		return p.duplicate(ctx, t, existing)
	}
	if err != nil {
		return nil, false, SubmitResult{}, err
	}
	return rec, true, SubmitResult{}, nil
}

// restart gives failed content a full retry from Discovered.
func (p *Pipeline) restart(ctx context.Context, t *task, existing *core.AssetRecord, fp fingerprint.Result) (*core.AssetRecord, error) {
	rec, err := p.supervisor.Transition(ctx, t.batch, existing.ID, core.StateDiscovered, func(r *core.AssetRecord) error {
		r.Path = t.path
		r.Attempts++
		r.LastError = ""
		r.Missing = false
		r.MissingSince = time.Time{}
		r.IndexedAt = time.Time{}
		r.LexicalFields = nil
		r.Embedding = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.supervisor.Transition(ctx, t.batch, rec.ID, core.StateFingerprinted, func(r *core.AssetRecord) error {
		r.Kind = fp.Kind
		r.MimeType = fp.MimeType
		r.SizeBytes = fp.SizeBytes
		return nil
	})
}

// duplicate handles content that is already known. A record whose file moved
// follows it to the new path; an interrupted record resumes its pipeline.
func (p *Pipeline) duplicate(ctx context.Context, t *task, existing *core.AssetRecord) (*core.AssetRecord, bool, SubmitResult, error) {
	rec := existing
	if existing.Path != t.path || existing.Missing {
		if existing.Missing || existing.Path == t.path || !fileExists(existing.Path) {
			var err error
			rec, err = p.supervisor.Update(ctx, existing.ID, func(r *core.AssetRecord) error {
				r.Path = t.path
				r.Missing = false
				r.MissingSince = time.Time{}
				if r.LexicalFields != nil {
					r.LexicalFields[core.FieldFilename] = filepath.Base(t.path)
				}
				return nil
			})
			if err != nil {
				return nil, false, SubmitResult{}, err
			}
			p.logger.Debug("asset moved", "asset", rec.ID, "from", existing.Path, "to", t.path)
			if rec.State.Searchable() {
				if err := p.text.Index(ctx, rec.ID, rec.LexicalFields); err != nil {
					if core.IsCorruption(err) {
						p.corruption(err)
					} else {
						p.logger.Warn("error reindexing moved asset", "asset", rec.ID, "err", err)
					}
				}
			}
		}
	}

	if rec.State < core.StateLexicallyIndexed {
		return rec, true, SubmitResult{}, nil
	}
	res := resultFor(rec)
	res.Path = t.path
	res.Duplicate = true
	return rec, false, res, nil
}

func (p *Pipeline) parse(ctx context.Context, path string, fp fingerprint.Result) (*core.AssetDraft, error) {
	var draft *core.AssetDraft
	err := orchestrator.Retry(ctx, func() error {
		var err error
		draft, err = p.parser.Parse(ctx, path, fp)
		return err
	}, p.policy)
	if err != nil {
		return nil, err
	}
	if draft == nil {
		draft = &core.AssetDraft{}
	}
	return draft, nil
}

// fingerprintFailed reports a file that could not be read. Nothing is stored
// for content that was never hashed; a known record at a vanished path is
// marked missing.
func (p *Pipeline) fingerprintFailed(ctx context.Context, t *task, cause error) SubmitResult {
	res := SubmitResult{Path: t.path, State: core.StateFailed, Err: cause}
	if prev, err := p.store.GetByPath(ctx, t.path); err == nil {
		res.AssetID = prev.ID
		if errors.Is(cause, fs.ErrNotExist) {
			if err := p.store.MarkMissing(ctx, prev.ID); err != nil {
				p.logger.Warn("error marking asset missing", "asset", prev.ID, "err", err)
			}
		}
	}
	p.supervisor.Publish(core.ProgressEvent{
		BatchID: batchID(t.batch),
		AssetID: res.AssetID,
		Path:    t.path,
		From:    core.StateDiscovered,
		To:      core.StateFailed,
		Err:     cause,
	})
	return res
}

// fail records cause on the asset and moves it to Failed.
func (p *Pipeline) fail(ctx context.Context, t *task, id core.ID, cause error) SubmitResult {
	rec, err := p.supervisor.Transition(ctx, t.batch, id, core.StateFailed, func(r *core.AssetRecord) error {
		r.LastError = cause.Error()
		return nil
	})
	if err != nil {
		p.logger.Error("error recording asset failure", "asset", id, "cause", cause, "err", err)
		return SubmitResult{AssetID: id, Path: t.path, State: core.StateFailed, Err: cause}
	}
	res := resultFor(rec)
	if rec.State == core.StateFailed {
		res.Err = cause
	}
	return res
}

// lexicalFields builds the text index document for a parsed asset.
func lexicalFields(path string, kind core.Kind, draft *core.AssetDraft) map[string]string {
	fields := make(map[string]string, len(draft.Fields)+4)
	maps.Copy(fields, draft.Fields)
	fields[core.FieldFilename] = filepath.Base(path)
	fields[core.FieldKind] = string(kind)
	if draft.Title != "" {
		fields[core.FieldTitle] = draft.Title
	}
	if draft.ExtractedText != "" {
		fields[core.FieldExtractedText] = draft.ExtractedText
	}
	maps.DeleteFunc(fields, func(_, v string) bool { return strings.TrimSpace(v) == "" })
	return fields
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func batchID(b *orchestrator.Batch) string {
	if b == nil {
		return ""
	}
	return b.ID()
}
