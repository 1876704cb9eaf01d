package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/poiesic/curator/core"
	"golang.org/x/sync/errgroup"
)

const checkpointEvery = 64

// DirectoryReport summarizes a directory import.
type DirectoryReport struct {
	BatchID       string
	Root          string
	Submitted     int
	Rejected      int
	Rejections    []Rejection
	Completed     int // reached a searchable state
	Failed        int
	Duplicates    int
	MarkedMissing int  // known assets under Root whose files are gone
	Resumed       bool // the walk continued from a checkpoint
	Partial       bool // cancelled or timed out before the walk finished
}

// SubmitDirectory imports every ingestible file under root. Per-asset
// failures are counted in the report and never fail the call. Cancelling ctx
// or the batch stops scheduling new files, lets started ones finish, and
// returns a Partial report. A walk that finishes marks known assets under
// root whose files are gone as missing.
func (p *Pipeline) SubmitDirectory(ctx context.Context, root string) (DirectoryReport, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return DirectoryReport{}, err
	}
	abs = filepath.Clean(abs)
	info, err := os.Stat(abs)
	if err != nil {
		return DirectoryReport{}, &core.IoError{Path: abs, Op: "stat", Err: err}
	}
	if !info.IsDir() {
		return DirectoryReport{}, fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}

	batch, err := p.supervisor.Begin(ctx, abs)
	if err != nil {
		return DirectoryReport{}, err
	}
	defer p.supervisor.End(batch)
	ctx = batch.Context()
	logger := p.logger.With("batch", batch.ID(), "root", abs)

	report := DirectoryReport{BatchID: batch.ID(), Root: abs}
	checkpointName := "walk:" + abs
	after := p.loadCheckpoint(ctx, checkpointName)
	report.Resumed = after != ""
	marks := newWatermark(after)

	type item struct {
		seq  int
		path string
	}
	paths := make(chan item, p.queueDepth)
	var mu sync.Mutex

	// The walk feeds a bounded channel; dispatchers block in Submit while
	// the pools are busy, so the walk pauses under pressure.
	var g errgroup.Group
	for range p.poolSize {
		g.Go(func() error {
			for it := range paths {
				batch.MarkProcessing()
				res, err := p.submit(ctx, batch, it.path)
				mu.Lock()
				switch {
				case err != nil:
					batch.MarkSkipped()
					report.Partial = true
				case res.Duplicate:
					batch.MarkDuplicate()
					report.Duplicates++
				case res.State == core.StateFailed:
					batch.MarkFailed()
					report.Failed++
				default:
					batch.MarkCompleted()
					report.Completed++
				}
				if err == nil {
					if pos, due := marks.done(it.seq); due {
						p.saveCheckpoint(context.WithoutCancel(ctx), checkpointName, pos)
					}
				}
				mu.Unlock()
			}
			return nil
		})
	}

	seq := 0
	for path, err := range Walk(ctx, abs, after) {
		if err != nil {
			var rej *Rejection
			if !errors.As(err, &rej) {
				rej = &Rejection{Path: path, Err: err}
			}
			mu.Lock()
			report.Rejected++
			report.Rejections = append(report.Rejections, *rej)
			mu.Unlock()
			batch.MarkRejected()
			continue
		}
		mu.Lock()
		marks.emit(seq, path)
		mu.Unlock()

		sent := false
		select {
		case paths <- item{seq: seq, path: path}:
			sent = true
		case <-ctx.Done():
		}
		if !sent {
			break
		}
		mu.Lock()
		report.Submitted++
		mu.Unlock()
		batch.MarkDiscovered()
		seq++
	}
	close(paths)
	_ = g.Wait()

	if ctx.Err() != nil {
		report.Partial = true
	}
	if report.Partial {
		if pos := marks.position(); pos != "" {
			p.saveCheckpoint(context.WithoutCancel(ctx), checkpointName, pos)
		}
		logger.Info("directory import interrupted", "submitted", report.Submitted, "completed", report.Completed)
		return report, nil
	}

	p.deleteCheckpoint(context.WithoutCancel(ctx), checkpointName)
	missing, err := p.markMissingUnder(ctx, abs)
	if err != nil {
		logger.Warn("error marking vanished assets", "err", err)
	}
	report.MarkedMissing = missing
	logger.Info("directory import finished",
		"submitted", report.Submitted, "rejected", report.Rejected,
		"completed", report.Completed, "failed", report.Failed, "duplicates", report.Duplicates,
		"missing", report.MarkedMissing)
	return report, nil
}

// markMissingUnder flags known assets below root whose files no longer exist.
func (p *Pipeline) markMissingUnder(ctx context.Context, root string) (int, error) {
	var gone []core.ID
	for rec, err := range p.store.Scan(ctx, func(r *core.AssetRecord) bool {
		return !r.Missing && within(r.Path, root)
	}) {
		if err != nil {
			return 0, err
		}
		if _, err := os.Stat(rec.Path); errors.Is(err, fs.ErrNotExist) {
			gone = append(gone, rec.ID)
		}
	}
	for _, id := range gone {
		if err := p.store.MarkMissing(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(gone), nil
}

func (p *Pipeline) loadCheckpoint(ctx context.Context, name string) string {
	if p.checkpoints == nil {
		return ""
	}
	cp, err := p.checkpoints.LoadCheckpoint(ctx, name)
	if err != nil {
		p.logger.Warn("error loading walk checkpoint", "checkpoint", name, "err", err)
		return ""
	}
	if cp == nil {
		return ""
	}
	return cp.Position
}

func (p *Pipeline) saveCheckpoint(ctx context.Context, name, position string) {
	if p.checkpoints == nil {
		return
	}
	err := p.checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{Name: name, Position: position})
	if err != nil {
		p.logger.Warn("error saving walk checkpoint", "checkpoint", name, "err", err)
	}
}

func (p *Pipeline) deleteCheckpoint(ctx context.Context, name string) {
	if p.checkpoints == nil {
		return
	}
	if err := p.checkpoints.DeleteCheckpoint(ctx, name); err != nil {
		p.logger.Warn("error deleting walk checkpoint", "checkpoint", name, "err", err)
	}
}

// watermark tracks the last walk position before which every emitted path
// has finished. Paths complete out of order; the checkpoint only advances
// over a finished prefix.
type watermark struct {
	pos      string
	next     int // lowest sequence number not yet finished
	saved    int // next at the last reported save
	pending  map[int]string
	finished map[int]bool
}

func newWatermark(start string) *watermark {
	return &watermark{pos: start, pending: make(map[int]string), finished: make(map[int]bool)}
}

func (w *watermark) emit(seq int, path string) {
	w.pending[seq] = path
}

// done marks seq finished. It returns the current position and whether
// enough progress was made since the last save to persist it.
func (w *watermark) done(seq int) (string, bool) {
	w.finished[seq] = true
	for w.finished[w.next] {
		w.pos = w.pending[w.next]
		delete(w.finished, w.next)
		delete(w.pending, w.next)
		w.next++
	}
	if w.next-w.saved >= checkpointEvery {
		w.saved = w.next
		return w.pos, true
	}
	return w.pos, false
}

func (w *watermark) position() string { return w.pos }
