package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Progress is a point-in-time view of a batch.
type Progress struct {
	BatchID    string
	Root       string
	Started    time.Time
	Discovered int64
	Processing int64
	Completed  int64
	Failed     int64
	Duplicates int64
	Rejected   int64
	Cancelled  bool
	Finished   bool
}

// Batch is one import run. Its context is cancelled by Cancel or when the
// supervisor ends the batch.
type Batch struct {
	id      string
	root    string
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc

	discovered atomic.Int64
	processing atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	duplicates atomic.Int64
	rejected   atomic.Int64
	cancelled  atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
}

func newBatch(parent context.Context, id, root string) *Batch {
	ctx, cancel := context.WithCancel(parent)
	return &Batch{
		id:      id,
		root:    root,
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// ID returns the batch id.
func (b *Batch) ID() string { return b.id }

// Context returns the context that governs work scheduled for the batch.
func (b *Batch) Context() context.Context { return b.ctx }

// Cancel stops scheduling new work. In-flight assets finish.
func (b *Batch) Cancel() {
	b.cancelled.Store(true)
	b.cancel()
}

// Done is closed when the batch has ended.
func (b *Batch) Done() <-chan struct{} { return b.done }

// MarkDiscovered counts a path handed to the pipeline.
func (b *Batch) MarkDiscovered() { b.discovered.Add(1) }

// MarkRejected counts a path refused before processing started.
func (b *Batch) MarkRejected() { b.rejected.Add(1) }

// MarkProcessing counts an asset entering the pipeline.
func (b *Batch) MarkProcessing() { b.processing.Add(1) }

// MarkCompleted counts an asset that reached a searchable state.
func (b *Batch) MarkCompleted() {
	b.processing.Add(-1)
	b.completed.Add(1)
}

// MarkFailed counts an asset that ended in the Failed state.
func (b *Batch) MarkFailed() {
	b.processing.Add(-1)
	b.failed.Add(1)
}

// MarkDuplicate counts an asset whose content was already indexed.
func (b *Batch) MarkDuplicate() {
	b.processing.Add(-1)
	b.duplicates.Add(1)
}

// MarkSkipped uncounts an asset that was handed over but never started.
func (b *Batch) MarkSkipped() { b.processing.Add(-1) }

// Snapshot returns the current counters.
func (b *Batch) Snapshot() Progress {
	p := Progress{
		BatchID:    b.id,
		Root:       b.root,
		Started:    b.started,
		Discovered: b.discovered.Load(),
		Processing: b.processing.Load(),
		Completed:  b.completed.Load(),
		Failed:     b.failed.Load(),
		Duplicates: b.duplicates.Load(),
		Rejected:   b.rejected.Load(),
		Cancelled:  b.cancelled.Load(),
	}
	select {
	case <-b.done:
		p.Finished = true
	default:
	}
	return p
}

func (b *Batch) finish() {
	b.doneOnce.Do(func() {
		close(b.done)
		b.cancel()
	})
}
