package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/storage"
)

// maxStaleRetries bounds how often a transition re-reads after losing a race.
const maxStaleRetries = 32

// Supervisor tracks running batches and applies state transitions.
type Supervisor struct {
	store  storage.AssetRepository
	bus    *Bus
	logger *slog.Logger

	mu      sync.Mutex
	batches map[string]*Batch
	closed  bool
}

// Option configures a Supervisor.
type Option func(*Supervisor) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) error {
		s.logger = logger
		return nil
	}
}

// WithBus publishes progress on an existing bus instead of a new one.
func WithBus(bus *Bus) Option {
	return func(s *Supervisor) error {
		if bus == nil {
			return errors.New("bus cannot be nil")
		}
		s.bus = bus
		return nil
	}
}

// NewSupervisor creates a supervisor writing through store.
func NewSupervisor(store storage.AssetRepository, opts ...Option) (*Supervisor, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	s := &Supervisor{
		store:   store,
		logger:  slog.Default(),
		batches: make(map[string]*Batch),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.bus == nil {
		s.bus = NewBus()
	}
	s.logger = s.logger.With("component", "orchestrator")
	return s, nil
}

// Bus returns the progress bus.
func (s *Supervisor) Bus() *Bus { return s.bus }

// Begin registers a new batch rooted at root. The batch context derives from ctx.
func (s *Supervisor) Begin(ctx context.Context, root string) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSupervisorClosed
	}
	b := newBatch(ctx, uuid.NewString(), root)
	s.batches[b.id] = b
	s.logger.Debug("batch started", "batch", b.id, "root", root)
	return b, nil
}

// End unregisters a batch and releases its context.
func (s *Supervisor) End(b *Batch) {
	s.mu.Lock()
	delete(s.batches, b.id)
	s.mu.Unlock()
	b.finish()

	p := b.Snapshot()
	s.logger.Debug("batch ended", "batch", b.id,
		"completed", p.Completed, "failed", p.Failed, "duplicates", p.Duplicates, "cancelled", p.Cancelled)
}

// Cancel cancels the running batch with the given id.
func (s *Supervisor) Cancel(id string) error {
	s.mu.Lock()
	b, ok := s.batches[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	b.Cancel()
	return nil
}

// Batches returns a snapshot of every running batch, oldest first.
func (s *Supervisor) Batches() []Progress {
	s.mu.Lock()
	out := make([]Progress, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, b.Snapshot())
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b Progress) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return cmp.Compare(a.BatchID, b.BatchID)
	})
	return out
}

// Publish emits an event that has no stored record behind it yet, such as a
// fingerprint failure.
func (s *Supervisor) Publish(ev core.ProgressEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.bus.Publish(ev)
}

// Transition moves record id to state to. mutate, when not nil, edits a copy
// of the freshly read record before it is written.
//
// Losing a race with another writer never surfaces as an error: the record is
// re-read and the transition retried. If the stored state has already moved
// past to, nothing is written and the stored record is returned; callers
// compare the returned State with to when the difference matters.
func (s *Supervisor) Transition(ctx context.Context, batch *Batch, id core.ID, to core.PipelineState, mutate func(*core.AssetRecord) error) (*core.AssetRecord, error) {
	return s.apply(ctx, batch, id, func(core.PipelineState) core.PipelineState { return to }, mutate)
}

// Update applies mutate to record id without changing its state.
func (s *Supervisor) Update(ctx context.Context, id core.ID, mutate func(*core.AssetRecord) error) (*core.AssetRecord, error) {
	return s.apply(ctx, nil, id, func(from core.PipelineState) core.PipelineState { return from }, mutate)
}

func (s *Supervisor) apply(ctx context.Context, batch *Batch, id core.ID, target func(core.PipelineState) core.PipelineState, mutate func(*core.AssetRecord) error) (*core.AssetRecord, error) {
	var lastErr error
	for range maxStaleRetries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current, err := s.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		from := current.State
		to := target(from)
		if !core.CanTransition(from, to) {
			s.logger.Debug("transition superseded", "asset", id, "stored", from, "target", to)
			return current, nil
		}

		next := current.Clone()
		if mutate != nil {
			if err := mutate(next); err != nil {
				return nil, err
			}
		}
		next.State = to

		stored, err := s.store.Upsert(ctx, next)
		var stale *core.StaleWriteError
		if errors.As(err, &stale) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		if from != to {
			var cause error
			if to == core.StateFailed && stored.LastError != "" {
				cause = errors.New(stored.LastError)
			}
			s.Publish(core.ProgressEvent{
				BatchID: batchID(batch),
				AssetID: stored.ID,
				Path:    stored.Path,
				From:    from,
				To:      to,
				Err:     cause,
			})
		}
		return stored, nil
	}
	return nil, fmt.Errorf("write to asset %d kept losing races: %w", id, lastErr)
}

// Create stores a new record and reports its arrival at rec.State.
func (s *Supervisor) Create(ctx context.Context, batch *Batch, rec *core.AssetRecord) (*core.AssetRecord, error) {
	stored, err := s.store.Create(ctx, rec)
	if err != nil {
		return nil, err
	}
	s.Publish(core.ProgressEvent{
		BatchID: batchID(batch),
		AssetID: stored.ID,
		Path:    stored.Path,
		From:    core.StateDiscovered,
		To:      stored.State,
	})
	return stored, nil
}

// Close cancels every running batch and closes the bus.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	batches := make([]*Batch, 0, len(s.batches))
	for _, b := range s.batches {
		batches = append(batches, b)
	}
	s.mu.Unlock()

	for _, b := range batches {
		b.Cancel()
	}
	s.bus.Close()
}

func batchID(b *Batch) string {
	if b == nil {
		return ""
	}
	return b.id
}
