package lexical

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/poiesic/curator/core"
)

// Segmented is the persistent text index.
//
// A single RWMutex guards staging and the sealed segment list: writers take it
// briefly to stage a document or tombstone a sealed one, searches hold the
// read lock for their whole evaluation. Merges are serialized by mergeMu and
// do their expensive work without holding mu.
type Segmented struct {
	dir          string
	stagingLimit int
	logger       *slog.Logger

	mu      sync.RWMutex
	staging *staging
	sealed  []*segment
	nextGen uint64
	closed  bool

	mergeMu sync.Mutex
	merging atomic.Bool
	wg      sync.WaitGroup
}

var _ Index = (*Segmented)(nil)

// Open loads the index stored in dir, creating it if needed. An empty dir
// yields an index that never touches disk.
// Returns *core.IndexCorruptionError if the stored index cannot be decoded.
func Open(dir string, opts ...Option) (*Segmented, error) {
	s := &Segmented{
		dir:          dir,
		stagingLimit: defaultStagingLimit,
		logger:       slog.Default().With("component", "lexical"),
		staging:      newStaging(),
		nextGen:      1,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if dir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create text index directory: %w", err)
	}
	sealed, nextGen, err := loadIndex(dir)
	if err != nil {
		return nil, err
	}
	s.sealed = sealed
	s.nextGen = nextGen
	s.logger.Debug("text index opened", "dir", dir, "segments", len(sealed), "documents", s.Len())
	return s, nil
}

// Index stages the document for id, superseding any earlier version.
func (s *Segmented) Index(ctx context.Context, id core.ID, fields map[string]string) error {
	if id == 0 {
		return ErrInvalidID
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	weights := weighTerms(fields)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	for _, seg := range s.sealed {
		seg.kill(id)
	}
	s.staging.put(id, weights)
	full := s.stagingLimit > 0 && s.staging.len() >= s.stagingLimit
	s.mu.Unlock()

	if full {
		s.mergeInBackground()
	}
	return nil
}

// Remove deletes the document for id.
func (s *Segmented) Remove(ctx context.Context, id core.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.staging.remove(id)
	for _, seg := range s.sealed {
		seg.kill(id)
	}
	return nil
}

// Search scores every live document containing at least one of terms.
func (s *Segmented) Search(ctx context.Context, terms []string, limit int) ([]Hit, error) {
	terms = normalizeTerms(terms)
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	n := s.lenLocked()
	scores := make(map[core.ID]float64)
	var matches []posting
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches = matches[:0]
		for id, w := range s.staging.terms[term] {
			matches = append(matches, posting{ID: id, Weight: w})
		}
		for _, seg := range s.sealed {
			for _, p := range seg.postings[term] {
				if !seg.tombstones.Contains(uint64(p.ID)) {
					matches = append(matches, p)
				}
			}
		}
		weight := idf(n, len(matches))
		for _, p := range matches {
			scores[p.ID] += p.Weight * weight
		}
	}
	return rank(scores, limit), nil
}

// Len returns the number of live documents.
func (s *Segmented) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lenLocked()
}

func (s *Segmented) lenLocked() int {
	n := s.staging.len()
	for _, seg := range s.sealed {
		n += seg.liveCount()
	}
	return n
}

// Segments returns the number of sealed segments.
func (s *Segmented) Segments() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sealed)
}

func (s *Segmented) mergeInBackground() {
	if !s.merging.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.merging.Store(false)
		if err := s.Merge(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
			s.logger.Error("background merge failed", "error", err)
		}
	}()
}

// Merge folds staging and every sealed segment into a single segment.
//
// Staging is frozen into a sealed segment under the write lock, so it stays
// searchable while the merged segment is built from tombstone snapshots
// without any lock held. Tombstones recorded during the build are carried
// over when the merged segment is swapped in.
func (s *Segmented) Merge(ctx context.Context) error {
	s.mergeMu.Lock()
	defer s.mergeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.staging.len() > 0 {
		s.sealed = append(s.sealed, s.staging.seal(s.nextGen))
		s.nextGen++
		s.staging = newStaging()
	}
	if len(s.sealed) == 0 || (len(s.sealed) == 1 && s.sealed[0].tombstones.IsEmpty() && s.persisted(s.sealed[0])) {
		s.mu.Unlock()
		return nil
	}
	inputs := append([]*segment(nil), s.sealed...)
	snapshots := make([]*roaring64.Bitmap, len(inputs))
	for i, seg := range inputs {
		snapshots[i] = seg.tombstones.Clone()
	}
	gen := s.nextGen
	s.nextGen++
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	merged := mergeSegments(gen, inputs, snapshots)
	if s.dir != "" {
		if err := writeSegment(s.dir, merged); err != nil {
			return fmt.Errorf("write merged segment: %w", err)
		}
	}

	s.mu.Lock()
	for i, seg := range inputs {
		delta := seg.tombstones.Clone()
		delta.AndNot(snapshots[i])
		delta.And(merged.ids)
		merged.tombstones.Or(delta)
	}
	// Merges are serialized and only merges seal segments, so s.sealed is still inputs.
	s.sealed = []*segment{merged}
	manifestErr := s.writeManifestLocked()
	s.mu.Unlock()

	if manifestErr != nil {
		return fmt.Errorf("write manifest: %w", manifestErr)
	}
	if s.dir != "" {
		for _, seg := range inputs {
			removeSegment(s.dir, seg.gen)
		}
	}
	s.logger.Debug("merged text segments", "inputs", len(inputs), "documents", merged.liveCount())
	return nil
}

// persisted reports whether seg has a segment file on disk.
func (s *Segmented) persisted(seg *segment) bool {
	if s.dir == "" {
		return true
	}
	_, err := os.Stat(segmentPath(s.dir, seg.gen))
	return err == nil
}

// Flush merges staged documents to disk and records current tombstones.
func (s *Segmented) Flush(ctx context.Context) error {
	if err := s.Merge(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writeManifestLocked()
}

func (s *Segmented) writeManifestLocked() error {
	if s.dir == "" {
		return nil
	}
	return writeManifest(s.dir, s.nextGen, s.sealed)
}

// Reset drops every document and deletes the stored segments.
func (s *Segmented) Reset(ctx context.Context) error {
	s.mergeMu.Lock()
	defer s.mergeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	old := s.sealed
	s.sealed = nil
	s.staging = newStaging()
	if s.dir == "" {
		return nil
	}
	if err := s.writeManifestLocked(); err != nil {
		return err
	}
	for _, seg := range old {
		removeSegment(s.dir, seg.gen)
	}
	return nil
}

// Close waits for background merges, flushes and closes the index.
func (s *Segmented) Close() error {
	s.wg.Wait()
	err := s.Flush(context.Background())
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}
