package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDebounce = 100 * time.Millisecond
	waitFor      = 3 * time.Second
	tick         = 10 * time.Millisecond
)

// recorder collects the paths handed to the submit and remove functions.
type recorder struct {
	mu        sync.Mutex
	submitted []string
	removed   []string
}

func (r *recorder) submit(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, path)
	return nil
}

func (r *recorder) remove(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, path)
	return nil
}

func (r *recorder) submissions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.submitted)
}

func (r *recorder) removals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.removed)
}

// startWatcher watches a fresh temp dir and runs the watcher until the test ends.
func startWatcher(t *testing.T, rec *recorder) (*Watcher, string) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := New(rec.submit, rec.remove, WithDebounce(testDebounce), WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, w.Add(root))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		w.Close()
		<-stopped
	})
	return w, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNew(t *testing.T) {
	rec := &recorder{}

	_, err := New(nil, rec.remove)
	assert.Equal(t, ErrSubmitRequired, err)

	_, err = New(rec.submit, nil)
	assert.Equal(t, ErrRemoveRequired, err)

	_, err = New(rec.submit, rec.remove, WithDebounce(0))
	assert.Error(t, err)

	w, err := New(rec.submit, rec.remove, WithLogger(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultDebounce, w.debounce)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close(), "closing twice is harmless")
}

func TestWatcher_AddRejectsFiles(t *testing.T) {
	rec := &recorder{}
	w, err := New(rec.submit, rec.remove)
	require.NoError(t, err)
	defer w.Close()

	file := filepath.Join(t.TempDir(), "asset.png")
	writeFile(t, file, "png")
	assert.ErrorIs(t, w.Add(file), ErrNotDirectory)
	assert.Error(t, w.Add(filepath.Join(t.TempDir(), "missing")))

	require.NoError(t, w.Close())
	assert.Equal(t, ErrClosed, w.Add(t.TempDir()))
}

func TestWatcher_SubmitsNewFiles(t *testing.T) {
	rec := &recorder{}
	_, root := startWatcher(t, rec)

	path := filepath.Join(root, "rock.png")
	writeFile(t, path, "granite")

	assert.Eventually(t, func() bool {
		return slices.Contains(rec.submissions(), path)
	}, waitFor, tick)
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	rec := &recorder{}
	_, root := startWatcher(t, rec)

	path := filepath.Join(root, "notes.txt")
	for i := range 5 {
		writeFile(t, path, string(rune('a'+i)))
	}

	assert.Eventually(t, func() bool {
		return len(rec.submissions()) > 0
	}, waitFor, tick)
	time.Sleep(4 * testDebounce)
	assert.Equal(t, []string{path}, rec.submissions(), "a burst of writes is one submission")
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	rec := &recorder{}
	_, root := startWatcher(t, rec)

	dir := filepath.Join(root, "textures", "stone")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	early := filepath.Join(dir, "early.png")
	writeFile(t, early, "written with the directory")

	assert.Eventually(t, func() bool {
		return slices.Contains(rec.submissions(), early)
	}, waitFor, tick)

	// The new directory is now watched on its own.
	late := filepath.Join(dir, "late.png")
	time.Sleep(2 * testDebounce)
	writeFile(t, late, "written afterwards")
	assert.Eventually(t, func() bool {
		return slices.Contains(rec.submissions(), late)
	}, waitFor, tick)
}

func TestWatcher_ReportsRemovals(t *testing.T) {
	rec := &recorder{}
	_, root := startWatcher(t, rec)

	path := filepath.Join(root, "gone.wav")
	writeFile(t, path, "audio")
	assert.Eventually(t, func() bool {
		return slices.Contains(rec.submissions(), path)
	}, waitFor, tick)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		return slices.Contains(rec.removals(), path)
	}, waitFor, tick)
}

func TestWatcher_IgnoresUningestibleFiles(t *testing.T) {
	rec := &recorder{}
	_, root := startWatcher(t, rec)

	require.NoError(t, os.Mkdir(filepath.Join(root, ".cache"), 0o755))
	writeFile(t, filepath.Join(root, ".hidden.png"), "x")
	writeFile(t, filepath.Join(root, "download.tmp"), "x")
	writeFile(t, filepath.Join(root, ".cache", "thumb.png"), "x")
	good := filepath.Join(root, "model.obj")
	writeFile(t, good, "v 0 0 0")

	assert.Eventually(t, func() bool {
		return slices.Contains(rec.submissions(), good)
	}, waitFor, tick)
	time.Sleep(2 * testDebounce)
	for _, path := range rec.submissions() {
		assert.Equal(t, good, path)
	}
}

func TestWatcher_SubmitErrorsDoNotStopWatching(t *testing.T) {
	rec := &recorder{}
	var mu sync.Mutex
	failed := 0
	submit := func(ctx context.Context, path string) error {
		if filepath.Base(path) == "bad.png" {
			mu.Lock()
			failed++
			mu.Unlock()
			return errors.New("boom")
		}
		return rec.submit(ctx, path)
	}

	root := t.TempDir()
	w, err := New(submit, rec.remove, WithDebounce(testDebounce), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.NoError(t, w.Add(root))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	defer w.Close()

	writeFile(t, filepath.Join(root, "bad.png"), "x")
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failed == 1
	}, waitFor, tick)

	writeFile(t, filepath.Join(root, "good.png"), "x")
	assert.Eventually(t, func() bool {
		return len(rec.submissions()) == 1
	}, waitFor, tick)
}

func TestWatcher_RunStops(t *testing.T) {
	t.Run("on close", func(t *testing.T) {
		rec := &recorder{}
		w, err := New(rec.submit, rec.remove)
		require.NoError(t, err)
		stopped := make(chan error, 1)
		go func() { stopped <- w.Run(context.Background()) }()

		require.NoError(t, w.Close())
		select {
		case err := <-stopped:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatal("Run did not return after Close")
		}
	})

	t.Run("on cancellation", func(t *testing.T) {
		rec := &recorder{}
		w, err := New(rec.submit, rec.remove)
		require.NoError(t, err)
		defer w.Close()
		ctx, cancel := context.WithCancel(context.Background())
		stopped := make(chan error, 1)
		go func() { stopped <- w.Run(ctx) }()

		cancel()
		select {
		case err := <-stopped:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatal("Run did not return after cancellation")
		}
	})
}
