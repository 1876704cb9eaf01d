package reindex

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/poiesic/curator/ai"
	"github.com/poiesic/curator/ai/mock"
	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/orchestrator"
	"github.com/poiesic/curator/storage"
	"github.com/poiesic/curator/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = orchestrator.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func setupReembedder(t *testing.T, store storage.AssetRepository, embedder ai.Embedder, config *Config, progress io.Writer) (*Reembedder, *vector.Flat) {
	t.Helper()
	_, vectors := newIndices(t)
	supervisor, err := orchestrator.NewSupervisor(store, orchestrator.WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(supervisor.Close)

	r, err := NewReembedder(store, vectors, embedder, supervisor, config, progress, discardLogger())
	require.NoError(t, err)
	return r, vectors
}

func TestNewReembedder(t *testing.T) {
	store := setupStore(t)
	_, vectors := newIndices(t)
	supervisor, err := orchestrator.NewSupervisor(store)
	require.NoError(t, err)
	defer supervisor.Close()
	embedder := mock.NewMockEmbedder()

	_, err = NewReembedder(nil, vectors, embedder, supervisor, nil, nil, nil)
	assert.Equal(t, ErrAssetRepositoryRequired, err)
	_, err = NewReembedder(store, nil, embedder, supervisor, nil, nil, nil)
	assert.Equal(t, ErrVectorIndexRequired, err)
	_, err = NewReembedder(store, vectors, nil, supervisor, nil, nil, nil)
	assert.Equal(t, ErrEmbedderRequired, err)
	_, err = NewReembedder(store, vectors, embedder, nil, nil, nil, nil)
	assert.Equal(t, ErrSupervisorRequired, err)
	_, err = NewReembedder(store, vectors, embedder, supervisor, &Config{BatchSize: 1}, nil, nil)
	assert.ErrorIs(t, err, orchestrator.ErrInvalidMaxAttempts)

	r, err := NewReembedder(store, vectors, embedder, supervisor, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), r.config)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, DefaultBatchSize, config.BatchSize)
	assert.Equal(t, DefaultBatchSize, config.ReportInterval)
	assert.Equal(t, orchestrator.DefaultPolicy, config.Policy)
	assert.False(t, config.All)
}

func TestReembedder_Run(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	pending := addRecords(t, store, 10, core.StateLexicallyIndexed)
	addRecords(t, store, 2, core.StateFailed)

	var buf bytes.Buffer
	embedder := mock.NewMockEmbedder()
	r, vectors := setupReembedder(t, store, embedder, &Config{BatchSize: 3, ReportInterval: 3, Policy: testPolicy}, &buf)

	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Records)
	assert.Equal(t, 10, report.Embedded)
	assert.Equal(t, 10, vectors.Len())
	assert.Equal(t, 10, embedder.CallCount())

	for _, rec := range pending {
		updated, err := store.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StateVectorIndexed, updated.State)
		assert.Len(t, updated.Embedding, mock.DefaultDimension)
	}
	assert.Contains(t, buf.String(), "Reembed: 10/10", "should show completion")

	// A second run has nothing left to do.
	report, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Records)
	assert.Equal(t, 10, embedder.CallCount())
}

func TestReembedder_ReusesStoredEmbeddings(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	recs := addRecords(t, store, 1, core.StateLexicallyIndexed)
	next := recs[0].Clone()
	next.State = core.StateEnriched
	next.Embedding = mock.Vector("stored", mock.DefaultDimension)
	_, err := store.Upsert(ctx, next)
	require.NoError(t, err)

	embedder := mock.NewMockEmbedder()
	r, vectors := setupReembedder(t, store, embedder, &Config{BatchSize: 10, Policy: testPolicy}, nil)

	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Embedded)
	assert.Zero(t, embedder.CallCount(), "an enriched record keeps its embedding")
	assert.Equal(t, 1, vectors.Len())
}

func TestReembedder_All(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	recs := addRecords(t, store, 3, core.StateParsed)
	for _, rec := range recs {
		withEmbedding(t, store, rec, []float32{1, 0})
	}

	embedder := mock.NewMockEmbedder()
	r, vectors := setupReembedder(t, store, embedder, &Config{BatchSize: 2, Policy: testPolicy, All: true}, nil)
	require.NoError(t, vectors.Insert(ctx, recs[0].ID, []float32{1, 0}))

	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Embedded)
	assert.Equal(t, 3, embedder.CallCount())
	assert.Equal(t, mock.DefaultDimension, vectors.Dimension(), "the index takes the new model's dimension")

	updated, err := store.GetByID(ctx, recs[1].ID)
	require.NoError(t, err)
	assert.Len(t, updated.Embedding, mock.DefaultDimension)
}

func TestReembedder_EmbeddingError(t *testing.T) {
	store := setupStore(t)
	addRecords(t, store, 3, core.StateLexicallyIndexed)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, ai.ErrUnavailable
	}
	r, vectors := setupReembedder(t, store, embedder, &Config{BatchSize: 10, Policy: testPolicy}, nil)

	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ai.ErrUnavailable)
	assert.Zero(t, vectors.Len())
	assert.Equal(t, 1, embedder.CallCount(), "unavailability is not retried")
}

func TestReembedder_TransientErrorsRetried(t *testing.T) {
	store := setupStore(t)
	addRecords(t, store, 2, core.StateLexicallyIndexed)

	attempts := 0
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		attempts++
		if attempts < 3 {
			return nil, &core.IoError{Op: "embed", Err: errors.New("connection reset")}
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.Vector(text, 4)
		}
		return out, nil
	}
	r, vectors := setupReembedder(t, store, embedder, &Config{BatchSize: 10, Policy: testPolicy}, nil)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, report.Embedded)
	assert.Equal(t, 2, vectors.Len())
}

func TestReembedder_CountMismatch(t *testing.T) {
	store := setupStore(t)
	addRecords(t, store, 2, core.StateLexicallyIndexed)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 0}}, nil
	}
	r, _ := setupReembedder(t, store, embedder, &Config{BatchSize: 10, Policy: testPolicy}, nil)

	_, err := r.Run(context.Background())
	assert.ErrorContains(t, err, "embedding count mismatch")
}

func TestReembedder_ContextCancellation(t *testing.T) {
	store := setupStore(t)
	addRecords(t, store, 4, core.StateLexicallyIndexed)
	r, _ := setupReembedder(t, store, mock.NewMockEmbedder(), &Config{BatchSize: 2, Policy: testPolicy}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
