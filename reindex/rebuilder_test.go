package reindex

import (
	"bytes"
	"context"
	"testing"

	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/lexical"
	"github.com/poiesic/curator/storage"
	"github.com/poiesic/curator/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndices(t *testing.T) (*lexical.Memory, *vector.Flat) {
	t.Helper()
	vectors, err := vector.NewFlat()
	require.NoError(t, err)
	text := lexical.NewMemory()
	t.Cleanup(func() {
		text.Close()
		vectors.Close()
	})
	return text, vectors
}

func withEmbedding(t *testing.T, store storage.AssetRepository, rec *core.AssetRecord, embedding []float32) *core.AssetRecord {
	t.Helper()
	next := rec.Clone()
	next.Embedding = embedding
	next.State = core.StateVectorIndexed
	stored, err := store.Upsert(context.Background(), next)
	require.NoError(t, err)
	return stored
}

func TestNewRebuilder(t *testing.T) {
	store := setupStore(t)
	text, vectors := newIndices(t)

	_, err := NewRebuilder(nil, text, vectors)
	assert.Equal(t, ErrAssetRepositoryRequired, err)
	_, err = NewRebuilder(store, nil, vectors)
	assert.Equal(t, ErrTextIndexRequired, err)
	_, err = NewRebuilder(store, text, nil)
	assert.Equal(t, ErrVectorIndexRequired, err)
	_, err = NewRebuilder(store, text, vectors, WithBatchSize(0))
	assert.Error(t, err)

	r, err := NewRebuilder(store, text, vectors, WithLogger(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, r.batchSize)
}

func TestRebuilder_Run(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	lexicalOnly := addRecords(t, store, 3, core.StateLexicallyIndexed)
	embedded := addRecords(t, store, 2, core.StateParsed)
	for i, rec := range embedded {
		embedded[i] = withEmbedding(t, store, rec, []float32{float32(i + 1), 1, 0})
	}
	failed := addRecords(t, store, 2, core.StateFailed)
	require.NoError(t, store.MarkMissing(ctx, lexicalOnly[0].ID))

	text, vectors := newIndices(t)
	// Stale projections that the rebuild must discard.
	require.NoError(t, text.Index(ctx, failed[0].ID, failed[0].LexicalFields))
	require.NoError(t, vectors.Insert(ctx, 9999, []float32{0, 0, 1}))

	var progress bytes.Buffer
	r, err := NewRebuilder(store, text, vectors, WithBatchSize(2), WithProgress(&progress, 1), WithLogger(discardLogger()))
	require.NoError(t, err)

	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Records, "missing and failed records are not replayed")
	assert.Equal(t, 4, report.TextIndexed)
	assert.Equal(t, 2, report.VectorIndexed)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, 4, text.Len())
	assert.Equal(t, 2, vectors.Len())
	assert.Equal(t, 3, vectors.Dimension())
	assert.Contains(t, progress.String(), "Rebuild: 4/4")

	hits, err := text.Search(ctx, lexical.QueryTerms("picture"), 0)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, failed[0].ID, h.ID)
		assert.NotEqual(t, lexicalOnly[0].ID, h.ID)
	}
}

func TestRebuilder_Reproducible(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	addRecords(t, store, 5, core.StateLexicallyIndexed)
	for i, rec := range addRecords(t, store, 3, core.StateParsed) {
		withEmbedding(t, store, rec, []float32{1, float32(i), 0.5})
	}

	text, vectors := newIndices(t)
	r, err := NewRebuilder(store, text, vectors, WithLogger(discardLogger()))
	require.NoError(t, err)

	_, err = r.Run(ctx)
	require.NoError(t, err)
	firstText, err := text.Search(ctx, lexical.QueryTerms("picture number 2"), 0)
	require.NoError(t, err)
	firstVec, err := vectors.Search(ctx, []float32{1, 1, 0}, 10)
	require.NoError(t, err)

	_, err = r.Run(ctx)
	require.NoError(t, err)
	secondText, err := text.Search(ctx, lexical.QueryTerms("picture number 2"), 0)
	require.NoError(t, err)
	secondVec, err := vectors.Search(ctx, []float32{1, 1, 0}, 10)
	require.NoError(t, err)

	assert.Equal(t, firstText, secondText)
	assert.Equal(t, firstVec, secondVec)
}

func TestRebuilder_SkipsForeignDimensions(t *testing.T) {
	store := setupStore(t)
	recs := addRecords(t, store, 2, core.StateParsed)
	withEmbedding(t, store, recs[0], []float32{1, 0, 0})
	withEmbedding(t, store, recs[1], []float32{1, 0})

	text, vectors := newIndices(t)
	r, err := NewRebuilder(store, text, vectors, WithLogger(discardLogger()))
	require.NoError(t, err)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.VectorIndexed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, text.Len(), "both assets stay lexically searchable")
}

func TestRebuilder_Cancelled(t *testing.T) {
	store := setupStore(t)
	addRecords(t, store, 3, core.StateLexicallyIndexed)
	text, vectors := newIndices(t)
	r, err := NewRebuilder(store, text, vectors, WithLogger(discardLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
