package vector

import (
	"context"
	"testing"

	"github.com/poiesic/curator/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forEachIndex(t *testing.T, fn func(t *testing.T, idx Index)) {
	factories := []struct {
		name string
		open func(t *testing.T) Index
	}{
		{"hnsw", func(t *testing.T) Index {
			idx, err := NewHNSW()
			require.NoError(t, err)
			return idx
		}},
		{"flat", func(t *testing.T) Index {
			idx, err := NewFlat()
			require.NoError(t, err)
			return idx
		}},
	}
	for _, f := range factories {
		t.Run(f.name, func(t *testing.T) {
			fn(t, f.open(t))
		})
	}
}

func hitIDs(hits []Hit) []core.ID {
	out := make([]core.ID, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func seed(t *testing.T, idx Index) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, idx.Insert(ctx, 1, []float32{1, 0, 0}))
	require.NoError(t, idx.Insert(ctx, 2, []float32{0, 1, 0}))
	require.NoError(t, idx.Insert(ctx, 3, []float32{0.9, 0.1, 0}))
}

func TestIndex_Search(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx Index) {
		seed(t, idx)

		hits, err := idx.Search(context.Background(), []float32{2, 0, 0}, 10)
		require.NoError(t, err)
		assert.Equal(t, []core.ID{1, 3, 2}, hitIDs(hits))
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
		assert.InDelta(t, 0.9938837, hits[1].Score, 1e-5)
		assert.InDelta(t, 0.0, hits[2].Score, 1e-6)

		hits, err = idx.Search(context.Background(), []float32{1, 0, 0}, 1)
		require.NoError(t, err)
		assert.Equal(t, []core.ID{1}, hitIDs(hits))

		assert.Equal(t, 3, idx.Len())
		assert.Equal(t, 3, idx.Dimension())
	})
}

func TestIndex_Replace(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx Index) {
		seed(t, idx)
		require.NoError(t, idx.Insert(context.Background(), 1, []float32{0, 0, 1}))

		hits, err := idx.Search(context.Background(), []float32{0, 0, 1}, 1)
		require.NoError(t, err)
		assert.Equal(t, []core.ID{1}, hitIDs(hits))
		assert.Equal(t, 3, idx.Len())

		hits, err = idx.Search(context.Background(), []float32{1, 0, 0}, 10)
		require.NoError(t, err)
		assert.Equal(t, core.ID(3), hits[0].ID)
		assert.Len(t, hits, 3, "replaced vector must appear once")
	})
}

func TestIndex_RemovedNeverReturned(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx Index) {
		seed(t, idx)
		require.NoError(t, idx.Remove(context.Background(), 1))
		require.NoError(t, idx.Remove(context.Background(), 99))

		hits, err := idx.Search(context.Background(), []float32{1, 0, 0}, 10)
		require.NoError(t, err)
		assert.Equal(t, []core.ID{3, 2}, hitIDs(hits))
		assert.Equal(t, 2, idx.Len())
	})
}

func TestIndex_DimensionMismatch(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx Index) {
		seed(t, idx)
		ctx := context.Background()

		var mismatch *core.DimensionMismatchError
		err := idx.Insert(ctx, 4, []float32{1, 0})
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 3, mismatch.Expected)
		assert.Equal(t, 2, mismatch.Actual)

		_, err = idx.Search(ctx, []float32{1, 0, 0, 0}, 3)
		require.ErrorAs(t, err, &mismatch)

		assert.ErrorIs(t, idx.Insert(ctx, 4, nil), ErrEmptyVector)
		assert.ErrorIs(t, idx.Insert(ctx, 0, []float32{1, 0, 0}), ErrInvalidID)
		assert.Equal(t, 3, idx.Len())
	})
}

func TestIndex_EmptyAndEdgeQueries(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx Index) {
		ctx := context.Background()

		hits, err := idx.Search(ctx, []float32{1, 2}, 5)
		require.NoError(t, err)
		assert.Empty(t, hits)
		assert.Equal(t, 0, idx.Dimension())

		seed(t, idx)
		hits, err = idx.Search(ctx, []float32{1, 0, 0}, 0)
		require.NoError(t, err)
		assert.Empty(t, hits)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = idx.Search(cancelled, []float32{1, 0, 0}, 3)
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, idx.Insert(cancelled, 9, []float32{1, 0, 0}), context.Canceled)
	})
}

func TestIndex_ResetClearsDimension(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx Index) {
		seed(t, idx)
		ctx := context.Background()
		require.NoError(t, idx.Reset(ctx))
		assert.Equal(t, 0, idx.Len())
		assert.Equal(t, 0, idx.Dimension())

		require.NoError(t, idx.Insert(ctx, 1, []float32{1, 1}))
		assert.Equal(t, 2, idx.Dimension())
	})
}

func TestIndex_Closed(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx Index) {
		seed(t, idx)
		require.NoError(t, idx.Close())
		require.NoError(t, idx.Close())

		ctx := context.Background()
		assert.ErrorIs(t, idx.Insert(ctx, 5, []float32{1, 0, 0}), ErrClosed)
		_, err := idx.Search(ctx, []float32{1, 0, 0}, 1)
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	n := Normalize(v)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, n, 1e-6)
	assert.Equal(t, []float32{3, 4}, v, "input must not be modified")
	assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))
}
