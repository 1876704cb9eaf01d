package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAssets(t *testing.T) (storage.AssetRepository, storage.CheckpointRepository) {
	t.Helper()
	assets, checkpoints, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() {
		assets.Close()
		backend.Close()
	})
	return assets, checkpoints
}

func newRecord(hash, path string) *core.AssetRecord {
	return &core.AssetRecord{
		ContentHash: hash,
		Path:        path,
		Kind:        core.KindFromPath(path),
		State:       core.StateFingerprinted,
		SizeBytes:   10,
	}
}

func TestAssetCreateAndGet(t *testing.T) {
	assets, _ := newTestAssets(t)
	ctx := context.Background()

	created, err := assets.Create(ctx, newRecord("h1", "/lib/a.png"))
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	byID, err := assets.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "/lib/a.png", byID.Path)
	assert.Equal(t, core.KindImage, byID.Kind)

	byHash, err := assets.GetByHash(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byHash.ID)

	byPath, err := assets.GetByPath(ctx, "/lib/a.png")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byPath.ID)

	_, err = assets.GetByID(ctx, created.ID+100)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = assets.GetByHash(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = assets.GetByPath(ctx, "/nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAssetCreate_DuplicateHash(t *testing.T) {
	assets, _ := newTestAssets(t)
	ctx := context.Background()

	first, err := assets.Create(ctx, newRecord("same", "/lib/a.png"))
	require.NoError(t, err)

	_, err = assets.Create(ctx, newRecord("same", "/lib/copy.png"))
	require.ErrorIs(t, err, storage.ErrDuplicateKey)

	var dup *storage.DuplicateHashError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.ID, dup.Existing)
}

func TestAssetCreate_Invalid(t *testing.T) {
	assets, _ := newTestAssets(t)
	_, err := assets.Create(context.Background(), &core.AssetRecord{Path: "/x", State: core.StateDiscovered, Kind: core.KindUnknown})
	assert.ErrorIs(t, err, core.ErrEmptyContentHash)
}

func TestAssetUpsert_StateMachine(t *testing.T) {
	assets, _ := newTestAssets(t)
	ctx := context.Background()

	rec, err := assets.Create(ctx, newRecord("h", "/lib/doc.txt"))
	require.NoError(t, err)

	rec.State = core.StateParsed
	rec, err = assets.Upsert(ctx, rec)
	require.NoError(t, err)

	rec.State = core.StateLexicallyIndexed
	rec.LexicalFields = map[string]string{core.FieldFilename: "doc"}
	_, err = assets.Upsert(ctx, rec)
	require.NoError(t, err)

	// Moving backwards is a stale write and leaves the record untouched.
	stale := rec.Clone()
	stale.State = core.StateParsed
	_, err = assets.Upsert(ctx, stale)
	var staleErr *core.StaleWriteError
	require.True(t, errors.As(err, &staleErr))
	assert.Equal(t, core.StateLexicallyIndexed, staleErr.Current)
	assert.Equal(t, core.StateParsed, staleErr.Attempt)

	stored, err := assets.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateLexicallyIndexed, stored.State)
	assert.Equal(t, "doc", stored.LexicalFields[core.FieldFilename])

	// Failed can only restart from Discovered.
	stored.State = core.StateFailed
	stored.LastError = "boom"
	stored, err = assets.Upsert(ctx, stored)
	require.NoError(t, err)

	stored.State = core.StateParsed
	_, err = assets.Upsert(ctx, stored)
	require.True(t, errors.As(err, &staleErr))

	stored.State = core.StateDiscovered
	stored.LastError = ""
	_, err = assets.Upsert(ctx, stored)
	require.NoError(t, err)
}

func TestAssetUpsert_MoveUpdatesPathIndex(t *testing.T) {
	assets, _ := newTestAssets(t)
	ctx := context.Background()

	rec, err := assets.Create(ctx, newRecord("h", "/lib/old.png"))
	require.NoError(t, err)

	rec.Path = "/lib/new.png"
	_, err = assets.Upsert(ctx, rec)
	require.NoError(t, err)

	_, err = assets.GetByPath(ctx, "/lib/old.png")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	moved, err := assets.GetByPath(ctx, "/lib/new.png")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, moved.ID)

	byHash, err := assets.GetByHash(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "/lib/new.png", byHash.Path)
}

func TestAssetUpsert_HashOwnedByAnother(t *testing.T) {
	assets, _ := newTestAssets(t)
	ctx := context.Background()

	_, err := assets.Create(ctx, newRecord("h1", "/lib/a.png"))
	require.NoError(t, err)
	b, err := assets.Create(ctx, newRecord("h2", "/lib/b.png"))
	require.NoError(t, err)

	b.ContentHash = "h1"
	_, err = assets.Upsert(ctx, b)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestAssetUpsert_ConcurrentWritersSerialize(t *testing.T) {
	assets, _ := newTestAssets(t)
	ctx := context.Background()

	rec, err := assets.Create(ctx, newRecord("h", "/lib/a.wav"))
	require.NoError(t, err)

	states := []core.PipelineState{
		core.StateParsed,
		core.StateLexicallyIndexed,
		core.StateEnriched,
		core.StateVectorIndexed,
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			update := rec.Clone()
			update.State = states[i%len(states)]
			_, err := assets.Upsert(ctx, update)
			if err != nil {
				var stale *core.StaleWriteError
				assert.True(t, errors.As(err, &stale), "unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	stored, err := assets.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateVectorIndexed, stored.State)
}

func TestAssetScan(t *testing.T) {
	assets, _ := newTestAssets(t)
	ctx := context.Background()

	var ids []core.ID
	for i := range 5 {
		rec, err := assets.Create(ctx, newRecord(fmt.Sprintf("h%d", i), fmt.Sprintf("/lib/%d.png", i)))
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	var scanned []core.ID
	for rec, err := range assets.Scan(ctx, nil) {
		require.NoError(t, err)
		scanned = append(scanned, rec.ID)
	}
	assert.Equal(t, ids, scanned)

	odd := func(r *core.AssetRecord) bool { return r.ID%2 == 1 }
	count, err := assets.Count(ctx, odd)
	require.NoError(t, err)
	expected := 0
	for _, id := range ids {
		if id%2 == 1 {
			expected++
		}
	}
	assert.Equal(t, expected, count)

	// Breaking out of the loop stops the scan.
	seen := 0
	for _, err := range assets.Scan(ctx, nil) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestAssetScan_CancelledContext(t *testing.T) {
	assets, _ := newTestAssets(t)
	_, err := assets.Create(context.Background(), newRecord("h", "/lib/a.png"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	for _, err := range assets.Scan(ctx, nil) {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, context.Canceled)
}

func TestAssetMarkMissingAndPurge(t *testing.T) {
	assets, _ := newTestAssets(t)
	ctx := context.Background()

	keep, err := assets.Create(ctx, newRecord("keep", "/lib/keep.png"))
	require.NoError(t, err)
	gone, err := assets.Create(ctx, newRecord("gone", "/lib/gone.png"))
	require.NoError(t, err)

	require.NoError(t, assets.MarkMissing(ctx, gone.ID))
	require.NoError(t, assets.MarkMissing(ctx, gone.ID))
	assert.ErrorIs(t, assets.MarkMissing(ctx, 9999), storage.ErrNotFound)

	missing, err := assets.GetByID(ctx, gone.ID)
	require.NoError(t, err)
	assert.True(t, missing.Missing)
	assert.False(t, missing.MissingSince.IsZero())

	purged, err := assets.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{gone.ID}, purged)

	_, err = assets.GetByID(ctx, gone.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = assets.GetByHash(ctx, "gone")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = assets.GetByPath(ctx, "/lib/gone.png")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = assets.GetByID(ctx, keep.ID)
	assert.NoError(t, err)

	// The purged hash can be ingested again.
	_, err = assets.Create(ctx, newRecord("gone", "/lib/gone.png"))
	assert.NoError(t, err)
}

func TestAssetPurge_SkipsReappearedRecords(t *testing.T) {
	assets, _ := newTestAssets(t)
	repo := assets.(*AssetRepository)
	ctx := context.Background()

	var candidates []*core.AssetRecord
	for i := range 3 {
		rec, err := assets.Create(ctx, newRecord(fmt.Sprintf("h%d", i), fmt.Sprintf("/lib/%d.png", i)))
		require.NoError(t, err)
		require.NoError(t, assets.MarkMissing(ctx, rec.ID))
		stored, err := assets.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		candidates = append(candidates, stored)
	}

	// The file came back between the scan and the delete.
	back := candidates[1].Clone()
	back.Missing = false
	_, err := assets.Upsert(ctx, back)
	require.NoError(t, err)

	deleted, err := repo.purgeBatch(ctx, candidates)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{candidates[0].ID, candidates[2].ID}, deleted)

	stored, err := assets.GetByID(ctx, back.ID)
	require.NoError(t, err)
	assert.False(t, stored.Missing)

	purged, err := assets.Purge(ctx)
	require.NoError(t, err)
	assert.Empty(t, purged, "nothing left to purge")
}

func TestAssetStats(t *testing.T) {
	assets, _ := newTestAssets(t)
	ctx := context.Background()

	states := []core.PipelineState{
		core.StateFingerprinted,
		core.StateLexicallyIndexed,
		core.StateEnriched,
		core.StateVectorIndexed,
		core.StateFailed,
	}
	for i, state := range states {
		rec, err := assets.Create(ctx, newRecord(fmt.Sprintf("h%d", i), fmt.Sprintf("/lib/%d.png", i)))
		require.NoError(t, err)
		rec.State = state
		_, err = assets.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	extra, err := assets.Create(ctx, newRecord("x", "/lib/x.png"))
	require.NoError(t, err)
	extra.State = core.StateVectorIndexed
	_, err = assets.Upsert(ctx, extra)
	require.NoError(t, err)
	require.NoError(t, assets.MarkMissing(ctx, extra.ID))

	stats, err := assets.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.Stats{
		TotalAssets:      6,
		LexicallyIndexed: 3,
		VectorIndexed:    1,
		Failed:           1,
		Missing:          1,
	}, stats)
}

func TestAssetGetByIDs(t *testing.T) {
	assets, _ := newTestAssets(t)
	ctx := context.Background()

	a, err := assets.Create(ctx, newRecord("a", "/lib/a.png"))
	require.NoError(t, err)
	b, err := assets.Create(ctx, newRecord("b", "/lib/b.png"))
	require.NoError(t, err)

	records, err := assets.GetByIDs(ctx, a.ID, 12345, b.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, a.ID, records[0].ID)
	assert.Equal(t, b.ID, records[1].ID)
}

func TestCheckpoints(t *testing.T) {
	_, checkpoints := newTestAssets(t)
	ctx := context.Background()

	loaded, err := checkpoints.LoadCheckpoint(ctx, "walk")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	require.NoError(t, checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{Name: "walk", Position: "/lib/a"}))
	require.NoError(t, checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{Name: "walk", Position: "/lib/b"}))

	loaded, err = checkpoints.LoadCheckpoint(ctx, "walk")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "/lib/b", loaded.Position)
	assert.False(t, loaded.UpdatedAt.IsZero())

	require.NoError(t, checkpoints.DeleteCheckpoint(ctx, "walk"))
	require.NoError(t, checkpoints.DeleteCheckpoint(ctx, "walk"))
	loaded, err = checkpoints.LoadCheckpoint(ctx, "walk")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
