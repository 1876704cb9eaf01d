package badger

import (
	"context"
	"errors"
	"iter"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/storage"
)

// purgeBatchSize bounds the number of records deleted per transaction so a
// large purge never exceeds badger's transaction size limit.
const purgeBatchSize = 256

// AssetRepository implements storage.AssetRepository for BadgerDB.
type AssetRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
}

var _ storage.AssetRepository = (*AssetRepository)(nil)

// NewAssetRepository creates a new AssetRepository.
func NewAssetRepository(backend *Backend) (*AssetRepository, error) {
	idSeq, err := backend.GetSequence(assetIDSeq)
	if err != nil {
		return nil, err
	}

	return &AssetRepository{
		backend: backend,
		idSeq:   idSeq,
	}, nil
}

// Close releases the ID sequence.
func (r *AssetRepository) Close() error {
	return r.idSeq.Release()
}

// WithTransaction delegates to the backend.
func (r *AssetRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.backend.WithTransaction(ctx, fn)
}

// nextID draws the next ID from the sequence.
func (r *AssetRepository) nextID() (core.ID, error) {
	nextID, err := r.idSeq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if nextID == 0 {
		nextID, err = r.idSeq.Next()
		if err != nil {
			return 0, err
		}
	}
	return core.ID(nextID), nil
}

// Create stores a new record and assigns its ID.
func (r *AssetRepository) Create(ctx context.Context, record *core.AssetRecord) (*core.AssetRecord, error) {
	if err := core.ValidateAssetRecord(record); err != nil {
		return nil, err
	}

	// Drawn once so a replayed transaction keeps the same ID.
	id, err := r.nextID()
	if err != nil {
		return nil, err
	}

	stored := record.Clone()
	stored.ID = id
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	stored.Tags = core.NormalizeTags(stored.Tags)

	err = r.backend.Update(ctx, func(tx *badger.Txn) error {
		owner, err := readID(tx, makeHashKey(stored.ContentHash))
		if err != nil {
			return err
		}
		if owner != 0 {
			return &storage.DuplicateHashError{Hash: stored.ContentHash, Existing: owner}
		}
		return writeAsset(tx, stored)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Upsert writes a record, inserting it under its own ID if it is not yet stored.
// A record with ID 0 is created.
func (r *AssetRepository) Upsert(ctx context.Context, record *core.AssetRecord) (*core.AssetRecord, error) {
	if record == nil || record.ID == 0 {
		return r.Create(ctx, record)
	}
	if err := core.ValidateAssetRecord(record); err != nil {
		return nil, err
	}

	var stored *core.AssetRecord
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		stored = record.Clone()
		stored.Tags = core.NormalizeTags(stored.Tags)
		stored.UpdatedAt = time.Now().UTC()

		old, err := readAsset(tx, makeAssetKey(record.ID))
		if err != nil {
			return err
		}

		if old != nil {
			if err := core.ValidateTransition(old.ID, old.State, stored.State); err != nil {
				return err
			}
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = old.CreatedAt
			}
		} else if stored.CreatedAt.IsZero() {
			stored.CreatedAt = stored.UpdatedAt
		}

		if old == nil || old.ContentHash != stored.ContentHash {
			owner, err := readID(tx, makeHashKey(stored.ContentHash))
			if err != nil {
				return err
			}
			if owner != 0 && owner != stored.ID {
				return &storage.DuplicateHashError{Hash: stored.ContentHash, Existing: owner}
			}
		}

		if old != nil {
			if err := deleteSecondaryKeys(tx, old, old.ContentHash != stored.ContentHash, old.Path != stored.Path); err != nil {
				return err
			}
		}
		return writeAsset(tx, stored)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetByID retrieves a single record by ID.
func (r *AssetRepository) GetByID(ctx context.Context, id core.ID) (*core.AssetRecord, error) {
	var result *core.AssetRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readAsset(tx, makeAssetKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// GetByHash retrieves the record owning a content hash.
func (r *AssetRepository) GetByHash(ctx context.Context, hash string) (*core.AssetRecord, error) {
	return r.getBySecondary(makeHashKey(hash), func(rec *core.AssetRecord) bool {
		return rec.ContentHash == hash
	})
}

// GetByPath retrieves the record currently located at path.
func (r *AssetRepository) GetByPath(ctx context.Context, path string) (*core.AssetRecord, error) {
	return r.getBySecondary(makePathKey(path), func(rec *core.AssetRecord) bool {
		return rec.Path == path
	})
}

func (r *AssetRepository) getBySecondary(key []byte, matches func(*core.AssetRecord) bool) (*core.AssetRecord, error) {
	var result *core.AssetRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		id, err := readID(tx, key)
		if err != nil {
			return err
		}
		if id == 0 {
			return storage.ErrNotFound
		}
		result, err = readAsset(tx, makeAssetKey(id))
		if err != nil {
			return err
		}
		if result == nil || !matches(result) {
			result = nil
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// GetByIDs retrieves multiple records by their IDs.
func (r *AssetRepository) GetByIDs(ctx context.Context, ids ...core.ID) ([]*core.AssetRecord, error) {
	results := make([]*core.AssetRecord, 0, len(ids))
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			record, err := readAsset(tx, makeAssetKey(id))
			if err != nil {
				return err
			}
			if record != nil {
				results = append(results, record)
			}
		}
		return nil
	}, false)
	return results, err
}

// Scan lazily yields matching records in ID order.
// The iteration reads from one snapshot; writes made while scanning are not observed.
func (r *AssetRepository) Scan(ctx context.Context, predicate storage.Predicate) iter.Seq2[*core.AssetRecord, error] {
	return func(yield func(*core.AssetRecord, error) bool) {
		stopped := false
		err := r.backend.WithTx(func(tx *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(assetRecordPrefix)
			it := tx.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				var record *core.AssetRecord
				err := it.Item().Value(func(val []byte) error {
					var err error
					record, err = storage.UnmarshalAssetRecord(val)
					return err
				})
				if err != nil {
					return err
				}
				if predicate != nil && !predicate(record) {
					continue
				}
				if !yield(record, nil) {
					stopped = true
					return nil
				}
			}
			return nil
		}, false)
		if err != nil && !stopped {
			yield(nil, err)
		}
	}
}

// MarkMissing flags a record whose file disappeared.
func (r *AssetRepository) MarkMissing(ctx context.Context, id core.ID) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		record, err := readAsset(tx, makeAssetKey(id))
		if err != nil {
			return err
		}
		if record == nil {
			return storage.ErrNotFound
		}
		if record.Missing {
			return nil
		}
		now := time.Now().UTC()
		record.Missing = true
		record.MissingSince = now
		record.UpdatedAt = now
		return tx.Set(makeAssetKey(id), storage.MarshalAssetRecord(record))
	})
}

// Purge deletes every record flagged missing.
func (r *AssetRepository) Purge(ctx context.Context) ([]core.ID, error) {
	var missing []*core.AssetRecord
	for record, err := range r.Scan(ctx, func(rec *core.AssetRecord) bool { return rec.Missing }) {
		if err != nil {
			return nil, err
		}
		missing = append(missing, record)
	}

	purged := make([]core.ID, 0, len(missing))
	for batch := range slices.Chunk(missing, purgeBatchSize) {
		deleted, err := r.purgeBatch(ctx, batch)
		purged = append(purged, deleted...)
		if err != nil {
			return purged, err
		}
	}
	return purged, nil
}

// purgeBatch deletes the candidates that are still missing and returns the
// ids it actually deleted.
func (r *AssetRepository) purgeBatch(ctx context.Context, candidates []*core.AssetRecord) ([]core.ID, error) {
	var deleted []core.ID
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		// Reset on every attempt: a conflict replays the closure.
		deleted = deleted[:0]
		for _, candidate := range candidates {
			// Re-read: the asset may have reappeared since the scan.
			record, err := readAsset(tx, makeAssetKey(candidate.ID))
			if err != nil {
				return err
			}
			if record == nil || !record.Missing {
				continue
			}
			if err := deleteSecondaryKeys(tx, record, true, true); err != nil {
				return err
			}
			if err := tx.Delete(makeAssetKey(record.ID)); err != nil {
				return err
			}
			deleted = append(deleted, record.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Stats summarizes the store. LexicallyIndexed counts every visible record,
// VectorIndexed the visible records that also carry an embedding in the vector index.
func (r *AssetRepository) Stats(ctx context.Context) (core.Stats, error) {
	var stats core.Stats
	for record, err := range r.Scan(ctx, nil) {
		if err != nil {
			return core.Stats{}, err
		}
		stats.TotalAssets++
		switch {
		case record.Missing:
			stats.Missing++
		case record.State == core.StateFailed:
			stats.Failed++
		case record.State.Searchable():
			stats.LexicallyIndexed++
			if record.State == core.StateVectorIndexed {
				stats.VectorIndexed++
			}
		}
	}
	return stats, nil
}

// Count returns the number of records matching predicate.
func (r *AssetRepository) Count(ctx context.Context, predicate storage.Predicate) (int, error) {
	count := 0
	for _, err := range r.Scan(ctx, predicate) {
		if err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

// writeAsset stores the record and points its secondary keys at it.
func writeAsset(tx *badger.Txn, record *core.AssetRecord) error {
	if err := tx.Set(makeAssetKey(record.ID), storage.MarshalAssetRecord(record)); err != nil {
		return err
	}
	idValue := storage.MarshalID(record.ID)
	if err := tx.Set(makeHashKey(record.ContentHash), idValue); err != nil {
		return err
	}
	return tx.Set(makePathKey(record.Path), idValue)
}

// deleteSecondaryKeys removes the hash and/or path keys of record when they
// still point at it. A path key may already belong to another record that
// moved into the same location.
func deleteSecondaryKeys(tx *badger.Txn, record *core.AssetRecord, hash, path bool) error {
	var keys [][]byte
	if hash {
		keys = append(keys, makeHashKey(record.ContentHash))
	}
	if path {
		keys = append(keys, makePathKey(record.Path))
	}
	for _, key := range keys {
		owner, err := readID(tx, key)
		if err != nil {
			return err
		}
		if owner != record.ID {
			continue
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// readAsset reads and unmarshals an asset record.
// Returns nil, nil if the record doesn't exist.
func readAsset(tx *badger.Txn, key []byte) (*core.AssetRecord, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var record *core.AssetRecord
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		record, unmarshalErr = storage.UnmarshalAssetRecord(val)
		return unmarshalErr
	})
	return record, err
}

// readID reads an ID stored under a secondary key.
// Returns 0, nil if the key doesn't exist.
func readID(tx *badger.Txn, key []byte) (core.ID, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var id core.ID
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		id, unmarshalErr = storage.UnmarshalID(val)
		return unmarshalErr
	})
	return id, err
}
