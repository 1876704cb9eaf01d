// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reindex

import (
	"context"

	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/storage"
)

const (
	// DefaultBatchSize is the default number of records handed to each callback.
	DefaultBatchSize = 100
)

// RecordIterator walks the store in ID order, in batches.
type RecordIterator struct {
	repo      storage.AssetRepository
	predicate storage.Predicate
	batchSize int
}

// NewRecordIterator creates a new record iterator over records matching
// predicate (nil matches every record).
// batchSize: number of records per batch (defaults to DefaultBatchSize when <= 0)
func NewRecordIterator(repo storage.AssetRepository, predicate storage.Predicate, batchSize int) *RecordIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &RecordIterator{
		repo:      repo,
		predicate: predicate,
		batchSize: batchSize,
	}
}

// Count returns the number of records the iterator will visit.
func (it *RecordIterator) Count(ctx context.Context) (int, error) {
	return it.repo.Count(ctx, it.predicate)
}

// ForEach calls fn for each batch of matching records.
// Iteration stops on the first error from fn or from the store.
// Context cancellation is checked between batches.
func (it *RecordIterator) ForEach(ctx context.Context, fn func([]*core.AssetRecord) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := make([]*core.AssetRecord, 0, it.batchSize)
	for record, err := range it.repo.Scan(ctx, it.predicate) {
		if err != nil {
			return err
		}
		batch = append(batch, record)
		if len(batch) < it.batchSize {
			continue
		}
		if err := fn(batch); err != nil {
			return err
		}
		batch = make([]*core.AssetRecord, 0, it.batchSize)

		// Check context after each batch
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}
