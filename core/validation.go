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

package core

import (
	"fmt"
	"time"
)

// ValidateAssetRecord validates an AssetRecord according to domain rules.
//
// Validation rules:
//   - ContentHash must not be empty
//   - Path must not be empty
//   - State must be a defined PipelineState
//   - Kind must be a known Kind
//   - SizeBytes must not be negative
//   - CreatedAt, when set, must not be in the future
//
// NOT validated (populated by pipeline stages):
//   - Embedding (empty until enrichment completes)
//   - LexicalFields (empty until parsed)
//   - ID (0 until the store assigns one)
func ValidateAssetRecord(record *AssetRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidAssetRecord)
	}

	if record.ContentHash == "" {
		return fmt.Errorf("%w: %w", ErrInvalidAssetRecord, ErrEmptyContentHash)
	}

	if record.Path == "" {
		return fmt.Errorf("%w: %w", ErrInvalidAssetRecord, ErrEmptyPath)
	}

	if !record.State.Valid() {
		return fmt.Errorf("%w: %w: value %d", ErrInvalidAssetRecord, ErrInvalidState, record.State)
	}

	if !record.Kind.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidAssetRecord, ErrInvalidKind, record.Kind)
	}

	if record.SizeBytes < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidAssetRecord, ErrNegativeSize)
	}

	if !record.CreatedAt.IsZero() && !IsValidTimestamp(record.CreatedAt) {
		return fmt.Errorf("%w: %w", ErrInvalidAssetRecord, ErrInvalidTimestamp)
	}

	return nil
}

// ValidateTransition returns a StaleWriteError when to is not a successor of from.
func ValidateTransition(id ID, from, to PipelineState) error {
	if !CanTransition(from, to) {
		return &StaleWriteError{ID: id, Current: from, Attempt: to}
	}
	return nil
}

// IsValidTimestamp checks if a timestamp is valid (not in the future).
func IsValidTimestamp(ts time.Time) bool {
	return !ts.After(time.Now())
}
