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

// Package storage provides the storage abstraction layer for curator.
//
// This package defines the Metadata Store interfaces. The store is the source
// of truth for every asset; the text and vector indices are projections that
// can always be rebuilt by scanning it.
//
// # Constructor Return Type Pattern
//
// Convenience constructors in backend packages return interfaces:
//
//	assets, checkpoints, backend, err := badger.NewMemoryRepositories()  // storage.AssetRepository, storage.CheckpointRepository
//
// Per-repository constructors (NewAssetRepository, NewCheckpointRepository)
// return concrete types so callers wiring a backend can reach its lifecycle.
//
// # Architecture
//
//   - AssetRepository: records keyed by ID with secondary hash and path keys
//   - CheckpointRepository: resume positions for directory walks
//   - Repository: transaction support and lifecycle shared by both
//
// # Write Rules
//
// Upsert is atomic per record and rejects writes that would move a record's
// pipeline state backwards with *core.StaleWriteError. The ContentHash to ID
// mapping is a bijection: Create refuses a hash that is already owned.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/store", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	assets, err := badger.NewAssetRepository(backend)
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
