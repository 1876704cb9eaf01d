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

// Package reindex rebuilds the text and vector indices from the metadata store.
//
// The store is the source of truth; both indices are projections of it.
// Rebuilder discards the projections and replays every visible record into
// them. Reembedder fills in embeddings for assets that were indexed while
// enrichment was unavailable, or re-embeds the whole library after a model
// change.
package reindex
