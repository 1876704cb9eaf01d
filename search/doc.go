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

// Package search answers free-text queries over the asset library.
//
// The Searcher runs two legs concurrently:
//   - a lexical leg over the text index
//   - a semantic leg over the vector index, when an embedder is configured
//
// Each leg's scores are min-max normalized and fused with tunable weights.
// Results are ordered by fused score, then by the most recently indexed
// asset, then by ascending id, so the same library and query always produce
// the same ranking.
package search
