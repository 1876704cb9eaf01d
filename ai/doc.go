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

// Package ai provides abstractions for the AI services used to enrich assets.
//
// Enrichment is optional. An asset that cannot be enriched stays searchable
// through the text index; the AI services only add tags, a caption, a
// transcript and an embedding on top of what the parser extracted.
//
// # Interfaces
//
//   - Embedder: Generates vector embeddings from text
//   - Tagger: Produces tags and a caption for an asset
//   - Transcriber: Produces a transcript for audio and video
//   - Enricher: Aggregates the services for initialization and shutdown
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// Public constructors (openai.NewEnricher, openai.NewEmbedder, ...) return
// interface types. Mock constructors return concrete types so tests can inject
// behavior and inspect call counts.
//
// # Rate limiting
//
// Limited wraps an Enricher so every call first takes a token from a shared
// golang.org/x/time/rate limiter:
//
//	cfg := ai.NewConfig(ai.WithRateLimit(4, 2))
//	enricher, err := openai.NewEnricher(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	enricher = ai.LimitedFromConfig(enricher, cfg)
//	defer enricher.Close()
package ai
