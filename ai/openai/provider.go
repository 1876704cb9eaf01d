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

package openai

import (
	"log/slog"

	"github.com/poiesic/curator/ai"
)

// Enricher implements ai.Enricher using OpenAI-compatible services.
// It manages embedder, tagger and transcriber instances.
type Enricher struct {
	config      *ai.Config
	embedder    *Embedder
	tagger      *Tagger
	transcriber *SidecarTranscriber
	logger      *slog.Logger
}

// NewEnricher creates a new enricher with OpenAI-compatible services.
// The config is validated and normalized before use.
//
// Returns ai.Enricher interface (not *Enricher) to enforce abstraction
// and prevent coupling to OpenAI-specific implementation details.
func NewEnricher(config *ai.Config) (ai.Enricher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(config)
	if err != nil {
		return nil, err
	}

	tagger, err := newTagger(config)
	if err != nil {
		return nil, err
	}

	e := &Enricher{
		config:   config,
		embedder: embedder,
		tagger:   tagger,
		logger:   slog.Default().With("component", "openai-enricher"),
	}
	if config.SidecarTranscripts {
		e.transcriber = NewSidecarTranscriber()
	}
	return e, nil
}

// Embedder returns the text embedding service.
func (p *Enricher) Embedder() ai.Embedder {
	return p.embedder
}

// Tagger returns the tagging service.
func (p *Enricher) Tagger() ai.Tagger {
	return p.tagger
}

// Transcriber returns the sidecar transcriber, or nil when disabled.
func (p *Enricher) Transcriber() ai.Transcriber {
	if p.transcriber == nil {
		return nil
	}
	return p.transcriber
}

// Close releases resources held by the enricher.
// Currently a no-op as the underlying clients don't require explicit cleanup.
func (p *Enricher) Close() error {
	p.logger.Debug("closing OpenAI enricher")
	return nil
}
