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

package mock

import "github.com/poiesic/curator/ai"

// MockEnricher is a test double for ai.Enricher.
// It aggregates mock embedder, tagger and transcriber instances.
type MockEnricher struct {
	embedder    *MockEmbedder
	tagger      *MockTagger
	transcriber *MockTranscriber
	closed      bool
}

// NewMockEnricher creates a new mock enricher with default mock services.
func NewMockEnricher() *MockEnricher {
	return &MockEnricher{
		embedder:    NewMockEmbedder(),
		tagger:      NewMockTagger(),
		transcriber: NewMockTranscriber(),
	}
}

// NewMockEnricherWithServices creates a mock enricher with custom mock services.
// A nil tagger or transcriber disables that service.
func NewMockEnricherWithServices(embedder *MockEmbedder, tagger *MockTagger, transcriber *MockTranscriber) *MockEnricher {
	return &MockEnricher{
		embedder:    embedder,
		tagger:      tagger,
		transcriber: transcriber,
	}
}

// Embedder returns the mock embedder.
func (p *MockEnricher) Embedder() ai.Embedder {
	if p.embedder == nil {
		return nil
	}
	return p.embedder
}

// Tagger returns the mock tagger, or nil.
func (p *MockEnricher) Tagger() ai.Tagger {
	if p.tagger == nil {
		return nil
	}
	return p.tagger
}

// Transcriber returns the mock transcriber, or nil.
func (p *MockEnricher) Transcriber() ai.Transcriber {
	if p.transcriber == nil {
		return nil
	}
	return p.transcriber
}

// Close records that the enricher was closed.
func (p *MockEnricher) Close() error {
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *MockEnricher) Closed() bool {
	return p.closed
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockEnricher) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockTagger returns the underlying mock tagger for test assertions.
func (p *MockEnricher) GetMockTagger() *MockTagger {
	return p.tagger
}

// GetMockTranscriber returns the underlying mock transcriber for test assertions.
func (p *MockEnricher) GetMockTranscriber() *MockTranscriber {
	return p.transcriber
}
