// Package mock provides test double implementations of AI service interfaces.
//
// The mocks follow one pattern: an optional function field overrides the
// default behavior, and CallCount reports how often the service was used.
//
//	embedder := mock.NewMockEmbedder()
//	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
//	    return nil, ai.ErrUnavailable
//	}
//	enricher := mock.NewMockEnricherWithServices(embedder, mock.NewMockTagger(), nil)
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors derived from an FNV hash of the text
//   - MockTagger: Tags an asset with the words of its filename
//   - MockTranscriber: Returns ErrUnavailable
//   - MockEnricher: Aggregates the three
package mock
