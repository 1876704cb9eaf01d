package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Tagger produces descriptive tags and a one-line caption for an asset.
// Implementations must be thread-safe for concurrent use.
type Tagger interface {
	// Tag analyzes the asset description. Returns an empty result when nothing
	// useful can be said about the asset.
	Tag(ctx context.Context, asset AssetInfo) (TagResult, error)
}

// Transcriber produces a text transcript for timed media.
type Transcriber interface {
	// Transcribe returns the transcript of the asset, or ErrUnavailable when
	// no transcript can be produced for it.
	Transcribe(ctx context.Context, asset AssetInfo) (string, error)
}

// Enricher aggregates AI services for convenient initialization and lifecycle management.
// Tagger and Transcriber may return nil when the service is not configured;
// the pipeline then skips that part of enrichment.
type Enricher interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Tagger returns the tagging service, or nil.
	Tagger() Tagger

	// Transcriber returns the transcription service, or nil.
	Transcriber() Transcriber

	// Close releases resources held by the enricher and its services.
	// After Close is called, the enricher and its services should not be used.
	Close() error
}
