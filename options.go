package curator

import (
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/curator/ai"
	"github.com/poiesic/curator/orchestrator"
	"github.com/poiesic/curator/parser"
	"github.com/poiesic/curator/vector"
)

// Option configures a Library.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	enricher       ai.Enricher
	parser         parser.Parser
	poolSize       int
	enrichPoolSize int
	queueDepth     int
	policy         *orchestrator.Policy
	textWeight     float64
	vectorWeight   float64
	cacheSize      int
	stagingLimit   *int
	vectorOpts     []vector.Option
	progress       io.Writer
	debounce       time.Duration
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEnricher enables tagging, transcription and embedding. Without one,
// assets stop at LexicallyIndexed and search is lexical only.
// The Library closes the enricher when it is closed.
func WithEnricher(e ai.Enricher) Option {
	return func(o *options) {
		o.enricher = e
	}
}

// WithParser replaces the built-in parser.
func WithParser(p parser.Parser) Option {
	return func(o *options) {
		o.parser = p
	}
}

// WithPoolSize sets the number of ingest workers.
func WithPoolSize(n int) Option {
	return func(o *options) {
		o.poolSize = n
	}
}

// WithEnrichmentPoolSize sets the number of enrichment workers.
func WithEnrichmentPoolSize(n int) Option {
	return func(o *options) {
		o.enrichPoolSize = n
	}
}

// WithQueueDepth bounds the queue between the ingest and enrichment stages.
func WithQueueDepth(n int) Option {
	return func(o *options) {
		o.queueDepth = n
	}
}

// WithRetryPolicy sets how transient failures are retried.
func WithRetryPolicy(policy orchestrator.Policy) Option {
	return func(o *options) {
		o.policy = &policy
	}
}

// WithFusionWeights sets the weights of the text and vector scores.
func WithFusionWeights(text, vector float64) Option {
	return func(o *options) {
		o.textWeight = text
		o.vectorWeight = vector
	}
}

// WithQueryCacheSize sets how many query embeddings are cached.
func WithQueryCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// WithStagingLimit sets how many staged text documents trigger a merge.
// Zero disables automatic merges.
func WithStagingLimit(n int) Option {
	return func(o *options) {
		o.stagingLimit = &n
	}
}

// WithVectorOptions tunes the vector graph.
func WithVectorOptions(opts ...vector.Option) Option {
	return func(o *options) {
		o.vectorOpts = append(o.vectorOpts, opts...)
	}
}

// WithProgressOutput makes rebuilds and reembeds write progress lines to w.
func WithProgressOutput(w io.Writer) Option {
	return func(o *options) {
		o.progress = w
	}
}

// WithWatchDebounce sets the quiet period used by Watch.
func WithWatchDebounce(d time.Duration) Option {
	return func(o *options) {
		o.debounce = d
	}
}
