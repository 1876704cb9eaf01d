package ai

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited wraps every service of e in a shared token bucket so enrichment
// never exceeds limit calls per second. A limit of rate.Inf returns e unchanged.
func Limited(e Enricher, limit rate.Limit, burst int) Enricher {
	if limit == rate.Inf {
		return e
	}
	return &limitedEnricher{inner: e, limiter: rate.NewLimiter(limit, max(burst, 1))}
}

// LimitedFromConfig applies the rate settings from cfg.
func LimitedFromConfig(e Enricher, cfg *Config) Enricher {
	if cfg.RequestsPerSecond <= 0 {
		return e
	}
	return Limited(e, rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
}

type limitedEnricher struct {
	inner   Enricher
	limiter *rate.Limiter
}

func (l *limitedEnricher) Embedder() Embedder {
	if inner := l.inner.Embedder(); inner != nil {
		return &limitedEmbedder{inner: inner, limiter: l.limiter}
	}
	return nil
}

func (l *limitedEnricher) Tagger() Tagger {
	if inner := l.inner.Tagger(); inner != nil {
		return &limitedTagger{inner: inner, limiter: l.limiter}
	}
	return nil
}

func (l *limitedEnricher) Transcriber() Transcriber {
	if inner := l.inner.Transcriber(); inner != nil {
		return &limitedTranscriber{inner: inner, limiter: l.limiter}
	}
	return nil
}

func (l *limitedEnricher) Close() error { return l.inner.Close() }

type limitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

func (l *limitedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.inner.EmbedText(ctx, text)
}

func (l *limitedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.inner.EmbedTexts(ctx, texts)
}

type limitedTagger struct {
	inner   Tagger
	limiter *rate.Limiter
}

func (l *limitedTagger) Tag(ctx context.Context, asset AssetInfo) (TagResult, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return TagResult{}, err
	}
	return l.inner.Tag(ctx, asset)
}

type limitedTranscriber struct {
	inner   Transcriber
	limiter *rate.Limiter
}

func (l *limitedTranscriber) Transcribe(ctx context.Context, asset AssetInfo) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.inner.Transcribe(ctx, asset)
}
