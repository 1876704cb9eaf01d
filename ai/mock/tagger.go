package mock

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/poiesic/curator/ai"
)

// MockTagger is a test double for ai.Tagger.
type MockTagger struct {
	// TagFunc is called by Tag if set.
	// If nil, the words of the asset's file name become its tags.
	TagFunc func(ctx context.Context, asset ai.AssetInfo) (ai.TagResult, error)

	callCount atomic.Int64
}

// NewMockTagger creates a mock tagger with default behavior.
func NewMockTagger() *MockTagger {
	return &MockTagger{}
}

// Tag returns tags derived from the file name and a caption naming the kind.
func (m *MockTagger) Tag(ctx context.Context, asset ai.AssetInfo) (ai.TagResult, error) {
	m.callCount.Add(1)

	if m.TagFunc != nil {
		return m.TagFunc(ctx, asset)
	}
	if err := ctx.Err(); err != nil {
		return ai.TagResult{}, err
	}

	base := strings.TrimSuffix(filepath.Base(asset.Path), filepath.Ext(asset.Path))
	words := strings.FieldsFunc(strings.ToLower(base), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	result := ai.TagResult{Tags: words}
	if asset.Kind != "" {
		result.Caption = "a " + string(asset.Kind) + " asset"
	}
	return result, nil
}

// CallCount returns the number of times Tag was called.
func (m *MockTagger) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count and custom function.
func (m *MockTagger) Reset() {
	m.callCount.Store(0)
	m.TagFunc = nil
}

// MockTranscriber is a test double for ai.Transcriber.
type MockTranscriber struct {
	// TranscribeFunc is called by Transcribe if set.
	// If nil, Transcribe returns ai.ErrUnavailable.
	TranscribeFunc func(ctx context.Context, asset ai.AssetInfo) (string, error)

	callCount atomic.Int64
}

// NewMockTranscriber creates a mock transcriber that has nothing to transcribe.
func NewMockTranscriber() *MockTranscriber {
	return &MockTranscriber{}
}

func (m *MockTranscriber) Transcribe(ctx context.Context, asset ai.AssetInfo) (string, error) {
	m.callCount.Add(1)
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, asset)
	}
	return "", ai.ErrUnavailable
}

// CallCount returns the number of times Transcribe was called.
func (m *MockTranscriber) CallCount() int {
	return int(m.callCount.Load())
}
