package openai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/poiesic/curator/ai"
	"github.com/poiesic/curator/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeChat replays canned responses in order.
type fakeChat struct {
	responses []string
	err       error
	calls     int
	lastInput string
}

func (f *fakeChat) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if part, ok := messages[len(messages)-1].Parts[0].(llms.TextContent); ok {
		f.lastInput = part.Text
	}
	if len(f.responses) == 0 {
		return &llms.ContentResponse{}, nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: resp}}}, nil
}

func newTestTagger(chat *fakeChat, maxTags int) *Tagger {
	return &Tagger{
		client:  chat,
		maxTags: maxTags,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

var rockAsset = ai.AssetInfo{
	Path:   "/lib/mossy_rock.png",
	Kind:   core.KindImage,
	Fields: map[string]string{core.FieldFilename: "mossy_rock.png"},
}

func TestTagger_Tag(t *testing.T) {
	chat := &fakeChat{responses: []string{"```json\n{\"tags\": [\"Rock\", \"moss!\", \"rock\", \"green-stone\"], \"caption\": \" A mossy rock. \"}\n```"}}
	tagger := newTestTagger(chat, 10)

	result, err := tagger.Tag(context.Background(), rockAsset)
	require.NoError(t, err)
	assert.Equal(t, []string{"green stone", "moss", "rock"}, result.Tags)
	assert.Equal(t, "A mossy rock.", result.Caption)
	assert.Contains(t, chat.lastInput, "filename: mossy_rock.png")
	assert.Equal(t, 1, chat.calls)
}

func TestTagger_CapsTagsInModelOrder(t *testing.T) {
	chat := &fakeChat{responses: []string{`{"tags": ["zebra", "yak", "ant"], "caption": ""}`}}
	tagger := newTestTagger(chat, 2)

	result, err := tagger.Tag(context.Background(), rockAsset)
	require.NoError(t, err)
	assert.Equal(t, []string{"yak", "zebra"}, result.Tags)
}

func TestTagger_RetriesMalformedJSON(t *testing.T) {
	chat := &fakeChat{responses: []string{"not json", `{"tags": ["rock"], caption": "stone"}`}}
	tagger := newTestTagger(chat, 10)

	result, err := tagger.Tag(context.Background(), rockAsset)
	require.NoError(t, err)
	assert.Equal(t, []string{"rock"}, result.Tags)
	assert.Equal(t, "stone", result.Caption)
	assert.Equal(t, 2, chat.calls)
}

func TestTagger_GivesUpAfterRetries(t *testing.T) {
	chat := &fakeChat{responses: []string{"still not json"}}
	tagger := newTestTagger(chat, 10)

	_, err := tagger.Tag(context.Background(), rockAsset)
	assert.ErrorIs(t, err, ai.ErrUnavailable)
	assert.Equal(t, maxParseAttempts, chat.calls)
}

func TestTagger_ServiceErrorIsTransient(t *testing.T) {
	chat := &fakeChat{err: errors.New("connection refused")}
	tagger := newTestTagger(chat, 10)

	_, err := tagger.Tag(context.Background(), rockAsset)
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))
}

func TestTagger_EmptyAsset(t *testing.T) {
	chat := &fakeChat{}
	tagger := newTestTagger(chat, 10)

	result, err := tagger.Tag(context.Background(), ai.AssetInfo{})
	require.NoError(t, err)
	assert.Empty(t, result.Tags)
	assert.Zero(t, chat.calls)
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"valid", `{"tags": ["a"], "caption": "b"}`, `{"tags": ["a"], "caption": "b"}`},
		{"missing quote after comma", `{"tags": [], caption": "b"}`, `{"tags": [], "caption": "b"}`},
		{"missing quote after brace", `{ tags": []}`, `{ "tags": []}`},
		{"value after comma untouched", `{"tags": ["a", b"]}`, `{"tags": ["a", b"]}`},
		{"empty", ``, ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, repairJSON(tt.in))
		})
	}
}

func TestCleanTag(t *testing.T) {
	assert.Equal(t, "sci fi", cleanTag("  Sci-Fi!! "))
	assert.Equal(t, "low poly", cleanTag("low_poly"))
	assert.Equal(t, "", cleanTag("..."))
	assert.Equal(t, "café", cleanTag("Café"))
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := buildSystemPrompt(7)
	assert.Contains(t, prompt, "at most 7 tags")
	assert.Contains(t, prompt, `"caption"`)
}
