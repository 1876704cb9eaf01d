package openai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/curator/ai"
	"github.com/poiesic/curator/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const srtSample = `1
00:00:01,000 --> 00:00:02,500
Hello <i>there</i>.

2
00:00:03,000 --> 00:00:04,000
General Kenobi.
`

const vttSample = "\ufeffWEBVTT\n\nNOTE written by hand\nignored line\n\n00:01.000 --> 00:02.000\nWind through trees\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestSidecarTranscriber(t *testing.T) {
	dir := t.TempDir()
	tr := NewSidecarTranscriber()
	ctx := context.Background()

	t.Run("srt next to video", func(t *testing.T) {
		writeFile(t, filepath.Join(dir, "clip.srt"), srtSample)
		text, err := tr.Transcribe(ctx, ai.AssetInfo{Path: filepath.Join(dir, "clip.mp4"), Kind: core.KindVideo})
		require.NoError(t, err)
		assert.Equal(t, "Hello there. General Kenobi.", text)
	})

	t.Run("vtt with full name", func(t *testing.T) {
		writeFile(t, filepath.Join(dir, "wind.wav.vtt"), vttSample)
		text, err := tr.Transcribe(ctx, ai.AssetInfo{Path: filepath.Join(dir, "wind.wav"), Kind: core.KindAudio})
		require.NoError(t, err)
		assert.Equal(t, "Wind through trees", text)
	})

	t.Run("plain text", func(t *testing.T) {
		writeFile(t, filepath.Join(dir, "talk.txt"), "  so   this is\nthe talk ")
		text, err := tr.Transcribe(ctx, ai.AssetInfo{Path: filepath.Join(dir, "talk.mp3"), Kind: core.KindAudio})
		require.NoError(t, err)
		assert.Equal(t, "so this is the talk", text)
	})

	t.Run("no sidecar", func(t *testing.T) {
		_, err := tr.Transcribe(ctx, ai.AssetInfo{Path: filepath.Join(dir, "silent.mp4"), Kind: core.KindVideo})
		assert.ErrorIs(t, err, ai.ErrUnavailable)
	})

	t.Run("not timed media", func(t *testing.T) {
		writeFile(t, filepath.Join(dir, "rock.txt"), "words")
		_, err := tr.Transcribe(ctx, ai.AssetInfo{Path: filepath.Join(dir, "rock.png"), Kind: core.KindImage})
		assert.ErrorIs(t, err, ai.ErrUnavailable)
	})
}

type fakeDocumentEmbedder struct {
	vectors [][]float32
	err     error
}

func (f *fakeDocumentEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return f.vectors, f.err
}

func TestEmbedder(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	e := &Embedder{embedder: &fakeDocumentEmbedder{vectors: [][]float32{{1, 2}}}, logger: logger}
	v, err := e.EmbedText(ctx, "rock")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, v)

	_, err = e.EmbedTexts(ctx, []string{"a", "b"})
	assert.True(t, core.IsTransient(err), "count mismatch should be retried")

	e = &Embedder{embedder: &fakeDocumentEmbedder{err: errors.New("timeout")}, logger: logger}
	_, err = e.EmbedText(ctx, "rock")
	assert.True(t, core.IsTransient(err))

	e = &Embedder{embedder: &fakeDocumentEmbedder{vectors: [][]float32{{}}}, logger: logger}
	_, err = e.EmbedText(ctx, "rock")
	assert.ErrorIs(t, err, ai.ErrUnavailable)
}

func TestNewEnricher(t *testing.T) {
	enricher, err := NewEnricher(ai.NewConfig())
	require.NoError(t, err)
	assert.NotNil(t, enricher.Embedder())
	assert.NotNil(t, enricher.Tagger())
	assert.NotNil(t, enricher.Transcriber())
	require.NoError(t, enricher.Close())

	enricher, err = NewEnricher(ai.NewConfig(ai.WithSidecarTranscripts(false)))
	require.NoError(t, err)
	assert.Nil(t, enricher.Transcriber())

	_, err = NewEnricher(ai.NewConfig(ai.WithMaxTags(0)))
	assert.Error(t, err)
}
