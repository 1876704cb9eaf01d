package openai

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/curator/ai"
	"github.com/poiesic/curator/core"
)

// maxSidecarSize bounds how much of a transcript file is read.
const maxSidecarSize = 1 << 20

var sidecarExtensions = []string{".srt", ".vtt", ".txt"}

var markupTag = regexp.MustCompile(`<[^>]+>`)

// SidecarTranscriber implements ai.Transcriber by reading subtitle or
// transcript files stored beside audio and video assets: clip.srt, clip.vtt
// or clip.txt for clip.mp4, also clip.mp4.srt and so on.
type SidecarTranscriber struct {
	logger *slog.Logger
}

// NewSidecarTranscriber creates a transcriber reading sidecar files.
func NewSidecarTranscriber() *SidecarTranscriber {
	return &SidecarTranscriber{logger: slog.Default().With("component", "sidecar-transcriber")}
}

// Transcribe returns the text of the first sidecar found, or ai.ErrUnavailable.
func (s *SidecarTranscriber) Transcribe(ctx context.Context, asset ai.AssetInfo) (string, error) {
	if !asset.Kind.Timed() || asset.Path == "" {
		return "", ai.ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	base := strings.TrimSuffix(asset.Path, filepath.Ext(asset.Path))
	for _, stem := range []string{base, asset.Path} {
		for _, ext := range sidecarExtensions {
			path := stem + ext
			text, err := readSidecar(path)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return "", &core.IoError{Path: path, Op: "read transcript", Err: err}
			}
			if text == "" {
				continue
			}
			s.logger.Debug("read sidecar transcript", "asset", asset.Path, "sidecar", path, "length", len(text))
			return text, nil
		}
	}
	return "", ai.ErrUnavailable
}

func readSidecar(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(f, maxSidecarSize)); err != nil {
		return "", err
	}
	data := buf.Bytes()
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, nil)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".srt", ".vtt":
		return subtitleText(data), nil
	}
	return strings.Join(strings.Fields(string(data)), " "), nil
}

// subtitleText keeps only the spoken lines of an SRT or WebVTT file.
func subtitleText(data []byte) string {
	var lines []string
	inNote := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxSidecarSize)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		switch {
		case line == "":
			inNote = false
		case inNote:
		case strings.HasPrefix(line, "WEBVTT"):
		case strings.HasPrefix(line, "NOTE"), strings.HasPrefix(line, "STYLE"), strings.HasPrefix(line, "REGION"):
			inNote = true
		case strings.Contains(line, "-->"):
		case isCueNumber(line):
		default:
			if text := strings.TrimSpace(markupTag.ReplaceAllString(line, "")); text != "" {
				lines = append(lines, text)
			}
		}
	}
	return strings.Join(lines, " ")
}

func isCueNumber(line string) bool {
	for _, r := range line {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
