package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/fingerprint"
)

const defaultMaxTextBytes = 1 << 20

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// ErrInvalidUTF8 is wrapped in a *core.ParseError for text files that are not valid UTF-8.
var ErrInvalidUTF8 = errors.New("text is not valid UTF-8")

// extractor reads format specific content into draft. truncated is true when
// data is only the first part of the file.
type extractor func(draft *core.AssetDraft, data []byte, truncated bool) error

var extractors = map[string]extractor{
	"txt":      extractPlain,
	"text":     extractPlain,
	"md":       extractMarkdown,
	"markdown": extractMarkdown,
	"json":     extractJSON,
	"csv":      extractCSV,
	"obj":      extractOBJ,
	"mtl":      extractPlain,
	"gltf":     extractGLTF,
	"glb":      extractGLB,
}

// Basic is the built-in parser.
type Basic struct {
	maxTextBytes int64
	logger       *slog.Logger
}

var _ Parser = (*Basic)(nil)

// Option configures a Basic parser.
type Option func(*Basic) error

// WithMaxTextBytes caps how much of a file is read for text extraction.
func WithMaxTextBytes(n int64) Option {
	return func(b *Basic) error {
		if n <= 0 {
			return fmt.Errorf("max text bytes must be positive, got %d", n)
		}
		b.maxTextBytes = n
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Basic) error {
		b.logger = logger
		return nil
	}
}

// NewBasic creates the built-in parser.
func NewBasic(opts ...Option) (*Basic, error) {
	b := &Basic{
		maxTextBytes: defaultMaxTextBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	b.logger = b.logger.With("component", "parser")
	return b, nil
}

// Parse builds a draft for the file at path.
func (b *Basic) Parse(ctx context.Context, path string, fp fingerprint.Result) (*core.AssetDraft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	draft := &core.AssetDraft{
		Title:  TitleFromPath(path),
		Fields: make(map[string]string),
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	extract, ok := extractors[ext]
	if !ok && strings.HasPrefix(fp.MimeType, "text/") {
		extract, ok = extractPlain, true
	}
	if ok {
		data, truncated, err := b.read(path)
		if err != nil {
			return nil, err
		}
		if err := extract(draft, data, truncated); err != nil {
			return nil, &core.ParseError{Path: path, Err: err}
		}
		if truncated {
			b.logger.Debug("text truncated", "path", path, "limit", b.maxTextBytes)
		}
		return draft, nil
	}

	if fp.Kind == core.KindImage {
		if err := extractImage(draft, path); err != nil {
			// Headers are optional metadata; a file we cannot decode is still indexed by name.
			b.logger.Debug("image header unreadable", "path", path, "err", err)
		}
	}
	return draft, nil
}

func (b *Basic) read(path string) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, &core.IoError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, b.maxTextBytes+1))
	if err != nil {
		return nil, false, &core.IoError{Path: path, Op: "read", Err: err}
	}
	truncated := int64(len(data)) > b.maxTextBytes
	if truncated {
		data = trimPartialRune(data[:b.maxTextBytes])
	}
	return data, truncated, nil
}

// trimPartialRune drops an incomplete UTF-8 sequence cut off at the end of b.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			return b
		}
	}
	return b
}

func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}
	return string(data), nil
}

// TitleFromPath derives a human title from a file name: the extension is
// dropped, separators become spaces and camelCase words are split.
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	var prev rune
	for _, r := range base {
		switch {
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			r = ' '
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			b.WriteRune(' ')
		}
		b.WriteRune(r)
		prev = r
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// collapse joins the words of s with single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
