package ai

import (
	"errors"
	"slices"
	"strings"

	"github.com/poiesic/curator/core"
)

// ErrUnavailable is returned by a service that cannot process an asset right
// now or at all. The pipeline treats it as "no enrichment", not as a failure.
var ErrUnavailable = errors.New("ai service unavailable")

// describedFields lists the lexical fields used to describe an asset, in order.
var describedFields = []string{
	core.FieldTitle,
	core.FieldFilename,
	core.FieldKind,
	core.FieldTags,
	core.FieldCaption,
	core.FieldTranscription,
	core.FieldExtractedText,
}

// maxDescriptionLen bounds the text sent to embedding and chat models.
const maxDescriptionLen = 8000

// AssetInfo is what AI services see of an asset.
type AssetInfo struct {
	ID       core.ID
	Path     string
	Kind     core.Kind
	MimeType string
	Fields   map[string]string
	Tags     []string
}

// InfoFromRecord builds the AI view of a record.
func InfoFromRecord(r *core.AssetRecord) AssetInfo {
	return AssetInfo{
		ID:       r.ID,
		Path:     r.Path,
		Kind:     r.Kind,
		MimeType: r.MimeType,
		Fields:   r.LexicalFields,
		Tags:     r.Tags,
	}
}

// Describe renders the asset as plain text for embedding and prompting.
// Well-known fields come first, any others follow in name order.
func (a AssetInfo) Describe() string {
	var b strings.Builder
	write := func(name, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
	}

	for _, name := range describedFields {
		switch name {
		case core.FieldKind:
			if v := a.Fields[name]; v != "" {
				write(name, v)
			} else if a.Kind != "" {
				write(name, string(a.Kind))
			}
		case core.FieldTags:
			if v := a.Fields[name]; v != "" {
				write(name, v)
			} else {
				write(name, strings.Join(a.Tags, " "))
			}
		default:
			write(name, a.Fields[name])
		}
	}

	var extra []string
	for name := range a.Fields {
		if !slices.Contains(describedFields, name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	for _, name := range extra {
		write(name, a.Fields[name])
	}

	s := b.String()
	if len(s) > maxDescriptionLen {
		s = strings.ToValidUTF8(s[:maxDescriptionLen], "")
	}
	return s
}

// TagResult is the output of a Tagger.
type TagResult struct {
	Tags    []string
	Caption string
}
