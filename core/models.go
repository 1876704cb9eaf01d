package core

import (
	"encoding/binary"
	"encoding/hex"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for assets.
// Asset IDs come from a database sequence and are never 0.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// It is used for derived keys (walk checkpoints, cache keys), never for asset identity.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// HashFromDigest renders a raw digest in the canonical content hash form.
func HashFromDigest(digest []byte) string {
	return hex.EncodeToString(digest)
}

// Well-known lexical field names. Parsers and enrichers may add others.
const (
	FieldFilename      = "filename"
	FieldTitle         = "title"
	FieldExtractedText = "extracted_text"
	FieldCaption       = "caption"
	FieldTranscription = "transcription"
	FieldTags          = "tags"
	FieldKind          = "kind"
)

// AssetRecord is the durable description of one asset.
// The Metadata Store owns it; indices reference it by ID only.
type AssetRecord struct {
	ID            ID
	ContentHash   string // hex BLAKE2b-256 of the file bytes
	Path          string // current known location; a move updates Path, not identity
	Kind          Kind
	MimeType      string
	SizeBytes     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	IndexedAt     time.Time // zero until the asset is lexically indexed
	LexicalFields map[string]string
	Embedding     []float32 // nil until enrichment completes
	Tags          []string  // set semantics, kept sorted
	State         PipelineState
	LastError     string
	Attempts      int // number of times the pipeline started for this content
	Missing       bool
	MissingSince  time.Time
}

// Clone returns a deep copy of the record.
func (r *AssetRecord) Clone() *AssetRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.LexicalFields = maps.Clone(r.LexicalFields)
	c.Embedding = slices.Clone(r.Embedding)
	c.Tags = slices.Clone(r.Tags)
	return &c
}

// Visible reports whether the record may appear in search results.
func (r *AssetRecord) Visible() bool {
	return r != nil && !r.Missing && r.State.Searchable()
}

// SetTags replaces the tag set. Tags are lowercased, trimmed, deduplicated and sorted.
func (r *AssetRecord) SetTags(tags ...string) {
	r.Tags = NormalizeTags(tags)
}

// AddTags merges tags into the existing set.
func (r *AssetRecord) AddTags(tags ...string) {
	r.Tags = NormalizeTags(append(slices.Clone(r.Tags), tags...))
}

// HasTag reports whether the record carries the given tag.
func (r *AssetRecord) HasTag(tag string) bool {
	_, found := slices.BinarySearch(r.Tags, strings.ToLower(strings.TrimSpace(tag)))
	return found
}

// NormalizeTags returns the canonical form of a tag set.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// AssetDraft is what a parser extracts from a file.
type AssetDraft struct {
	Title         string
	ExtractedText string
	Fields        map[string]string // additional lexical fields
	Tags          []string
}

// Enrichment is what the AI collaborator produces for an asset.
type Enrichment struct {
	Tags       []string
	Caption    string
	Transcript string
	Embedding  []float32
}

// ProgressEvent reports one pipeline state transition.
type ProgressEvent struct {
	BatchID string
	AssetID ID // 0 while the content hash is still unknown
	Path    string
	From    PipelineState
	To      PipelineState
	Err     error
	At      time.Time
}

// Stats summarizes the contents of a library.
type Stats struct {
	TotalAssets      int
	LexicallyIndexed int
	VectorIndexed    int
	Failed           int
	Missing          int
}

// Checkpoint records how far a restartable operation got.
type Checkpoint struct {
	Name      string
	Position  string
	UpdatedAt time.Time
}
