package parser

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/poiesic/curator/core"
	"gopkg.in/yaml.v3"
)

func extractPlain(draft *core.AssetDraft, data []byte, _ bool) error {
	text, err := decodeText(data)
	if err != nil {
		return err
	}
	draft.ExtractedText = collapse(text)
	return nil
}

// frontMatter is the YAML header some Markdown files carry between --- lines.
type frontMatter struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
	Keywords    []string `yaml:"keywords"`
}

func extractMarkdown(draft *core.AssetDraft, data []byte, _ bool) error {
	text, err := decodeText(data)
	if err != nil {
		return err
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	titled := false
	if rest, ok := strings.CutPrefix(text, "---\n"); ok {
		if header, body, found := strings.Cut(rest, "\n---"); found {
			var fm frontMatter
			if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
				return fmt.Errorf("front matter: %w", err)
			}
			if fm.Title != "" {
				draft.Title = fm.Title
				titled = true
			}
			if fm.Description != "" {
				draft.Fields["description"] = fm.Description
			}
			draft.Tags = append(draft.Tags, fm.Tags...)
			draft.Tags = append(draft.Tags, fm.Keywords...)
			text = strings.TrimPrefix(body, "\n")
		}
	}

	var lines []string
	headingFound := false
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") {
			continue
		}
		if heading, ok := strings.CutPrefix(line, "# "); ok && !headingFound {
			headingFound = true
			if !titled {
				draft.Title = strings.TrimSpace(heading)
			}
		}
		line = strings.TrimLeft(line, "#>*-+ ")
		line = strings.NewReplacer("**", "", "__", "", "`", "").Replace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	draft.ExtractedText = collapse(strings.Join(lines, " "))
	return nil
}

func extractJSON(draft *core.AssetDraft, data []byte, truncated bool) error {
	text, err := decodeText(data)
	if err != nil {
		return err
	}
	if truncated {
		// A cut document cannot be decoded; index the raw text instead.
		draft.ExtractedText = collapse(text)
		return nil
	}

	var doc any
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	var values []string
	collectStrings(doc, &values)
	draft.ExtractedText = collapse(strings.Join(values, " "))
	return nil
}

// collectStrings appends every string value of a decoded JSON document in a stable order.
func collectStrings(v any, out *[]string) {
	switch t := v.(type) {
	case string:
		*out = append(*out, t)
	case []any:
		for _, item := range t {
			collectStrings(item, out)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			collectStrings(t[k], out)
		}
	}
}

func extractCSV(draft *core.AssetDraft, data []byte, truncated bool) error {
	text, err := decodeText(data)
	if err != nil {
		return err
	}
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var cells []string
	rows := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if truncated {
				break
			}
			return fmt.Errorf("decode csv: %w", err)
		}
		if rows == 0 {
			draft.Fields["columns"] = strings.Join(record, " ")
		}
		rows++
		cells = append(cells, record...)
	}
	draft.Fields["rows"] = strconv.Itoa(rows)
	draft.ExtractedText = collapse(strings.Join(cells, " "))
	return nil
}

// extractOBJ reads a Wavefront OBJ file: object, group and material names and
// comments become text; vertex and face counts become fields.
func extractOBJ(draft *core.AssetDraft, data []byte, _ bool) error {
	text, err := decodeText(data)
	if err != nil {
		return err
	}
	var names, materials, comments []string
	vertices, faces := 0, 0

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		keyword, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)
		switch keyword {
		case "v":
			vertices++
		case "f":
			faces++
		case "o", "g":
			if rest != "" && !slices.Contains(names, rest) {
				names = append(names, rest)
			}
		case "usemtl":
			if rest != "" && !slices.Contains(materials, rest) {
				materials = append(materials, rest)
			}
		case "mtllib":
			draft.Fields["material_library"] = rest
		default:
			if comment, ok := strings.CutPrefix(line, "#"); ok {
				if comment = strings.TrimSpace(comment); comment != "" {
					comments = append(comments, comment)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	draft.Fields["vertices"] = strconv.Itoa(vertices)
	draft.Fields["faces"] = strconv.Itoa(faces)
	if len(materials) > 0 {
		draft.Fields["materials"] = strings.Join(materials, " ")
	}
	draft.ExtractedText = collapse(strings.Join(slices.Concat(names, materials, comments), " "))
	return nil
}

// gltfDocument is the part of a glTF 2.0 document worth indexing.
type gltfDocument struct {
	Asset struct {
		Generator string `json:"generator"`
		Copyright string `json:"copyright"`
	} `json:"asset"`
	Scenes     []gltfNamed `json:"scenes"`
	Nodes      []gltfNamed `json:"nodes"`
	Meshes     []gltfNamed `json:"meshes"`
	Materials  []gltfNamed `json:"materials"`
	Animations []gltfNamed `json:"animations"`
}

type gltfNamed struct {
	Name string `json:"name"`
}

func extractGLTF(draft *core.AssetDraft, data []byte, truncated bool) error {
	if truncated {
		return errors.New("gltf document larger than the text limit")
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	var doc gltfDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode gltf: %w", err)
	}
	applyGLTF(draft, &doc)
	return nil
}

const (
	glbMagic     = 0x46546C67 // "glTF"
	glbChunkJSON = 0x4E4F534A // "JSON"
	glbHeaderLen = 12
)

// extractGLB reads the JSON chunk of a binary glTF container.
func extractGLB(draft *core.AssetDraft, data []byte, _ bool) error {
	if len(data) < glbHeaderLen+8 || binary.LittleEndian.Uint32(data) != glbMagic {
		return errors.New("not a glb container")
	}
	chunkLen := binary.LittleEndian.Uint32(data[glbHeaderLen:])
	chunkType := binary.LittleEndian.Uint32(data[glbHeaderLen+4:])
	start := glbHeaderLen + 8
	if chunkType != glbChunkJSON || uint64(start)+uint64(chunkLen) > uint64(len(data)) {
		// JSON chunk missing or beyond the read limit: index by name only.
		return nil
	}
	var doc gltfDocument
	if err := json.Unmarshal(data[start:start+int(chunkLen)], &doc); err != nil {
		return fmt.Errorf("decode glb json chunk: %w", err)
	}
	applyGLTF(draft, &doc)
	return nil
}

func applyGLTF(draft *core.AssetDraft, doc *gltfDocument) {
	var names []string
	for _, group := range [][]gltfNamed{doc.Scenes, doc.Nodes, doc.Meshes, doc.Materials, doc.Animations} {
		for _, n := range group {
			if n.Name != "" && !slices.Contains(names, n.Name) {
				names = append(names, n.Name)
			}
		}
	}
	draft.Fields["meshes"] = strconv.Itoa(len(doc.Meshes))
	draft.Fields["animations"] = strconv.Itoa(len(doc.Animations))
	if doc.Asset.Generator != "" {
		draft.Fields["generator"] = doc.Asset.Generator
	}
	if doc.Asset.Copyright != "" {
		draft.Fields["copyright"] = doc.Asset.Copyright
	}
	draft.ExtractedText = collapse(strings.Join(names, " "))
}

// extractImage records the pixel dimensions and an orientation tag of PNG, JPEG and GIF images.
func extractImage(draft *core.AssetDraft, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return err
	}
	draft.Fields["dimensions"] = fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
	draft.Fields["format"] = format
	switch {
	case cfg.Width > cfg.Height:
		draft.Tags = append(draft.Tags, "landscape")
	case cfg.Width < cfg.Height:
		draft.Tags = append(draft.Tags, "portrait")
	default:
		draft.Tags = append(draft.Tags, "square")
	}
	return nil
}
