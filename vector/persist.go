package vector

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
	"github.com/poiesic/curator/core"
)

const (
	snapshotVersion = 1

	// Block format: [UncompressedSize uint32][CompressedSize uint32][Data...]
	// CompressedSize 0 means the data is stored raw.
	blockHeaderSize = 8

	// lz4 blocks never expand more than 255 times.
	maxCompressionRatio = 255
)

var (
	errBlockTooSmall = errors.New("block too small")
	errKindMismatch  = errors.New("snapshot written by a different index kind")
)

// snapshot is the on-disk form of an index.
type snapshot struct {
	Version    int
	Kind       string
	Dim        int
	Ep         uint32
	MaxLevel   int
	Nodes      []*node
	Tombstones []byte
}

func (s *snapshot) validate() error {
	if s.Version != snapshotVersion {
		return fmt.Errorf("unknown snapshot version %d", s.Version)
	}
	if len(s.Nodes) > 0 && int(s.Ep) >= len(s.Nodes) {
		return fmt.Errorf("entry point %d out of range", s.Ep)
	}
	if s.MaxLevel < 0 {
		return fmt.Errorf("negative max level %d", s.MaxLevel)
	}
	for pos, n := range s.Nodes {
		if n == nil {
			return fmt.Errorf("node %d missing", pos)
		}
		if len(n.Vector) != s.Dim {
			return fmt.Errorf("node %d has %d dimensions, want %d", pos, len(n.Vector), s.Dim)
		}
		if s.Kind == "hnsw" && (n.Layer < 0 || len(n.Connections) != n.Layer+1) {
			return fmt.Errorf("node %d has %d layers, want %d", pos, len(n.Connections), n.Layer+1)
		}
	}
	if s.Kind != "hnsw" || len(s.Nodes) == 0 {
		return nil
	}
	// Searches descend from the entry point and follow links level by level,
	// so every node reached on a level must have that level.
	if ep := s.Nodes[s.Ep]; ep.Layer < s.MaxLevel {
		return fmt.Errorf("entry point %d has layer %d below max level %d", s.Ep, ep.Layer, s.MaxLevel)
	}
	for pos, n := range s.Nodes {
		for level, links := range n.Connections {
			for _, c := range links {
				if int(c) >= len(s.Nodes) {
					return fmt.Errorf("node %d links to %d out of range", pos, c)
				}
				if s.Nodes[c].Layer < level {
					return fmt.Errorf("node %d links to %d on level %d above its layer", pos, c, level)
				}
			}
		}
	}
	return nil
}

func compressBlock(data []byte) []byte {
	out := make([]byte, blockHeaderSize+lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, out[blockHeaderSize:], nil)
	if err != nil || n == 0 {
		// Incompressible: store raw
		out = append(out[:blockHeaderSize], data...)
		n = 0
	} else {
		out = out[:blockHeaderSize+n]
	}
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(n))
	return out
}

func decompressBlock(block []byte) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, errBlockTooSmall
	}
	uncompressedSize := binary.LittleEndian.Uint32(block[0:])
	compressedSize := binary.LittleEndian.Uint32(block[4:])
	payload := block[blockHeaderSize:]

	if compressedSize == 0 {
		if uint32(len(payload)) != uncompressedSize {
			return nil, errBlockTooSmall
		}
		return payload, nil
	}
	if uint32(len(payload)) < compressedSize {
		return nil, errBlockTooSmall
	}
	if uint64(uncompressedSize) > maxCompressionRatio*uint64(compressedSize) {
		return nil, fmt.Errorf("declared size %d cannot come from %d compressed bytes", uncompressedSize, compressedSize)
	}
	data := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(payload[:compressedSize], data)
	if err != nil {
		return nil, err
	}
	if uint32(n) != uncompressedSize {
		return nil, errors.New("decompressed size mismatch")
	}
	return data, nil
}

func saveSnapshot(path string, snap *snapshot) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("encode vector snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return writeFileAtomic(path, compressBlock(buf.Bytes()))
}

// loadSnapshot returns nil, nil when no snapshot exists at path.
func loadSnapshot(path string) (*snapshot, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := decompressBlock(raw)
	if err != nil {
		return nil, corrupt(err)
	}
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, corrupt(fmt.Errorf("decode snapshot: %w", err))
	}
	return &snap, nil
}

func removeSnapshot(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func corrupt(err error) error {
	return &core.IndexCorruptionError{Index: "vector", Err: err}
}

// writeFileAtomic writes data to a temporary file and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
