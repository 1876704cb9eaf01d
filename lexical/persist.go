package lexical

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/klauspost/compress/zstd"
	"github.com/poiesic/curator/core"
)

const (
	manifestName    = "MANIFEST"
	manifestVersion = 1

	// Block format: [UncompressedSize uint32][CompressedSize uint32][Data...]
	blockHeaderSize = 8

	// maxBlockSize bounds a decoded segment. The header size is only a hint
	// for preallocation and is never allocated beyond preallocRatio times
	// the compressed payload.
	maxBlockSize  = 1 << 30
	preallocRatio = 8
)

var (
	errBlockTooSmall = errors.New("block too small")
	errBlockTooLarge = errors.New("block exceeds maximum segment size")
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBlockSize))
	return dec
}

func compressBlock(data []byte) []byte {
	enc := getZstdEncoder()
	defer zstdEncoderPool.Put(enc)

	out := make([]byte, blockHeaderSize, blockHeaderSize+len(data)/2)
	out = enc.EncodeAll(data, out)
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(out)-blockHeaderSize))
	return out
}

func decompressBlock(block []byte) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, errBlockTooSmall
	}
	uncompressedSize := binary.LittleEndian.Uint32(block[0:])
	compressedSize := binary.LittleEndian.Uint32(block[4:])
	if uint32(len(block)-blockHeaderSize) < compressedSize {
		return nil, errBlockTooSmall
	}
	if uncompressedSize > maxBlockSize {
		return nil, errBlockTooLarge
	}

	dec := getZstdDecoder()
	defer zstdDecoderPool.Put(dec)

	prealloc := min(uint64(uncompressedSize), preallocRatio*uint64(compressedSize))
	data, err := dec.DecodeAll(block[blockHeaderSize:blockHeaderSize+compressedSize], make([]byte, 0, prealloc))
	if err != nil {
		return nil, err
	}
	if uint32(len(data)) != uncompressedSize {
		return nil, errors.New("decompressed size mismatch")
	}
	return data, nil
}

// segmentData is the on-disk form of a sealed segment.
type segmentData struct {
	Gen      uint64
	IDs      []byte
	Postings map[string][]posting
}

type manifestSegment struct {
	Gen        uint64
	Tombstones []byte
}

type manifest struct {
	Version  int
	NextGen  uint64
	Segments []manifestSegment
}

func segmentPath(dir string, gen uint64) string {
	return filepath.Join(dir, fmt.Sprintf("seg-%016x.zst", gen))
}

func writeSegment(dir string, seg *segment) error {
	ids, err := seg.ids.ToBytes()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(segmentData{Gen: seg.gen, IDs: ids, Postings: seg.postings}); err != nil {
		return err
	}
	return writeFileAtomic(segmentPath(dir, seg.gen), compressBlock(buf.Bytes()))
}

func readSegment(dir string, gen uint64) (*segment, error) {
	raw, err := os.ReadFile(segmentPath(dir, gen))
	if err != nil {
		return nil, err
	}
	data, err := decompressBlock(raw)
	if err != nil {
		return nil, err
	}
	var sd segmentData
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&sd); err != nil {
		return nil, err
	}
	if sd.Gen != gen {
		return nil, fmt.Errorf("segment generation %d stored as %d", sd.Gen, gen)
	}
	seg := newSegment(gen)
	if err := seg.ids.UnmarshalBinary(sd.IDs); err != nil {
		return nil, err
	}
	if sd.Postings != nil {
		seg.postings = sd.Postings
	}
	return seg, nil
}

func removeSegment(dir string, gen uint64) {
	_ = os.Remove(segmentPath(dir, gen))
}

func writeManifest(dir string, nextGen uint64, sealed []*segment) error {
	m := manifest{Version: manifestVersion, NextGen: nextGen}
	for _, seg := range sealed {
		tombstones, err := seg.tombstones.ToBytes()
		if err != nil {
			return err
		}
		m.Segments = append(m.Segments, manifestSegment{Gen: seg.gen, Tombstones: tombstones})
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, manifestName), buf.Bytes())
}

// loadIndex reads the manifest and its segments. A missing manifest is an empty index.
func loadIndex(dir string) ([]*segment, uint64, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, 1, nil
	}
	if err != nil {
		return nil, 0, err
	}

	var m manifest
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&m); err != nil {
		return nil, 0, corrupt(fmt.Errorf("decode manifest: %w", err))
	}
	if m.Version != manifestVersion {
		return nil, 0, corrupt(fmt.Errorf("unknown manifest version %d", m.Version))
	}

	sealed := make([]*segment, 0, len(m.Segments))
	for _, ms := range m.Segments {
		seg, err := readSegment(dir, ms.Gen)
		if err != nil {
			return nil, 0, corrupt(fmt.Errorf("segment %d: %w", ms.Gen, err))
		}
		tombstones := roaring64.New()
		if err := tombstones.UnmarshalBinary(ms.Tombstones); err != nil {
			return nil, 0, corrupt(fmt.Errorf("segment %d tombstones: %w", ms.Gen, err))
		}
		tombstones.And(seg.ids)
		seg.tombstones = tombstones
		sealed = append(sealed, seg)
	}
	return sealed, max(m.NextGen, 1), nil
}

func corrupt(err error) error {
	return &core.IndexCorruptionError{Index: "text", Err: err}
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
