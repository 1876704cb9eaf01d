// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/curator/core"
)

// assetRecordVersion prefixes every encoded AssetRecord.
const assetRecordVersion = 1

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, varint.Uint64.Size(uint64(id)))
	varint.Uint64.Marshal(uint64(id), buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	d := decoder{bs: data}
	id := core.ID(d.uint64())
	return id, d.finish()
}

// MarshalAssetRecord serializes an AssetRecord to bytes.
func MarshalAssetRecord(record *core.AssetRecord) []byte {
	buf := make([]byte, assetRecordSize(record))
	n := varint.Int.Marshal(assetRecordVersion, buf)
	n += varint.Uint64.Marshal(uint64(record.ID), buf[n:])
	n += ord.String.Marshal(record.ContentHash, buf[n:])
	n += ord.String.Marshal(record.Path, buf[n:])
	n += ord.String.Marshal(string(record.Kind), buf[n:])
	n += ord.String.Marshal(record.MimeType, buf[n:])
	n += varint.Int64.Marshal(record.SizeBytes, buf[n:])
	n += marshalTime(record.CreatedAt, buf[n:])
	n += marshalTime(record.UpdatedAt, buf[n:])
	n += marshalTime(record.IndexedAt, buf[n:])
	n += marshalFields(record.LexicalFields, buf[n:])
	n += marshalVector(record.Embedding, buf[n:])
	n += marshalStrings(record.Tags, buf[n:])
	n += varint.Int.Marshal(int(record.State), buf[n:])
	n += ord.String.Marshal(record.LastError, buf[n:])
	n += varint.Int.Marshal(record.Attempts, buf[n:])
	n += ord.Bool.Marshal(record.Missing, buf[n:])
	marshalTime(record.MissingSince, buf[n:])
	return buf
}

func assetRecordSize(record *core.AssetRecord) int {
	return varint.Int.Size(assetRecordVersion) +
		varint.Uint64.Size(uint64(record.ID)) +
		ord.String.Size(record.ContentHash) +
		ord.String.Size(record.Path) +
		ord.String.Size(string(record.Kind)) +
		ord.String.Size(record.MimeType) +
		varint.Int64.Size(record.SizeBytes) +
		timeSize(record.CreatedAt) +
		timeSize(record.UpdatedAt) +
		timeSize(record.IndexedAt) +
		fieldsSize(record.LexicalFields) +
		vectorSize(record.Embedding) +
		stringsSize(record.Tags) +
		varint.Int.Size(int(record.State)) +
		ord.String.Size(record.LastError) +
		varint.Int.Size(record.Attempts) +
		ord.Bool.Size(record.Missing) +
		timeSize(record.MissingSince)
}

// UnmarshalAssetRecord deserializes an AssetRecord from bytes.
func UnmarshalAssetRecord(data []byte) (*core.AssetRecord, error) {
	d := decoder{bs: data}
	if v := d.int(); d.err == nil && v != assetRecordVersion {
		return nil, fmt.Errorf("%w: unknown asset record version %d", ErrSerializationFailed, v)
	}
	record := &core.AssetRecord{}
	record.ID = core.ID(d.uint64())
	record.ContentHash = d.string()
	record.Path = d.string()
	record.Kind = core.Kind(d.string())
	record.MimeType = d.string()
	record.SizeBytes = d.int64()
	record.CreatedAt = d.time()
	record.UpdatedAt = d.time()
	record.IndexedAt = d.time()
	record.LexicalFields = d.fields()
	record.Embedding = d.vector()
	record.Tags = d.strings()
	record.State = core.PipelineState(d.int())
	record.LastError = d.string()
	record.Attempts = d.int()
	record.Missing = d.bool()
	record.MissingSince = d.time()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return record, nil
}

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(checkpoint *core.Checkpoint) []byte {
	buf := make([]byte, ord.String.Size(checkpoint.Name)+
		ord.String.Size(checkpoint.Position)+
		timeSize(checkpoint.UpdatedAt))
	n := ord.String.Marshal(checkpoint.Name, buf)
	n += ord.String.Marshal(checkpoint.Position, buf[n:])
	marshalTime(checkpoint.UpdatedAt, buf[n:])
	return buf
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*core.Checkpoint, error) {
	d := decoder{bs: data}
	checkpoint := &core.Checkpoint{
		Name:     d.string(),
		Position: d.string(),
	}
	checkpoint.UpdatedAt = d.time()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return checkpoint, nil
}

// Times are stored as a presence flag followed by Unix microseconds so the
// zero time survives a round trip.
func marshalTime(t time.Time, bs []byte) int {
	if t.IsZero() {
		return ord.Bool.Marshal(false, bs)
	}
	n := ord.Bool.Marshal(true, bs)
	return n + varint.Int64.Marshal(t.UnixMicro(), bs[n:])
}

func timeSize(t time.Time) int {
	if t.IsZero() {
		return ord.Bool.Size(false)
	}
	return ord.Bool.Size(true) + varint.Int64.Size(t.UnixMicro())
}

// Maps are written in key order so equal records encode to equal bytes.
func marshalFields(fields map[string]string, bs []byte) int {
	n := varint.Int.Marshal(len(fields), bs)
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(fields[k], bs[n:])
	}
	return n
}

func fieldsSize(fields map[string]string) int {
	size := varint.Int.Size(len(fields))
	for k, v := range fields {
		size += ord.String.Size(k) + ord.String.Size(v)
	}
	return size
}

func marshalVector(v []float32, bs []byte) int {
	n := varint.Int.Marshal(len(v), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return n
}

func vectorSize(v []float32) int {
	size := varint.Int.Size(len(v))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return size
}

func marshalStrings(ss []string, bs []byte) int {
	n := varint.Int.Marshal(len(ss), bs)
	for _, s := range ss {
		n += ord.String.Marshal(s, bs[n:])
	}
	return n
}

func stringsSize(ss []string) int {
	size := varint.Int.Size(len(ss))
	for _, s := range ss {
		size += ord.String.Size(s)
	}
	return size
}

// decoder walks a MUS buffer and remembers the first error. Every read after
// a failure is a no-op returning the zero value.
type decoder struct {
	bs  []byte
	n   int
	err error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	v, m, err := varint.Uint64.Unmarshal(d.bs[d.n:])
	d.n += m
	if err != nil {
		d.fail(err)
	}
	return v
}

func (d *decoder) int64() int64 {
	if d.err != nil {
		return 0
	}
	v, m, err := varint.Int64.Unmarshal(d.bs[d.n:])
	d.n += m
	if err != nil {
		d.fail(err)
	}
	return v
}

func (d *decoder) int() int {
	if d.err != nil {
		return 0
	}
	v, m, err := varint.Int.Unmarshal(d.bs[d.n:])
	d.n += m
	if err != nil {
		d.fail(err)
	}
	return v
}

// length reads a collection length and rejects values the remaining buffer cannot hold.
func (d *decoder) length() int {
	l := d.int()
	if d.err == nil && (l < 0 || l > len(d.bs)-d.n) {
		d.fail(ErrTruncatedData)
		return 0
	}
	return l
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	v, m, err := ord.String.Unmarshal(d.bs[d.n:])
	d.n += m
	if err != nil {
		d.fail(err)
	}
	return v
}

func (d *decoder) bool() bool {
	if d.err != nil {
		return false
	}
	v, m, err := ord.Bool.Unmarshal(d.bs[d.n:])
	d.n += m
	if err != nil {
		d.fail(err)
	}
	return v
}

func (d *decoder) float32() float32 {
	if d.err != nil {
		return 0
	}
	v, m, err := raw.Float32.Unmarshal(d.bs[d.n:])
	d.n += m
	if err != nil {
		d.fail(err)
	}
	return v
}

func (d *decoder) time() time.Time {
	if !d.bool() {
		return time.Time{}
	}
	micros := d.int64()
	if d.err != nil {
		return time.Time{}
	}
	return time.UnixMicro(micros).UTC()
}

func (d *decoder) fields() map[string]string {
	l := d.length()
	if l == 0 {
		return nil
	}
	fields := make(map[string]string, l)
	for range l {
		k := d.string()
		fields[k] = d.string()
	}
	return fields
}

func (d *decoder) vector() []float32 {
	l := d.length()
	if l == 0 {
		return nil
	}
	v := make([]float32, l)
	for i := range v {
		v[i] = d.float32()
	}
	return v
}

func (d *decoder) strings() []string {
	l := d.length()
	if l == 0 {
		return nil
	}
	ss := make([]string, l)
	for i := range ss {
		ss[i] = d.string()
	}
	return ss
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if len(d.bs) == 0 {
		return fmt.Errorf("%w: %w", ErrSerializationFailed, ErrTruncatedData)
	}
	return nil
}
