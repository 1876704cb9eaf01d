package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-crypt/x/blake2b"
	"github.com/poiesic/curator/core"
)

const (
	digestSize = 32
	headSize   = 512
	bufferSize = 64 * 1024
)

var (
	// ErrNotRegular indicates the path is a directory, device or socket.
	ErrNotRegular = errors.New("not a regular file")

	// ErrChangedDuringRead indicates the file size changed while it was hashed.
	ErrChangedDuringRead = errors.New("file changed during read")
)

// Result is the outcome of fingerprinting one file.
type Result struct {
	ContentHash string
	SizeBytes   int64
	MimeType    string
	Kind        core.Kind
}

// Func computes a fingerprint. Fingerprint satisfies it; tests substitute their own.
type Func func(ctx context.Context, path string) (Result, error)

// Fingerprint hashes the file at path in a single streaming pass.
func Fingerprint(ctx context.Context, path string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Result{}, &core.IoError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Result{}, &core.IoError{Path: path, Op: "stat", Err: err}
	}
	if !info.Mode().IsRegular() {
		return Result{}, &core.IoError{Path: path, Op: "stat", Err: ErrNotRegular}
	}

	hasher, err := blake2b.New(digestSize, nil)
	if err != nil {
		return Result{}, fmt.Errorf("blake2b: %w", err)
	}
	head := &headWriter{limit: headSize}

	n, err := io.CopyBuffer(io.MultiWriter(hasher, head), &contextReader{ctx: ctx, r: f}, make([]byte, bufferSize))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, &core.IoError{Path: path, Op: "read", Err: err}
	}
	if n != info.Size() {
		return Result{}, &core.IoError{Path: path, Op: "read", Err: ErrChangedDuringRead}
	}

	mime, kind := Detect(path, head.buf)
	return Result{
		ContentHash: core.HashFromDigest(hasher.Sum(nil)),
		SizeBytes:   n,
		MimeType:    mime,
		Kind:        kind,
	}, nil
}

// headWriter keeps the first limit bytes written to it and discards the rest.
type headWriter struct {
	buf   []byte
	limit int
}

func (w *headWriter) Write(p []byte) (int, error) {
	if room := w.limit - len(w.buf); room > 0 {
		w.buf = append(w.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}

// contextReader stops a copy between chunks once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
