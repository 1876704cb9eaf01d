// Package fingerprint computes the content identity of an asset file.
//
// A fingerprint is the BLAKE2b-256 digest of the file bytes together with the
// file size, a MIME type and an asset Kind. The file is streamed exactly once:
// the digest and the 512-byte head used for magic-byte sniffing are produced
// by the same pass, so large media files are never buffered in memory.
//
// Failures to open, stat or read a file are reported as *core.IoError, which
// the pipeline treats as transient and per-asset.
package fingerprint
