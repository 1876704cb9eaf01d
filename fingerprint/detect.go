package fingerprint

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/poiesic/curator/core"
)

type magicPattern struct {
	ext       string
	signature []byte
	offset    int
	mime      string
	// container formats (zip) also wrap documents; a known extension wins over them
	container bool
}

// Patterns are checked in order; more specific RIFF forms come before the bare RIFF header.
var magicPatterns = []magicPattern{
	{ext: "png", signature: []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, mime: "image/png"},
	{ext: "jpg", signature: []byte{0xFF, 0xD8, 0xFF}, mime: "image/jpeg"},
	{ext: "gif", signature: []byte("GIF8"), mime: "image/gif"},
	{ext: "tiff", signature: []byte{'I', 'I', 0x2A, 0x00}, mime: "image/tiff"},
	{ext: "tiff", signature: []byte{'M', 'M', 0x00, 0x2A}, mime: "image/tiff"},
	{ext: "webp", signature: []byte("WEBP"), offset: 8, mime: "image/webp"},
	{ext: "wav", signature: []byte("WAVE"), offset: 8, mime: "audio/wav"},
	{ext: "avi", signature: []byte("AVI "), offset: 8, mime: "video/x-msvideo"},
	{ext: "psd", signature: []byte("8BPS"), mime: "image/vnd.adobe.photoshop"},
	{ext: "zip", signature: []byte{'P', 'K', 0x03, 0x04}, mime: "application/zip", container: true},
	{ext: "zip", signature: []byte{'P', 'K', 0x05, 0x06}, mime: "application/zip", container: true},
	{ext: "glb", signature: []byte("glTF"), mime: "model/gltf-binary"},
	{ext: "blend", signature: []byte("BLENDER"), mime: "application/x-blender"},
	{ext: "mp3", signature: []byte("ID3"), mime: "audio/mpeg"},
	{ext: "mp3", signature: []byte{0xFF, 0xFB}, mime: "audio/mpeg"},
	{ext: "flac", signature: []byte("fLaC"), mime: "audio/flac"},
	{ext: "ogg", signature: []byte("OggS"), mime: "audio/ogg"},
	{ext: "mp4", signature: []byte("ftyp"), offset: 4, mime: "video/mp4"},
	{ext: "pdf", signature: []byte("%PDF-"), mime: "application/pdf"},
	{ext: "rar", signature: []byte{'R', 'a', 'r', '!', 0x1A, 0x07, 0x00}, mime: "application/vnd.rar"},
	{ext: "7z", signature: []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}, mime: "application/x-7z-compressed"},
	{ext: "gz", signature: []byte{0x1F, 0x8B}, mime: "application/gzip"},
	{ext: "bmp", signature: []byte("BM"), mime: "image/bmp"},
}

var mimeByExtension = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
	"webp": "image/webp",
	"psd":  "image/vnd.adobe.photoshop",
	"gltf": "model/gltf+json",
	"glb":  "model/gltf-binary",
	"obj":  "text/plain",
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"flac": "audio/flac",
	"ogg":  "audio/ogg",
	"aac":  "audio/aac",
	"m4a":  "audio/mp4",
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",
	"mkv":  "video/x-matroska",
	"webm": "video/webm",
	"txt":  "text/plain",
	"md":   "text/markdown",
	"json": "application/json",
	"csv":  "text/csv",
	"pdf":  "application/pdf",
	"zip":  "application/zip",
	"tar":  "application/x-tar",
	"gz":   "application/gzip",
}

// MimeFromExtension maps an extension (with or without the dot) to a MIME type.
func MimeFromExtension(ext string) (string, bool) {
	mime, ok := mimeByExtension[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return mime, ok
}

// Detect derives the MIME type and Kind of a file from its name and the first
// bytes of its content. Magic bytes override the extension.
func Detect(name string, head []byte) (string, core.Kind) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	extKind := core.KindFromExtension(ext)

	if p, ok := matchMagic(head); ok {
		if !p.container || extKind == core.KindUnknown {
			return p.mime, core.KindFromExtension(p.ext)
		}
	}

	if mime, ok := mimeByExtension[ext]; ok {
		return mime, extKind
	}
	if len(head) > 0 {
		return http.DetectContentType(head), extKind
	}
	return "application/octet-stream", extKind
}

func matchMagic(head []byte) (magicPattern, bool) {
	for _, p := range magicPatterns {
		end := p.offset + len(p.signature)
		if len(head) >= end && bytes.Equal(head[p.offset:end], p.signature) {
			return p, true
		}
	}
	return magicPattern{}, false
}
