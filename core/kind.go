package core

import (
	"path/filepath"
	"strings"
)

// Kind is the broad category of an asset.
type Kind string

const (
	KindImage    Kind = "image"
	KindModel3D  Kind = "3d"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindArchive  Kind = "archive"
	KindUnknown  Kind = "unknown"
)

var kindByExtension = map[string]Kind{
	"png": KindImage, "jpg": KindImage, "jpeg": KindImage, "gif": KindImage, "bmp": KindImage,
	"tiff": KindImage, "tga": KindImage, "webp": KindImage, "psd": KindImage, "psb": KindImage,

	"blend": KindModel3D, "fbx": KindModel3D, "obj": KindModel3D, "gltf": KindModel3D, "glb": KindModel3D,
	"dae": KindModel3D, "3ds": KindModel3D, "max": KindModel3D, "c4d": KindModel3D, "ply": KindModel3D,
	"stl": KindModel3D,

	"wav": KindAudio, "mp3": KindAudio, "flac": KindAudio, "ogg": KindAudio, "aac": KindAudio,
	"m4a": KindAudio, "wma": KindAudio,

	"mp4": KindVideo, "mov": KindVideo, "avi": KindVideo, "mkv": KindVideo, "wmv": KindVideo,
	"flv": KindVideo, "webm": KindVideo,

	"txt": KindDocument, "md": KindDocument, "pdf": KindDocument, "doc": KindDocument,
	"docx": KindDocument, "rtf": KindDocument, "json": KindDocument, "csv": KindDocument,

	"zip": KindArchive, "rar": KindArchive, "tar": KindArchive, "gz": KindArchive, "7z": KindArchive,
}

// KindFromExtension maps a file extension (with or without the dot) to a Kind.
func KindFromExtension(ext string) Kind {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if k, ok := kindByExtension[ext]; ok {
		return k
	}
	return KindUnknown
}

// KindFromPath maps a file path to a Kind using its extension.
func KindFromPath(path string) Kind {
	return KindFromExtension(filepath.Ext(path))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindImage, KindModel3D, KindAudio, KindVideo, KindDocument, KindArchive, KindUnknown:
		return true
	}
	return false
}

// Timed reports whether assets of this kind carry a time axis worth transcribing.
func (k Kind) Timed() bool {
	return k == KindAudio || k == KindVideo
}
