// Package parser extracts searchable metadata from asset files.
//
// A Parser turns a fingerprinted file into a core.AssetDraft: a title, the
// text worth indexing and any format specific fields. Basic covers the
// formats that can be read without heavy dependencies (plain text, Markdown
// with YAML front matter, JSON, CSV, Wavefront OBJ, glTF and the headers of
// common image formats). Every other file yields a draft built from its name
// alone.
//
// Text that cannot be decoded is reported as *core.ParseError, which fails
// the asset without retry.
package parser
