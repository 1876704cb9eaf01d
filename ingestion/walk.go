package ingestion

import (
	"context"
	"io/fs"
	"iter"
	"path/filepath"
	"strings"

	"github.com/poiesic/curator/fingerprint"
)

// Walk lazily enumerates the ingestible regular files under root in lexical
// walk order. Files the pipeline would not accept and directories that cannot
// be read are yielded as *Rejection errors; the walk continues past them.
// Hidden directories are skipped silently.
//
// When after is not empty the walk resumes behind it: every path at or
// before after in walk order is skipped. Cancelling ctx ends the sequence.
func Walk(ctx context.Context, root, after string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		root = filepath.Clean(root)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return filepath.SkipAll
			}
			if err != nil {
				if path == root && d == nil {
					yield(path, &Rejection{Path: path, Err: err})
					return filepath.SkipAll
				}
				if !yield(path, &Rejection{Path: path, Err: err}) {
					return filepath.SkipAll
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				if path != root && fingerprint.HiddenDir(d.Name()) {
					return filepath.SkipDir
				}
				if after != "" && path != root && !within(after, path) && walkCompare(path, after) < 0 {
					// Everything below path precedes the resume point.
					return filepath.SkipDir
				}
				return nil
			}

			if after != "" && walkCompare(path, after) <= 0 {
				return nil
			}
			if !d.Type().IsRegular() {
				if !yield(path, &Rejection{Path: path, Err: ErrNotRegular}) {
					return filepath.SkipAll
				}
				return nil
			}
			if err := fingerprint.Check(path); err != nil {
				if !yield(path, &Rejection{Path: path, Err: err}) {
					return filepath.SkipAll
				}
				return nil
			}
			if !yield(path, nil) {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			yield(root, &Rejection{Path: root, Err: err})
		}
	}
}

// within reports whether path lies inside dir.
func within(path, dir string) bool {
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// walkCompare orders paths the way filepath.WalkDir visits them: element by
// element, so "a/b/x" comes before "a/b.txt".
func walkCompare(a, b string) int {
	as := strings.Split(filepath.ToSlash(a), "/")
	bs := strings.Split(filepath.ToSlash(b), "/")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := strings.Compare(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return len(as) - len(bs)
}
