package lexical

import (
	"maps"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/poiesic/curator/core"
)

// posting is one document's weighted frequency for a term.
type posting struct {
	ID     core.ID
	Weight float64
}

// staging is the mutable segment receiving new writes.
type staging struct {
	terms map[string]map[core.ID]float64
	docs  map[core.ID][]string
}

func newStaging() *staging {
	return &staging{
		terms: make(map[string]map[core.ID]float64),
		docs:  make(map[core.ID][]string),
	}
}

func (st *staging) put(id core.ID, weights map[string]float64) {
	st.remove(id)
	terms := make([]string, 0, len(weights))
	for term, w := range weights {
		p := st.terms[term]
		if p == nil {
			p = make(map[core.ID]float64)
			st.terms[term] = p
		}
		p[id] = w
		terms = append(terms, term)
	}
	st.docs[id] = terms
}

func (st *staging) remove(id core.ID) bool {
	terms, ok := st.docs[id]
	if !ok {
		return false
	}
	for _, term := range terms {
		p := st.terms[term]
		delete(p, id)
		if len(p) == 0 {
			delete(st.terms, term)
		}
	}
	delete(st.docs, id)
	return true
}

func (st *staging) len() int { return len(st.docs) }

// seal freezes the staged documents into an immutable segment.
func (st *staging) seal(gen uint64) *segment {
	seg := newSegment(gen)
	for id := range st.docs {
		seg.ids.Add(uint64(id))
	}
	for term, p := range st.terms {
		list := make([]posting, 0, len(p))
		for _, id := range slices.Sorted(maps.Keys(p)) {
			list = append(list, posting{ID: id, Weight: p[id]})
		}
		seg.postings[term] = list
	}
	return seg
}

// segment is an immutable set of documents. Only its tombstones change:
// a tombstoned id was updated elsewhere or removed.
// Invariant: tombstones is a subset of ids.
type segment struct {
	gen        uint64
	postings   map[string][]posting
	ids        *roaring64.Bitmap
	tombstones *roaring64.Bitmap
}

func newSegment(gen uint64) *segment {
	return &segment{
		gen:        gen,
		postings:   make(map[string][]posting),
		ids:        roaring64.New(),
		tombstones: roaring64.New(),
	}
}

func (s *segment) live(id core.ID) bool {
	return s.ids.Contains(uint64(id)) && !s.tombstones.Contains(uint64(id))
}

func (s *segment) liveCount() int {
	return int(s.ids.GetCardinality() - s.tombstones.GetCardinality())
}

// kill tombstones id if this segment holds a live copy of it.
func (s *segment) kill(id core.ID) bool {
	if !s.live(id) {
		return false
	}
	s.tombstones.Add(uint64(id))
	return true
}

// mergeSegments builds one segment holding every document that is live in
// inputs according to the given tombstone snapshots.
func mergeSegments(gen uint64, inputs []*segment, tombstones []*roaring64.Bitmap) *segment {
	merged := newSegment(gen)
	acc := make(map[string][]posting)
	for i, seg := range inputs {
		dead := tombstones[i]
		it := seg.ids.Iterator()
		for it.HasNext() {
			id := it.Next()
			if !dead.Contains(id) {
				merged.ids.Add(id)
			}
		}
		for term, list := range seg.postings {
			for _, p := range list {
				if !dead.Contains(uint64(p.ID)) {
					acc[term] = append(acc[term], p)
				}
			}
		}
	}
	for term, list := range acc {
		slices.SortFunc(list, func(a, b posting) int {
			switch {
			case a.ID < b.ID:
				return -1
			case a.ID > b.ID:
				return 1
			}
			return 0
		})
		merged.postings[term] = list
	}
	return merged
}
