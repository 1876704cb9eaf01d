package search

import (
	"cmp"
	"math"
	"slices"

	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/lexical"
	"github.com/poiesic/curator/vector"
)

// candidate carries the normalized leg scores of one asset.
type candidate struct {
	text, vector     float64
	inText, inVector bool
}

// normalize rescales scores to [0, 1] by min-max. A list whose scores are all
// equal maps every member to 1.
func normalize(scores map[core.ID]float64) {
	if len(scores) == 0 {
		return
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range scores {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	for id, v := range scores {
		if hi == lo {
			scores[id] = 1
		} else {
			scores[id] = (v - lo) / (hi - lo)
		}
	}
}

// merge joins both legs into one candidate set.
func merge(textHits []lexical.Hit, vectorHits []vector.Hit) map[core.ID]candidate {
	text := make(map[core.ID]float64, len(textHits))
	for _, h := range textHits {
		text[h.ID] = h.Score
	}
	vec := make(map[core.ID]float64, len(vectorHits))
	for _, h := range vectorHits {
		vec[h.ID] = float64(h.Score)
	}
	normalize(text)
	normalize(vec)

	out := make(map[core.ID]candidate, len(text)+len(vec))
	for id, s := range text {
		out[id] = candidate{text: s, inText: true}
	}
	for id, s := range vec {
		c := out[id]
		c.vector = s
		c.inVector = true
		out[id] = c
	}
	return out
}

// rank orders hits by score, then newer IndexedAt, then smaller id.
func rank(hits []Hit) {
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := b.IndexedAt.Compare(a.IndexedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.AssetID, b.AssetID)
	})
}
