package vector

import (
	"container/heap"
	"context"
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/bits-and-blooms/bitset"
	"github.com/poiesic/curator/core"
)

// node is a vector in the graph. Connections[l] lists its neighbours on layer l,
// nearest first.
type node struct {
	ID          core.ID
	Vector      []float32
	Layer       int
	Connections [][]uint32
}

// HNSW is a Hierarchical Navigable Small World graph index.
type HNSW struct {
	opts  Options
	mmax  int     // max connections per node on layers above 0
	mmax0 int     // max connections on layer 0
	ml    float64 // level normalization factor

	mu         sync.RWMutex
	rng        *rand.Rand
	dim        int
	nodes      []*node
	ids        map[core.ID]uint32
	tombstones *roaring64.Bitmap // node positions, not asset ids
	ep         uint32
	maxLevel   int
	closed     bool
}

var _ Index = (*HNSW)(nil)

// NewHNSW creates an HNSW index, loading the snapshot at the configured path if present.
// Returns *core.IndexCorruptionError if the snapshot cannot be decoded.
func NewHNSW(optFns ...Option) (*HNSW, error) {
	opts := buildOptions(optFns)
	h := &HNSW{
		opts:  opts,
		mmax:  opts.M,
		mmax0: 2 * opts.M,
		ml:    1 / math.Log(float64(opts.M)),
	}
	h.resetLocked()

	if opts.Path == "" {
		return h, nil
	}
	snap, err := loadSnapshot(opts.Path)
	if err != nil || snap == nil {
		return h, err
	}
	if err := h.restore(snap); err != nil {
		return nil, err
	}
	opts.Logger.Debug("vector index loaded", "path", opts.Path, "vectors", len(h.ids), "dimension", h.dim)
	return h, nil
}

func (h *HNSW) resetLocked() {
	h.rng = rand.New(rand.NewSource(h.opts.Seed)) // nolint gosec
	h.dim = 0
	h.nodes = nil
	h.ids = make(map[core.ID]uint32)
	h.tombstones = roaring64.New()
	h.ep = 0
	h.maxLevel = 0
}

// Insert adds or replaces the vector for id.
func (h *HNSW) Insert(ctx context.Context, id core.ID, embedding []float32) error {
	if id == 0 {
		return ErrInvalidID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if err := checkDimension(h.dim, embedding); err != nil {
		return err
	}
	if h.dim == 0 {
		h.dim = len(embedding)
	}
	if old, ok := h.ids[id]; ok {
		h.tombstones.Add(uint64(old))
	}
	h.insertLocked(id, Normalize(embedding))
	return nil
}

func (h *HNSW) insertLocked(id core.ID, vec []float32) {
	pos := uint32(len(h.nodes))
	// 1-Float64 is in (0, 1], keeping the logarithm finite
	layer := int(math.Floor(-math.Log(1-h.rng.Float64()) * h.ml))
	n := &node{
		ID:          id,
		Vector:      vec,
		Layer:       layer,
		Connections: make([][]uint32, layer+1),
	}

	if len(h.nodes) == 0 {
		h.nodes = append(h.nodes, n)
		h.ids[id] = pos
		h.ep = pos
		h.maxLevel = layer
		return
	}

	// Find single shortest path from top layers above our new node, which will be our new starting-point
	entry := h.greedyDescend(vec, h.maxLevel, layer)

	for level := min(layer, h.maxLevel); level >= 0; level-- {
		candidates := h.searchLayer(vec, entry, h.opts.EFConstruction, level)
		selected := h.selectNeighbours(candidates, h.opts.M)
		n.Connections[level] = make([]uint32, len(selected))
		for i, c := range selected {
			n.Connections[level][i] = c.node
		}
		entry = candidates[0]
	}

	h.nodes = append(h.nodes, n)
	h.ids[id] = pos

	// Next link the neighbour nodes to our new node, making it visible
	for level := min(layer, h.maxLevel); level >= 0; level-- {
		for _, neighbour := range n.Connections[level] {
			h.link(neighbour, pos, level)
		}
	}

	if layer > h.maxLevel {
		h.ep = pos
		h.maxLevel = layer
	}
}

// greedyDescend walks from the entry point down to layer stop+1, moving to
// any neighbour closer to q, and returns the closest node found.
func (h *HNSW) greedyDescend(q []float32, from, stop int) *queueItem {
	curr := h.ep
	currDist := distance(q, h.nodes[curr].Vector)
	for level := from; level > stop; level-- {
		changed := true
		for changed {
			changed = false
			for _, next := range h.nodes[curr].Connections[level] {
				d := distance(q, h.nodes[next].Vector)
				if d < currDist {
					curr = next
					currDist = d
					changed = true
				}
			}
		}
	}
	return &queueItem{node: curr, distance: currDist}
}

// searchLayer returns up to ef nodes closest to q on one layer, nearest first.
func (h *HNSW) searchLayer(q []float32, ep *queueItem, ef int, level int) []*queueItem {
	var visited bitset.BitSet
	visited.Set(uint(ep.node))

	candidates := &priorityQueue{}
	heap.Push(candidates, &queueItem{node: ep.node, distance: ep.distance})

	top := &priorityQueue{order: true} // max-heap
	heap.Push(top, &queueItem{node: ep.node, distance: ep.distance})

	for candidates.Len() > 0 {
		lowerBound := top.top().distance

		candidate := heap.Pop(candidates).(*queueItem)
		if candidate.distance > lowerBound {
			break
		}

		conns := h.nodes[candidate.node].Connections
		if len(conns) <= level {
			continue
		}
		for _, n := range conns[level] {
			if visited.Test(uint(n)) {
				continue
			}
			visited.Set(uint(n))

			d := distance(q, h.nodes[n].Vector)
			if top.Len() < ef {
				heap.Push(top, &queueItem{node: n, distance: d})
				heap.Push(candidates, &queueItem{node: n, distance: d})
			} else if top.top().distance > d {
				heap.Pop(top)
				heap.Push(top, &queueItem{node: n, distance: d})
				heap.Push(candidates, &queueItem{node: n, distance: d})
			}
		}
	}

	out := make([]*queueItem, top.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(top).(*queueItem)
	}
	return out
}

// selectNeighbours applies the HNSW heuristic to candidates sorted nearest
// first: a candidate is kept only if it is closer to the base than to every
// neighbour already kept. Remaining slots are filled with the nearest rejects.
func (h *HNSW) selectNeighbours(candidates []*queueItem, m int) []*queueItem {
	if len(candidates) <= m {
		return candidates
	}
	selected := make([]*queueItem, 0, m)
	var rejected []*queueItem
	for _, c := range candidates {
		if len(selected) >= m {
			break
		}
		keep := true
		for _, s := range selected {
			if distance(h.nodes[s.node].Vector, h.nodes[c.node].Vector) < c.distance {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		} else {
			rejected = append(rejected, c)
		}
	}
	for _, r := range rejected {
		if len(selected) >= m {
			break
		}
		selected = append(selected, r)
	}
	slices.SortStableFunc(selected, func(a, b *queueItem) int {
		switch {
		case a.distance < b.distance:
			return -1
		case a.distance > b.distance:
			return 1
		}
		return 0
	})
	return selected
}

// link adds second to first's neighbours on level, pruning first's list back
// to the layer's maximum when it overflows.
func (h *HNSW) link(first, second uint32, level int) {
	maxConnections := h.mmax
	// HNSW allows double the connections for the bottom level (0)
	if level == 0 {
		maxConnections = h.mmax0
	}

	n := h.nodes[first]
	n.Connections[level] = append(n.Connections[level], second)
	if len(n.Connections[level]) <= maxConnections {
		return
	}

	candidates := make([]*queueItem, 0, len(n.Connections[level]))
	for _, id := range n.Connections[level] {
		candidates = append(candidates, &queueItem{node: id, distance: distance(n.Vector, h.nodes[id].Vector)})
	}
	slices.SortStableFunc(candidates, func(a, b *queueItem) int {
		switch {
		case a.distance < b.distance:
			return -1
		case a.distance > b.distance:
			return 1
		}
		return 0
	})

	selected := h.selectNeighbours(candidates, maxConnections)
	n.Connections[level] = make([]uint32, len(selected))
	for i, c := range selected {
		n.Connections[level][i] = c.node
	}
}

// Search returns the k live vectors most similar to query.
func (h *HNSW) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrClosed
	}
	if err := checkDimension(h.dim, query); err != nil {
		return nil, err
	}
	if k <= 0 || len(h.ids) == 0 {
		return nil, nil
	}

	q := Normalize(query)
	// Over-fetch so removed nodes filtered below cannot starve the result.
	ef := max(h.opts.EFSearch, k) + int(h.tombstones.GetCardinality())

	entry := h.greedyDescend(q, h.maxLevel, 0)
	candidates := h.searchLayer(q, entry, ef, 0)

	hits := make([]Hit, 0, k)
	for _, c := range candidates {
		if h.tombstones.Contains(uint64(c.node)) {
			continue
		}
		hits = append(hits, Hit{ID: h.nodes[c.node].ID, Score: 1 - c.distance})
		if len(hits) == k {
			break
		}
	}
	sortHits(hits)
	return hits, nil
}

// Remove tombstones the vector for id.
func (h *HNSW) Remove(ctx context.Context, id core.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if pos, ok := h.ids[id]; ok {
		h.tombstones.Add(uint64(pos))
		delete(h.ids, id)
	}
	return nil
}

// Dimension returns the vector length fixed by the first insert.
func (h *HNSW) Dimension() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dim
}

// Len returns the number of live vectors.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.ids)
}

// Tombstones returns the number of removed nodes still in the graph.
func (h *HNSW) Tombstones() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return int(h.tombstones.GetCardinality())
}

// Compact rebuilds the graph from live vectors in insertion order.
func (h *HNSW) Compact(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.tombstones.IsEmpty() {
		return nil
	}

	live := make([]*node, 0, len(h.ids))
	for pos, n := range h.nodes {
		if !h.tombstones.Contains(uint64(pos)) {
			live = append(live, n)
		}
	}
	// Inserts build new nodes, so the old graph stays intact and is put
	// back if the rebuild is cancelled.
	rng, dim, nodes, ids, tombstones, ep, maxLevel := h.rng, h.dim, h.nodes, h.ids, h.tombstones, h.ep, h.maxLevel
	h.resetLocked()
	h.dim = dim
	for _, n := range live {
		if err := ctx.Err(); err != nil {
			h.rng, h.nodes, h.ids, h.tombstones, h.ep, h.maxLevel = rng, nodes, ids, tombstones, ep, maxLevel
			return err
		}
		h.insertLocked(n.ID, n.Vector)
	}
	h.opts.Logger.Debug("vector index compacted", "vectors", len(live))
	return nil
}

// Save writes an lz4-compressed snapshot to the configured path.
func (h *HNSW) Save(ctx context.Context) error {
	if h.opts.Path == "" {
		return nil
	}
	// Links are rewritten in place by inserts, so encode under the lock.
	h.mu.RLock()
	defer h.mu.RUnlock()
	snap, err := h.snapshotLocked()
	if err != nil {
		return err
	}
	return saveSnapshot(h.opts.Path, snap)
}

func (h *HNSW) snapshotLocked() (*snapshot, error) {
	tombstones, err := h.tombstones.ToBytes()
	if err != nil {
		return nil, err
	}
	return &snapshot{
		Version:    snapshotVersion,
		Kind:       "hnsw",
		Dim:        h.dim,
		Ep:         h.ep,
		MaxLevel:   h.maxLevel,
		Nodes:      h.nodes,
		Tombstones: tombstones,
	}, nil
}

func (h *HNSW) restore(snap *snapshot) error {
	if snap.Kind != "hnsw" {
		return corrupt(errKindMismatch)
	}
	if err := snap.validate(); err != nil {
		return corrupt(err)
	}
	tombstones := roaring64.New()
	if err := tombstones.UnmarshalBinary(snap.Tombstones); err != nil {
		return corrupt(err)
	}
	h.dim = snap.Dim
	h.nodes = snap.Nodes
	h.ep = snap.Ep
	h.maxLevel = snap.MaxLevel
	h.tombstones = tombstones
	for pos, n := range h.nodes {
		if !tombstones.Contains(uint64(pos)) {
			h.ids[n.ID] = uint32(pos)
		}
	}
	return nil
}

// Reset drops every vector, clears the dimension and deletes the snapshot.
func (h *HNSW) Reset(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.resetLocked()
	return removeSnapshot(h.opts.Path)
}

// Close saves the index and rejects further use.
func (h *HNSW) Close() error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return nil
	}
	err := h.Save(context.Background())
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return err
}
