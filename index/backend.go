package index

import (
	"cmp"
	"math"
	"slices"

	"github.com/coder/hnsw"
)

// Candidate is a raw nearest-neighbour match from a Backend.
type Candidate struct {
	ID       string
	Distance float64
}

// Backend is the search strategy behind an Index. Backends only deal with
// ids and vectors; metadata, filtering and score normalisation stay in Index.
// Backends are not required to be safe for concurrent use.
type Backend interface {
	// Add stores vec under id. Ids are unique for the life of the backend.
	Add(id string, vec []float32)

	// Remove drops id. Unknown ids are ignored.
	Remove(id string)

	// Search returns up to n live candidates ordered by ascending distance.
	Search(query []float32, n int) []Candidate

	// Len returns the number of live vectors.
	Len() int

	// Reset drops every vector.
	Reset()
}

// Flat is the exact backend: every search compares the query with every
// stored vector. Ties are broken by insertion order.
type Flat struct {
	items []flatItem
	pos   map[string]int
	seq   uint64
}

type flatItem struct {
	id  string
	vec []float32
	seq uint64
}

// NewFlat creates an exact backend.
func NewFlat() *Flat {
	return &Flat{pos: make(map[string]int)}
}

// Add stores vec under id.
func (f *Flat) Add(id string, vec []float32) {
	if i, ok := f.pos[id]; ok {
		f.items[i].vec = vec
		return
	}
	f.seq++
	f.pos[id] = len(f.items)
	f.items = append(f.items, flatItem{id: id, vec: vec, seq: f.seq})
}

// Remove drops id by swapping the last item into its slot.
func (f *Flat) Remove(id string) {
	i, ok := f.pos[id]
	if !ok {
		return
	}
	last := len(f.items) - 1
	if i != last {
		f.items[i] = f.items[last]
		f.pos[f.items[i].id] = i
	}
	f.items = f.items[:last]
	delete(f.pos, id)
}

// Search scans every stored vector.
func (f *Flat) Search(query []float32, n int) []Candidate {
	if n <= 0 || len(f.items) == 0 {
		return nil
	}

	type scored struct {
		Candidate
		seq uint64
	}
	all := make([]scored, len(f.items))
	for i, it := range f.items {
		all[i] = scored{Candidate{ID: it.id, Distance: euclidean(query, it.vec)}, it.seq}
	}

	slices.SortFunc(all, func(a, b scored) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	n = min(n, len(all))
	out := make([]Candidate, n)
	for i := range out {
		out[i] = all[i].Candidate
	}
	return out
}

// Len returns the number of stored vectors.
func (f *Flat) Len() int {
	return len(f.items)
}

// Reset drops every vector.
func (f *Flat) Reset() {
	f.items = nil
	f.pos = make(map[string]int)
}

// HNSWOptions tunes the approximate backend. Zero values keep the library defaults.
type HNSWOptions struct {
	// M is the maximum number of neighbours per node.
	M int
	// EfSearch is the candidate list size used during search.
	EfSearch int
	// Ml is the level generation factor.
	Ml float64
}

// HNSW is an approximate backend built on a hierarchical navigable small
// world graph. Search cost grows logarithmically with the number of vectors
// at the price of occasionally missing a true nearest neighbour.
//
// Removed ids are tombstoned rather than deleted from the graph, since
// deleting nodes from a hnsw.Graph can corrupt its neighbour lists. The
// graph is rebuilt from the live vectors once tombstones outnumber them.
type HNSW struct {
	opts  HNSWOptions
	graph *hnsw.Graph[string]
	live  map[string]hnswItem
	dead  map[string]struct{}
	seq   uint64
}

type hnswItem struct {
	vec []float32
	seq uint64
}

// NewHNSW creates an approximate backend.
func NewHNSW(opts HNSWOptions) *HNSW {
	h := &HNSW{opts: opts}
	h.Reset()
	return h
}

// Add inserts vec under id. Re-adding a known id rebuilds the graph.
func (h *HNSW) Add(id string, vec []float32) {
	_, isLive := h.live[id]
	_, isDead := h.dead[id]

	h.seq++
	h.live[id] = hnswItem{vec: vec, seq: h.seq}
	if isLive || isDead {
		delete(h.dead, id)
		h.rebuild()
		return
	}
	h.graph.Add(hnsw.MakeNode(id, vec))
}

// Remove tombstones id.
func (h *HNSW) Remove(id string) {
	if _, ok := h.live[id]; !ok {
		return
	}
	delete(h.live, id)
	h.dead[id] = struct{}{}

	if len(h.dead) > len(h.live) {
		h.rebuild()
	}
}

// Search walks the graph for the n nearest live vectors. The graph is
// asked for n plus the tombstone count so skipped ids do not shrink the
// result, and the search width is raised to match when EfSearch is smaller.
func (h *HNSW) Search(query []float32, n int) []Candidate {
	if n <= 0 || len(h.live) == 0 {
		return nil
	}

	want := min(n+len(h.dead), h.graph.Len())
	ef := h.graph.EfSearch
	if ef < want {
		h.graph.EfSearch = want
		defer func() { h.graph.EfSearch = ef }()
	}

	nodes := h.graph.Search(query, want)
	out := make([]Candidate, 0, min(n, len(nodes)))
	for _, node := range nodes {
		if _, gone := h.dead[node.Key]; gone {
			continue
		}
		out = append(out, Candidate{ID: node.Key, Distance: euclidean(query, node.Value)})
	}

	slices.SortStableFunc(out, func(a, b Candidate) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Len returns the number of live vectors.
func (h *HNSW) Len() int {
	return len(h.live)
}

// Tombstones returns the number of removed ids still held by the graph.
func (h *HNSW) Tombstones() int {
	return len(h.dead)
}

// Reset replaces the graph with an empty one.
func (h *HNSW) Reset() {
	h.graph = h.newGraph()
	h.live = make(map[string]hnswItem)
	h.dead = make(map[string]struct{})
}

// rebuild replaces the graph with one holding only the live vectors, in
// their original insertion order.
func (h *HNSW) rebuild() {
	ids := make([]string, 0, len(h.live))
	for id := range h.live {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Compare(h.live[a].seq, h.live[b].seq)
	})

	h.graph = h.newGraph()
	h.dead = make(map[string]struct{})
	for _, id := range ids {
		h.graph.Add(hnsw.MakeNode(id, h.live[id].vec))
	}
}

func (h *HNSW) newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.Distance = hnsw.EuclideanDistance
	if h.opts.M > 0 {
		g.M = h.opts.M
	}
	if h.opts.EfSearch > 0 {
		g.EfSearch = h.opts.EfSearch
	}
	if h.opts.Ml > 0 {
		g.Ml = h.opts.Ml
	}
	return g
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
