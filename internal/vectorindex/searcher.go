package vectorindex

import (
	"fmt"

	"github.com/coder/hnsw"

	"docscope/internal/embeddings"
)

// searcher proposes candidate row ids; Index re-scores them exactly.
type searcher interface {
	add(id int, v embeddings.Vector)
	candidates(q embeddings.Vector, k, total int) []int
	len() int
}

func newSearcher(opts Options) (searcher, error) {
	switch opts.Backend {
	case BackendFlat, "":
		return &flatSearcher{}, nil
	case BackendHNSW:
		return newHNSWSearcher(opts.M, opts.EfSearch), nil
	default:
		return nil, fmt.Errorf("invalid index backend: %s (valid options: flat, hnsw)", opts.Backend)
	}
}

// flatSearcher scores every row.
type flatSearcher struct {
	n int
}

func (f *flatSearcher) add(int, embeddings.Vector) { f.n++ }

func (f *flatSearcher) candidates(_ embeddings.Vector, _ int, total int) []int {
	return allRows(total)
}

func allRows(total int) []int {
	ids := make([]int, total)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func (f *flatSearcher) len() int { return f.n }

// hnswSearcher narrows candidates with an HNSW graph keyed by row id.
type hnswSearcher struct {
	graph    *hnsw.Graph[int]
	efSearch int
}

// exactScanRows is the index size up to which the graph is bypassed and
// every row is re-scored.
const exactScanRows = 1024

func newHNSWSearcher(m, efSearch int) *hnswSearcher {
	g := hnsw.NewGraph[int]()
	g.Distance = hnsw.CosineDistance
	if m > 0 {
		g.M = m
	}
	if efSearch > 0 {
		g.EfSearch = efSearch
	}
	g.Ml = 0.25
	return &hnswSearcher{graph: g, efSearch: g.EfSearch}
}

func (h *hnswSearcher) add(id int, v embeddings.Vector) {
	h.graph.Add(hnsw.MakeNode(id, []float32(v)))
}

func (h *hnswSearcher) candidates(q embeddings.Vector, k, total int) []int {
	// Over-ask the graph; the exact re-score trims back to k.
	want := max(4*k, h.efSearch)
	if total <= exactScanRows || want >= total {
		return allRows(total)
	}
	nodes := h.graph.Search([]float32(q), want)
	ids := make([]int, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.Key)
	}
	return ids
}

func (h *hnswSearcher) len() int { return h.graph.Len() }
