// Package vectorindex is an in-memory inner-product index over normalized
// section embeddings with a parallel list of section metadata rows.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"docscope/internal/embeddings"
)

var (
	// ErrInconsistent means vector count and metadata row count disagree.
	ErrInconsistent = errors.New("index and metadata out of sync")
	// ErrDimension means a vector does not match the index dimension.
	ErrDimension = errors.New("vector dimension mismatch")
)

// embedTextLimit caps how much section content goes into a section embedding.
const embedTextLimit = 1000

// Row is the metadata kept for every indexed vector.
type Row struct {
	DocID     string `json:"doc_id"`
	SectionID string `json:"section_id"`
	Heading   string `json:"heading"`
	Level     string `json:"level"`
	Content   string `json:"content"`
	PageNum   int    `json:"page_num"`
	StartPage int    `json:"start_page"`
	EndPage   int    `json:"end_page"`
}

// EmbeddingText is the text a row's vector is computed from.
func (r Row) EmbeddingText() string {
	content := r.Content
	if runes := []rune(content); len(runes) > embedTextLimit {
		content = string(runes[:embedTextLimit])
	}
	return r.Heading + " " + content
}

// DocMeta is per-document data needed to render search results.
type DocMeta struct {
	Title     string `json:"title"`
	Filename  string `json:"filename"`
	Path      string `json:"path"`
	PageCount int    `json:"page_count"`
}

// Hit is a search result: a row position, its inner-product score and a copy
// of the row taken under the same lock as the scoring.
type Hit struct {
	Row     int
	Score   float32
	Section Row
}

// Backend selects the candidate search strategy.
type Backend string

const (
	BackendFlat Backend = "flat"
	BackendHNSW Backend = "hnsw"
)

// Options configures an Index.
type Options struct {
	Dim      int
	Model    string
	Backend  Backend
	M        int
	EfSearch int
}

// RebuildStats reports the outcome of Rebuild.
type RebuildStats struct {
	Embedded int
	Skipped  int
}

// Index holds vectors, rows and document metadata. All methods are safe for concurrent use;
// mutations take the write lock for their whole append or swap.
type Index struct {
	mu       sync.RWMutex
	opts     Options
	vectors  []embeddings.Vector
	rows     []Row
	docs     map[string]DocMeta
	searcher searcher
}

// New returns an empty index.
func New(opts Options) (*Index, error) {
	if opts.Dim <= 0 {
		return nil, fmt.Errorf("index dimension must be positive, got %d", opts.Dim)
	}
	if opts.Backend == "" {
		opts.Backend = BackendFlat
	}
	s, err := newSearcher(opts)
	if err != nil {
		return nil, err
	}
	return &Index{opts: opts, docs: make(map[string]DocMeta), searcher: s}, nil
}

// Options returns the index configuration.
func (ix *Index) Options() Options { return ix.opts }

// Add appends vectors and their rows as one step; on error nothing is added.
func (ix *Index) Add(vectors []embeddings.Vector, rows []Row) error {
	if len(vectors) != len(rows) {
		return fmt.Errorf("%w: %d vectors for %d rows", ErrInconsistent, len(vectors), len(rows))
	}
	normalized, err := ix.prepare(vectors)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i, v := range normalized {
		ix.searcher.add(len(ix.vectors), v)
		ix.vectors = append(ix.vectors, v)
		ix.rows = append(ix.rows, rows[i])
	}
	return ix.checkLocked()
}

func (ix *Index) prepare(vectors []embeddings.Vector) ([]embeddings.Vector, error) {
	out := make([]embeddings.Vector, len(vectors))
	for i, v := range vectors {
		if len(v) != ix.opts.Dim {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(v), ix.opts.Dim)
		}
		n, ok := embeddings.Normalize(v)
		if !ok {
			return nil, fmt.Errorf("%w: vector %d is degenerate", embeddings.ErrEmbeddingFailed, i)
		}
		out[i] = n
	}
	return out, nil
}

// Search returns up to k hits sorted by score, highest first.
func (ix *Index) Search(query embeddings.Vector, k int) ([]Hit, error) {
	if len(query) != ix.opts.Dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(query), ix.opts.Dim)
	}
	q, ok := embeddings.Normalize(query)
	if !ok {
		return nil, fmt.Errorf("%w: query vector is degenerate", embeddings.ErrEmbeddingFailed)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if k <= 0 || len(ix.vectors) == 0 {
		return nil, nil
	}
	if k > len(ix.vectors) {
		k = len(ix.vectors)
	}

	candidates := ix.searcher.candidates(q, k, len(ix.vectors))
	hits := make([]Hit, 0, len(candidates))
	for _, id := range candidates {
		hits = append(hits, Hit{Row: id, Score: embeddings.Dot(q, ix.vectors[id]), Section: ix.rows[id]})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Row < hits[j].Row
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Row returns the metadata row at position i.
func (ix *Index) Row(i int) (Row, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if i < 0 || i >= len(ix.rows) {
		return Row{}, false
	}
	return ix.rows[i], true
}

// Rows returns a copy of all metadata rows in index order.
func (ix *Index) Rows() []Row {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Row, len(ix.rows))
	copy(out, ix.rows)
	return out
}

// Count is the number of indexed vectors.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

// HasDocument reports whether any row belongs to docID.
func (ix *Index) HasDocument(docID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, r := range ix.rows {
		if r.DocID == docID {
			return true
		}
	}
	return false
}

// PutDoc records document metadata used when rendering results.
func (ix *Index) PutDoc(id string, meta DocMeta) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.docs[id] = meta
}

// Doc returns metadata for a document.
func (ix *Index) Doc(id string) (DocMeta, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	meta, ok := ix.docs[id]
	return meta, ok
}

// Retain rebuilds the index from scratch keeping only rows accepted by keep.
// Stored vectors are reused; nothing is re-embedded.
func (ix *Index) Retain(keep func(Row) bool) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	s, err := newSearcher(ix.opts)
	if err != nil {
		return 0, err
	}
	vectors := make([]embeddings.Vector, 0, len(ix.vectors))
	rows := make([]Row, 0, len(ix.rows))
	for i, r := range ix.rows {
		if !keep(r) {
			continue
		}
		s.add(len(vectors), ix.vectors[i])
		vectors = append(vectors, ix.vectors[i])
		rows = append(rows, r)
	}
	removed := len(ix.rows) - len(rows)
	ix.vectors, ix.rows, ix.searcher = vectors, rows, s
	return removed, ix.checkLocked()
}

// RemoveDocument drops every row and the metadata of docID.
func (ix *Index) RemoveDocument(docID string) (int, error) {
	removed, err := ix.Retain(func(r Row) bool { return r.DocID != docID })
	ix.mu.Lock()
	delete(ix.docs, docID)
	ix.mu.Unlock()
	return removed, err
}

// Rebuild clears the index and re-embeds every row. Rows whose embedding fails
// are dropped so the vector and row lists stay parallel. The swap happens only
// after all embeddings are computed.
func (ix *Index) Rebuild(ctx context.Context, embedder embeddings.Embedder, rows []Row) (RebuildStats, error) {
	var stats RebuildStats
	vectors := make([]embeddings.Vector, 0, len(rows))
	kept := make([]Row, 0, len(rows))
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		v, err := embedder.Embed(ctx, r.EmbeddingText())
		if err == nil {
			v, err = ix.prepareOne(v)
		}
		if err != nil {
			stats.Skipped++
			continue
		}
		vectors = append(vectors, v)
		kept = append(kept, r)
	}

	s, err := newSearcher(ix.opts)
	if err != nil {
		return stats, err
	}
	for i, v := range vectors {
		s.add(i, v)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.vectors, ix.rows, ix.searcher = vectors, kept, s
	stats.Embedded = len(vectors)
	return stats, ix.checkLocked()
}

func (ix *Index) prepareOne(v embeddings.Vector) (embeddings.Vector, error) {
	out, err := ix.prepare([]embeddings.Vector{v})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (ix *Index) checkLocked() error {
	if len(ix.vectors) != len(ix.rows) || ix.searcher.len() != len(ix.rows) {
		return fmt.Errorf("%w: %d vectors, %d rows", ErrInconsistent, len(ix.vectors), len(ix.rows))
	}
	return nil
}
