package vectorindex

import (
	"fmt"

	"docscope/internal/embeddings"
)

// Snapshot is a point-in-time copy of an index, used for persistence.
type Snapshot struct {
	Dim     int
	Model   string
	Backend Backend
	Vectors [][]float32
	Rows    []Row
	Docs    map[string]DocMeta
}

// Snapshot copies the index under the read lock.
func (ix *Index) Snapshot() Snapshot {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	snap := Snapshot{
		Dim:     ix.opts.Dim,
		Model:   ix.opts.Model,
		Backend: ix.opts.Backend,
		Vectors: make([][]float32, len(ix.vectors)),
		Rows:    make([]Row, len(ix.rows)),
		Docs:    make(map[string]DocMeta, len(ix.docs)),
	}
	for i, v := range ix.vectors {
		snap.Vectors[i] = append([]float32(nil), v...)
	}
	copy(snap.Rows, ix.rows)
	for id, meta := range ix.docs {
		snap.Docs[id] = meta
	}
	return snap
}

// FromSnapshot restores an index. It fails with ErrInconsistent when the vector
// and row counts differ and with ErrDimension when stored vectors do not fit opts.
func FromSnapshot(opts Options, snap Snapshot) (*Index, error) {
	if len(snap.Vectors) != len(snap.Rows) {
		return nil, fmt.Errorf("%w: %d vectors, %d rows", ErrInconsistent, len(snap.Vectors), len(snap.Rows))
	}
	ix, err := New(opts)
	if err != nil {
		return nil, err
	}
	vectors := make([]embeddings.Vector, len(snap.Vectors))
	for i, v := range snap.Vectors {
		vectors[i] = v
	}
	if err := ix.Add(vectors, snap.Rows); err != nil {
		return nil, err
	}
	for id, meta := range snap.Docs {
		ix.docs[id] = meta
	}
	return ix, nil
}
