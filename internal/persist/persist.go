// Package persist writes the vector index and its metadata to a directory and
// restores them, rebuilding the index when the two disagree.
package persist

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"docscope/internal/embeddings"
	"docscope/internal/vectorindex"
)

const (
	IndexFile    = "index.gob"
	MetadataFile = "metadata.json"
	lockFile     = ".index.lock"

	formatVersion = 1
)

type indexBlob struct {
	Version int
	Dim     int
	Model   string
	Backend string
	Vectors [][]float32
}

type metadataBlob struct {
	Version int                            `json:"version"`
	SavedAt time.Time                      `json:"saved_at"`
	Docs    map[string]vectorindex.DocMeta `json:"documents"`
	Rows    []vectorindex.Row              `json:"sections"`
}

// Dir is a directory holding the index blob and the metadata blob. The file
// lock guards against other processes; mu guards goroutines sharing this Dir.
type Dir struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewDir creates the directory if needed.
func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	return &Dir{path: path, lock: flock.New(filepath.Join(path, lockFile))}, nil
}

// Path returns the directory path.
func (d *Dir) Path() string { return d.path }

// Save writes the index blob, then the metadata blob. Each file is replaced
// atomically; a crash between the two is caught by the count check on load.
func (d *Dir) Save(snap vectorindex.Snapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire index lock: %w", err)
	}
	defer d.lock.Unlock()

	idx := indexBlob{
		Version: formatVersion,
		Dim:     snap.Dim,
		Model:   snap.Model,
		Backend: string(snap.Backend),
		Vectors: snap.Vectors,
	}
	if err := writeFile(filepath.Join(d.path, IndexFile), func(f *os.File) error {
		return gob.NewEncoder(f).Encode(idx)
	}); err != nil {
		return fmt.Errorf("write index blob: %w", err)
	}

	meta := metadataBlob{Version: formatVersion, SavedAt: time.Now().UTC(), Docs: snap.Docs, Rows: snap.Rows}
	if err := writeFile(filepath.Join(d.path, MetadataFile), func(f *os.File) error {
		enc := json.NewEncoder(f)
		return enc.Encode(meta)
	}); err != nil {
		return fmt.Errorf("write metadata blob: %w", err)
	}
	return nil
}

// Load reads both blobs. found is false when neither exists. A missing or
// undecodable index blob yields a snapshot without vectors so the caller sees
// a count mismatch; an undecodable metadata blob is an error.
func (d *Dir) Load() (snap vectorindex.Snapshot, found bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lock.RLock(); err != nil {
		return snap, false, fmt.Errorf("failed to acquire index lock: %w", err)
	}
	defer d.lock.Unlock()

	metaBytes, metaErr := os.ReadFile(filepath.Join(d.path, MetadataFile))
	idxFile, idxErr := os.Open(filepath.Join(d.path, IndexFile))
	if errors.Is(metaErr, os.ErrNotExist) && errors.Is(idxErr, os.ErrNotExist) {
		return snap, false, nil
	}

	snap.Docs = make(map[string]vectorindex.DocMeta)
	if metaErr == nil {
		var meta metadataBlob
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			if idxErr == nil {
				idxFile.Close()
			}
			return snap, true, fmt.Errorf("decode metadata blob: %w", err)
		}
		snap.Rows = meta.Rows
		if meta.Docs != nil {
			snap.Docs = meta.Docs
		}
	} else if !errors.Is(metaErr, os.ErrNotExist) {
		if idxErr == nil {
			idxFile.Close()
		}
		return snap, true, fmt.Errorf("read metadata blob: %w", metaErr)
	}

	if idxErr == nil {
		defer idxFile.Close()
		var idx indexBlob
		if err := gob.NewDecoder(idxFile).Decode(&idx); err == nil {
			snap.Dim = idx.Dim
			snap.Model = idx.Model
			snap.Backend = vectorindex.Backend(idx.Backend)
			snap.Vectors = idx.Vectors
		}
	}
	return snap, true, nil
}

func writeFile(path string, encode func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := encode(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// LoadResult describes how an index was opened.
type LoadResult struct {
	Index   *vectorindex.Index
	Found   bool
	Rebuilt bool
	Reason  string
	Stats   vectorindex.RebuildStats
}

// Open loads the persisted index, or starts empty when nothing is stored.
// When vector and row counts, dimension or model disagree with opts the index
// is rebuilt from the stored rows by re-embedding them, then saved again.
func Open(ctx context.Context, d *Dir, opts vectorindex.Options, embedder embeddings.Embedder, log *slog.Logger) (LoadResult, error) {
	snap, found, err := d.Load()
	if err != nil {
		return LoadResult{}, err
	}
	if !found {
		ix, err := vectorindex.New(opts)
		return LoadResult{Index: ix}, err
	}

	reason := ""
	switch {
	case len(snap.Vectors) != len(snap.Rows):
		reason = fmt.Sprintf("count mismatch: %d vectors, %d rows", len(snap.Vectors), len(snap.Rows))
	case snap.Dim != opts.Dim:
		reason = fmt.Sprintf("dimension changed: %d -> %d", snap.Dim, opts.Dim)
	case snap.Model != opts.Model:
		reason = fmt.Sprintf("model changed: %q -> %q", snap.Model, opts.Model)
	}

	if reason == "" {
		ix, err := vectorindex.FromSnapshot(opts, snap)
		if err == nil {
			return LoadResult{Index: ix, Found: true}, nil
		}
		reason = err.Error()
	}

	log.Warn("persisted index inconsistent; rebuilding", "reason", reason, "rows", len(snap.Rows))
	ix, err := vectorindex.New(opts)
	if err != nil {
		return LoadResult{}, err
	}
	for id, meta := range snap.Docs {
		ix.PutDoc(id, meta)
	}
	stats, err := ix.Rebuild(ctx, embedder, snap.Rows)
	if err != nil {
		return LoadResult{}, fmt.Errorf("rebuild index: %w", err)
	}
	if err := d.Save(ix.Snapshot()); err != nil {
		return LoadResult{}, err
	}
	log.Info("index rebuilt", "embedded", stats.Embedded, "skipped", stats.Skipped)
	return LoadResult{Index: ix, Found: true, Rebuilt: true, Reason: reason, Stats: stats}, nil
}
