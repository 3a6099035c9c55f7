// Package indexer is the service context: it owns the store, the vector index
// and its persistence, and runs ingestion, deletion and search on top of them.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"docscope/internal/cache"
	"docscope/internal/embeddings"
	"docscope/internal/extractor"
	"docscope/internal/persist"
	"docscope/internal/retrieval"
	"docscope/internal/store"
	"docscope/internal/vectorindex"
)

// Deps are the components a Service is built from.
type Deps struct {
	Store     store.Store
	Embedder  embeddings.Embedder
	Parser    Parser
	Extractor *extractor.Extractor
	Cache     cache.Cache
	Dir       *persist.Dir
}

// Options configures a Service.
type Options struct {
	UploadDir string
	Workers   int
	CacheTTL  time.Duration
	Index     vectorindex.Options
	Retrieval retrieval.Options
}

const DefaultWorkers = 4

// Service implements Manager.
type Service struct {
	store     store.Store
	embedder  embeddings.Embedder
	parser    Parser
	extractor *extractor.Extractor
	cache     cache.Cache
	dir       *persist.Dir
	index     *vectorindex.Index
	engine    *retrieval.Engine
	opts      Options
	log       *slog.Logger

	// writeMu serializes every change to the index, the store and the
	// persisted blobs so vectors and rows are never appended piecemeal.
	writeMu sync.Mutex
	// cacheGen counts invalidations; a search that raced one must not
	// leave its result behind.
	cacheGen atomic.Uint64
}

var _ Manager = (*Service)(nil)

// Open loads the persisted index, healing it if needed, reconciles it with
// the store and returns a ready Service.
func Open(ctx context.Context, deps Deps, opts Options, log *slog.Logger) (*Service, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewNoOpCache()
	}
	if deps.Extractor == nil {
		deps.Extractor = extractor.New(extractor.Options{})
	}
	if opts.UploadDir != "" {
		if err := os.MkdirAll(opts.UploadDir, 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
	}

	loaded, err := persist.Open(ctx, deps.Dir, opts.Index, deps.Embedder, log)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	s := &Service{
		store:     deps.Store,
		embedder:  deps.Embedder,
		parser:    deps.Parser,
		extractor: deps.Extractor,
		cache:     deps.Cache,
		dir:       deps.Dir,
		index:     loaded.Index,
		engine:    retrieval.NewEngine(loaded.Index, deps.Embedder, opts.Retrieval, log),
		opts:      opts,
		log:       log,
	}
	if err := s.reconcile(ctx); err != nil {
		return nil, err
	}
	log.Info("index ready",
		"vectors", s.index.Count(),
		"dim", opts.Index.Dim,
		"model", opts.Index.Model,
		"backend", s.index.Options().Backend,
		"rebuilt", loaded.Rebuilt,
	)
	return s, nil
}

// reconcile makes the index agree with the store, which is authoritative for
// documents: stored documents missing from the index are embedded, indexed
// documents missing from the store are dropped, and stale upload paths are
// repointed at the managed copy.
func (s *Service) reconcile(ctx context.Context) error {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	indexed := map[string]bool{}
	for _, r := range s.index.Rows() {
		indexed[r.DocID] = true
	}

	changed := false
	known := make(map[string]bool, len(docs))
	for _, d := range docs {
		known[d.ID] = true
		if path, ok := s.correctedPath(d); ok {
			s.log.Info("document path corrected", "doc_id", d.ID, "from", d.Path, "to", path)
			d.Path = path
			if err := s.store.Put(ctx, d); err != nil {
				return fmt.Errorf("update document path: %w", err)
			}
		}
		if meta, ok := s.index.Doc(d.ID); !ok || meta != docMeta(d) {
			s.index.PutDoc(d.ID, docMeta(d))
			changed = true
		}
		if !indexed[d.ID] && len(d.Sections) > 0 {
			vectors, rows, skipped, err := s.embedSections(ctx, d.Sections)
			if err != nil {
				return err
			}
			if err := s.index.Add(vectors, rows); err != nil {
				return fmt.Errorf("index document %s: %w", d.ID, err)
			}
			s.log.Info("indexed stored document missing from index", "doc_id", d.ID, "embedded", len(rows), "skipped", skipped)
			changed = true
		}
	}
	for id := range indexed {
		if !known[id] {
			if _, err := s.index.RemoveDocument(id); err != nil {
				return err
			}
			s.log.Warn("dropped index rows of unknown document", "doc_id", id)
			changed = true
		}
	}
	if changed {
		return s.save()
	}
	return nil
}

func (s *Service) correctedPath(d store.Document) (string, bool) {
	if s.opts.UploadDir == "" {
		return "", false
	}
	if d.Path != "" {
		if _, err := os.Stat(d.Path); err == nil {
			return "", false
		}
	}
	candidate := s.uploadPath(d.ID)
	if candidate == d.Path {
		return "", false
	}
	if _, err := os.Stat(candidate); err != nil {
		return "", false
	}
	return candidate, true
}

func (s *Service) uploadPath(docID string) string {
	return filepath.Join(s.opts.UploadDir, docID+".pdf")
}

// save persists the current index. Callers hold writeMu.
func (s *Service) save() error {
	if err := s.dir.Save(s.index.Snapshot()); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, docID string) {
	s.cacheGen.Add(1)
	if err := s.cache.InvalidateDocument(ctx, docID); err != nil {
		s.log.Warn("failed to invalidate cache", "doc_id", docID, "err", err)
	}
}

// Rebuild re-embeds every stored section and replaces the index.
func (s *Service) Rebuild(ctx context.Context) (vectorindex.RebuildStats, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return vectorindex.RebuildStats{}, fmt.Errorf("list documents: %w", err)
	}
	sortDocuments(docs)
	var rows []vectorindex.Row
	for _, d := range docs {
		for _, sec := range d.Sections {
			rows = append(rows, toRow(sec))
		}
	}
	stats, err := s.index.Rebuild(ctx, s.embedder, rows)
	if err != nil {
		return stats, fmt.Errorf("rebuild index: %w", err)
	}
	for _, d := range docs {
		s.index.PutDoc(d.ID, docMeta(d))
	}
	if err := s.save(); err != nil {
		return stats, err
	}
	s.invalidate(ctx, "")
	s.log.Info("index rebuilt", "embedded", stats.Embedded, "skipped", stats.Skipped)
	return stats, nil
}

// Close saves the index and releases the store and the cache.
func (s *Service) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return errors.Join(s.save(), s.store.Close(), s.cache.Close())
}

func docMeta(d store.Document) vectorindex.DocMeta {
	return vectorindex.DocMeta{Title: d.Title, Filename: d.Filename, Path: d.Path, PageCount: d.PageCount}
}

func toRow(sec store.Section) vectorindex.Row {
	return vectorindex.Row{
		DocID:     sec.DocID,
		SectionID: sec.ID,
		Heading:   sec.Heading,
		Level:     string(sec.Level),
		Content:   sec.Content,
		PageNum:   sec.PageNum,
		StartPage: sec.StartPage,
		EndPage:   sec.EndPage,
	}
}
