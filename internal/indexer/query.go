package indexer

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"docscope/internal/cache"
	"docscope/internal/retrieval"
	"docscope/internal/store"
)

// navTop is the approximate scroll offset a viewer uses when jumping to a page.
const navTop = 100

func (s *Service) GetDocument(ctx context.Context, docID string) (store.Document, error) {
	return s.store.GetDocument(ctx, docID)
}

// ListDocuments returns summaries, oldest first.
func (s *Service) ListDocuments(ctx context.Context) ([]DocumentSummary, error) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	sortDocuments(docs)
	out := make([]DocumentSummary, len(docs))
	for i, d := range docs {
		out[i] = DocumentSummary{
			DocID:     d.ID,
			Title:     d.Title,
			Filename:  d.Filename,
			Path:      d.Path,
			PageCount: d.PageCount,
			Sections:  len(d.Sections),
			CreatedAt: d.CreatedAt,
		}
	}
	return out, nil
}

func (s *Service) GetSection(ctx context.Context, docID, sectionID string) (store.Section, error) {
	return s.store.GetSection(ctx, docID, sectionID)
}

// Navigate resolves a section to the page a viewer should open, with the ids
// of its neighbours in reading order.
func (s *Service) Navigate(ctx context.Context, docID, sectionID string) (Navigation, error) {
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return Navigation{}, err
	}
	for i, sec := range doc.Sections {
		if sec.ID != sectionID {
			continue
		}
		nav := Navigation{
			DocID:      doc.ID,
			DocPath:    doc.Path,
			DocTitle:   doc.Title,
			SectionID:  sec.ID,
			Heading:    sec.Heading,
			PageNum:    sec.PageNum,
			StartPage:  sec.StartPage,
			EndPage:    sec.EndPage,
			Navigation: NavTarget{Page: sec.PageNum, Location: Location{Left: 0, Top: navTop}},
		}
		if i > 0 {
			nav.PrevID = doc.Sections[i-1].ID
		}
		if i < len(doc.Sections)-1 {
			nav.NextID = doc.Sections[i+1].ID
		}
		return nav, nil
	}
	return Navigation{}, fmt.Errorf("section %s in %s: %w", sectionID, docID, store.ErrNotFound)
}

// Delete removes a document, its index rows and its managed upload.
func (s *Service) Delete(ctx context.Context, docID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, docID); err != nil {
		return err
	}
	removed, err := s.index.RemoveDocument(docID)
	if err != nil {
		return fmt.Errorf("remove index rows: %w", err)
	}
	if err := s.save(); err != nil {
		return err
	}
	if s.opts.UploadDir != "" && doc.Path == s.uploadPath(docID) {
		if err := os.Remove(doc.Path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove upload", "path", doc.Path, "err", err)
		}
	}
	s.invalidate(ctx, docID)
	s.log.Info("document deleted", "doc_id", docID, "rows_removed", removed)
	return nil
}

// SearchRelated answers from the cache when it can and fills it otherwise.
func (s *Service) SearchRelated(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	start := time.Now()
	topK := req.TopK
	if topK <= 0 {
		topK = s.engine.Options().TopK
	}
	resp := SearchResponse{SelectedText: req.SelectedText, CurrentDocID: req.CurrentDocID}
	key := cache.Key(req.SelectedText, req.CurrentDocID, topK)

	if cached, found, err := s.cache.GetRelated(ctx, key); err != nil {
		s.log.Warn("cache read failed", "err", err)
	} else if found {
		if cached == nil {
			cached = []retrieval.RelatedSection{}
		}
		resp.RelatedSections = cached
		resp.FromCache = true
		resp.ProcessingTime = time.Since(start).Seconds()
		return resp, nil
	}

	gen := s.cacheGen.Load()
	results, err := s.engine.SearchRelated(ctx, req.SelectedText, req.CurrentDocID, topK)
	if err != nil {
		return SearchResponse{}, err
	}
	s.fillCache(ctx, key, results, gen)
	resp.RelatedSections = results
	resp.ProcessingTime = time.Since(start).Seconds()
	s.log.Info("related sections found", "results", len(results), "duration", time.Since(start))
	return resp, nil
}

// fillCache stores results computed at cache generation gen. An invalidation
// that lands before or during the write means the results may predate the
// change, so the entry is skipped or purged again.
func (s *Service) fillCache(ctx context.Context, key string, results []retrieval.RelatedSection, gen uint64) {
	if s.cacheGen.Load() != gen {
		return
	}
	if err := s.cache.SetRelated(ctx, key, results, s.opts.CacheTTL); err != nil {
		s.log.Warn("failed to cache result", "err", err)
		return
	}
	if s.cacheGen.Load() != gen {
		s.log.Debug("index changed during search, dropping cached result")
		s.invalidate(ctx, "")
	}
}

// Stats counts documents, sections and pages and describes the index.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return Stats{}, err
	}
	opts := s.index.Options()
	st := Stats{
		TotalDocuments: len(docs),
		IndexedVectors: s.index.Count(),
		EmbeddingDim:   opts.Dim,
		EmbeddingModel: opts.Model,
		IndexBackend:   string(opts.Backend),
	}
	for _, d := range docs {
		st.TotalSections += len(d.Sections)
		st.TotalPages += d.PageCount
	}
	n := float64(max(len(docs), 1))
	st.AverageSectionsPerDoc = float64(st.TotalSections) / n
	st.AveragePagesPerDoc = float64(st.TotalPages) / n
	return st, nil
}

func sortDocuments(docs []store.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}
