package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"docscope/internal/embeddings"
	"docscope/internal/store"
	"docscope/internal/vectorindex"
)

// ErrNoSections means no section of a PDF reached the minimum content length.
var ErrNoSections = errors.New("no sections extracted")

// IngestFile indexes the PDF at path. A file whose content hash is already
// known is not processed again unless opts.Fresh is set.
func (s *Service) IngestFile(ctx context.Context, path string, opts IngestOptions) (IngestResult, error) {
	filename := opts.Filename
	if filename == "" {
		filename = filepath.Base(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return IngestResult{}, fmt.Errorf("read %s: %w", filename, err)
	}
	docID := store.DocumentID(content)

	if !opts.Fresh {
		if existing, err := s.store.GetDocument(ctx, docID); err == nil {
			s.log.Info("document already indexed", "doc_id", docID, "filename", filename)
			return duplicateResult(existing), nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return IngestResult{}, fmt.Errorf("look up %s: %w", docID, err)
		}
	}

	start := time.Now()
	parsed, err := s.parser.Parse(ctx, content, filename)
	if err != nil {
		return IngestResult{}, fmt.Errorf("parse %s: %w", filename, err)
	}
	sections := s.extractor.Extract(parsed.Pages)
	if len(sections) == 0 {
		return IngestResult{}, fmt.Errorf("%s: %w", filename, ErrNoSections)
	}

	docPath := path
	if s.opts.UploadDir != "" {
		docPath = s.uploadPath(docID)
		if err := writeUpload(docPath, content); err != nil {
			return IngestResult{}, fmt.Errorf("store upload: %w", err)
		}
	}
	doc := store.NewDocument(docID, parsed.Title, filename, docPath, len(parsed.Pages), parsed.Metadata, sections, time.Now())
	if err := doc.Validate(); err != nil {
		return IngestResult{}, err
	}

	vectors, rows, skipped, err := s.embedSections(ctx, doc.Sections)
	if err != nil {
		return IngestResult{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !opts.Fresh {
		// Another ingestion of the same bytes may have finished meanwhile.
		if existing, err := s.store.GetDocument(ctx, docID); err == nil {
			return duplicateResult(existing), nil
		}
	}
	if err := s.store.Put(ctx, doc); err != nil {
		return IngestResult{}, fmt.Errorf("store document: %w", err)
	}
	if s.index.HasDocument(docID) {
		if _, err := s.index.RemoveDocument(docID); err != nil {
			return IngestResult{}, fmt.Errorf("replace index rows: %w", err)
		}
	}
	if err := s.index.Add(vectors, rows); err != nil {
		if derr := s.store.Delete(ctx, docID); derr != nil {
			s.log.Error("failed to roll back stored document", "doc_id", docID, "err", derr)
		}
		return IngestResult{}, fmt.Errorf("index document: %w", err)
	}
	s.index.PutDoc(docID, docMeta(doc))
	if err := s.save(); err != nil {
		return IngestResult{}, err
	}
	s.invalidate(ctx, docID)

	s.log.Info("document indexed",
		"doc_id", docID,
		"filename", filename,
		"pages", doc.PageCount,
		"sections", len(doc.Sections),
		"embedded", len(rows),
		"skipped", skipped,
		"duration", time.Since(start),
	)
	return IngestResult{
		DocID:     docID,
		Title:     doc.Title,
		Filename:  filename,
		PageCount: doc.PageCount,
		Sections:  len(doc.Sections),
		Embedded:  len(rows),
		Skipped:   skipped,
	}, nil
}

// IngestBatch ingests items on a bounded pool. One document failing never
// stops the others.
func (s *Service) IngestBatch(ctx context.Context, items []BatchItem, opts IngestOptions) BatchResult {
	results := make([]IngestResult, len(items))
	errs := make([]error, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, item := range items {
		g.Go(func() error {
			o := opts
			o.Filename = item.Filename
			results[i], errs[i] = s.IngestFile(gctx, item.Path, o)
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResult{Successful: []IngestResult{}, Failed: []BatchFailure{}}
	for i, item := range items {
		if errs[i] != nil {
			name := item.Filename
			if name == "" {
				name = filepath.Base(item.Path)
			}
			s.log.Warn("document failed", "filename", name, "err", errs[i])
			out.Failed = append(out.Failed, BatchFailure{Filename: name, Error: errs[i].Error()})
			continue
		}
		out.Successful = append(out.Successful, results[i])
	}
	return out
}

// embedSections embeds each section; sections whose embedding fails are
// skipped and counted. Only context cancellation is returned as an error.
func (s *Service) embedSections(ctx context.Context, sections []store.Section) ([]embeddings.Vector, []vectorindex.Row, int, error) {
	vectors := make([]embeddings.Vector, 0, len(sections))
	rows := make([]vectorindex.Row, 0, len(sections))
	skipped := 0
	for _, sec := range sections {
		row := toRow(sec)
		v, err := s.embedder.Embed(ctx, row.EmbeddingText())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, 0, ctxErr
			}
			s.log.Warn("skipping section", "section_id", sec.ID, "err", err)
			skipped++
			continue
		}
		vectors = append(vectors, v)
		rows = append(rows, row)
	}
	return vectors, rows, skipped, nil
}

// writeUpload stores the managed copy of a PDF unless it already exists.
// The name is the content hash, so concurrent writers always write identical bytes.
func writeUpload(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func duplicateResult(d store.Document) IngestResult {
	return IngestResult{
		DocID:     d.ID,
		Title:     d.Title,
		Filename:  d.Filename,
		PageCount: d.PageCount,
		Sections:  len(d.Sections),
		Duplicate: true,
	}
}
