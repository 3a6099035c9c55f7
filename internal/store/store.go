package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"docscope/internal/extractor"
)

// ErrNotFound is returned when a document or section does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidDocument wraps validation failures at the store boundary.
var ErrInvalidDocument = errors.New("invalid document")

// Section is a persisted section of a document.
type Section struct {
	ID        string          `json:"section_id"`
	DocID     string          `json:"doc_id"`
	Heading   string          `json:"heading"`
	Level     extractor.Level `json:"level"`
	Content   string          `json:"content"`
	PageNum   int             `json:"page_num"`
	StartPage int             `json:"start_page"`
	EndPage   int             `json:"end_page"`
	WordCount int             `json:"word_count"`
}

// Document is an ingested PDF and its sections in reading order.
type Document struct {
	ID        string            `json:"doc_id"`
	Title     string            `json:"title"`
	Filename  string            `json:"filename"`
	Path      string            `json:"path"`
	PageCount int               `json:"page_count"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Sections  []Section         `json:"sections"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store holds documents keyed by content-derived id.
type Store interface {
	// Put inserts or replaces a document and all its sections.
	Put(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (Document, error)
	GetSection(ctx context.Context, docID, sectionID string) (Section, error)
	// ListDocuments returns every document; order is unspecified.
	ListDocuments(ctx context.Context) ([]Document, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// DocumentID derives a stable id from file content.
func DocumentID(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:16]
}

// SectionID numbers sections within a document, starting at 1.
func SectionID(docID string, n int) string {
	return fmt.Sprintf("%s_s%d", docID, n)
}

// NewDocument assigns ids to extracted sections and builds a Document.
func NewDocument(id, title, filename, path string, pageCount int, metadata map[string]string, extracted []extractor.Section, now time.Time) Document {
	sections := make([]Section, len(extracted))
	for i, s := range extracted {
		sections[i] = Section{
			ID:        SectionID(id, i+1),
			DocID:     id,
			Heading:   s.Heading,
			Level:     s.Level,
			Content:   s.Content,
			PageNum:   s.PageNum,
			StartPage: s.StartPage,
			EndPage:   s.EndPage,
			WordCount: s.WordCount,
		}
	}
	return Document{
		ID:        id,
		Title:     title,
		Filename:  filename,
		Path:      path,
		PageCount: pageCount,
		Metadata:  metadata,
		Sections:  sections,
		CreatedAt: now.UTC(),
	}
}

// Section finds a section by id with a linear scan.
func (d Document) Section(id string) (Section, bool) {
	for _, s := range d.Sections {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}

// Validate checks the fixed-shape invariants every stored document must satisfy.
func (d Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDocument)
	}
	if d.PageCount < 0 {
		return fmt.Errorf("%w: negative page count", ErrInvalidDocument)
	}
	seen := make(map[string]struct{}, len(d.Sections))
	for _, s := range d.Sections {
		if s.ID == "" {
			return fmt.Errorf("%w: section without id", ErrInvalidDocument)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: duplicate section %s", ErrInvalidDocument, s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.DocID != d.ID {
			return fmt.Errorf("%w: section %s belongs to %q", ErrInvalidDocument, s.ID, s.DocID)
		}
		if s.Content == "" {
			return fmt.Errorf("%w: section %s has no content", ErrInvalidDocument, s.ID)
		}
		if s.StartPage > s.PageNum || s.PageNum > s.EndPage || s.StartPage < 1 {
			return fmt.Errorf("%w: section %s pages %d/%d/%d", ErrInvalidDocument, s.ID, s.StartPage, s.PageNum, s.EndPage)
		}
		switch s.Level {
		case extractor.H1, extractor.H2, extractor.H3:
		default:
			return fmt.Errorf("%w: section %s level %q", ErrInvalidDocument, s.ID, s.Level)
		}
	}
	return nil
}
