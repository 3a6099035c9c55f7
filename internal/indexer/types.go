package indexer

import (
	"context"
	"time"

	"docscope/internal/pdftext"
	"docscope/internal/retrieval"
	"docscope/internal/store"
	"docscope/internal/vectorindex"
)

// Parser turns raw PDF bytes into pages. *pdftext.Reader implements it.
type Parser interface {
	Parse(ctx context.Context, content []byte, filename string) (pdftext.Document, error)
}

// Manager is everything the HTTP and CLI surfaces need from the service.
type Manager interface {
	IngestFile(ctx context.Context, path string, opts IngestOptions) (IngestResult, error)
	IngestBatch(ctx context.Context, items []BatchItem, opts IngestOptions) BatchResult
	GetDocument(ctx context.Context, docID string) (store.Document, error)
	ListDocuments(ctx context.Context) ([]DocumentSummary, error)
	GetSection(ctx context.Context, docID, sectionID string) (store.Section, error)
	Navigate(ctx context.Context, docID, sectionID string) (Navigation, error)
	Delete(ctx context.Context, docID string) error
	SearchRelated(ctx context.Context, req SearchRequest) (SearchResponse, error)
	Stats(ctx context.Context) (Stats, error)
	Rebuild(ctx context.Context) (vectorindex.RebuildStats, error)
}

// IngestOptions controls a single ingestion.
type IngestOptions struct {
	// Filename overrides the name taken from the path, e.g. for uploads
	// staged under a temporary name.
	Filename string
	// Fresh re-processes a document even when its content hash is known.
	Fresh bool
}

// IngestResult describes one ingested document.
type IngestResult struct {
	DocID     string `json:"doc_id"`
	Title     string `json:"title"`
	Filename  string `json:"filename"`
	PageCount int    `json:"pages"`
	Sections  int    `json:"sections"`
	Embedded  int    `json:"embedded"`
	Skipped   int    `json:"skipped"`
	Duplicate bool   `json:"duplicate"`
}

// BatchItem is one file of a batch.
type BatchItem struct {
	Path     string
	Filename string
}

// BatchFailure records a document that could not be ingested.
type BatchFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// BatchResult partitions a batch into successes and failures, each in input order.
type BatchResult struct {
	Successful []IngestResult `json:"successful"`
	Failed     []BatchFailure `json:"failed"`
}

// DocumentSummary is a document without its section bodies.
type DocumentSummary struct {
	DocID     string    `json:"doc_id"`
	Title     string    `json:"title"`
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	PageCount int       `json:"pages"`
	Sections  int       `json:"sections"`
	CreatedAt time.Time `json:"created_at"`
}

// Location tells a viewer where to scroll.
type Location struct {
	Left int `json:"left"`
	Top  int `json:"top"`
}

// NavTarget is the page a viewer should open.
type NavTarget struct {
	Page     int      `json:"page"`
	Location Location `json:"location"`
}

// Navigation is what a viewer needs to jump to a section.
type Navigation struct {
	DocID      string    `json:"doc_id"`
	DocPath    string    `json:"doc_path"`
	DocTitle   string    `json:"doc_title"`
	SectionID  string    `json:"section_id"`
	Heading    string    `json:"heading"`
	PageNum    int       `json:"page_num"`
	StartPage  int       `json:"start_page"`
	EndPage    int       `json:"end_page"`
	PrevID     string    `json:"prev_section_id,omitempty"`
	NextID     string    `json:"next_section_id,omitempty"`
	Navigation NavTarget `json:"navigation"`
}

// SearchRequest is a related-section query.
type SearchRequest struct {
	SelectedText string
	CurrentDocID string
	TopK         int
}

// SearchResponse wraps related-section results.
type SearchResponse struct {
	SelectedText    string                     `json:"selected_text"`
	CurrentDocID    string                     `json:"current_doc_id,omitempty"`
	RelatedSections []retrieval.RelatedSection `json:"related_sections"`
	ProcessingTime  float64                    `json:"processing_time"`
	FromCache       bool                       `json:"from_cache"`
}

// Stats summarizes the corpus and the index.
type Stats struct {
	TotalDocuments        int     `json:"total_documents"`
	TotalSections         int     `json:"total_sections"`
	TotalPages            int     `json:"total_pages"`
	AverageSectionsPerDoc float64 `json:"average_sections_per_doc"`
	AveragePagesPerDoc    float64 `json:"average_pages_per_doc"`
	IndexedVectors        int     `json:"indexed_vectors"`
	EmbeddingDim          int     `json:"embedding_dim"`
	EmbeddingModel        string  `json:"embedding_model"`
	IndexBackend          string  `json:"index_backend"`
}
