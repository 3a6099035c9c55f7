// Package retrieval finds sections in other documents that relate to a text
// selection.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"docscope/internal/embeddings"
	"docscope/internal/snippet"
	"docscope/internal/vectorindex"
)

// ErrQueryTooShort is returned for selections under the minimum length.
var ErrQueryTooShort = errors.New("selected text too short")

const (
	DefaultTopK          = 5
	DefaultMinScore      = 0.3
	DefaultSnippetLength = 3
	DefaultMinQueryChars = 5

	// NoMinScore disables the similarity floor.
	NoMinScore = -1.0

	overFetch = 3
)

// RelatedSection is one search result.
type RelatedSection struct {
	DocID           string        `json:"doc_id"`
	DocTitle        string        `json:"doc_title"`
	DocPath         string        `json:"doc_path"`
	SectionID       string        `json:"section_id"`
	Heading         string        `json:"heading"`
	Level           string        `json:"level"`
	PageNum         int           `json:"page_num"`
	StartPage       int           `json:"start_page"`
	EndPage         int           `json:"end_page"`
	Snippet         string        `json:"snippet"`
	SimilarityScore float64       `json:"similarity_score"`
	RelevanceType   RelevanceType `json:"relevance_type"`
}

// Options tunes the engine. Zero values take the defaults above; use
// NoMinScore to keep every hit regardless of score.
type Options struct {
	TopK          int
	MinScore      float64
	SnippetLength int
	MinQueryChars int
	Classifier    RelevanceClassifier
}

// Engine runs related-section searches against an index.
type Engine struct {
	index    *vectorindex.Index
	embedder embeddings.Embedder
	snippets *snippet.Extractor
	opts     Options
	log      *slog.Logger
}

// NewEngine wires an engine over index, embedding queries with embedder.
func NewEngine(index *vectorindex.Index, embedder embeddings.Embedder, opts Options, log *slog.Logger) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	switch {
	case opts.MinScore == 0:
		opts.MinScore = DefaultMinScore
	case opts.MinScore < 0:
		opts.MinScore = 0
	}
	if opts.SnippetLength <= 0 {
		opts.SnippetLength = DefaultSnippetLength
	}
	if opts.MinQueryChars <= 0 {
		opts.MinQueryChars = DefaultMinQueryChars
	}
	if opts.Classifier == nil {
		opts.Classifier = NewLexicalClassifier()
	}
	return &Engine{index: index, embedder: embedder, snippets: snippet.New(), opts: opts, log: log}
}

// Options returns the effective engine options.
func (e *Engine) Options() Options { return e.opts }

// SearchRelated returns up to topK sections from documents other than
// currentDocID whose similarity to text is at least the minimum score,
// highest first. An empty index yields an empty list. topK <= 0 uses the default.
func (e *Engine) SearchRelated(ctx context.Context, text, currentDocID string, topK int) ([]RelatedSection, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < e.opts.MinQueryChars {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrQueryTooShort, e.opts.MinQueryChars)
	}
	if topK <= 0 {
		topK = e.opts.TopK
	}
	results := []RelatedSection{}
	count := e.index.Count()
	if count == 0 {
		return results, nil
	}

	query, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed selection: %w", err)
	}
	hits, err := e.index.Search(query, min(topK*overFetch, count))
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	sorted := sort.SliceIsSorted(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	seen := make(map[[2]string]struct{}, len(hits))
	for _, hit := range hits {
		row := hit.Section
		if currentDocID != "" && row.DocID == currentDocID {
			continue
		}
		key := [2]string{row.DocID, row.SectionID}
		if _, dup := seen[key]; dup {
			continue
		}
		if float64(hit.Score) < e.opts.MinScore {
			if sorted {
				break
			}
			continue
		}
		seen[key] = struct{}{}
		results = append(results, e.build(text, row, hit.Score))
		if len(results) == topK {
			break
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].SimilarityScore > results[j].SimilarityScore })
	if len(results) > topK {
		results = results[:topK]
	}
	e.log.Debug("related search", "candidates", len(hits), "results", len(results), "exclude_doc", currentDocID)
	return results, nil
}

func (e *Engine) build(query string, row vectorindex.Row, score float32) RelatedSection {
	meta, _ := e.index.Doc(row.DocID)
	return RelatedSection{
		DocID:           row.DocID,
		DocTitle:        meta.Title,
		DocPath:         meta.Path,
		SectionID:       row.SectionID,
		Heading:         row.Heading,
		Level:           row.Level,
		PageNum:         row.PageNum,
		StartPage:       row.StartPage,
		EndPage:         row.EndPage,
		Snippet:         e.snippets.Extract(row.Content, query, e.opts.SnippetLength),
		SimilarityScore: clamp(float64(score)),
		RelevanceType:   e.opts.Classifier.Classify(query, row.Content),
	}
}

func clamp(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
