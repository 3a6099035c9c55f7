package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

var infoKeys = []string{"Author", "Subject", "Keywords", "Creator", "Producer"}

// Reader extracts page text from PDF files.
type Reader struct {
	log *slog.Logger
}

// NewReader creates a PDF reader.
func NewReader(log *slog.Logger) *Reader {
	return &Reader{log: log}
}

// Read parses the PDF at path.
func (r *Reader) Read(ctx context.Context, path string) (Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read pdf: %w", err)
	}
	return r.Parse(ctx, content, filepath.Base(path))
}

// Parse extracts pages, title and metadata from raw PDF bytes.
func (r *Reader) Parse(ctx context.Context, content []byte, filename string) (doc Document, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("parse pdf: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return Document{}, fmt.Errorf("open pdf: %w", err)
	}
	numPages := reader.NumPage()
	if numPages == 0 {
		return Document{}, ErrNoText
	}

	pages := make([]Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}
		page := reader.Page(i)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			pages = append(pages, Page{Number: i})
			continue
		}
		lines, lerr := styledLines(page)
		if lerr != nil || len(lines) == 0 {
			if lerr != nil {
				r.log.Debug("glyph extraction failed; using plain text", "page", i, "err", lerr)
			}
			lines = plainLines(page)
		}
		pages = append(pages, Page{Number: i, Lines: lines})
	}

	doc = Document{Pages: pages, Metadata: make(map[string]string)}
	info := reader.Trailer().Key("Info")
	metaTitle := ""
	if !info.IsNull() {
		metaTitle = info.Key("Title").Text()
		for _, key := range infoKeys {
			if v := strings.TrimSpace(info.Key(key).Text()); v != "" {
				doc.Metadata[strings.ToLower(key)] = v
			}
		}
	}
	if !doc.HasText() {
		return Document{}, ErrNoText
	}
	doc.Title = ResolveTitle(metaTitle, pages, filename)
	return doc, nil
}

func plainLines(page pdf.Page) (lines []Line) {
	defer func() {
		if recover() != nil {
			lines = nil
		}
	}()
	text, err := page.GetPlainText(nil)
	if err != nil {
		return nil
	}
	for _, raw := range strings.Split(text, "\n") {
		lines = append(lines, Line{Text: raw})
	}
	return lines
}

// styledLines groups glyph runs that share a baseline into lines.
func styledLines(page pdf.Page) (lines []Line, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page content: %v", rec)
		}
	}()
	return groupGlyphs(page.Content().Text), nil
}

func groupGlyphs(glyphs []pdf.Text) []Line {
	if len(glyphs) == 0 {
		return nil
	}
	sorted := make([]pdf.Text, len(glyphs))
	copy(sorted, glyphs)
	// PDF y grows upwards; top of the page first.
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y > sorted[j].Y })

	var lines []Line
	var row []pdf.Text
	flush := func() {
		if l, ok := buildLine(row); ok {
			lines = append(lines, l)
		}
		row = row[:0]
	}
	for _, g := range sorted {
		if len(row) > 0 && math.Abs(g.Y-row[0].Y) > baselineTolerance(g, row[0]) {
			flush()
		}
		row = append(row, g)
	}
	flush()
	return lines
}

func baselineTolerance(a, b pdf.Text) float64 {
	return math.Max(2, 0.3*math.Max(a.FontSize, b.FontSize))
}

func buildLine(row []pdf.Text) (Line, bool) {
	if len(row) == 0 {
		return Line{}, false
	}
	sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })

	var sb strings.Builder
	var maxSize float64
	boldChars, totalChars := 0, 0
	for i, g := range row {
		if i > 0 {
			prev := row[i-1]
			width := prev.W
			if width <= 0 {
				width = float64(len(prev.S)) * prev.FontSize * 0.5
			}
			if g.X-(prev.X+width) > 0.25*math.Max(g.FontSize, 1) && !strings.HasSuffix(sb.String(), " ") {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(g.S)
		maxSize = math.Max(maxSize, g.FontSize)
		n := len(strings.TrimSpace(g.S))
		totalChars += n
		if strings.Contains(strings.ToLower(g.Font), "bold") {
			boldChars += n
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return Line{}, false
	}
	return Line{
		Text:     text,
		FontSize: maxSize,
		Bold:     totalChars > 0 && boldChars*5 >= totalChars*4,
	}, true
}
