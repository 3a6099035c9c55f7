// Package pdftext turns PDF files into page text with the font signal the
// section extractor needs for heading detection.
package pdftext

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrNoText is returned when a PDF has no pages or no extractable text.
var ErrNoText = errors.New("no extractable text")

// Line is one visual line of a page.
type Line struct {
	Text     string
	FontSize float64 // 0 when the size is unknown (plain-text extraction)
	Bold     bool
}

// Page is a 1-based page with its lines in reading order.
type Page struct {
	Number int
	Lines  []Line
}

// Document is what the ingestion boundary hands to the section extractor.
type Document struct {
	Pages    []Page
	Title    string
	Metadata map[string]string
}

// Text joins the page lines with newlines.
func (p Page) Text() string {
	parts := make([]string, 0, len(p.Lines))
	for _, l := range p.Lines {
		parts = append(parts, l.Text)
	}
	return strings.Join(parts, "\n")
}

// Empty reports whether the page has no visible text.
func (p Page) Empty() bool {
	for _, l := range p.Lines {
		if strings.TrimSpace(l.Text) != "" {
			return false
		}
	}
	return true
}

// BodyFontSize is the font size covering the most characters on the page, 0 if unknown.
func (p Page) BodyFontSize() float64 {
	weight := make(map[float64]int)
	for _, l := range p.Lines {
		if l.FontSize <= 0 {
			continue
		}
		weight[roundSize(l.FontSize)] += len(l.Text)
	}
	var best float64
	bestWeight := -1
	for size, w := range weight {
		if w > bestWeight || (w == bestWeight && size < best) {
			best, bestWeight = size, w
		}
	}
	return best
}

// FromText builds pages from plain page strings, one line per newline.
func FromText(pageTexts ...string) []Page {
	pages := make([]Page, 0, len(pageTexts))
	for i, text := range pageTexts {
		var lines []Line
		for _, raw := range strings.Split(text, "\n") {
			lines = append(lines, Line{Text: raw})
		}
		pages = append(pages, Page{Number: i + 1, Lines: lines})
	}
	return pages
}

// HasText reports whether any page carries text.
func (d Document) HasText() bool {
	for _, p := range d.Pages {
		if !p.Empty() {
			return true
		}
	}
	return false
}

// ResolveTitle picks the metadata title, then the largest first-page line, then the filename.
func ResolveTitle(metaTitle string, pages []Page, filename string) string {
	if t := strings.TrimSpace(metaTitle); t != "" {
		return t
	}
	if t := largestLine(pages); t != "" {
		return t
	}
	return TitleFromFilename(filename)
}

// TitleFromFilename turns "annual_report-2024.pdf" into "Annual Report 2024".
func TitleFromFilename(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	stem = strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	stem = strings.Join(strings.Fields(stem), " ")
	if stem == "" {
		return "Untitled"
	}
	return cases.Title(language.English).String(stem)
}

func largestLine(pages []Page) string {
	if len(pages) == 0 {
		return ""
	}
	candidates := make([]Line, 0, len(pages[0].Lines))
	for _, l := range pages[0].Lines {
		if l.FontSize > 0 && len(strings.TrimSpace(l.Text)) > 5 {
			candidates = append(candidates, l)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].FontSize > candidates[j].FontSize })
	title := strings.TrimSpace(candidates[0].Text)
	if r := []rune(title); len(r) > 100 {
		title = string(r[:100])
	}
	return title
}

func roundSize(size float64) float64 {
	return float64(int(size*2+0.5)) / 2
}
