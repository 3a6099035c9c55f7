// Package extractor splits page text into typed sections using heading heuristics.
package extractor

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"docscope/internal/pdftext"
)

// Level is the approximate heading depth of a section.
type Level string

const (
	H1 Level = "H1"
	H2 Level = "H2"
	H3 Level = "H3"
)

// DefaultMinContentChars is the shortest body a section may keep.
const DefaultMinContentChars = 50

// Section is extractor output; ids and doc ownership are assigned by the caller.
type Section struct {
	Heading   string
	Level     Level
	Content   string
	PageNum   int
	StartPage int
	EndPage   int
	WordCount int
}

// PageStats is the per-page context a classifier may use.
type PageStats struct {
	Number       int
	BodyFontSize float64
}

// HeadingClassifier decides whether a line opens a new section.
type HeadingClassifier interface {
	Classify(line pdftext.Line, page PageStats) (Level, bool)
}

// Options configures an Extractor.
type Options struct {
	MinContentChars int
	Classifier      HeadingClassifier
}

// Extractor turns pages into sections.
type Extractor struct {
	minChars   int
	minLine    int
	maxLine    int
	classifier HeadingClassifier
}

// New builds an extractor; a nil classifier uses the default rules.
func New(opts Options) *Extractor {
	rules := DefaultRules()
	if opts.MinContentChars <= 0 {
		opts.MinContentChars = DefaultMinContentChars
	}
	if opts.Classifier == nil {
		opts.Classifier = NewRuleClassifier(rules)
	}
	if rc, ok := opts.Classifier.(*RuleClassifier); ok {
		rules = rc.rules
	}
	return &Extractor{
		minChars:   opts.MinContentChars,
		minLine:    rules.MinLineChars,
		maxLine:    rules.MaxLineChars,
		classifier: opts.Classifier,
	}
}

// Extract scans pages line by line and returns sections in reading order.
// Text before the first heading becomes a "Page N" section; when no heading is
// found at all every non-empty page becomes its own section.
func (e *Extractor) Extract(pages []pdftext.Page) []Section {
	var (
		out        []Section
		current    *Section
		body       []string
		sawHeading bool
	)
	closeCurrent := func() {
		if current == nil {
			return
		}
		current.Content = strings.Join(body, " ")
		if len(Clean(current.Content)) >= e.minChars {
			out = append(out, *current)
		}
		current, body = nil, nil
	}

	for _, page := range pages {
		stats := PageStats{Number: page.Number, BodyFontSize: page.BodyFontSize()}
		for _, line := range page.Lines {
			text := strings.TrimSpace(line.Text)
			if text == "" {
				continue
			}
			if e.candidate(text) {
				if level, ok := e.classifier.Classify(pdftext.Line{Text: text, FontSize: line.FontSize, Bold: line.Bold}, stats); ok {
					closeCurrent()
					sawHeading = true
					current = &Section{Heading: Clean(text), Level: level, PageNum: page.Number, StartPage: page.Number, EndPage: page.Number}
					continue
				}
			}
			if current == nil {
				current = &Section{Heading: pageHeading(page.Number), Level: H1, PageNum: page.Number, StartPage: page.Number, EndPage: page.Number}
			}
			body = append(body, text)
			current.EndPage = page.Number
		}
	}
	closeCurrent()

	if !sawHeading || len(out) == 0 {
		out = e.pageSections(pages)
	}
	return e.finalize(out)
}

func (e *Extractor) candidate(text string) bool {
	n := utf8.RuneCountInString(text)
	return n >= e.minLine && n <= e.maxLine
}

func (e *Extractor) pageSections(pages []pdftext.Page) []Section {
	var out []Section
	for _, page := range pages {
		if page.Empty() {
			continue
		}
		out = append(out, Section{
			Heading:   pageHeading(page.Number),
			Level:     H1,
			Content:   page.Text(),
			PageNum:   page.Number,
			StartPage: page.Number,
			EndPage:   page.Number,
		})
	}
	return out
}

func (e *Extractor) finalize(sections []Section) []Section {
	kept := make([]Section, 0, len(sections))
	for _, s := range sections {
		s.Heading = Clean(s.Heading)
		s.Content = Clean(s.Content)
		if len(s.Content) < e.minChars {
			continue
		}
		s.WordCount = len(strings.Fields(s.Content))
		kept = append(kept, s)
	}
	return kept
}

func pageHeading(n int) string { return fmt.Sprintf("Page %d", n) }

// Clean strips control characters and collapses runs of whitespace.
func Clean(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r), r == utf8.RuneError:
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
