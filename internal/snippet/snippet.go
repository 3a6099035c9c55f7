// Package snippet picks the few sentences of a section that best match a query.
package snippet

import (
	"strings"
)

const (
	// DefaultMaxSentences is used when Extract is called with a non-positive limit.
	DefaultMaxSentences = 3
	// Ellipsis marks content cut from either end of a snippet.
	Ellipsis = "..."

	minSentenceChars = 20
)

// Extractor builds query-focused snippets.
type Extractor struct {
	minSentenceChars int
}

// New returns an Extractor with the default noise filter.
func New() *Extractor {
	return &Extractor{minSentenceChars: minSentenceChars}
}

// Extract returns at most maxSentences consecutive sentences of content,
// centered on the sentence that scores highest against query. Content with
// no more sentences than the limit is returned unchanged.
func (e *Extractor) Extract(content, query string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	sentences := e.sentences(content)
	if len(sentences) <= maxSentences {
		return content
	}

	scores := scoreTFIDF(query, sentences)
	if scores == nil {
		scores = scoreOverlap(query, sentences)
	}
	first, last := window(anchor(scores), len(sentences), maxSentences)

	var b strings.Builder
	if first > 0 {
		b.WriteString(Ellipsis)
	}
	b.WriteString(strings.Join(sentences[first:last+1], " "))
	if last < len(sentences)-1 {
		b.WriteString(Ellipsis)
	}
	return b.String()
}

func (e *Extractor) sentences(content string) []string {
	var out []string
	for _, s := range SplitSentences(content) {
		if len([]rune(s)) >= e.minSentenceChars {
			out = append(out, s)
		}
	}
	return out
}

// anchor is the index of the highest score; ties go to the earliest sentence.
func anchor(scores []float64) int {
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return best
}

// window grows a range around center, one sentence before then one after,
// until it holds size sentences or covers all n.
func window(center, n, size int) (first, last int) {
	first, last = center, center
	for last-first+1 < size {
		grew := false
		if first > 0 {
			first--
			grew = true
			if last-first+1 == size {
				break
			}
		}
		if last < n-1 {
			last++
			grew = true
		}
		if !grew {
			break
		}
	}
	return first, last
}
