package retrieval

import (
	"regexp"
	"strings"
)

// RelevanceType is a best-effort label for how a section relates to a selection.
// It is a lexical heuristic, not a judgement about meaning.
type RelevanceType string

const (
	DirectMatch   RelevanceType = "direct_match"
	Contradiction RelevanceType = "contradiction"
	Example       RelevanceType = "example"
	Extension     RelevanceType = "extension"
	Definition    RelevanceType = "definition"
	Related       RelevanceType = "related"
)

// RelevanceClassifier labels a candidate section given the query that found it.
type RelevanceClassifier interface {
	Classify(query, content string) RelevanceType
}

type indicatorClass struct {
	label   RelevanceType
	pattern *regexp.Regexp
}

// LexicalClassifier checks, in order: the query appearing verbatim in the
// content, then contradiction, example, extension and definition cue words.
// Cue words match whole words only, so "but" does not fire on "button".
type LexicalClassifier struct {
	classes []indicatorClass
}

// NewLexicalClassifier returns the default classifier.
func NewLexicalClassifier() *LexicalClassifier {
	return &LexicalClassifier{classes: []indicatorClass{
		{Contradiction, indicatorPattern("however", "but", "contrary", "opposite", "disagree", "disagrees",
			"conflict", "conflicts", "whereas", "although", "nevertheless", "in contrast", "on the other hand")},
		{Example, indicatorPattern("for example", "for instance", "such as", "e.g.", "i.e.", "specifically",
			"to illustrate")},
		{Extension, indicatorPattern("furthermore", "moreover", "additionally", "in addition", "extends",
			"builds upon", "builds on")},
		{Definition, indicatorPattern("define", "defines", "defined", "definition", "means", "refers to")},
	}}
}

func indicatorPattern(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(w), " ", `\s+`)
	}
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(?:` + strings.Join(quoted, "|") + `)(?:[^\p{L}\p{N}]|$)`)
}

func (c *LexicalClassifier) Classify(query, content string) RelevanceType {
	q := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	if q != "" && strings.Contains(strings.Join(strings.Fields(strings.ToLower(content)), " "), q) {
		return DirectMatch
	}
	for _, class := range c.classes {
		if class.pattern.MatchString(content) {
			return class.label
		}
	}
	return Related
}
