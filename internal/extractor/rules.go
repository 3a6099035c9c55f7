package extractor

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"docscope/internal/pdftext"
)

// SizeRatios maps font size relative to the page body size to heading levels.
type SizeRatios struct {
	H1 float64 `yaml:"h1"`
	H2 float64 `yaml:"h2"`
	H3 float64 `yaml:"h3"`
}

// Rules tunes the default heading heuristics. Zero fields keep their defaults when loaded from YAML.
type Rules struct {
	NumberedKeywords []string   `yaml:"numbered_keywords"` // followed by a number: "Chapter 3"
	H1Keywords       []string   `yaml:"h1_keywords"`
	H2Keywords       []string   `yaml:"h2_keywords"`
	MinLineChars     int        `yaml:"min_line_chars"`
	MaxLineChars     int        `yaml:"max_line_chars"`
	MaxHeadingWords  int        `yaml:"max_heading_words"`
	MaxCapsWords     int        `yaml:"max_caps_words"`
	SizeRatios       SizeRatios `yaml:"size_ratios"`
}

// DefaultRules returns the built-in heading heuristics.
func DefaultRules() Rules {
	return Rules{
		NumberedKeywords: []string{"Chapter", "Section", "Part"},
		H1Keywords:       []string{"Introduction", "Conclusion", "Conclusions", "Abstract", "Summary", "References", "Bibliography", "Appendix"},
		H2Keywords:       []string{"Background", "Methods", "Methodology", "Results", "Discussion", "Related Work", "Evaluation"},
		MinLineChars:     3,
		MaxLineChars:     200,
		MaxHeadingWords:  15,
		MaxCapsWords:     10,
		SizeRatios:       SizeRatios{H1: 1.6, H2: 1.3, H3: 1.15},
	}
}

// LoadRules reads a YAML rules file over the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read heading rules: %w", err)
	}
	var loaded Rules
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return rules, fmt.Errorf("parse heading rules: %w", err)
	}
	rules.merge(loaded)
	return rules, nil
}

func (r *Rules) merge(o Rules) {
	if len(o.NumberedKeywords) > 0 {
		r.NumberedKeywords = o.NumberedKeywords
	}
	if len(o.H1Keywords) > 0 {
		r.H1Keywords = o.H1Keywords
	}
	if len(o.H2Keywords) > 0 {
		r.H2Keywords = o.H2Keywords
	}
	if o.MinLineChars > 0 {
		r.MinLineChars = o.MinLineChars
	}
	if o.MaxLineChars > 0 {
		r.MaxLineChars = o.MaxLineChars
	}
	if o.MaxHeadingWords > 0 {
		r.MaxHeadingWords = o.MaxHeadingWords
	}
	if o.MaxCapsWords > 0 {
		r.MaxCapsWords = o.MaxCapsWords
	}
	if o.SizeRatios.H1 > 0 {
		r.SizeRatios.H1 = o.SizeRatios.H1
	}
	if o.SizeRatios.H2 > 0 {
		r.SizeRatios.H2 = o.SizeRatios.H2
	}
	if o.SizeRatios.H3 > 0 {
		r.SizeRatios.H3 = o.SizeRatios.H3
	}
}

type pattern struct {
	re    *regexp.Regexp
	level Level
}

// Most specific outline depth first. Without the trailing dot a capital
// must follow, so decimals in prose stay body text.
var numberedPatterns = []pattern{
	{regexp.MustCompile(`^\d+\.\d+\.\d+(?:\.\s+\S|\s+\p{Lu})`), H3},
	{regexp.MustCompile(`^\d+\.\d+(?:\.\s+\S|\s+\p{Lu})`), H2},
	{regexp.MustCompile(`^\d{1,3}\.?\s+\p{Lu}`), H1},
}

// RuleClassifier applies, in order: numbered outline, section keywords,
// font size or weight, then capitalization fallbacks.
type RuleClassifier struct {
	rules    Rules
	keywords []pattern
}

// NewRuleClassifier compiles rules into a classifier.
func NewRuleClassifier(rules Rules) *RuleClassifier {
	c := &RuleClassifier{rules: rules}
	if len(rules.NumberedKeywords) > 0 {
		c.keywords = append(c.keywords, pattern{
			re:    regexp.MustCompile(`^(?i:(?:` + alternation(rules.NumberedKeywords) + `)\s+(?:\d+|[ivxlc]+))\b`),
			level: H1,
		})
	}
	if len(rules.H1Keywords) > 0 {
		c.keywords = append(c.keywords, pattern{re: regexp.MustCompile(`^(?i:` + alternation(rules.H1Keywords) + `)\b`), level: H1})
	}
	if len(rules.H2Keywords) > 0 {
		c.keywords = append(c.keywords, pattern{re: regexp.MustCompile(`^(?i:` + alternation(rules.H2Keywords) + `)\b`), level: H2})
	}
	return c
}

func alternation(words []string) string {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, strings.ReplaceAll(regexp.QuoteMeta(w), " ", `\s+`))
		}
	}
	return strings.Join(quoted, "|")
}

// Classify implements HeadingClassifier.
func (c *RuleClassifier) Classify(line pdftext.Line, page PageStats) (Level, bool) {
	text := strings.TrimSpace(line.Text)
	words := len(strings.Fields(text))

	for _, p := range numberedPatterns {
		if p.re.MatchString(text) {
			return p.level, true
		}
	}
	if words <= c.rules.MaxHeadingWords {
		for _, p := range c.keywords {
			if p.re.MatchString(text) {
				return p.level, true
			}
		}
	}
	if level, ok := c.byFormatting(line, page); ok {
		return level, true
	}
	if words <= c.rules.MaxCapsWords && allCaps(text) {
		return H2, true
	}
	if words <= c.rules.MaxHeadingWords && titleCase(text) {
		return H3, true
	}
	return "", false
}

func (c *RuleClassifier) byFormatting(line pdftext.Line, page PageStats) (Level, bool) {
	if line.FontSize > 0 && page.BodyFontSize > 0 {
		ratio := line.FontSize / page.BodyFontSize
		switch {
		case ratio >= c.rules.SizeRatios.H1:
			return H1, true
		case ratio >= c.rules.SizeRatios.H2:
			return H2, true
		case ratio >= c.rules.SizeRatios.H3:
			return H3, true
		}
	}
	if line.Bold {
		return H3, true
	}
	return "", false
}

func allCaps(text string) bool {
	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 2
}

// titleCase: starts with an upper-case letter, has no trailing punctuation, and
// every word of four or more letters is capitalized.
func titleCase(text string) bool {
	first := []rune(text)[0]
	if !unicode.IsUpper(first) {
		return false
	}
	if strings.ContainsRune(".,;:!?", []rune(text)[len([]rune(text))-1]) {
		return false
	}
	for _, w := range strings.Fields(text) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) })
		runes := []rune(w)
		if len(runes) >= 4 && !unicode.IsUpper(runes[0]) {
			return false
		}
	}
	return true
}
