package snippet

import (
	"strings"
	"unicode"
)

// abbreviations end with a period that does not close a sentence.
var abbreviations = map[string]struct{}{
	"e.g": {}, "i.e": {}, "etc": {}, "vs": {}, "cf": {}, "al": {},
	"dr": {}, "mr": {}, "mrs": {}, "ms": {}, "prof": {}, "st": {}, "jr": {}, "sr": {},
	"fig": {}, "figs": {}, "eq": {}, "no": {}, "vol": {}, "pp": {}, "ch": {}, "sec": {}, "approx": {},
}

// SplitSentences breaks text at '.', '!' or '?' followed by whitespace. A
// period after a known abbreviation, a single initial, or before a lowercase
// word does not end a sentence. Returned sentences are trimmed and non-empty.
func SplitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i + 1
		for end < len(runes) && strings.ContainsRune(".!?\"')]”’", runes[end]) {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			i = end - 1
			continue
		}
		if r == '.' && !closesSentence(runes[start:i], runes[end:]) {
			i = end - 1
			continue
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
		i = end - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func closesSentence(before, after []rune) bool {
	word := lastWord(before)
	if _, ok := abbreviations[strings.ToLower(word)]; ok {
		return false
	}
	if len([]rune(word)) == 1 && unicode.IsUpper([]rune(word)[0]) {
		return false
	}
	for _, r := range after {
		if unicode.IsSpace(r) {
			continue
		}
		return !unicode.IsLower(r)
	}
	return true
}

func lastWord(rs []rune) string {
	end := len(rs)
	startIdx := end
	for startIdx > 0 && !unicode.IsSpace(rs[startIdx-1]) && rs[startIdx-1] != '(' {
		startIdx--
	}
	return string(rs[startIdx:end])
}
