package snippet

import (
	"math"
	"strings"

	porterstemmer "github.com/blevesearch/go-porterstemmer"
	"github.com/blevesearch/segment"
)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a about above after again against all am an and any are as at be because
been before being below between both but by can could did do does doing down during each few for from
further had has have having he her here hers herself him himself his how i if in into is it its itself
just me more most my myself no nor not of off on once only or other our ours ourselves out over own same
she should so some such than that the their theirs them themselves then there these they this those
through to too under until up very was we were what when where which while who whom why will with would
you your yours yourself yourselves`) {
		stopWords[w] = struct{}{}
	}
}

// terms returns stemmed unigrams plus bigrams of adjacent kept words.
func terms(text string) []string {
	var words []string
	seg := segment.NewWordSegmenterDirect([]byte(strings.ToLower(text)))
	for seg.Segment() {
		if seg.Type() == segment.None {
			continue
		}
		w := string(seg.Bytes())
		if _, stop := stopWords[w]; stop {
			continue
		}
		words = append(words, porterstemmer.StemString(w))
	}
	out := make([]string, 0, 2*len(words))
	out = append(out, words...)
	for i := 1; i < len(words); i++ {
		out = append(out, words[i-1]+" "+words[i])
	}
	return out
}

// scoreTFIDF scores each sentence by cosine similarity between its TF-IDF
// vector and the query's, with IDF fitted over the query and all sentences.
// It returns nil when the query has no usable terms.
func scoreTFIDF(query string, sentences []string) []float64 {
	docs := make([][]string, 0, len(sentences)+1)
	docs = append(docs, terms(query))
	for _, s := range sentences {
		docs = append(docs, terms(s))
	}
	if len(docs[0]) == 0 {
		return nil
	}

	df := map[string]int{}
	for _, d := range docs {
		seen := map[string]bool{}
		for _, t := range d {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}
	n := float64(len(docs))
	idf := func(t string) float64 {
		return math.Log((1+n)/(1+float64(df[t]))) + 1
	}

	q := weigh(docs[0], idf)
	scores := make([]float64, len(sentences))
	for i, d := range docs[1:] {
		scores[i] = cosine(q, weigh(d, idf))
	}
	return scores
}

func weigh(ts []string, idf func(string) float64) map[string]float64 {
	v := make(map[string]float64, len(ts))
	for _, t := range ts {
		v[t]++
	}
	for t, tf := range v {
		v[t] = tf * idf(t)
	}
	return v
}

func cosine(a, b map[string]float64) float64 {
	var dot, na, nb float64
	for t, x := range a {
		na += x * x
		dot += x * b[t]
	}
	for _, y := range b {
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// scoreOverlap is the share of distinct query words present in each sentence.
func scoreOverlap(query string, sentences []string) []float64 {
	qw := wordSet(query)
	scores := make([]float64, len(sentences))
	if len(qw) == 0 {
		return scores
	}
	for i, s := range sentences {
		sw := wordSet(s)
		hits := 0
		for w := range qw {
			if _, ok := sw[w]; ok {
				hits++
			}
		}
		scores[i] = float64(hits) / float64(len(qw))
	}
	return scores
}

func wordSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}
