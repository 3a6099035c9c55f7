package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docscope/internal/embeddings"
	"docscope/internal/logger"
	"docscope/internal/vectorindex"
)

const query = "insulin regulates blood glucose"

func row(doc, section, content string) vectorindex.Row {
	return vectorindex.Row{DocID: doc, SectionID: section, Heading: section, Level: "H2", Content: content, PageNum: 2, StartPage: 2, EndPage: 3}
}

func fixtureIndex(t *testing.T) *vectorindex.Index {
	t.Helper()
	ix, err := vectorindex.New(vectorindex.Options{Dim: 3, Model: "test"})
	require.NoError(t, err)
	vectors := []embeddings.Vector{
		{1, 0, 0},
		{0.9, 0.43589, 0},
		{0.9, 0.43589, 0},
		{0.5, 0.86603, 0},
		{0.2, 0.97980, 0},
		{0, 0, 1},
	}
	rows := []vectorindex.Row{
		row("docA", "docA_s1", "Insulin regulates blood glucose in the liver."),
		row("docB", "docB_s1", "However, glucagon raises blood sugar levels."),
		row("docB", "docB_s1", "However, glucagon raises blood sugar levels."),
		row("docC", "docC_s1", "Hormones such as cortisol also matter."),
		row("docC", "docC_s2", "Weakly related text about metabolism."),
		row("docD", "docD_s1", "Unrelated text about medieval castles."),
	}
	require.NoError(t, ix.Add(vectors, rows))
	ix.PutDoc("docB", vectorindex.DocMeta{Title: "Glucagon Notes", Path: "/uploads/docB.pdf"})
	return ix
}

func newEngine(t *testing.T, ix *vectorindex.Index) (*Engine, *embeddings.MockEmbedder) {
	t.Helper()
	emb := new(embeddings.MockEmbedder)
	emb.On("Embed", mock.Anything, query).Return(embeddings.Vector{1, 0, 0}, nil)
	return NewEngine(ix, emb, Options{}, logger.Discard()), emb
}

func TestSearchRelatedExcludesCurrentDocument(t *testing.T) {
	e, emb := newEngine(t, fixtureIndex(t))

	got, err := e.SearchRelated(context.Background(), query, "docA", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "docB_s1", got[0].SectionID)
	assert.Equal(t, "Glucagon Notes", got[0].DocTitle)
	assert.Equal(t, "/uploads/docB.pdf", got[0].DocPath)
	assert.InDelta(t, 0.9, got[0].SimilarityScore, 1e-3)
	assert.Equal(t, Contradiction, got[0].RelevanceType)
	assert.Equal(t, 2, got[0].PageNum)
	assert.Equal(t, 3, got[0].EndPage)

	assert.Equal(t, "docC_s1", got[1].SectionID)
	assert.Equal(t, Example, got[1].RelevanceType)
	for _, r := range got {
		assert.NotEqual(t, "docA", r.DocID)
	}
	emb.AssertExpectations(t)
}

func TestSearchRelatedOrderingThresholdAndDedup(t *testing.T) {
	e, _ := newEngine(t, fixtureIndex(t))

	got, err := e.SearchRelated(context.Background(), query, "", 5)
	require.NoError(t, err)
	require.Len(t, got, 3)

	seen := map[string]bool{}
	for i, r := range got {
		assert.GreaterOrEqual(t, r.SimilarityScore, DefaultMinScore)
		assert.LessOrEqual(t, r.SimilarityScore, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].SimilarityScore, r.SimilarityScore)
		}
		key := r.DocID + "/" + r.SectionID
		assert.False(t, seen[key], "duplicate %s", key)
		seen[key] = true
	}
	assert.Equal(t, DirectMatch, got[0].RelevanceType)
	assert.InDelta(t, 1.0, got[0].SimilarityScore, 1e-6)
}

func TestMinScoreOption(t *testing.T) {
	tests := []struct {
		name     string
		minScore float64
		want     float64
		weakHit  bool
	}{
		{name: "unset takes default", minScore: 0, want: DefaultMinScore, weakHit: false},
		{name: "explicit floor", minScore: 0.15, want: 0.15, weakHit: true},
		{name: "no floor", minScore: NoMinScore, want: 0, weakHit: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := new(embeddings.MockEmbedder)
			emb.On("Embed", mock.Anything, query).Return(embeddings.Vector{1, 0, 0}, nil)
			e := NewEngine(fixtureIndex(t), emb, Options{MinScore: tt.minScore}, logger.Discard())
			assert.Equal(t, tt.want, e.Options().MinScore)

			got, err := e.SearchRelated(context.Background(), query, "", 10)
			require.NoError(t, err)
			weak := false
			for _, r := range got {
				if r.SectionID == "docC_s2" {
					weak = true
				}
			}
			assert.Equal(t, tt.weakHit, weak)
		})
	}
}

func TestSearchRelatedTopK(t *testing.T) {
	e, _ := newEngine(t, fixtureIndex(t))

	got, err := e.SearchRelated(context.Background(), query, "", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "docA_s1", got[0].SectionID)
}

func TestSearchRelatedEmptyIndex(t *testing.T) {
	ix, err := vectorindex.New(vectorindex.Options{Dim: 3})
	require.NoError(t, err)
	emb := new(embeddings.MockEmbedder)
	e := NewEngine(ix, emb, Options{}, logger.Discard())

	got, err := e.SearchRelated(context.Background(), query, "", 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	emb.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestSearchRelatedRejectsShortQuery(t *testing.T) {
	e, _ := newEngine(t, fixtureIndex(t))

	_, err := e.SearchRelated(context.Background(), "  abc  ", "", 5)
	assert.ErrorIs(t, err, ErrQueryTooShort)
}

func TestSearchRelatedEmbedFailure(t *testing.T) {
	emb := new(embeddings.MockEmbedder)
	emb.On("Embed", mock.Anything, query).Return(embeddings.Vector(nil), embeddings.ErrEmbeddingFailed)
	e := NewEngine(fixtureIndex(t), emb, Options{}, logger.Discard())

	_, err := e.SearchRelated(context.Background(), query, "", 5)
	assert.True(t, errors.Is(err, embeddings.ErrEmbeddingFailed))
}

func TestSearchRelatedCustomClassifier(t *testing.T) {
	emb := new(embeddings.MockEmbedder)
	emb.On("Embed", mock.Anything, query).Return(embeddings.Vector{1, 0, 0}, nil)
	e := NewEngine(fixtureIndex(t), emb, Options{Classifier: fixedClassifier(Definition), MinScore: 0.95}, logger.Discard())

	got, err := e.SearchRelated(context.Background(), query, "", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Definition, got[0].RelevanceType)
}

type fixedClassifier RelevanceType

func (f fixedClassifier) Classify(string, string) RelevanceType { return RelevanceType(f) }

func TestLexicalClassifier(t *testing.T) {
	c := NewLexicalClassifier()
	tests := []struct {
		name    string
		query   string
		content string
		want    RelevanceType
	}{
		{"direct match wins", "Blood  Glucose", "however, blood glucose rises after meals", DirectMatch},
		{"contradiction", "insulin", "Glucagon, by contrast, but not always, raises sugar.", Contradiction},
		{"whole words only", "insulin", "Press the button to record a reading.", Related},
		{"example", "insulin", "Hormones such as glucagon act quickly.", Example},
		{"abbreviated example", "insulin", "Several organs (e.g. the pancreas) respond.", Example},
		{"extension", "insulin", "Moreover, the liver stores glycogen.", Extension},
		{"definition", "insulin", "A hormone is defined as a chemical messenger.", Definition},
		{"multi word cue across line break", "insulin", "Some cells, on the\nother hand, ignore it.", Contradiction},
		{"default", "insulin", "The pancreas sits behind the stomach.", Related},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.query, tt.content))
		})
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-0.2))
	assert.Equal(t, 1.0, clamp(1.0000002))
	assert.Equal(t, 0.5, clamp(0.5))
}
