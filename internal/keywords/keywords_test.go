package keywords

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTagger struct {
	tokens []Token
	err    error
	calls  int
}

func (f *fakeTagger) Tag(string) ([]Token, error) {
	f.calls++
	return f.tokens, f.err
}

func TestExtract_NounsThenAlnumTokensDeduped(t *testing.T) {
	tagger := &fakeTagger{tokens: []Token{
		{Text: "drone", Tag: "NN"},
		{Text: "delivers", Tag: "VBZ"},
		{Text: "a", Tag: "DT"},
		{Text: "x", Tag: "NN"},
		{Text: "packages", Tag: "NNS"},
		{Text: "drone", Tag: "NN"},
		{Text: "GPS", Tag: "NNP"},
	}}
	e := NewExtractor(tagger, 10)

	got, degraded := e.Extract("  drone delivers a x packages drone GPS via 5G and LTE4  ")
	assert.False(t, degraded)
	assert.Equal(t, "drone packages GPS a x via 5G and LTE4", got)
}

func TestAlnumTokens_UnicodeWordBoundaries(t *testing.T) {
	assert.Empty(t, alnumTokens("AI기반 고양이 사료 앱"))
	assert.Equal(t, []string{"AI", "5G"}, alnumTokens("AI 기반 5G 고양이 사료 앱"))
	assert.Equal(t, []string{"IoT"}, alnumTokens("스마트 (IoT) 화분, AI_model"))
	assert.Empty(t, alnumTokens("café ABCDEFG"))
}

func TestExtract_KoreanAttachedAcronymFallsBackToText(t *testing.T) {
	e := NewExtractor(&fakeTagger{}, 10)
	got, degraded := e.Extract("AI기반 고양이 사료 앱")
	assert.False(t, degraded)
	assert.Equal(t, "AI기반 고양이 사료 앱", got)
}

func TestExtract_TruncatesToMax(t *testing.T) {
	tagger := &fakeTagger{tokens: []Token{
		{Text: "alpha", Tag: "NN"},
		{Text: "beta", Tag: "NN"},
		{Text: "gamma", Tag: "NN"},
	}}
	e := NewExtractor(tagger, 2)

	got, _ := e.Extract("alphabetical betamax gammaray")
	assert.Equal(t, "alpha beta", got)
}

func TestExtract_NothingSurvivesReturnsTrimmedText(t *testing.T) {
	tagger := &fakeTagger{tokens: []Token{{Text: "run", Tag: "VB"}}}
	e := NewExtractor(tagger, 5)

	got, degraded := e.Extract("  빠르게 달리는 ")
	assert.False(t, degraded)
	assert.Equal(t, "빠르게 달리는", got)
}

func TestExtract_NilTaggerReturnsTrimmedText(t *testing.T) {
	e := NewExtractor(nil, 5)
	got, degraded := e.Extract("  smart mug  ")
	assert.False(t, degraded)
	assert.Equal(t, "smart mug", got)
}

func TestExtract_TaggerErrorDegrades(t *testing.T) {
	tagger := &fakeTagger{err: errors.New("model missing")}
	e := NewExtractor(tagger, 5)

	got, degraded := e.Extract(" smart mug ")
	assert.True(t, degraded)
	assert.Equal(t, "smart mug", got)
	assert.Equal(t, 1, tagger.calls)
}

func TestExtract_DefaultMax(t *testing.T) {
	assert.Equal(t, DefaultMaxKeywords, NewExtractor(nil, 0).MaxKeywords())
}

func TestProseTagger_TagsNouns(t *testing.T) {
	tokens, err := ProseTagger{}.Tag("The robot waters the garden.")
	require.NoError(t, err)
	require.NotEmpty(t, tokens)

	var nouns []string
	for _, tok := range tokens {
		if tok.Tag == "NN" || tok.Tag == "NNS" {
			nouns = append(nouns, tok.Text)
		}
	}
	assert.Contains(t, nouns, "robot")
}
