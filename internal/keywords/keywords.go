// Package keywords reduces an idea statement to a short keyword string for
// field-restricted patent queries.
package keywords

import (
	"log"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"
)

const DefaultMaxKeywords = 10

// RE2's \b only knows ASCII word characters, so words are split on Unicode
// letters, marks, digits and underscore first and each whole word is then
// matched. "AI기반" is one word and yields nothing.
var (
	wordRun    = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)
	alnumToken = regexp.MustCompile(`^(?:[A-Za-z]{1,5}[0-9]*|[0-9]+[A-Za-z]+)$`)
)

type Token struct {
	Text string
	Tag  string
}

// Tagger assigns part-of-speech tags to the tokens of a text.
type Tagger interface {
	Tag(text string) ([]Token, error)
}

type Extractor struct {
	tagger      Tagger
	maxKeywords int
}

// NewExtractor returns an extractor. A nil tagger makes every call return
// the trimmed input unchanged.
func NewExtractor(tagger Tagger, maxKeywords int) *Extractor {
	if maxKeywords <= 0 {
		maxKeywords = DefaultMaxKeywords
	}
	if tagger == nil {
		log.Printf("idea-sonar keywords tagger unavailable; patent queries use raw text")
	}
	return &Extractor{tagger: tagger, maxKeywords: maxKeywords}
}

func (e *Extractor) MaxKeywords() int { return e.maxKeywords }

// Extract returns the keyword string for text. degraded is true only when
// the tagger failed during this call and the raw text was used instead.
func (e *Extractor) Extract(text string) (keywords string, degraded bool) {
	trimmed := strings.TrimSpace(text)
	if e == nil || e.tagger == nil || trimmed == "" {
		return trimmed, false
	}

	tokens, err := e.tagger.Tag(text)
	if err != nil {
		log.Printf("idea-sonar keywords tagger failed err=%q; using raw text", err.Error())
		return trimmed, true
	}

	candidates := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if strings.HasPrefix(tok.Tag, "NN") && utf8.RuneCountInString(tok.Text) > 1 {
			candidates = append(candidates, tok.Text)
		}
	}
	candidates = append(candidates, alnumTokens(text)...)

	seen := make(map[string]struct{}, len(candidates))
	unique := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		unique = append(unique, c)
	}
	if len(unique) == 0 {
		return trimmed, false
	}
	if len(unique) > e.maxKeywords {
		unique = unique[:e.maxKeywords]
	}
	return strings.Join(unique, " "), false
}

// alnumTokens returns the short Latin acronyms and digit-letter codes of
// text, such as "GPS", "LTE4" or "5G", that stand as words of their own.
func alnumTokens(text string) []string {
	var out []string
	for _, w := range wordRun.FindAllString(text, -1) {
		if alnumToken.MatchString(w) {
			out = append(out, w)
		}
	}
	return out
}

// ProseTagger tags English text with prose's averaged perceptron model.
type ProseTagger struct{}

func (ProseTagger) Tag(text string) ([]Token, error) {
	doc, err := prose.NewDocument(text,
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		return nil, err
	}
	out := make([]Token, 0, len(doc.Tokens()))
	for _, tok := range doc.Tokens() {
		out = append(out, Token{Text: tok.Text, Tag: tok.Tag})
	}
	return out, nil
}
