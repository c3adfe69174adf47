package priorartsearch

import (
	"context"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/joelkehle/idea-sonar/internal/cache"
)

// Judge decides whether an excerpt is concrete evidence that idea already
// exists. Implementations return Yes, No or Unclear.
type Judge interface {
	Judge(ctx context.Context, idea, excerpt, source string) (Verification, error)
}

type VerifyConfig struct {
	// Threshold is the minimum score for a hit to be sent to the judge.
	// Zero means the relevance threshold.
	Threshold     float64
	MaxTargets    int
	MaxExcerpt    int
	HintExcerpt   int
	HintWindow    int
	Hints         []string
	PromptVersion string
}

type Verifier struct {
	judge Judge
	cache cache.Memoizer
	cfg   VerifyConfig
}

func NewVerifier(judge Judge, memo cache.Memoizer, cfg VerifyConfig) *Verifier {
	if cfg.MaxTargets <= 0 {
		cfg.MaxTargets = DefaultMaxVerificationTargets
	}
	if cfg.MaxExcerpt <= 0 {
		cfg.MaxExcerpt = DefaultMaxExcerpt
	}
	if cfg.HintExcerpt <= 0 {
		cfg.HintExcerpt = DefaultHintExcerpt
	}
	if cfg.HintWindow <= 0 {
		cfg.HintWindow = DefaultHintWindow
	}
	if cfg.Hints == nil {
		cfg.Hints = DefaultHints
	}
	if strings.TrimSpace(cfg.PromptVersion) == "" {
		cfg.PromptVersion = DefaultPromptVersion
	}
	if memo == nil {
		memo = cache.PassThrough()
	}
	return &Verifier{judge: judge, cache: memo, cfg: cfg}
}

func (v *Verifier) Enabled() bool { return v != nil && v.judge != nil }

func (v *Verifier) PromptVersion() string { return v.cfg.PromptVersion }

// candidates picks the hits to judge from the relevance-passing list, which
// must already be sorted by score descending.
func (v *Verifier) candidates(relevant []ScoredHit, relevanceThreshold float64) []ScoredHit {
	threshold := v.cfg.Threshold
	if threshold <= 0 {
		threshold = relevanceThreshold
	}
	out := make([]ScoredHit, 0, v.cfg.MaxTargets)
	for _, h := range relevant {
		if len(out) == v.cfg.MaxTargets {
			break
		}
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	return out
}

// verify judges each candidate in order, one call at a time. A failed
// judgment marks only that hit as Error.
func (v *Verifier) verify(ctx context.Context, idea string, candidates []ScoredHit) Verifications {
	out := make(Verifications, len(candidates))
	if !v.Enabled() {
		for _, c := range candidates {
			out[c.Text] = Verification{Status: VerificationSkipped, Reason: "verification model not configured"}
		}
		return out
	}
	for _, c := range candidates {
		if _, done := out[c.Text]; done {
			continue
		}
		excerpt := v.excerpt(c.Text)
		params := []any{idea, excerpt, c.Source, v.cfg.PromptVersion}
		res, err := cache.Do(ctx, v.cache, cache.NamespaceVerify, cache.VerifyTTL, params, func(ctx context.Context) (Verification, error) {
			return v.judge.Judge(ctx, idea, excerpt, c.Source)
		})
		if err != nil {
			log.Printf("idea-sonar verify_failed source=%q err=%q", c.Source, err.Error())
			out[c.Text] = Verification{Status: VerificationError, Reason: err.Error()}
			continue
		}
		out[c.Text] = res
	}
	return out
}

// excerpt caps text at MaxExcerpt runes, or HintExcerpt runes when a hint
// occurs within the first HintWindow runes.
func (v *Verifier) excerpt(text string) string {
	limit := v.cfg.MaxExcerpt
	window := truncateRunes(text, v.cfg.HintWindow)
	for _, hint := range v.cfg.Hints {
		if hint != "" && strings.Contains(window, hint) {
			limit = v.cfg.HintExcerpt
			break
		}
	}
	return truncateRunes(text, limit)
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
