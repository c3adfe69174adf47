package priorartsearch

import (
	"sort"
	"unicode/utf8"
)

// rankForDisplay cuts the score-sorted relevant hits to the display limit,
// then moves verified Yes hits to the front. Within each group the higher
// score comes first.
func rankForDisplay(sorted []ScoredHit, verifications Verifications, limit int) []ScoredHit {
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := append([]ScoredHit(nil), sorted...)
	sort.SliceStable(out, func(i, j int) bool {
		yi := verifications[out[i].Text].Status == VerificationYes
		yj := verifications[out[j].Text].Status == VerificationYes
		if yi != yj {
			return yi
		}
		return out[i].Score > out[j].Score
	})
	return out
}

func toRankedResults(hits []ScoredHit, verifications Verifications) []RankedResult {
	out := make([]RankedResult, 0, len(hits))
	for i, h := range hits {
		r := RankedResult{
			Rank:           i + 1,
			SimilarityPct:  h.Score * 100,
			ContentPreview: preview(h.Text),
			Link:           h.Link,
			Source:         h.Source,
		}
		if v, ok := verifications[h.Text]; ok {
			r.Verification = &v
		}
		out = append(out, r)
	}
	return out
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= PreviewChars {
		return text
	}
	return truncateRunes(text, PreviewChars) + "..."
}
