package priorartsearch

import (
	"math"
	"strings"
	"testing"
)

func TestRankForDisplayPutsVerifiedFirst(t *testing.T) {
	sorted := scored("no", 0.9, "skipped", 0.8, "yes", 0.6)
	verifications := Verifications{
		"no":      {Status: VerificationNo},
		"yes":     {Status: VerificationYes},
		"skipped": {Status: VerificationSkipped},
	}
	got := rankForDisplay(sorted, verifications, TopResultsLimit)
	order := make([]string, 0, len(got))
	for _, h := range got {
		order = append(order, h.Text)
	}
	if strings.Join(order, ",") != "yes,no,skipped" {
		t.Fatalf("unexpected order %v", order)
	}
	if sorted[0].Text != "no" {
		t.Fatal("input slice must not be reordered")
	}
}

func TestRankForDisplayCutsBeforeReordering(t *testing.T) {
	sorted := scored("a", 0.9, "b", 0.8, "c", 0.7, "d", 0.6)
	got := rankForDisplay(sorted, Verifications{"d": {Status: VerificationYes}}, 3)
	if len(got) != 3 || got[0].Text != "a" {
		t.Fatalf("a Yes hit outside the display cut must not be promoted, got %+v", got)
	}
}

func TestToRankedResults(t *testing.T) {
	long := strings.Repeat("가", PreviewChars+10)
	got := toRankedResults(scored(long, 0.5), Verifications{})
	if len(got) != 1 || got[0].Rank != 1 || got[0].Verification != nil {
		t.Fatalf("unexpected results %+v", got)
	}
	if got[0].ContentPreview != strings.Repeat("가", PreviewChars)+"..." {
		t.Fatalf("unexpected preview %q", got[0].ContentPreview)
	}
	if math.Abs(got[0].SimilarityPct-50) > 1e-9 {
		t.Fatalf("unexpected pct %v", got[0].SimilarityPct)
	}
}

func TestMergeHitsDedupsAndCountsMalformed(t *testing.T) {
	merged, malformed := mergeHits(
		[]Hit{{Text: "a", Source: SourceWeb}, {Text: " "}, {Text: "b", Source: SourceWeb}},
		[]Hit{{Text: "a", Source: SourcePatent}, {Text: "c", Source: SourcePatent}, {}},
	)
	if malformed != 2 {
		t.Fatalf("expected 2 malformed, got %d", malformed)
	}
	texts := []string{}
	for _, h := range merged {
		texts = append(texts, h.Text+"/"+h.Source)
	}
	if strings.Join(texts, ",") != "a/Web Search,b/Web Search,c/Patent" {
		t.Fatalf("unexpected merge %v", texts)
	}
}

func TestFilterRelevantIncludesBoundary(t *testing.T) {
	got := filterRelevant(scored("at", 0.45, "below", 0.4499, "above", 0.9), 0.45)
	if len(got) != 2 || got[0].Text != "at" || got[1].Text != "above" {
		t.Fatalf("unexpected filter %+v", got)
	}
}

func TestSortByScoreIsStable(t *testing.T) {
	got := sortByScore(scored("a", 0.5, "b", 0.9, "c", 0.5))
	if got[0].Text != "b" || got[1].Text != "a" || got[2].Text != "c" {
		t.Fatalf("unexpected order %+v", got)
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Fatalf("zero vector must score 0, got %v", got)
	}
	if got := cosine([]float32{1, 1}, []float32{2, 2}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("parallel vectors must score 1, got %v", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 3}); math.Abs(got) > 1e-9 {
		t.Fatalf("orthogonal vectors must score 0, got %v", got)
	}
}
