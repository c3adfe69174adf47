package priorartsearch

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Embedder maps texts to fixed-length vectors, one per input, in order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// scoreHits embeds the idea and every hit in one batch and returns the hits
// with their cosine similarity, aligned by index with hits.
func scoreHits(ctx context.Context, embedder Embedder, idea string, hits []Hit) ([]ScoredHit, error) {
	texts := make([]string, 0, len(hits)+1)
	texts = append(texts, idea)
	for _, h := range hits {
		texts = append(texts, h.Text)
	}
	vectors, err := embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	ideaVec := vectors[0]
	scored := make([]ScoredHit, len(hits))
	for i, h := range hits {
		if len(vectors[i+1]) != len(ideaVec) {
			return nil, fmt.Errorf("embedder returned a %d-dimension vector for hit %d, want %d", len(vectors[i+1]), i, len(ideaVec))
		}
		scored[i] = ScoredHit{Hit: h, Score: cosine(ideaVec, vectors[i+1])}
	}
	return scored, nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// sortByScore returns a copy ordered by score descending. Equal scores keep
// their merge order.
func sortByScore(in []ScoredHit) []ScoredHit {
	out := append([]ScoredHit(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// filterRelevant keeps hits whose score is at or above threshold.
func filterRelevant(in []ScoredHit, threshold float64) []ScoredHit {
	out := make([]ScoredHit, 0, len(in))
	for _, h := range in {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	return out
}
