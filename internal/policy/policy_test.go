package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/idea-sonar/internal/priorartsearch"
)

func TestDefaultTableParses(t *testing.T) {
	tbl := Default()
	require.Len(t, tbl.Bands, 4)
	assert.Equal(t, "Not assessable", tbl.NoResults.Rating)
	assert.InDelta(t, 0.85, tbl.HighSimilarity, 1e-9)
}

func TestEvaluateWithoutResultsIsNotComputable(t *testing.T) {
	a := Default().Evaluate(priorartsearch.PolicyInput{})
	assert.Equal(t, "Not assessable", a.Rating)
	assert.Nil(t, a.Score)
	assert.NotEmpty(t, a.Interpretation)
	assert.Empty(t, a.Warning)
}

func TestEvaluatePicksBandByAverageAndEvidence(t *testing.T) {
	tbl := Default()
	cases := []struct {
		name   string
		in     priorartsearch.PolicyInput
		rating string
		score  int
	}{
		{
			name:   "loose matches without evidence",
			in:     priorartsearch.PolicyInput{AverageScore: 0.5, VerificationAttempts: 3, HasResults: true, MaxScore: 0.6},
			rating: "Highly original",
			score:  82,
		},
		{
			name:   "one of three verified",
			in:     priorartsearch.PolicyInput{AverageScore: 0.5, VerifiedYesRatio: 1.0 / 3, VerificationAttempts: 3, HasResults: true, MaxScore: 0.6},
			rating: "Moderately original",
			score:  42,
		},
		{
			name:   "close matches",
			in:     priorartsearch.PolicyInput{AverageScore: 0.8, VerifiedYesRatio: 0.6, VerificationAttempts: 5, HasResults: true, MaxScore: 0.8},
			rating: "Low originality",
			score:  9,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := tbl.Evaluate(tc.in)
			assert.Equal(t, tc.rating, a.Rating)
			require.NotNil(t, a.Score)
			assert.Equal(t, tc.score, *a.Score)
			assert.Empty(t, a.Warning)
		})
	}
}

func TestEvaluateWarnings(t *testing.T) {
	tbl := Default()
	a := tbl.Evaluate(priorartsearch.PolicyInput{AverageScore: 0.9, HasResults: true, MaxScore: 0.95})
	assert.Equal(t, "Low originality", a.Rating)
	require.NotNil(t, a.Score)
	assert.Equal(t, 22, *a.Score)
	assert.Contains(t, a.Warning, "nearly identical")
	assert.Contains(t, a.Warning, "Verification was not performed")
}

func TestEvaluateIgnoresYesRatioWithoutAttempts(t *testing.T) {
	a := Default().Evaluate(priorartsearch.PolicyInput{AverageScore: 0.5, VerifiedYesRatio: 1, HasResults: true})
	assert.Equal(t, "Highly original", a.Rating)
	require.NotNil(t, a.Score)
	assert.Equal(t, 82, *a.Score)
}

func TestEvaluateClampsScore(t *testing.T) {
	tbl, err := Parse([]byte(`
no_results: {rating: none}
bands:
  - {rating: only, max_average: 1, max_yes_ratio: 1, base_score: 5}
average_penalty: 20
`))
	require.NoError(t, err)
	a := tbl.Evaluate(priorartsearch.PolicyInput{AverageScore: 1, HasResults: true})
	require.NotNil(t, a.Score)
	assert.Equal(t, 0, *a.Score)
}

func TestParseRejectsInvalidTables(t *testing.T) {
	for name, doc := range map[string]string{
		"not yaml":       "bands: [",
		"no bands":       "no_results: {rating: x}",
		"no fallback":    "bands: [{rating: a, max_average: 1, base_score: 10}]",
		"score range":    "no_results: {rating: x}\nbands: [{rating: a, max_average: 1, base_score: 120}]",
		"decreasing avg": "no_results: {rating: x}\nbands: [{rating: a, max_average: 0.8, base_score: 10}, {rating: b, max_average: 0.5, base_score: 5}]",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, defaultTable, 0o644))
	tbl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), tbl)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEvaluateSatisfiesPolicy(t *testing.T) {
	var p priorartsearch.Policy = Default().Evaluate
	assert.NotNil(t, p)
}
