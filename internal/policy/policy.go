// Package policy turns pipeline metrics into an originality rating and score
// using a configurable table of rating bands.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/joelkehle/idea-sonar/internal/priorartsearch"
)

//go:embed default_policy.yaml
var defaultTable []byte

type Verdict struct {
	Rating         string `yaml:"rating"`
	Interpretation string `yaml:"interpretation"`
}

// Band applies when AverageScore <= MaxAverage and, if verification ran,
// VerifiedYesRatio <= MaxYesRatio.
type Band struct {
	Rating         string  `yaml:"rating"`
	MaxAverage     float64 `yaml:"max_average"`
	MaxYesRatio    float64 `yaml:"max_yes_ratio"`
	BaseScore      int     `yaml:"base_score"`
	Interpretation string  `yaml:"interpretation"`
}

type Table struct {
	NoResults Verdict `yaml:"no_results"`
	Bands     []Band  `yaml:"bands"`

	// Score = BaseScore - AveragePenalty*AverageScore - YesPenalty*VerifiedYesRatio,
	// rounded and clamped to [0,100].
	AveragePenalty float64 `yaml:"average_penalty"`
	YesPenalty     float64 `yaml:"yes_penalty"`

	HighSimilarity        float64 `yaml:"high_similarity"`
	HighSimilarityWarning string  `yaml:"high_similarity_warning"`
	UnverifiedWarning     string  `yaml:"unverified_warning"`
}

// Default returns the built-in table.
func Default() Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("policy: built-in table: %v", err))
	}
	return t
}

func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("reading policy file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return Table{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	return t, nil
}

func Parse(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("parsing policy: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

func (t Table) Validate() error {
	if len(t.Bands) == 0 {
		return errors.New("policy needs at least one band")
	}
	if strings.TrimSpace(t.NoResults.Rating) == "" {
		return errors.New("no_results.rating is required")
	}
	for i, b := range t.Bands {
		if strings.TrimSpace(b.Rating) == "" {
			return fmt.Errorf("band %d: rating is required", i)
		}
		if b.BaseScore < 0 || b.BaseScore > 100 {
			return fmt.Errorf("band %q: base_score %d out of range", b.Rating, b.BaseScore)
		}
		if i > 0 && b.MaxAverage < t.Bands[i-1].MaxAverage {
			return fmt.Errorf("band %q: max_average must not decrease", b.Rating)
		}
	}
	return nil
}

// Evaluate rates one run. It has the priorartsearch.Policy signature.
func (t Table) Evaluate(in priorartsearch.PolicyInput) priorartsearch.Assessment {
	if !in.HasResults {
		return priorartsearch.Assessment{
			Rating:         t.NoResults.Rating,
			Interpretation: t.NoResults.Interpretation,
		}
	}

	band := t.pick(in)
	yesRatio := in.VerifiedYesRatio
	if in.VerificationAttempts == 0 {
		yesRatio = 0
	}
	raw := float64(band.BaseScore) - t.AveragePenalty*in.AverageScore - t.YesPenalty*yesRatio
	score := int(math.Round(math.Max(0, math.Min(100, raw))))

	var warnings []string
	if t.HighSimilarity > 0 && in.MaxScore >= t.HighSimilarity && t.HighSimilarityWarning != "" {
		warnings = append(warnings, t.HighSimilarityWarning)
	}
	if in.VerificationAttempts == 0 && t.UnverifiedWarning != "" {
		warnings = append(warnings, t.UnverifiedWarning)
	}

	return priorartsearch.Assessment{
		Rating:         band.Rating,
		Interpretation: band.Interpretation,
		Warning:        strings.Join(warnings, "\n"),
		Score:          &score,
	}
}

func (t Table) pick(in priorartsearch.PolicyInput) Band {
	for _, b := range t.Bands {
		if in.AverageScore > b.MaxAverage {
			continue
		}
		if in.VerificationAttempts > 0 && in.VerifiedYesRatio > b.MaxYesRatio {
			continue
		}
		return b
	}
	return t.Bands[len(t.Bands)-1]
}
