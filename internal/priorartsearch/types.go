package priorartsearch

import (
	"errors"
	"fmt"
	"time"
)

const (
	AgentVersion = "1.0.0"

	SourceWeb    = "Web Search"
	SourcePatent = "Patent"

	DefaultRelevanceThreshold     = 0.45
	DefaultMaxVerificationTargets = 5
	DefaultMaxExcerpt             = 500
	DefaultHintExcerpt            = 1000
	DefaultHintWindow             = 1200
	DefaultPromptVersion          = "v1"
	DefaultLLMModel               = "claude-sonnet-4-5"

	TopResultsLimit   = 5
	PreviewChars      = 150
	MaxIdeaChars      = 4000
	DefaultWebResults = 10
)

// DefaultHints mark texts that usually describe a concrete implementation.
var DefaultHints = []string{
	"implemented", "implementation", "launched", "released", "available now",
	"prototype", "product", "platform", "service", "app ", "patent",
	"출시", "서비스", "구현", "제품", "특허",
}

var (
	ErrRetrievalFailed = errors.New("external retrieval failed")
	ErrNoSources       = errors.New("no retrieval sources configured")
	ErrIdeaRequired    = errors.New("idea text is required")
)

type Hit struct {
	Text   string `json:"text"`
	Link   string `json:"link,omitempty"`
	Source string `json:"source"`
}

type ScoredHit struct {
	Hit
	Score float64 `json:"score"`
}

type VerificationStatus string

const (
	VerificationYes     VerificationStatus = "Yes"
	VerificationNo      VerificationStatus = "No"
	VerificationUnclear VerificationStatus = "Unclear"
	VerificationError   VerificationStatus = "Error"
	VerificationSkipped VerificationStatus = "Skipped"
)

type Verification struct {
	Status VerificationStatus `json:"status"`
	Reason string             `json:"reason,omitempty"`
}

// Verifications is keyed by hit text.
type Verifications map[string]Verification

type OutcomeStatus string

const (
	OutcomeSuccess          OutcomeStatus = "success"
	OutcomeInsufficientData OutcomeStatus = "insufficient_data"
	OutcomeError            OutcomeStatus = "error"
)

type Metrics struct {
	ConceptDensityPct        *float64 `json:"concept_density_pct,omitempty"`
	EvidenceRatePct          *float64 `json:"evidence_rate_pct,omitempty"`
	EvidenceCount            int      `json:"evidence_count"`
	VerificationAttempts     int      `json:"verification_attempts"`
	RelevantCount            int      `json:"relevant_count"`
	CombinedResultsFound     bool     `json:"combined_results_found"`
	VerificationThresholdPct float64  `json:"verification_threshold_pct"`
}

type RankedResult struct {
	Rank           int           `json:"rank"`
	SimilarityPct  float64       `json:"similarity_pct"`
	ContentPreview string        `json:"content_preview"`
	Link           string        `json:"link,omitempty"`
	Source         string        `json:"source"`
	Verification   *Verification `json:"verification,omitempty"`
}

type Diagnostics struct {
	WebHits          int    `json:"web_hits"`
	PatentHits       int    `json:"patent_hits"`
	MalformedDropped int    `json:"malformed_dropped"`
	PatentTier       string `json:"patent_tier,omitempty"`
	KeywordsDegraded bool   `json:"keywords_degraded"`
	CacheEnabled     bool   `json:"cache_enabled"`
	Sanitized        bool   `json:"sanitized"`
	WebError         string `json:"web_error,omitempty"`
	PatentError      string `json:"patent_error,omitempty"`
}

type OutcomeMetadata struct {
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	DurationMS     int64     `json:"duration_ms"`
	StagesExecuted []string  `json:"stages_executed"`
	FailedStage    string    `json:"failed_stage,omitempty"`
	PromptVersion  string    `json:"prompt_version"`
}

// Outcome is the structured result of one run. Status is always set.
type Outcome struct {
	RunID          string          `json:"run_id"`
	Version        string          `json:"version"`
	Status         OutcomeStatus   `json:"status"`
	Idea           string          `json:"idea"`
	Rating         string          `json:"rating,omitempty"`
	Score          *int            `json:"score,omitempty"`
	Interpretation string          `json:"interpretation,omitempty"`
	Warning        string          `json:"warning,omitempty"`
	Error          string          `json:"error,omitempty"`
	Metrics        *Metrics        `json:"metrics,omitempty"`
	TopResults     []RankedResult  `json:"top_results"`
	ReferenceOnly  bool            `json:"reference_only"`
	Diagnostics    Diagnostics     `json:"diagnostics"`
	Metadata       OutcomeMetadata `json:"metadata"`
}

// PolicyInput is what the rating policy sees of a run.
type PolicyInput struct {
	AverageScore         float64
	VerifiedYesRatio     float64
	VerificationAttempts int
	HasResults           bool
	MaxScore             float64
}

type Assessment struct {
	Rating         string
	Interpretation string
	Warning        string
	Score          *int
}

// Policy turns run metrics into a rating and score. It must be pure.
type Policy func(PolicyInput) Assessment

type PatentSearchInfo struct {
	Tier             string `json:"tier"`
	Keywords         string `json:"keywords"`
	KeywordsDegraded bool   `json:"keywords_degraded"`
}

type StageAttemptMetrics struct {
	Attempts       int `json:"attempts"`
	ContentRetries int `json:"content_retries"`
}

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
