package priorartsearch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joelkehle/idea-sonar/internal/cache"
)

const (
	StageSanitize = "sanitize"
	StageRetrieve = "retrieve"
	StageMerge    = "merge"
	StageScore    = "score"
	StageVerify   = "verify"
	StageRank     = "rank"
	StagePolicy   = "policy"
)

const (
	msgNoResults   = "No web or patent information related to the idea was found, or none of it was usable. Rephrase the idea or check the keywords and try again."
	msgNotRelevant = "No web or patent information with similarity of at least %.0f%% to the idea was found. Make the idea more specific or try different keywords."
)

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above|following)\s+instructions?`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above|following)\s+instructions?`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above)\s+(instructions?|context)`),
	regexp.MustCompile(`(?i)(reveal|print|show)\s+(the\s+|your\s+)?system\s+prompt`),
}

var whitespaceRe = regexp.MustCompile(`\s+`)

type StageProgressFn func(stage, message string)

type PipelineConfig struct {
	RelevanceThreshold float64
	Verify             VerifyConfig
}

// Deps are the collaborators of a Pipeline. Web and Patent may be nil when
// the source is not configured; Judge may be nil to skip verification.
type Deps struct {
	Web      WebSource
	Patent   PatentSource
	Embedder Embedder
	Judge    Judge
	Cache    cache.Memoizer
	Policy   Policy
}

type Pipeline struct {
	fan          fanOut
	embedder     Embedder
	verifier     *Verifier
	policy       Policy
	cfg          PipelineConfig
	cacheEnabled bool
	tracer       trace.Tracer
}

func NewPipeline(deps Deps, cfg PipelineConfig) *Pipeline {
	if cfg.RelevanceThreshold <= 0 {
		cfg.RelevanceThreshold = DefaultRelevanceThreshold
	}
	memo := deps.Cache
	if memo == nil {
		memo = cache.PassThrough()
	}
	return &Pipeline{
		fan:          fanOut{web: deps.Web, patent: deps.Patent},
		embedder:     deps.Embedder,
		verifier:     NewVerifier(deps.Judge, memo, cfg.Verify),
		policy:       deps.Policy,
		cfg:          cfg,
		cacheEnabled: memo.Enabled(),
		tracer:       otel.Tracer("idea-sonar/pipeline"),
	}
}

func (p *Pipeline) ValidateConfig() error {
	if p.fan.web == nil && p.fan.patent == nil {
		return ErrNoSources
	}
	if p.embedder == nil {
		return errors.New("embedder is required")
	}
	return nil
}

func (p *Pipeline) Run(ctx context.Context, idea string) Outcome {
	return p.RunWithProgress(ctx, idea, nil)
}

// RunWithProgress executes one analysis. It never returns a bare error: every
// terminal state is an Outcome with Status set.
func (p *Pipeline) RunWithProgress(ctx context.Context, idea string, progress StageProgressFn) (out Outcome) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run")
	out = Outcome{
		RunID:      uuid.NewString(),
		Version:    AgentVersion,
		TopResults: []RankedResult{},
		Diagnostics: Diagnostics{
			CacheEnabled: p.cacheEnabled,
		},
		Metadata: OutcomeMetadata{
			StartedAt:     time.Now(),
			PromptVersion: p.verifier.PromptVersion(),
		},
	}
	defer func() {
		out.Metadata.CompletedAt = time.Now()
		out.Metadata.DurationMS = out.Metadata.CompletedAt.Sub(out.Metadata.StartedAt).Milliseconds()
		span.SetAttributes(
			attribute.String("run.id", out.RunID),
			attribute.String("run.status", string(out.Status)),
		)
		if out.Status == OutcomeError {
			span.SetStatus(codes.Error, out.Error)
		}
		span.End()
		log.Printf("idea-sonar run_complete run_id=%s status=%s duration_ms=%d", out.RunID, out.Status, out.Metadata.DurationMS)
	}()
	defer func() {
		if r := recover(); r != nil {
			out = p.fail(out, &StageError{Stage: "pipeline", Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	clean, sanitized := SanitizeIdea(idea)
	out.Idea = clean
	out.Diagnostics.Sanitized = sanitized
	out.Metadata.StagesExecuted = append(out.Metadata.StagesExecuted, StageSanitize)
	if clean == "" {
		return p.fail(out, &StageError{Stage: StageSanitize, Err: ErrIdeaRequired})
	}
	if err := p.ValidateConfig(); err != nil {
		return p.fail(out, &StageError{Stage: "config", Err: err})
	}
	log.Printf("idea-sonar run_start run_id=%s idea_chars=%d sanitized=%t", out.RunID, len(clean), sanitized)

	emit(progress, StageRetrieve, "Searching web and patent sources...")
	got, err := p.retrieve(ctx, clean)
	if err != nil {
		if !errors.Is(err, ErrRetrievalFailed) {
			err = fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
		}
		return p.fail(out, &StageError{Stage: StageRetrieve, Err: err})
	}
	out.Metadata.StagesExecuted = append(out.Metadata.StagesExecuted, StageRetrieve)
	out.Diagnostics.WebHits = len(got.Web)
	out.Diagnostics.PatentHits = len(got.Patent)
	out.Diagnostics.PatentTier = got.PatentInfo.Tier
	out.Diagnostics.KeywordsDegraded = got.PatentInfo.KeywordsDegraded
	if got.WebErr != nil {
		out.Diagnostics.WebError = got.WebErr.Error()
	}
	if got.PatentErr != nil {
		out.Diagnostics.PatentError = got.PatentErr.Error()
	}

	merged, malformed := mergeHits(got.Web, got.Patent)
	out.Diagnostics.MalformedDropped = malformed
	out.Metadata.StagesExecuted = append(out.Metadata.StagesExecuted, StageMerge)
	if len(merged) == 0 {
		out.Status = OutcomeInsufficientData
		out.Interpretation = msgNoResults
		out.Metrics = &Metrics{
			CombinedResultsFound:     len(got.Web)+len(got.Patent) > 0,
			VerificationThresholdPct: p.verificationThreshold() * 100,
		}
		return out
	}

	emit(progress, StageScore, "Scoring similarity...")
	scored, err := p.score(ctx, clean, merged)
	if err != nil {
		return p.fail(out, &StageError{Stage: StageScore, Err: err})
	}
	out.Metadata.StagesExecuted = append(out.Metadata.StagesExecuted, StageScore)
	sorted := sortByScore(scored)
	relevant := filterRelevant(sorted, p.cfg.RelevanceThreshold)
	if len(relevant) == 0 {
		out.Status = OutcomeInsufficientData
		out.Interpretation = fmt.Sprintf(msgNotRelevant, p.cfg.RelevanceThreshold*100)
		out.ReferenceOnly = true
		out.TopResults = toRankedResults(sorted, nil)
		out.Metrics = &Metrics{
			CombinedResultsFound:     true,
			VerificationThresholdPct: p.verificationThreshold() * 100,
		}
		return out
	}

	emit(progress, StageVerify, "Verifying closest matches...")
	verifications := p.verify(ctx, clean, relevant)
	out.Metadata.StagesExecuted = append(out.Metadata.StagesExecuted, StageVerify)

	emit(progress, StageRank, "Ranking results...")
	top := rankForDisplay(relevant, verifications, TopResultsLimit)
	out.TopResults = toRankedResults(top, verifications)
	out.Metadata.StagesExecuted = append(out.Metadata.StagesExecuted, StageRank)

	metrics, input := p.metrics(relevant, verifications)
	out.Metrics = &metrics
	if p.policy != nil {
		a := p.policy(input)
		out.Rating = a.Rating
		out.Interpretation = a.Interpretation
		out.Warning = a.Warning
		out.Score = a.Score
		out.Metadata.StagesExecuted = append(out.Metadata.StagesExecuted, StagePolicy)
	}
	out.Status = OutcomeSuccess
	return out
}

func (p *Pipeline) retrieve(ctx context.Context, idea string) (retrieval, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.retrieve")
	defer span.End()
	got, err := p.fan.retrieve(ctx, idea)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return got, err
	}
	span.SetAttributes(
		attribute.Int("hits.web", len(got.Web)),
		attribute.Int("hits.patent", len(got.Patent)),
		attribute.String("patent.tier", got.PatentInfo.Tier),
	)
	return got, nil
}

func (p *Pipeline) score(ctx context.Context, idea string, hits []Hit) ([]ScoredHit, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.score")
	defer span.End()
	span.SetAttributes(attribute.Int("hits", len(hits)))
	scored, err := scoreHits(ctx, p.embedder, idea, hits)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
	}
	return scored, err
}

func (p *Pipeline) verify(ctx context.Context, idea string, relevant []ScoredHit) Verifications {
	ctx, span := p.tracer.Start(ctx, "pipeline.verify")
	defer span.End()
	candidates := p.verifier.candidates(relevant, p.cfg.RelevanceThreshold)
	span.SetAttributes(
		attribute.Int("verify.candidates", len(candidates)),
		attribute.Bool("verify.enabled", p.verifier.Enabled()),
	)
	return p.verifier.verify(ctx, idea, candidates)
}

func (p *Pipeline) metrics(relevant []ScoredHit, verifications Verifications) (Metrics, PolicyInput) {
	var sum float64
	for _, h := range relevant {
		sum += h.Score
	}
	avg := sum / float64(len(relevant))
	density := avg * 100

	attempts, yes := 0, 0
	for _, v := range verifications {
		if v.Status == VerificationSkipped {
			continue
		}
		attempts++
		if v.Status == VerificationYes {
			yes++
		}
	}
	ratio := 0.0
	m := Metrics{
		ConceptDensityPct:        &density,
		EvidenceCount:            yes,
		VerificationAttempts:     attempts,
		RelevantCount:            len(relevant),
		CombinedResultsFound:     true,
		VerificationThresholdPct: p.verificationThreshold() * 100,
	}
	if attempts > 0 {
		ratio = float64(yes) / float64(attempts)
		rate := ratio * 100
		m.EvidenceRatePct = &rate
	}
	return m, PolicyInput{
		AverageScore:         avg,
		VerifiedYesRatio:     ratio,
		VerificationAttempts: attempts,
		HasResults:           true,
		MaxScore:             relevant[0].Score,
	}
}

func (p *Pipeline) verificationThreshold() float64 {
	if p.cfg.Verify.Threshold > 0 {
		return p.cfg.Verify.Threshold
	}
	return p.cfg.RelevanceThreshold
}

func (p *Pipeline) fail(out Outcome, err error) Outcome {
	stage := StageNameFromError(err)
	msg := err.Error()
	var se *StageError
	if errors.As(err, &se) {
		msg = se.Err.Error()
	}
	log.Printf("idea-sonar run_failed run_id=%s stage=%s err=%q", out.RunID, stage, msg)
	out.Status = OutcomeError
	out.Error = msg
	out.Metadata.FailedStage = stage
	out.Rating = ""
	out.Score = nil
	out.Metrics = nil
	out.TopResults = []RankedResult{}
	return out
}

// SanitizeIdea strips common prompt-injection phrases, collapses whitespace
// and caps the length. It reports whether any phrase was removed.
func SanitizeIdea(idea string) (string, bool) {
	sanitized := false
	for _, re := range injectionPatterns {
		if re.MatchString(idea) {
			log.Printf("idea-sonar injection_pattern_removed pattern=%q", re.String())
			idea = re.ReplaceAllString(idea, " ")
			sanitized = true
		}
	}
	idea = strings.TrimSpace(whitespaceRe.ReplaceAllString(idea, " "))
	return truncateRunes(idea, MaxIdeaChars), sanitized
}

func emit(progress StageProgressFn, stage, message string) {
	if progress != nil {
		progress(stage, message)
	}
}

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "pipeline"
}
