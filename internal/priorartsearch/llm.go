package priorartsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"regexp"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v5"
)

const systemPrompt = "You judge whether a search result is concrete evidence that a user's idea already exists as a product, service, implementation or filed invention. You are conservative and do not invent facts. Return strict JSON only."

const verificationPromptTemplate = `[Context]
Decide whether the Hit-excerpt shows that the User-idea has already been implemented or exists in a tangible form. Focus on concrete evidence: a shipped product, a running service, a working prototype, or a patent claiming the same mechanism. Topical overlap, opinion pieces, wish lists and vague mentions are not evidence.

[User-idea]
%s

[Hit-source]
%s

[Hit-excerpt]
%s

[Output]
Return JSON: {"status": "Yes" | "No" | "Unclear", "reason": "<one or two sentences>"}`

var statusCodeRe = regexp.MustCompile(`(?:status(?:\s+code)?[:=\s]+)(\d{3})`)

type LLMCaller interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicCaller struct {
	messages AnthropicMessager
	model    string
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

func NewAnthropicCaller(apiKey, model string) (*AnthropicCaller, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultLLMModel
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey), model: model}, nil
}

func (a *AnthropicCaller) ModelName() string { return a.model }

func (a *AnthropicCaller) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   512,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// StageExecutor runs one JSON-producing LLM call within a budget of
// maxLLMAttempts. Retryable transport failures wait on an exponential
// backoff; empty, malformed or invalid content is retried at once with
// feedback appended to the prompt. Both kinds share the budget.
type StageExecutor struct {
	caller     LLMCaller
	newBackOff func() backoff.BackOff
}

const maxLLMAttempts = 3

func NewStageExecutor(caller LLMCaller) *StageExecutor {
	return &StageExecutor{caller: caller, newBackOff: llmBackOff}
}

func llmBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = 4 * time.Second
	return b
}

func (e *StageExecutor) ModelName() string {
	if e == nil || e.caller == nil {
		return DefaultLLMModel
	}
	return e.caller.ModelName()
}

func (e *StageExecutor) Run(ctx context.Context, stageName, prompt string, out any, validate func() error) (StageAttemptMetrics, error) {
	var (
		metrics  StageAttemptMetrics
		feedback string
		lastErr  error
	)
	bo := e.newBackOff()
	for attempt := 1; attempt <= maxLLMAttempts; attempt++ {
		metrics.Attempts = attempt
		started := time.Now()
		raw, err := e.caller.GenerateJSON(ctx, withFeedback(prompt, feedback))
		if err != nil {
			retry := retryableLLMError(err)
			log.Printf("idea-sonar llm_transport_error stage=%s attempt=%d retryable=%t elapsed_ms=%d err=%q",
				stageName, attempt, retry, time.Since(started).Milliseconds(), err.Error())
			lastErr = fmt.Errorf("%s transport failure: %w", stageName, err)
			if !retry || attempt == maxLLMAttempts {
				return metrics, lastErr
			}
			if werr := waitCtx(ctx, bo.NextBackOff()); werr != nil {
				return metrics, fmt.Errorf("%s transport failure: %w", stageName, werr)
			}
			continue
		}

		fb, derr := decodeStageJSON(raw, out, validate)
		if derr == nil {
			log.Printf("idea-sonar llm_success stage=%s attempt=%d elapsed_ms=%d response_chars=%d",
				stageName, attempt, time.Since(started).Milliseconds(), len(raw))
			return metrics, nil
		}
		log.Printf("idea-sonar llm_content_error stage=%s attempt=%d err=%q", stageName, attempt, derr.Error())
		lastErr = fmt.Errorf("%s failed: %w", stageName, derr)
		feedback = fb
		if attempt < maxLLMAttempts {
			metrics.ContentRetries++
		}
	}
	return metrics, lastErr
}

// decodeStageJSON parses and validates one response. On failure it returns
// the feedback to send with the next attempt.
func decodeStageJSON(raw string, out any, validate func() error) (string, error) {
	clean := stripCodeFences(raw)
	if clean == "" {
		return "Your previous response was empty. Return valid JSON only.", errors.New("empty response")
	}
	if err := json.Unmarshal([]byte(clean), out); err != nil {
		return "Your previous response was not valid JSON. Return valid JSON only.", fmt.Errorf("json parse: %w", err)
	}
	if err := validate(); err != nil {
		return fmt.Sprintf("Your response failed validation: %s. Fix and return valid JSON only.", err), fmt.Errorf("validation: %w", err)
	}
	return "", nil
}

func withFeedback(prompt, feedback string) string {
	if feedback == "" {
		return prompt
	}
	return prompt + "\n\n" + feedback
}

// LLMJudge asks a language model for a Yes/No/Unclear verdict.
type LLMJudge struct {
	exec *StageExecutor
}

func NewLLMJudge(caller LLMCaller) *LLMJudge {
	return &LLMJudge{exec: NewStageExecutor(caller)}
}

func (j *LLMJudge) ModelName() string { return j.exec.ModelName() }

type judgeResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (j *LLMJudge) Judge(ctx context.Context, idea, excerpt, source string) (Verification, error) {
	var resp judgeResponse
	prompt := fmt.Sprintf(verificationPromptTemplate, idea, source, excerpt)
	_, err := j.exec.Run(ctx, "verify", prompt, &resp, func() error {
		switch VerificationStatus(strings.TrimSpace(resp.Status)) {
		case VerificationYes, VerificationNo, VerificationUnclear:
			return nil
		default:
			return fmt.Errorf("status must be Yes, No or Unclear, got %q", resp.Status)
		}
	})
	if err != nil {
		return Verification{}, err
	}
	return Verification{
		Status: VerificationStatus(strings.TrimSpace(resp.Status)),
		Reason: strings.TrimSpace(resp.Reason),
	}, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

// retryableLLMError reports whether a failed call is worth repeating:
// timeouts, rate limits and server-side errors are; client errors and
// cancellation are not.
func retryableLLMError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	if m := statusCodeRe.FindStringSubmatch(strings.ToLower(err.Error())); len(m) == 2 {
		return m[1] == "429" || m[1][0] == '5'
	}
	return true
}

func waitCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
