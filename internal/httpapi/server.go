package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/joelkehle/idea-sonar/internal/priorartsearch"
	"github.com/joelkehle/idea-sonar/internal/runstore"
)

const (
	DefaultRequestTimeout = 3 * time.Minute
	maxBodyBytes          = 1 << 20
)

// Analyzer runs one originality analysis. *priorartsearch.Pipeline
// satisfies it.
type Analyzer interface {
	Run(ctx context.Context, idea string) priorartsearch.Outcome
}

type ReportPDFRenderer interface {
	Render(ctx context.Context, markdown string) ([]byte, error)
}

// Health describes the wiring the server was started with.
type Health struct {
	Version      string `json:"version"`
	WebSearch    bool   `json:"web_search"`
	PatentSearch bool   `json:"patent_search"`
	Verification bool   `json:"verification"`
	Cache        bool   `json:"cache"`
}

type Options struct {
	RequestTimeout time.Duration
	PDF            ReportPDFRenderer
	Health         Health
	// Runs enables the asynchronous /v1/runs endpoints when set.
	Runs           *runstore.Store
}

type Server struct {
	analyzer Analyzer
	pdf      ReportPDFRenderer
	timeout  time.Duration
	health   Health
	runs     *runstore.Store
	started  time.Time
}

func NewServer(analyzer Analyzer, opts Options) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Health.Version == "" {
		opts.Health.Version = priorartsearch.AgentVersion
	}
	s := &Server{
		analyzer: analyzer,
		pdf:      opts.PDF,
		timeout:  opts.RequestTimeout,
		health:   opts.Health,
		runs:     opts.Runs,
		started:  time.Now(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("/v1/health", s.handleHealth)
	if s.runs != nil {
		mux.HandleFunc("/v1/runs", s.handleRuns)
		mux.HandleFunc("/v1/runs/{id}", s.handleRun)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	})
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte("{}"), nil
	}
	blob, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(blob) > maxBodyBytes {
		return nil, errors.New("request body too large")
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	return blob, nil
}

type analyzeRequest struct {
	IdeaText string `json:"idea_text"`
}

// ideaFromRequest accepts a JSON body or a form post with an idea_text field.
func ideaFromRequest(w http.ResponseWriter, r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return "", fmt.Errorf("invalid form: %w", err)
		}
		return r.PostFormValue("idea_text"), nil
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return "", fmt.Errorf("invalid form: %w", err)
		}
		return r.PostFormValue("idea_text"), nil
	}
	blob, err := readBody(r)
	if err != nil {
		return "", err
	}
	var req analyzeRequest
	if err := json.Unmarshal(blob, &req); err != nil {
		return "", fmt.Errorf("invalid json: %w", err)
	}
	return req.IdeaText, nil
}

// requireIdea reads and checks the idea text, writing a 400 on failure.
func requireIdea(w http.ResponseWriter, r *http.Request) (string, bool) {
	idea, err := ideaFromRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return "", false
	}
	if strings.TrimSpace(idea) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", priorartsearch.ErrIdeaRequired.Error())
		return "", false
	}
	return idea, true
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	idea, ok := requireIdea(w, r)
	if !ok {
		return
	}
	format, ok := s.parseFormat(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	out := s.analyzer.Run(ctx, idea)
	s.writeOutcome(ctx, w, out, format, statusFor(out))
}

// parseFormat validates the format query parameter. It writes the error
// response itself and reports false on failure.
func (s *Server) parseFormat(w http.ResponseWriter, r *http.Request) (string, bool) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	switch format {
	case "", "json", "markdown", "html", "pdf":
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unknown format %q", format))
		return "", false
	}
	if format == "pdf" && s.pdf == nil {
		writeError(w, http.StatusServiceUnavailable, "pdf_unavailable", "pdf renderer unavailable")
		return "", false
	}
	return format, true
}

func (s *Server) writeOutcome(ctx context.Context, w http.ResponseWriter, out priorartsearch.Outcome, format string, status int) {
	switch format {
	case "", "json":
		writeJSON(w, status, out)
	case "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, priorartsearch.BuildReportMarkdown(out))
	case "html":
		page, err := renderHTMLPage(priorartsearch.BuildReportMarkdown(out))
		if err != nil {
			log.Printf("idea-sonar render_html_failed run_id=%s err=%v", out.RunID, err)
			writeError(w, http.StatusInternalServerError, "render_failed", "failed to render report")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, page)
	case "pdf":
		pdf, err := s.pdf.Render(ctx, priorartsearch.BuildReportMarkdown(out))
		if err != nil {
			log.Printf("idea-sonar render_pdf_failed run_id=%s err=%v", out.RunID, err)
			writeError(w, http.StatusInternalServerError, "render_failed", "failed to render pdf")
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "idea-sonar-"+sanitizeFilename(out.RunID)+".pdf"))
		w.WriteHeader(status)
		_, _ = w.Write(pdf)
	}
}

// statusFor maps the outcome discriminator onto an HTTP status. Insufficient
// data is a normal result, not a failure.
func statusFor(out priorartsearch.Outcome) int {
	if out.Status != priorartsearch.OutcomeError {
		return http.StatusOK
	}
	switch out.Metadata.FailedStage {
	case priorartsearch.StageSanitize:
		return http.StatusBadRequest
	case priorartsearch.StageRetrieve:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"components":     s.health,
	})
}

func sanitizeFilename(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "report"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, v)
}
