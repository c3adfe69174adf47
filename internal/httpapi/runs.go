package httpapi

import (
	"context"
	"log"
	"net/http"

	"github.com/joelkehle/idea-sonar/internal/priorartsearch"
)

// progressAnalyzer is implemented by analyzers that report stage progress,
// such as *priorartsearch.Pipeline.
type progressAnalyzer interface {
	RunWithProgress(ctx context.Context, idea string, progress priorartsearch.StageProgressFn) priorartsearch.Outcome
}

// handleRuns submits an analysis in the background (POST) or lists recent
// runs (GET).
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"runs": s.runs.List()})
	case http.MethodPost:
		idea, ok := requireIdea(w, r)
		if !ok {
			return
		}
		run := s.runs.Create(idea)
		log.Printf("idea-sonar run_submitted id=%s", run.ID)
		go s.execute(run.ID, idea)
		w.Header().Set("Location", "/v1/runs/"+run.ID)
		writeJSON(w, http.StatusAccepted, run)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleRun returns the run state as JSON, or the finished report in the
// requested format.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	run, ok := s.runs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}
	format, ok := s.parseFormat(w, r)
	if !ok {
		return
	}
	if format == "" || format == "json" {
		writeJSON(w, http.StatusOK, run)
		return
	}
	if !run.Done() || run.Outcome == nil {
		writeError(w, http.StatusConflict, "run_not_finished", "report not ready; run is "+string(run.Status))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	s.writeOutcome(ctx, w, *run.Outcome, format, http.StatusOK)
}

func (s *Server) execute(id, idea string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var out priorartsearch.Outcome
	if pa, ok := s.analyzer.(progressAnalyzer); ok {
		out = pa.RunWithProgress(ctx, idea, func(stage, message string) {
			s.runs.Progress(id, stage, message)
		})
	} else {
		s.runs.Progress(id, "", "analysis started")
		out = s.analyzer.Run(ctx, idea)
	}
	if !s.runs.Complete(id, out) {
		log.Printf("idea-sonar run_dropped id=%s reason=evicted", id)
		return
	}
	log.Printf("idea-sonar run_finished id=%s status=%s", id, out.Status)
}

var _ progressAnalyzer = (*priorartsearch.Pipeline)(nil)
