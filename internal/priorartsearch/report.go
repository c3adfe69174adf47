package priorartsearch

import (
	"fmt"
	"strings"
	"time"
)

const Disclaimer = "This report compares the idea against a limited sample of public web pages and patent filings. It is not a legal novelty opinion."

var statusIcons = map[VerificationStatus]string{
	VerificationYes:     "✅",
	VerificationNo:      "❌",
	VerificationUnclear: "❓",
	VerificationError:   "⚠️",
	VerificationSkipped: "⏭️",
}

// BuildReportMarkdown renders an Outcome as a markdown dashboard.
func BuildReportMarkdown(out Outcome) string {
	var b strings.Builder
	buildHeader(&b, out)
	switch out.Status {
	case OutcomeError:
		fmt.Fprintf(&b, "## Analysis Failed\n\n")
		fmt.Fprintf(&b, "**Error:** %s\n\n", safe(out.Error))
		if out.Metadata.FailedStage != "" {
			fmt.Fprintf(&b, "- Failed stage: `%s`\n\n", out.Metadata.FailedStage)
		}
	case OutcomeInsufficientData:
		fmt.Fprintf(&b, "## Insufficient Data\n\n")
		fmt.Fprintf(&b, "%s\n\n", safe(out.Interpretation))
		buildEvidence(&b, out)
		if len(out.TopResults) > 0 {
			buildTopResults(&b, out, "Reference: Closest Web/Patent Information")
		}
	default:
		buildAssessment(&b, out)
		buildEvidence(&b, out)
		buildTopResults(&b, out, "Closest Web/Patent Information (Top 5)")
	}
	buildDiagnostics(&b, out)
	return b.String()
}

func buildHeader(b *strings.Builder, out Outcome) {
	fmt.Fprintf(b, "# Idea Originality Report\n\n")
	fmt.Fprintf(b, "- Run ID: %s\n", out.RunID)
	fmt.Fprintf(b, "- Idea: %s\n", safe(clampString(out.Idea, 300)))
	fmt.Fprintf(b, "- Date: %s\n", reportDate(out).Format(time.RFC3339))
	fmt.Fprintf(b, "- Status: `%s`\n\n", out.Status)
	fmt.Fprintf(b, "%s\n\n", Disclaimer)
}

func buildAssessment(b *strings.Builder, out Outcome) {
	fmt.Fprintf(b, "## Assessment\n\n")
	fmt.Fprintf(b, "**Originality rating:** %s\n\n", safe(out.Rating))
	if out.Score != nil {
		fmt.Fprintf(b, "**Originality score:** %d / 100\n\n", *out.Score)
	} else {
		fmt.Fprintf(b, "**Originality score:** not computable\n\n")
	}
	if out.Interpretation != "" {
		fmt.Fprintf(b, "%s\n\n", out.Interpretation)
	}
	if out.Warning != "" {
		fmt.Fprintf(b, "> **Warning:** %s\n\n", out.Warning)
	}
}

func buildEvidence(b *strings.Builder, out Outcome) {
	fmt.Fprintf(b, "## Evidence\n\n")
	m := out.Metrics
	if m == nil || !m.CombinedResultsFound {
		fmt.Fprintf(b, "- Web/patent search: no related information found.\n\n")
		return
	}
	if m.ConceptDensityPct != nil {
		fmt.Fprintf(b, "- Concept density (mean similarity): %.2f%% across %d relevant results\n", *m.ConceptDensityPct, m.RelevantCount)
	} else {
		fmt.Fprintf(b, "- Concept density: no relevant information\n")
	}
	switch {
	case m.VerificationAttempts > 0 && m.EvidenceRatePct != nil:
		fmt.Fprintf(b, "- Concrete implementation evidence: %.1f%% (%d of %d verified)\n", *m.EvidenceRatePct, m.EvidenceCount, m.VerificationAttempts)
	case m.RelevantCount > 0:
		fmt.Fprintf(b, "- Concrete implementation evidence: no verified results (threshold %.0f%%)\n", m.VerificationThresholdPct)
	default:
		fmt.Fprintf(b, "- Concrete implementation evidence: not applicable\n")
	}
	b.WriteString("\n")
}

func buildTopResults(b *strings.Builder, out Outcome, title string) {
	fmt.Fprintf(b, "## %s\n\n", title)
	if len(out.TopResults) == 0 {
		fmt.Fprintf(b, "No similar results to display.\n\n")
		return
	}
	rows := out.TopResults
	if len(rows) > TopResultsLimit {
		fmt.Fprintf(b, "Showing the %d closest of %d results.\n\n", TopResultsLimit, len(rows))
		rows = rows[:TopResultsLimit]
	}
	fmt.Fprintf(b, "| # | Similarity | Source | Verification | Content |\n|---|---|---|---|---|\n")
	for _, r := range rows {
		verdict := "not performed"
		if r.Verification != nil {
			verdict = strings.TrimSpace(statusIcons[r.Verification.Status] + " " + string(r.Verification.Status))
		}
		content := tableCell(r.ContentPreview)
		if r.Link != "" {
			content = fmt.Sprintf("[%s](%s)", content, r.Link)
		}
		fmt.Fprintf(b, "| %d | %.2f%% | %s | %s | %s |\n", r.Rank, r.SimilarityPct, r.Source, verdict, content)
	}
	b.WriteString("\n")
	for _, r := range rows {
		if r.Verification == nil || r.Verification.Status == VerificationSkipped || r.Verification.Reason == "" {
			continue
		}
		fmt.Fprintf(b, "- #%d %s: %s\n", r.Rank, r.Verification.Status, tableCell(r.Verification.Reason))
	}
	b.WriteString("\n")
}

func buildDiagnostics(b *strings.Builder, out Outcome) {
	d := out.Diagnostics
	fmt.Fprintf(b, "## Run Metadata\n\n")
	fmt.Fprintf(b, "- Web hits: %d\n", d.WebHits)
	fmt.Fprintf(b, "- Patent hits: %d (tier: %s)\n", d.PatentHits, safe(d.PatentTier))
	fmt.Fprintf(b, "- Malformed items dropped: %d\n", d.MalformedDropped)
	fmt.Fprintf(b, "- Cache enabled: %t\n", d.CacheEnabled)
	if d.KeywordsDegraded {
		fmt.Fprintf(b, "- Keyword extraction degraded to raw text\n")
	}
	if d.Sanitized {
		fmt.Fprintf(b, "- Input was sanitized before analysis\n")
	}
	if d.WebError != "" {
		fmt.Fprintf(b, "- Web source error: %s\n", tableCell(d.WebError))
	}
	if d.PatentError != "" {
		fmt.Fprintf(b, "- Patent source error: %s\n", tableCell(d.PatentError))
	}
	fmt.Fprintf(b, "- Prompt version: %s\n", safe(out.Metadata.PromptVersion))
	fmt.Fprintf(b, "- Duration: %d ms\n", out.Metadata.DurationMS)
}

func reportDate(out Outcome) time.Time {
	if !out.Metadata.CompletedAt.IsZero() {
		return out.Metadata.CompletedAt
	}
	return time.Now()
}

func tableCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}

func safe(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func clampString(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return truncateRunes(s, n) + "..."
}
