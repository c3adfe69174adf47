package httpapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const reportCSS = `
body{font-family:-apple-system,"Segoe UI","Noto Sans KR",Roboto,sans-serif;color:#1c1917;background:#fff;margin:0;padding:1.5rem;line-height:1.5;}
.report{max-width:960px;margin:0 auto;}
h1{font-size:1.6rem;border-bottom:2px solid #0f766e;padding-bottom:0.3rem;}
h2{font-size:1.15rem;color:#0f766e;margin-top:1.6rem;}
blockquote{margin:0;padding:0.4rem 0.8rem;background:#fef3c7;border-left:4px solid #d97706;}
table{width:100%;border-collapse:collapse;border:1px solid #a8a29e;font-size:0.85rem;}
th,td{border:1px solid #a8a29e;padding:0.35rem 0.45rem;text-align:left;vertical-align:top;}
thead th{background:#f1f5f9;font-weight:700;}
a{color:#1d4ed8;}
h2[data-section="assessment"]{color:#1d4ed8;}
h2[data-section="failed"]{color:#b91c1c;}
h2[data-page-break-before="true"]{break-before:page;page-break-before:always;}
@media print{@page{size:auto;margin:12mm;} body{padding:0;} .report{max-width:none;}}
`

var (
	reRunMetadata = regexp.MustCompile(`(?i)<h2([^>]*)>\s*Run Metadata\s*</h2>`)
	reAssessment  = regexp.MustCompile(`(?i)<h2([^>]*)>\s*Assessment\s*</h2>`)
	reFailed      = regexp.MustCompile(`(?i)<h2([^>]*)>\s*Analysis Failed\s*</h2>`)
)

func renderHTML(markdown string) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return applyPrintLayoutHooks(content.String()), nil
}

func renderHTMLPage(markdown string) (string, error) {
	body, err := renderHTML(markdown)
	if err != nil {
		return "", err
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>Idea Originality Report</title>" +
		"<style>" + reportCSS + "</style></head><body><article class='report'>" + body + "</article></body></html>", nil
}

// applyPrintLayoutHooks moves run metadata onto its own page and tags the
// verdict headings for styling.
func applyPrintLayoutHooks(contentHTML string) string {
	out := reRunMetadata.ReplaceAllString(contentHTML, `<h2$1 data-page-break-before="true">Run Metadata</h2>`)
	out = reAssessment.ReplaceAllString(out, `<h2$1 data-section="assessment">Assessment</h2>`)
	out = reFailed.ReplaceAllString(out, `<h2$1 data-section="failed">Analysis Failed</h2>`)
	return out
}

type ChromiumPDFRenderer struct {
	chromePath string
	timeout    time.Duration
}

// NewChromiumPDFRenderer uses chromePath, or the first Chromium found on the
// usual paths when it is empty.
func NewChromiumPDFRenderer(chromePath string) *ChromiumPDFRenderer {
	if strings.TrimSpace(chromePath) == "" {
		chromePath = detectChromePath()
	}
	return &ChromiumPDFRenderer{chromePath: chromePath, timeout: 30 * time.Second}
}

func (r *ChromiumPDFRenderer) Render(ctx context.Context, markdown string) ([]byte, error) {
	htmlDoc, err := renderHTMLPage(markdown)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			footer := `<div style="width:100%;text-align:center;font-size:9px;color:#666;">` +
				`Page <span class="pageNumber"></span> of <span class="totalPages"></span></div>`
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(footer).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0.5).
				WithMarginBottom(0.75).
				WithMarginLeft(0.45).
				WithMarginRight(0.45).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, err
	}
	return pdf, nil
}

func detectChromePath() string {
	for _, p := range []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
