// Package report renders run records as Markdown and sanitized HTML.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/exambuilder-verify/internal/harness"
	"github.com/kuitang/exambuilder-verify/internal/runstore"
)

const (
	MarkdownFile = "report.md"
	HTMLFile     = "report.html"
)

// Options control how artifact links are written.
type Options struct {
	// LinkBase is the directory the report will be written to. Local artifact
	// paths are made relative to it so links work when the report is opened.
	LinkBase string
}

// Markdown renders rec as a Markdown document.
func Markdown(rec runstore.Record, opts Options) []byte {
	var b bytes.Buffer
	passed, failed, warned := rec.Counts()

	verdict := "PASS"
	if !rec.Passed() {
		verdict = "FAIL"
	}

	b.WriteString("# ExamBuilder verification report\n\n")
	fmt.Fprintf(&b, "- **Result:** %s (%d passed, %d failed, %d with warnings)\n", verdict, passed, failed, warned)
	fmt.Fprintf(&b, "- **Run:** %s\n", code(rec.ID))
	if rec.BaseURL != "" {
		fmt.Fprintf(&b, "- **Target:** %s\n", rec.BaseURL)
	}
	if !rec.StartedAt.IsZero() {
		fmt.Fprintf(&b, "- **Started:** %s\n", rec.StartedAt.UTC().Format(time.RFC3339))
	}
	if !rec.FinishedAt.IsZero() && !rec.StartedAt.IsZero() {
		fmt.Fprintf(&b, "- **Duration:** %s\n", rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond))
	}

	b.WriteString("\n## Scenarios\n\n")
	b.WriteString("| Scenario | Status | Duration | Failed step | Details |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, res := range rec.Results {
		status, step, detail := "PASS", "", ""
		switch {
		case !res.Passed:
			status = "FAIL"
			if res.FailedStep >= 0 {
				step = fmt.Sprintf("%d", res.FailedStep+1)
			}
			if res.Failure != nil {
				detail = string(res.Failure.Code)
			}
		case len(res.Warnings) > 0:
			status = "PASS (warnings)"
			detail = fmt.Sprintf("%d warning(s)", len(res.Warnings))
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			cell(res.Scenario), status, res.Duration().Round(time.Millisecond), step, cell(detail))
	}

	if failed > 0 {
		b.WriteString("\n## Failures\n")
		for _, res := range rec.Results {
			if res.Passed || res.Failure == nil {
				continue
			}
			writeFailure(&b, res, opts)
		}
	}

	if warned > 0 || hasFailedWarnings(rec) {
		b.WriteString("\n## Warnings\n\n")
		for _, res := range rec.Results {
			for _, w := range res.Warnings {
				fmt.Fprintf(&b, "- **%s:** %s\n", res.Scenario, inline(w))
			}
		}
	}

	var arts []string
	for _, res := range rec.Results {
		for _, a := range res.Artifacts {
			arts = append(arts, fmt.Sprintf("- %s %s: %s\n", res.Scenario, a.Kind, link(a.Name, a.Location, opts)))
		}
	}
	if len(arts) > 0 {
		b.WriteString("\n## Screenshots\n\n")
		for _, a := range arts {
			b.WriteString(a)
		}
	}
	return b.Bytes()
}

func writeFailure(b *bytes.Buffer, res harness.Result, opts Options) {
	f := res.Failure
	fmt.Fprintf(b, "\n### %s\n\n", res.Scenario)
	fmt.Fprintf(b, "- **Code:** %s\n", code(string(f.Code)))
	if f.StepIndex >= 0 {
		fmt.Fprintf(b, "- **Step:** %d\n", f.StepIndex+1)
	}
	if f.Locator != "" {
		fmt.Fprintf(b, "- **Locator:** %s\n", code(f.Locator))
	}
	if f.Expected != "" {
		fmt.Fprintf(b, "- **Expected:** %s\n", code(f.Expected))
	}
	if f.Actual != "" {
		fmt.Fprintf(b, "- **Actual:** %s\n", code(f.Actual))
	}
	if f.PageURL != "" {
		page := f.PageURL
		if f.PageTitle != "" {
			page += " (" + inline(f.PageTitle) + ")"
		}
		fmt.Fprintf(b, "- **Page:** %s\n", page)
	}
	fmt.Fprintf(b, "\n%s\n", code(f.Message))
	for _, a := range res.ArtifactsOf(harness.ArtifactError) {
		fmt.Fprintf(b, "\n![%s](%s)\n", a.Name, target(a.Location, opts))
	}
}

func hasFailedWarnings(rec runstore.Record) bool {
	for _, res := range rec.Results {
		if !res.Passed && len(res.Warnings) > 0 {
			return true
		}
	}
	return false
}

// HTML renders rec as a standalone page. The Markdown body is sanitized with
// bluemonday before it is embedded.
func HTML(rec runstore.Record, opts Options) ([]byte, error) {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse(Markdown(rec, opts))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank,
	})
	body := bluemonday.UGCPolicy().SanitizeBytes(markdown.Render(doc, renderer))

	title := "ExamBuilder verification: PASS"
	if !rec.Passed() {
		title = "ExamBuilder verification: FAIL"
	}
	var out bytes.Buffer
	err := pageTemplate.Execute(&out, struct {
		Title  string
		Passed bool
		Body   template.HTML
	}{
		Title:  title,
		Passed: rec.Passed(),
		Body:   template.HTML(body), // sanitized above
	})
	if err != nil {
		return nil, fmt.Errorf("render report page: %w", err)
	}
	return out.Bytes(), nil
}

// Write renders both formats into dir and returns their paths.
func Write(dir string, rec runstore.Record) (mdPath, htmlPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create %s: %w", dir, err)
	}
	opts := Options{LinkBase: dir}

	mdPath = filepath.Join(dir, MarkdownFile)
	if err := os.WriteFile(mdPath, Markdown(rec, opts), 0o644); err != nil {
		return "", "", fmt.Errorf("write %s: %w", mdPath, err)
	}
	page, err := HTML(rec, opts)
	if err != nil {
		return "", "", err
	}
	htmlPath = filepath.Join(dir, HTMLFile)
	if err := os.WriteFile(htmlPath, page, 0o644); err != nil {
		return "", "", fmt.Errorf("write %s: %w", htmlPath, err)
	}
	return mdPath, htmlPath, nil
}

func link(name, location string, opts Options) string {
	if location == "" {
		return code(name)
	}
	return fmt.Sprintf("[%s](%s)", name, target(location, opts))
}

// target makes local paths relative to the report directory.
func target(location string, opts Options) string {
	if strings.Contains(location, "://") || opts.LinkBase == "" {
		return escapeURL(location)
	}
	if rel, err := filepath.Rel(opts.LinkBase, location); err == nil {
		return escapeURL(filepath.ToSlash(rel))
	}
	return escapeURL(location)
}

func escapeURL(s string) string {
	return strings.NewReplacer(" ", "%20", "(", "%28", ")", "%29").Replace(s)
}

// code wraps s in a code span whose fence is longer than any backtick run in s.
func code(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	fence := "`"
	for strings.Contains(s, fence) {
		fence += "`"
	}
	if len(fence) > 1 || strings.HasPrefix(s, "`") || strings.HasSuffix(s, "`") {
		return fence + " " + s + " " + fence
	}
	return fence + s + fence
}

func cell(s string) string {
	return strings.ReplaceAll(inline(s), "|", `\|`)
}

func inline(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.NewReplacer("<", "&lt;", ">", "&gt;").Replace(s)
}

var pageTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            line-height: 1.6;
            color: #1a1a1a;
            max-width: 960px;
            margin: 0 auto;
            padding: 2rem 1rem;
        }
        table { border-collapse: collapse; width: 100%; }
        th, td { border: 1px solid #e0e0e0; padding: 0.4em 0.6em; text-align: left; }
        code { background-color: #f5f5f5; padding: 0.2em 0.4em; border-radius: 3px; font-size: 0.9em; }
        img { max-width: 100%; border: 1px solid #e0e0e0; }
        .verdict { padding: 0.5em 1em; border-radius: 4px; font-weight: bold; }
        .pass { background: #e6f4ea; color: #137333; }
        .fail { background: #fce8e6; color: #a50e0e; }
    </style>
</head>
<body>
{{if .Passed}}<div class="verdict pass">PASS</div>{{else}}<div class="verdict fail">FAIL</div>{{end}}
{{.Body}}
</body>
</html>
`))
