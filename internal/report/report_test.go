package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/exambuilder-verify/internal/errs"
	"github.com/kuitang/exambuilder-verify/internal/harness"
	"github.com/kuitang/exambuilder-verify/internal/runstore"
)

func failingRecord(dir string) runstore.Record {
	started := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	rec := runstore.NewRecord("run-1", "http://localhost:3000", started)
	rec.FinishedAt = started.Add(12 * time.Second)
	rec.Results = []harness.Result{
		{
			Scenario:   "dashboard",
			Passed:     true,
			FailedStep: -1,
			StartedAt:  started,
			FinishedAt: started.Add(2 * time.Second),
			Artifacts:  []harness.Artifact{{Kind: harness.ArtifactSuccess, Name: "dashboard_success.png", Location: filepath.Join(dir, "dashboard_success.png")}},
		},
		{
			Scenario:   "phase4",
			Passed:     true,
			FailedStep: -1,
			Warnings:   []string{"step 3 (expect_visible text=\"Cloud Syncing...\"): not visible"},
		},
		{
			Scenario:   "drag-drop",
			FailedStep: 2,
			Failure: &harness.Failure{
				Code:      errs.ElementNotFound,
				Message:   `step 3 (expect_visible text="1."): element not found | <script>alert(1)</script>`,
				StepIndex: 2,
				Locator:   `text="1."`,
				Expected:  "visible within 5s",
				Actual:    "not visible",
				PageURL:   "http://localhost:3000/",
				PageTitle: "ExamBuilder",
			},
			Artifacts: []harness.Artifact{{Kind: harness.ArtifactError, Name: "drag-drop_error.png", Location: filepath.Join(dir, "drag-drop_error.png")}},
		},
	}
	return rec
}

func TestMarkdown_FailingRun(t *testing.T) {
	dir := filepath.Join("out", "verification")
	md := string(Markdown(failingRecord(dir), Options{LinkBase: dir}))

	assert.Contains(t, md, "**Result:** FAIL (2 passed, 1 failed, 1 with warnings)")
	assert.Contains(t, md, "| drag-drop | FAIL | 0s | 3 | element_not_found |")
	assert.Contains(t, md, "| phase4 | PASS (warnings) |")
	assert.Contains(t, md, "### drag-drop")
	assert.Contains(t, md, "- **Locator:** `text=\"1.\"`")
	assert.Contains(t, md, "- **Page:** http://localhost:3000/ (ExamBuilder)")
	assert.Contains(t, md, "![drag-drop_error.png](drag-drop_error.png)")
	assert.Contains(t, md, "[dashboard_success.png](dashboard_success.png)")
	assert.Contains(t, md, "## Warnings")
	assert.Contains(t, md, "Cloud Syncing...")
}

func TestMarkdown_PassingRunHasNoFailureSection(t *testing.T) {
	rec := failingRecord("")
	rec.Results = rec.Results[:1]
	md := string(Markdown(rec, Options{}))

	assert.Contains(t, md, "**Result:** PASS")
	assert.NotContains(t, md, "## Failures")
	assert.NotContains(t, md, "## Warnings")
}

func TestMarkdown_RemoteLocationsUntouched(t *testing.T) {
	rec := failingRecord("")
	rec.Results[0].Artifacts[0].Location = "https://cdn.example/run-1/dashboard_success.png"
	md := string(Markdown(rec, Options{LinkBase: "verification"}))
	assert.Contains(t, md, "(https://cdn.example/run-1/dashboard_success.png)")
}

func TestHTML_IsSanitized(t *testing.T) {
	page, err := HTML(failingRecord("verification"), Options{LinkBase: "verification"})
	require.NoError(t, err)
	html := string(page)

	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, "<title>ExamBuilder verification: FAIL</title>")
	assert.Contains(t, html, `class="verdict fail"`)
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, `src="drag-drop_error.png"`)
	assert.NotContains(t, html, "<script>alert(1)</script>")
}

func TestCode(t *testing.T) {
	assert.Equal(t, "`a`", code("a"))
	assert.Equal(t, "`` a`b ``", code("a`b"))
	assert.Equal(t, "`a b`", code("a\nb"))
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	mdPath, htmlPath, err := Write(dir, failingRecord(dir))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, MarkdownFile), mdPath)
	assert.Equal(t, filepath.Join(dir, HTMLFile), htmlPath)

	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "](drag-drop_error.png)")

	page, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(page), "drag-drop")
}
