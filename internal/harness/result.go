package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/exambuilder-verify/internal/errs"
)

// Status is the outcome of one step.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
	// StatusWarned marks a soft step that did not hold.
	StatusWarned Status = "warned"
)

// StepResult records how a step went.
type StepResult struct {
	Index       int           `json:"index"`
	Kind        Kind          `json:"kind"`
	Description string        `json:"description"`
	Status      Status        `json:"status"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// Failure explains why a scenario failed. StepIndex is -1 when the scenario
// failed before any step ran (invalid definition, browser unavailable).
type Failure struct {
	Code      errs.Code `json:"code"`
	Message   string    `json:"message"`
	StepIndex int       `json:"step_index"`
	Locator   string    `json:"locator,omitempty"`
	Expected  string    `json:"expected,omitempty"`
	Actual    string    `json:"actual,omitempty"`
	PageURL   string    `json:"page_url,omitempty"`
	PageTitle string    `json:"page_title,omitempty"`
}

// ArtifactKind tells success, error and mid-run screenshots apart.
type ArtifactKind string

const (
	ArtifactSuccess ArtifactKind = "success"
	ArtifactError   ArtifactKind = "error"
	ArtifactCapture ArtifactKind = "capture"
)

// Artifact is a stored screenshot.
type Artifact struct {
	Kind     ArtifactKind `json:"kind"`
	Name     string       `json:"name"`
	Location string       `json:"location"`
}

// Result is the outcome of one scenario.
type Result struct {
	RunID      string       `json:"run_id"`
	Scenario   string       `json:"scenario"`
	Passed     bool         `json:"passed"`
	FailedStep int          `json:"failed_step"`
	Failure    *Failure     `json:"failure,omitempty"`
	Steps      []StepResult `json:"steps"`
	Warnings   []string     `json:"warnings,omitempty"`
	Artifacts  []Artifact   `json:"artifacts,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Duration is the wall time of the scenario.
func (r Result) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Err returns the failure as a coded error, or nil when the scenario passed.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return errs.New(r.Failure.Code, r.Failure.Message)
}

// ArtifactsOf returns the artifacts of the given kind.
func (r Result) ArtifactsOf(kind ArtifactKind) []Artifact {
	var out []Artifact
	for _, a := range r.Artifacts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// stepError is what step execution returns; it becomes a Failure.
type stepError struct {
	code     errs.Code
	locator  string
	expected string
	actual   string
	detail   string
	cause    error
}

func (e *stepError) Error() string {
	return e.detail
}

func (e *stepError) Unwrap() error { return e.cause }

func failStep(code errs.Code, loc Locator, expected, actual string, cause error) *stepError {
	se := &stepError{
		code:     code,
		expected: expected,
		actual:   actual,
		cause:    cause,
	}
	if !loc.IsZero() {
		se.locator = loc.String()
	}
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(string(code), "_", " "))
	if se.locator != "" {
		b.WriteString(": " + se.locator)
	}
	if expected != "" {
		fmt.Fprintf(&b, ": expected %s", expected)
		if actual != "" {
			fmt.Fprintf(&b, ", got %s", actual)
		}
	}
	if cause != nil {
		fmt.Fprintf(&b, " (%v)", cause)
	}
	se.detail = b.String()
	return se
}

func (se *stepError) failure(index int, st Step) *Failure {
	return &Failure{
		Code:      se.code,
		Message:   fmt.Sprintf("step %d (%s): %s", index+1, st.Describe(), se.detail),
		StepIndex: index,
		Locator:   se.locator,
		Expected:  se.expected,
		Actual:    se.actual,
	}
}
