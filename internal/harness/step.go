// Package harness runs declarative UI verification scenarios against a browser session.
//
// A scenario is an ordered list of steps. Each step is either an action (navigate,
// click, fill, drag, hover, select, pause, screenshot) or an assertion (expect an
// element to be visible, hidden, or to hold a value). The Runner acquires one session
// per scenario, executes the steps strictly in order, captures a screenshot on the
// first hard failure and always releases the session.
package harness

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/exambuilder-verify/internal/logutil"
)

// Kind identifies what a step does.
type Kind string

// Action kinds.
const (
	KindNavigate   Kind = "navigate"
	KindClick      Kind = "click"
	KindFill       Kind = "fill"
	KindDrag       Kind = "drag"
	KindHover      Kind = "hover"
	KindSelect     Kind = "select"
	KindPause      Kind = "pause"
	KindScreenshot Kind = "screenshot"
)

// Assertion kinds.
const (
	KindExpectVisible Kind = "expect_visible"
	KindExpectHidden  Kind = "expect_hidden"
	KindExpectValue   Kind = "expect_value"
)

var knownKinds = map[Kind]bool{
	KindNavigate:      true,
	KindClick:         true,
	KindFill:          true,
	KindDrag:          true,
	KindHover:         true,
	KindSelect:        true,
	KindPause:         true,
	KindScreenshot:    true,
	KindExpectVisible: true,
	KindExpectHidden:  true,
	KindExpectValue:   true,
}

// Known reports whether k is a supported step kind.
func (k Kind) Known() bool { return knownKinds[k] }

// IsAssertion reports whether k checks state rather than changing it.
func (k Kind) IsAssertion() bool {
	return k == KindExpectVisible || k == KindExpectHidden || k == KindExpectValue
}

// MouseButton selects the button used by a click step.
type MouseButton string

const (
	ButtonLeft  MouseButton = "left"
	ButtonRight MouseButton = "right"
)

// Locator describes how to find an element. Exactly one of Text or CSS is set.
// Within scopes the search to a container, which is how "the copy in the exam
// paper" is told apart from "the copy in the question bank".
type Locator struct {
	Text    string   `json:"text,omitempty" yaml:"text,omitempty"`
	CSS     string   `json:"css,omitempty" yaml:"css,omitempty"`
	HasText string   `json:"has_text,omitempty" yaml:"has_text,omitempty"`
	Within  *Locator `json:"within,omitempty" yaml:"within,omitempty"`
	Parent  bool     `json:"parent,omitempty" yaml:"parent,omitempty"`
	Nth     int      `json:"nth,omitempty" yaml:"nth,omitempty"`
}

// Text returns a locator matching elements that contain s.
func Text(s string) Locator { return Locator{Text: s} }

// CSS returns a locator matching a CSS selector.
func CSS(selector string) Locator { return Locator{CSS: selector} }

// In scopes l to the given container.
func (l Locator) In(container Locator) Locator {
	c := container
	l.Within = &c
	return l
}

// Filter narrows l to elements that also contain text.
func (l Locator) Filter(text string) Locator {
	l.HasText = text
	return l
}

// IsZero reports whether l names no element.
func (l Locator) IsZero() bool {
	return l.Text == "" && l.CSS == ""
}

// Validate checks that l names exactly one kind of selector, recursively.
func (l Locator) Validate() error {
	switch {
	case l.Text == "" && l.CSS == "":
		return fmt.Errorf("locator needs text or css")
	case l.Text != "" && l.CSS != "":
		return fmt.Errorf("locator %s sets both text and css", l)
	case l.Nth < 0:
		return fmt.Errorf("locator %s has negative nth", l)
	}
	if l.Within != nil {
		if err := l.Within.Validate(); err != nil {
			return fmt.Errorf("within: %w", err)
		}
	}
	return nil
}

// String renders l for diagnostics, e.g. `css="#exam-paper" >> text="Solve for x"`.
func (l Locator) String() string {
	var b strings.Builder
	if l.Within != nil {
		b.WriteString(l.Within.String())
		b.WriteString(" >> ")
	}
	switch {
	case l.Text != "":
		b.WriteString("text=" + strconv.Quote(l.Text))
	case l.CSS != "":
		b.WriteString("css=" + strconv.Quote(l.CSS))
	default:
		b.WriteString("<empty>")
	}
	if l.HasText != "" {
		b.WriteString(" has_text=" + strconv.Quote(l.HasText))
	}
	if l.Parent {
		b.WriteString(" parent")
	}
	if l.Nth > 0 {
		b.WriteString(" nth=" + strconv.Itoa(l.Nth))
	}
	return b.String()
}

// Step is one action or assertion.
type Step struct {
	Kind    Kind          `json:"kind"`
	Name    string        `json:"name,omitempty"`
	Target  Locator       `json:"target,omitempty"`
	Dest    Locator       `json:"dest,omitempty"`
	Value   string        `json:"value,omitempty"`
	Button  MouseButton   `json:"button,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
	// Soft steps log a warning on failure instead of failing the scenario.
	Soft bool `json:"soft,omitempty"`
}

// Describe returns a one-line description used in logs and reports.
func (s Step) Describe() string {
	if s.Name != "" {
		return s.Name
	}
	switch s.Kind {
	case KindNavigate:
		if s.Target.IsZero() {
			return fmt.Sprintf("navigate to %q", s.Value)
		}
		return fmt.Sprintf("navigate to %q and wait for %s", s.Value, s.Target)
	case KindDrag:
		return fmt.Sprintf("drag %s onto %s", s.Target, s.Dest)
	case KindFill:
		return fmt.Sprintf("fill %s %q", s.Target, logutil.RedactValue(s.Target.String(), s.Value))
	case KindSelect, KindExpectValue:
		return fmt.Sprintf("%s %s %q", s.Kind, s.Target, s.Value)
	case KindPause:
		return fmt.Sprintf("pause %sms", s.Value)
	case KindScreenshot:
		return "screenshot " + s.Value
	default:
		return fmt.Sprintf("%s %s", s.Kind, s.Target)
	}
}

// Validate checks the fields each kind requires.
func (s Step) Validate() error {
	if !s.Kind.Known() {
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("%s: negative timeout", s.Kind)
	}
	needsTarget := s.Kind != KindNavigate && s.Kind != KindPause && s.Kind != KindScreenshot
	if needsTarget {
		if err := s.Target.Validate(); err != nil {
			return fmt.Errorf("%s: target: %w", s.Kind, err)
		}
	} else if !s.Target.IsZero() {
		if err := s.Target.Validate(); err != nil {
			return fmt.Errorf("%s: target: %w", s.Kind, err)
		}
	}
	switch s.Kind {
	case KindNavigate:
		// empty value means the application root
	case KindDrag:
		if err := s.Dest.Validate(); err != nil {
			return fmt.Errorf("drag: dest: %w", err)
		}
	case KindFill:
		// filling an empty string clears the input
	case KindSelect, KindExpectValue:
		if s.Value == "" {
			return fmt.Errorf("%s: value is required", s.Kind)
		}
	case KindPause:
		ms, err := strconv.Atoi(s.Value)
		if err != nil || ms < 0 {
			return fmt.Errorf("pause: value must be non-negative milliseconds, got %q", s.Value)
		}
	case KindScreenshot:
		if strings.TrimSpace(s.Value) == "" {
			return fmt.Errorf("screenshot: value (artifact suffix) is required")
		}
	case KindClick:
		if s.Button != "" && s.Button != ButtonLeft && s.Button != ButtonRight {
			return fmt.Errorf("click: unknown button %q", s.Button)
		}
	}
	return nil
}

// Viewport is a browser window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// IsZero reports whether the viewport is unset.
func (v Viewport) IsZero() bool { return v.Width == 0 && v.Height == 0 }

func (v Viewport) String() string {
	if v.IsZero() {
		return "default"
	}
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// ParseViewport parses "WIDTHxHEIGHT", e.g. "375x667". Empty input yields the zero viewport.
func ParseViewport(s string) (Viewport, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return Viewport{}, nil
	}
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return Viewport{}, fmt.Errorf("viewport %q: want WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return Viewport{}, fmt.Errorf("viewport %q: invalid width", s)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return Viewport{}, fmt.Errorf("viewport %q: invalid height", s)
	}
	return Viewport{Width: width, Height: height}, nil
}

// Scenario is one self-contained UI workflow check.
type Scenario struct {
	Name        string
	Description string
	Viewport    Viewport
	Device      string
	// Timeout is the default bounded wait for steps that do not set their own.
	Timeout time.Duration
	Steps   []Step
}

// Validate checks the scenario and every step.
func (sc Scenario) Validate() error {
	if strings.TrimSpace(sc.Name) == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", sc.Name)
	}
	if sc.Timeout < 0 {
		return fmt.Errorf("scenario %q has a negative timeout", sc.Name)
	}
	if sc.Device != "" && !sc.Viewport.IsZero() {
		return fmt.Errorf("scenario %q sets both device and viewport", sc.Name)
	}
	for i, st := range sc.Steps {
		if err := st.Validate(); err != nil {
			return fmt.Errorf("scenario %q step %d: %w", sc.Name, i+1, err)
		}
	}
	return nil
}
