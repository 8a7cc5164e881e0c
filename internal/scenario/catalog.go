// Package scenario holds the built-in ExamBuilder workflows and loads user
// scenarios from YAML.
package scenario

import (
	"fmt"
	"sort"
	"time"

	"github.com/kuitang/exambuilder-verify/internal/harness"
)

const (
	landmarkTimeout = 10 * time.Second
	dropTimeout     = 5 * time.Second
)

var (
	appLandmark  = harness.Text("ExamBuilder")
	sampleShort  = harness.Text("Solve for x")
	sampleMCQ    = harness.Text("What is the capital of Bangladesh?")
	dropZone     = harness.Text("Drag questions here")
	examPaper    = harness.CSS("#exam-paper")
	paperSurface = harness.CSS("#exam-paper-container")
	previewBtn   = harness.CSS("button[title='Validate & Preview']")
)

func open() harness.Step {
	return harness.Step{Kind: harness.KindNavigate, Value: "/", Target: appLandmark, Timeout: landmarkTimeout}
}

func visible(loc harness.Locator) harness.Step {
	return harness.Step{Kind: harness.KindExpectVisible, Target: loc}
}

func visibleWithin(loc harness.Locator, timeout time.Duration) harness.Step {
	return harness.Step{Kind: harness.KindExpectVisible, Target: loc, Timeout: timeout}
}

func click(loc harness.Locator) harness.Step {
	return harness.Step{Kind: harness.KindClick, Target: loc}
}

// addSampleQuestion drags the short-answer sample onto the empty paper.
func addSampleQuestion() harness.Step {
	return harness.Step{Kind: harness.KindDrag, Target: sampleShort, Dest: dropZone}
}

var builtins = []harness.Scenario{
	{
		Name:        "dashboard",
		Description: "Dashboard shell renders its navigation and both phase-2 panels.",
		Steps: []harness.Step{
			open(),
			visible(harness.Text("Question Bank")),
			visible(harness.Text("Drafts")),
			visible(harness.Text("Settings")),
			visible(harness.Text("Source Panel (Phase 2)")),
			visible(harness.Text("Target Area (Phase 2)")),
		},
	},
	{
		Name:        "drag-drop",
		Description: "A question dragged from the bank lands numbered on the exam paper.",
		Steps: []harness.Step{
			open(),
			addSampleQuestion(),
			visibleWithin(harness.Text("1."), dropTimeout),
			visible(sampleShort),
		},
	},
	{
		Name:        "edit-remove",
		Description: "A question on the paper can be edited inline and removed again.",
		Steps: []harness.Step{
			open(),
			addSampleQuestion(),
			visible(harness.Text("Short Answer Questions")),
			click(sampleShort.In(examPaper)),
			visible(editInput),
			{Kind: harness.KindFill, Target: editInput, Value: "Solve for x: 2x = 10"},
			click(harness.CSS("button:has(.lucide-check)")),
			visible(harness.Text("Solve for x: 2x = 10")),
			{Kind: harness.KindHover, Target: harness.Text("Solve for x: 2x = 10")},
			click(harness.CSS("button[title='Remove Question']")),
			visible(dropZone),
		},
	},
	{
		Name:        "grouping",
		Description: "Questions of different types are grouped under their own section headers.",
		Steps: []harness.Step{
			open(),
			addSampleQuestion(),
			visible(harness.Text("Short Answer Questions")),
			{Kind: harness.KindSelect, Target: harness.CSS("select").Filter("Math"), Value: "All"},
			{Kind: harness.KindDrag, Target: sampleMCQ, Dest: examPaper},
			visible(harness.Text("Short Answer Questions")),
			visible(harness.Text("MCQ Questions")),
		},
	},
	{
		Name:        "instructions",
		Description: "Section instructions follow the paper language setting.",
		Steps: []harness.Step{
			open(),
			addSampleQuestion(),
			visible(harness.Text("Short Answer Questions")),
			visible(harness.Text("Answer any ৫ questions")),
			{Kind: harness.KindHover, Target: harness.CSS("[class*='group/header']")},
			{Kind: harness.KindHover, Target: harness.CSS("[class*='group/settings']")},
			{Kind: harness.KindSelect, Target: harness.CSS("select:has(option[value='english'])"), Value: "english"},
			visible(harness.Text("Answer any 5 questions")),
		},
	},
	{
		Name:        "mobile-sidebar",
		Description: "On a phone-sized viewport the sidebar opens from the menu button and closes from its backdrop.",
		Viewport:    harness.Viewport{Width: 375, Height: 667},
		Steps: []harness.Step{
			{Kind: harness.KindNavigate, Value: "/"},
			visibleWithin(harness.CSS(`button.md\:hidden`), landmarkTimeout),
			click(harness.CSS(`button.md\:hidden`)),
			visibleWithin(appLandmark, 2*time.Second),
			visible(harness.CSS(`.bg-black\/50`)),
			click(harness.CSS(`.bg-black\/50`)),
			{Kind: harness.KindExpectHidden, Target: harness.CSS(`.bg-black\/50`)},
		},
	},
	{
		Name:        "modal-interaction",
		Description: "The paper context menu switches question type and updates the marks default.",
		Steps: []harness.Step{
			open(),
			{Kind: harness.KindClick, Target: paperSurface, Button: harness.ButtonRight},
			{Kind: harness.KindExpectValue, Target: settingsTypeSelect, Value: "MCQ"},
			{Kind: harness.KindSelect, Target: settingsTypeSelect, Value: "Short Answer"},
			{Kind: harness.KindExpectValue, Target: harness.CSS("label:has-text('Marks per Question') + input"), Value: "5"},
		},
	},
	{
		Name:        "phase3",
		Description: "Context menus, validation of an empty paper and preview of a filled one.",
		Steps: []harness.Step{
			open(),
			{Kind: harness.KindClick, Target: paperSurface, Button: harness.ButtonRight},
			{Kind: harness.KindClick, Target: harness.CSS("input[placeholder='School Name']"), Button: harness.ButtonRight},
			visible(harness.Text("MCQ Settings")),
			click(harness.CSS("button:has(.lucide-x)")),
			click(previewBtn),
			visible(harness.Text("Please fix the following issues")),
			visible(harness.Text("No questions added")),
			click(harness.Text("Close")),
			addSampleQuestion(),
			click(previewBtn),
			{Kind: harness.KindScreenshot, Value: "validation"},
		},
	},
	{
		Name:        "phase4",
		Description: "Editing triggers cloud sync and the PDF export is offered.",
		Steps: []harness.Step{
			open(),
			addSampleQuestion(),
			{Kind: harness.KindExpectVisible, Target: harness.Text("Cloud Syncing..."), Timeout: 2 * time.Second, Soft: true},
			visible(harness.CSS("button[title='Download PDF']")),
			click(harness.CSS("button[title='Download PDF']")),
		},
	},
	{
		Name:        "preview-logic",
		Description: "Preview of an empty paper lists the per-type question quotas.",
		Steps: []harness.Step{
			open(),
			click(previewBtn),
			visible(harness.Text("Expected 20 MCQ questions")),
			visible(harness.Text("Expected 8 Short Answer questions")),
			visible(harness.Text("Expected 3 Creative questions")),
		},
	},
	{
		Name:        "voice-agent",
		Description: "The voice agent listens, shows the recognised command and adds questions.",
		Steps: []harness.Step{
			open(),
			visible(voiceButton),
			click(voiceButton),
			visibleWithin(harness.Text("Listening..."), dropTimeout),
			visibleWithin(harness.Text("Add 5 hard questions"), dropTimeout),
			{Kind: harness.KindExpectHidden, Target: harness.Text("Add 5 hard questions"), Timeout: dropTimeout},
			// the bank always lists this question; only the paper copy proves the agent added it
			visible(sampleMCQ.In(examPaper)),
		},
	},
	{
		Name:        "voice-agent-refined",
		Description: "The voice agent adds a creative question to the paper on a desktop viewport.",
		Viewport:    harness.Viewport{Width: 1280, Height: 720},
		Steps: []harness.Step{
			{Kind: harness.KindNavigate, Value: "/", Target: appLandmark, Timeout: 30 * time.Second},
			{Kind: harness.KindPause, Value: "2000"},
			click(voiceButton),
			{Kind: harness.KindPause, Value: "6000"},
			visible(harness.Text("Derive E=mc^2").In(examPaper)),
			visible(harness.Text("Creative Questions")),
		},
	},
	{
		Name:        "migration",
		Description: "The migrated layout renders on a mobile device profile.",
		Device:      "iPhone 12 Pro",
		Steps: []harness.Step{
			{Kind: harness.KindNavigate, Value: "/"},
			visibleWithin(harness.Text("Question Bank"), 30*time.Second),
			{Kind: harness.KindExpectVisible, Target: harness.CSS(".cursor-grab"), Timeout: landmarkTimeout, Soft: true},
			visibleWithin(harness.CSS("button[title='Add New Section']"), landmarkTimeout),
		},
	},
}

var (
	voiceButton        = harness.CSS("button[title='AI Voice Agent']")
	editInput          = harness.CSS("input[type='text'][value='Solve for x: 2x + 5 = 15']")
	settingsTypeSelect = harness.CSS("select").In(harness.Locator{Text: "Settings", Parent: true})
)

var byName = func() map[string]int {
	m := make(map[string]int, len(builtins))
	for i, sc := range builtins {
		m[sc.Name] = i
	}
	return m
}()

// All returns a copy of the built-in scenarios in catalog order.
func All() []harness.Scenario {
	out := make([]harness.Scenario, len(builtins))
	for i, sc := range builtins {
		out[i] = clone(sc)
	}
	return out
}

// Names returns the built-in scenario names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for _, sc := range builtins {
		names = append(names, sc.Name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the built-in scenario with the given name.
func Lookup(name string) (harness.Scenario, bool) {
	i, ok := byName[name]
	if !ok {
		return harness.Scenario{}, false
	}
	return clone(builtins[i]), true
}

// Select resolves names against the catalog plus extra scenarios. Extra
// scenarios shadow built-ins of the same name. With no names, every built-in
// followed by every extra scenario is returned.
func Select(names []string, extra []harness.Scenario) ([]harness.Scenario, error) {
	extraByName := make(map[string]harness.Scenario, len(extra))
	for _, sc := range extra {
		extraByName[sc.Name] = sc
	}

	if len(names) == 0 {
		out := make([]harness.Scenario, 0, len(builtins)+len(extra))
		for _, sc := range All() {
			if _, shadowed := extraByName[sc.Name]; !shadowed {
				out = append(out, sc)
			}
		}
		return append(out, extra...), nil
	}

	out := make([]harness.Scenario, 0, len(names))
	var unknown []string
	for _, n := range names {
		if sc, ok := extraByName[n]; ok {
			out = append(out, sc)
			continue
		}
		if sc, ok := Lookup(n); ok {
			out = append(out, sc)
			continue
		}
		unknown = append(unknown, n)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown scenario(s) %v; available: %v", unknown, Names())
	}
	return out, nil
}

func clone(sc harness.Scenario) harness.Scenario {
	sc.Steps = append([]harness.Step(nil), sc.Steps...)
	return sc
}
