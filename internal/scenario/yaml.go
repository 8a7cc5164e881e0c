package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kuitang/exambuilder-verify/internal/errs"
	"github.com/kuitang/exambuilder-verify/internal/harness"
)

// yamlFile is either a single scenario or a list under "scenarios".
type yamlFile struct {
	yamlScenario `yaml:",inline"`
	Scenarios    []yamlScenario `yaml:"scenarios"`
}

type yamlScenario struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Viewport    string     `yaml:"viewport"`
	Device      string     `yaml:"device"`
	Timeout     string     `yaml:"timeout"`
	Steps       []yamlStep `yaml:"steps"`
}

type yamlStep struct {
	Kind    string          `yaml:"kind"`
	Name    string          `yaml:"name"`
	Target  harness.Locator `yaml:"target"`
	Dest    harness.Locator `yaml:"dest"`
	Value   string          `yaml:"value"`
	Button  string          `yaml:"button"`
	Timeout string          `yaml:"timeout"`
	Soft    bool            `yaml:"soft"`
}

// LoadFile reads the scenarios defined in one YAML file.
func LoadFile(path string) ([]harness.Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("read scenario file %s: %v", path, err), err)
	}
	return Parse(path, b)
}

// Parse decodes scenario YAML. source names the input in error messages.
func Parse(source string, b []byte) ([]harness.Scenario, error) {
	var f yamlFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("%s: invalid yaml: %v", source, err), err)
	}

	raw := f.Scenarios
	if strings.TrimSpace(f.Name) != "" || len(f.Steps) > 0 {
		if len(raw) > 0 {
			return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("%s: define either a single scenario or a scenarios list, not both", source))
		}
		raw = []yamlScenario{f.yamlScenario}
	}
	if len(raw) == 0 {
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("%s: no scenarios defined", source))
	}

	out := make([]harness.Scenario, 0, len(raw))
	for i, ys := range raw {
		sc, err := ys.toScenario()
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("%s: scenario %d: %v", source, i+1, err), err)
		}
		if err := sc.Validate(); err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("%s: %v", source, err), err)
		}
		out = append(out, sc)
	}
	if err := checkUnique(out); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("%s: %v", source, err), err)
	}
	return out, nil
}

// LoadPaths loads every file, and every *.yaml or *.yml file directly inside
// each directory, in lexical order. Scenario names must be unique across all
// of them.
func LoadPaths(paths []string) ([]harness.Scenario, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("scenario path %s: %v", p, err), err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("list %s: %v", p, err), err)
		}
		var found []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if ext == ".yaml" || ext == ".yml" {
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}

	var all []harness.Scenario
	for _, f := range files {
		scs, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		all = append(all, scs...)
	}
	if err := checkUnique(all); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, err.Error(), err)
	}
	return all, nil
}

func checkUnique(scs []harness.Scenario) error {
	seen := make(map[string]bool, len(scs))
	for _, sc := range scs {
		if seen[sc.Name] {
			return fmt.Errorf("duplicate scenario name %q", sc.Name)
		}
		seen[sc.Name] = true
	}
	return nil
}

func (ys yamlScenario) toScenario() (harness.Scenario, error) {
	vp, err := harness.ParseViewport(ys.Viewport)
	if err != nil {
		return harness.Scenario{}, err
	}
	timeout, err := parseDuration(ys.Timeout)
	if err != nil {
		return harness.Scenario{}, fmt.Errorf("timeout: %w", err)
	}
	sc := harness.Scenario{
		Name:        strings.TrimSpace(ys.Name),
		Description: ys.Description,
		Viewport:    vp,
		Device:      strings.TrimSpace(ys.Device),
		Timeout:     timeout,
		Steps:       make([]harness.Step, 0, len(ys.Steps)),
	}
	for i, st := range ys.Steps {
		t, err := parseDuration(st.Timeout)
		if err != nil {
			return harness.Scenario{}, fmt.Errorf("step %d timeout: %w", i+1, err)
		}
		sc.Steps = append(sc.Steps, harness.Step{
			Kind:    harness.Kind(strings.ToLower(strings.TrimSpace(st.Kind))),
			Name:    st.Name,
			Target:  st.Target,
			Dest:    st.Dest,
			Value:   st.Value,
			Button:  harness.MouseButton(strings.ToLower(strings.TrimSpace(st.Button))),
			Timeout: t,
			Soft:    st.Soft,
		})
	}
	return sc, nil
}

// parseDuration accepts Go duration strings ("5s", "1500ms"); empty means unset.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
