package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/exambuilder-verify/internal/browser"
	"github.com/kuitang/exambuilder-verify/internal/errs"
	"github.com/kuitang/exambuilder-verify/internal/harness"
	"github.com/kuitang/exambuilder-verify/internal/notify"
	"github.com/kuitang/exambuilder-verify/internal/obs"
	"github.com/kuitang/exambuilder-verify/internal/runstore"
)

// stubSession finds every text locator except those listed in missing.
type stubSession struct {
	missing map[string]bool
}

func (s *stubSession) check(loc harness.Locator) error {
	if s.missing[loc.Text] {
		return harness.ErrTimeout
	}
	return nil
}

func (s *stubSession) Goto(string, time.Duration) error { return nil }
func (s *stubSession) Click(loc harness.Locator, _ harness.MouseButton, _ time.Duration) error {
	return s.check(loc)
}
func (s *stubSession) Fill(loc harness.Locator, _ string, _ time.Duration) error { return s.check(loc) }
func (s *stubSession) DragTo(src, _ harness.Locator, _ time.Duration) error      { return s.check(src) }
func (s *stubSession) Hover(loc harness.Locator, _ time.Duration) error          { return s.check(loc) }
func (s *stubSession) SelectOption(loc harness.Locator, _ string, _ time.Duration) error {
	return s.check(loc)
}
func (s *stubSession) WaitVisible(loc harness.Locator, _ time.Duration) error { return s.check(loc) }
func (s *stubSession) WaitHidden(harness.Locator, time.Duration) error        { return nil }
func (s *stubSession) InputValue(harness.Locator, time.Duration) (string, error) {
	return "", nil
}
func (s *stubSession) Screenshot() ([]byte, error) { return []byte("\x89PNG\r\n\x1a\nstub"), nil }
func (s *stubSession) Diagnostics() harness.Diagnostics {
	return harness.Diagnostics{URL: "http://app.test/", Title: "ExamBuilder"}
}
func (s *stubSession) Close() error { return nil }

type stubLauncher struct {
	mu       sync.Mutex
	missing  map[string]bool
	opts     browser.Options
	acquired int
	closed   int
}

func (l *stubLauncher) Acquire(context.Context, harness.SessionOptions) (harness.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired++
	return &stubSession{missing: l.missing}, nil
}

func (l *stubLauncher) Close() error {
	l.closed++
	return nil
}

const scenarioYAML = `
scenarios:
  - name: smoke-ok
    description: dashboard renders
    steps:
      - {kind: navigate, target: {text: Dashboard}}
      - {kind: click, target: {text: New Exam}}
  - name: smoke-broken
    steps:
      - {kind: navigate}
      - {kind: expect_visible, target: {text: Ghost}, timeout: 10ms}
`

type harnessEnv struct {
	dir      string
	file     string
	launcher *stubLauncher
	mailer   *notify.MockMailer
	launchFn func(browser.Options) (Launcher, error)
}

func newEnv(t *testing.T) *harnessEnv {
	t.Helper()
	for _, key := range []string{
		"EXAMBUILDER_BASE_URL", "VERIFY_OUTPUT_DIR", "VERIFY_LOG_LEVEL", "VERIFY_HEADLESS",
		"VERIFY_VIEWPORT", "VERIFY_DEVICE", "VERIFY_TIMEOUT", "VERIFY_SLOW_MO", "VERIFY_STEP_RATE",
		"VERIFY_S3_ENDPOINT", "VERIFY_S3_BUCKET", "VERIFY_S3_PREFIX", "VERIFY_S3_PUBLIC_URL",
		"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
		"VERIFY_NOTIFY_TO", "VERIFY_NOTIFY_FROM", "RESEND_API_KEY", "VERIFY_NO_EMAIL",
	} {
		t.Setenv(key, "")
	}
	t.Cleanup(obs.SetOutputForTests(io.Discard))

	dir := t.TempDir()
	file := filepath.Join(dir, "smoke.yaml")
	require.NoError(t, os.WriteFile(file, []byte(scenarioYAML), 0o644))

	env := &harnessEnv{
		dir:      filepath.Join(dir, "verification"),
		file:     file,
		launcher: &stubLauncher{missing: map[string]bool{"Ghost": true}},
		mailer:   &notify.MockMailer{},
	}
	env.launchFn = func(opts browser.Options) (Launcher, error) {
		env.launcher.opts = opts
		return env.launcher, nil
	}
	return env
}

func (e *harnessEnv) exec(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	deps := Deps{
		Launch:    e.launchFn,
		NewMailer: func(string, string) notify.Mailer { return e.mailer },
		Stdout:    &out,
		Stderr:    &errOut,
		Now:       time.Now,
	}
	code = execute(context.Background(), deps, args)
	return code, out.String(), errOut.String()
}

func TestRun_AllPassExitsZero(t *testing.T) {
	env := newEnv(t)
	code, stdout, stderr := env.exec("run", "smoke-ok", "-f", env.file, "--output", env.dir,
		"--base-url", "http://app.test", "--format", "json", "--headless=false", "--slow-mo", "50ms")
	require.Equal(t, 0, code, stderr)

	var rec runstore.Record
	require.NoError(t, json.Unmarshal([]byte(stdout), &rec))
	require.Len(t, rec.Results, 1)
	assert.True(t, rec.Results[0].Passed)
	assert.Equal(t, "http://app.test", rec.BaseURL)
	assert.Equal(t, "false", rec.Config["headless"])

	assert.False(t, env.launcher.opts.Headless)
	assert.Equal(t, 50*time.Millisecond, env.launcher.opts.SlowMo)
	assert.Equal(t, 1, env.launcher.acquired)
	assert.Equal(t, 1, env.launcher.closed)

	assert.FileExists(t, filepath.Join(env.dir, "smoke-ok_success.png"))
	assert.FileExists(t, filepath.Join(env.dir, "report.md"))
	assert.FileExists(t, filepath.Join(env.dir, "report.html"))
	assert.FileExists(t, filepath.Join(env.dir, "runs", "index.jsonl"))
}

func TestRun_FailureExitCodeAndNotification(t *testing.T) {
	env := newEnv(t)
	t.Setenv("VERIFY_NOTIFY_TO", "qa@example.com")
	t.Setenv("RESEND_API_KEY", "re_test")

	code, stdout, stderr := env.exec("run", "smoke-ok", "smoke-broken", "-f", env.file, "--output", env.dir)
	assert.Equal(t, errs.ExitCode(errs.ElementNotFound), code)
	assert.Contains(t, stderr, "1 of 2 scenarios failed; first: smoke-broken")

	assert.Contains(t, stdout, "- [PASS] smoke-ok")
	assert.Contains(t, stdout, "- [FAIL] smoke-broken")
	assert.Contains(t, stdout, "error: "+filepath.Join(env.dir, "smoke-broken_error.png"))
	assert.Contains(t, stdout, "2 scenario(s): 1 passed, 1 failed")
	assert.Contains(t, stdout, "Report:  "+filepath.Join(env.dir, "report.html"))
	assert.Contains(t, stderr, "exambuilder-verify starting...")

	require.Equal(t, 1, env.mailer.Count())
	assert.Contains(t, env.mailer.Emails[0].Subject, "first: smoke-broken")
	assert.Equal(t, 2, env.launcher.acquired)
}

func TestRun_NoSaveWritesOnlyScreenshots(t *testing.T) {
	env := newEnv(t)
	code, _, stderr := env.exec("run", "smoke-ok", "-f", env.file, "--output", env.dir, "--no-save")
	require.Equal(t, 0, code, stderr)

	assert.FileExists(t, filepath.Join(env.dir, "smoke-ok_success.png"))
	assert.NoFileExists(t, filepath.Join(env.dir, "report.html"))
	assert.NoDirExists(t, filepath.Join(env.dir, "runs"))
}

func TestRun_UsageErrorsNeverLaunch(t *testing.T) {
	cases := map[string][]string{
		"unknown scenario": {"run", "nope"},
		"bad format":       {"run", "--format", "xml"},
		"bad viewport":     {"run", "--viewport", "wide"},
		"viewport+device":  {"run", "--viewport", "375x667", "--device", "iPhone 12"},
		"unknown flag":     {"run", "--frobnicate"},
		"missing file":     {"run", "-f", "/does/not/exist.yaml"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			env := newEnv(t)
			launched := false
			env.launchFn = func(browser.Options) (Launcher, error) {
				launched = true
				return env.launcher, nil
			}
			code, _, stderr := env.exec(args...)
			assert.Equal(t, errs.ExitCode(errs.InvalidArgument), code, stderr)
			assert.Contains(t, stderr, "Error:")
			assert.False(t, launched)
		})
	}
}

func TestRun_FlagReplacesEnvironmentViewportOrDevice(t *testing.T) {
	cases := []struct {
		name               string
		envKey, envValue   string
		flag, flagValue    string
		wantKey, absentKey string
	}{
		{"device over env viewport", "VERIFY_VIEWPORT", "375x667", "--device", "iPhone 12", "device", "viewport"},
		{"viewport over env device", "VERIFY_DEVICE", "iPhone 12", "--viewport", "1280x720", "viewport", "device"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newEnv(t)
			t.Setenv(tc.envKey, tc.envValue)

			code, stdout, stderr := env.exec("run", "smoke-ok", "-f", env.file, "--output", env.dir,
				"--format", "json", tc.flag, tc.flagValue)
			require.Equal(t, 0, code, stderr)

			var rec runstore.Record
			require.NoError(t, json.Unmarshal([]byte(stdout), &rec))
			assert.Equal(t, tc.flagValue, rec.Config[tc.wantKey])
			assert.NotContains(t, rec.Config, tc.absentKey)
		})
	}
}

func TestRun_LaunchFailureIsUnavailable(t *testing.T) {
	env := newEnv(t)
	env.launchFn = func(browser.Options) (Launcher, error) {
		return nil, errors.New("playwright driver not installed")
	}
	code, _, stderr := env.exec("run", "smoke-ok", "-f", env.file, "--output", env.dir)
	assert.Equal(t, errs.ExitCode(errs.Unavailable), code)
	assert.Contains(t, stderr, "playwright driver not installed")
}

func TestOutcome(t *testing.T) {
	rec := runstore.NewRecord("r", "http://x", time.Now())
	rec.Results = []harness.Result{{Scenario: "a", Passed: true, FailedStep: -1}}
	assert.NoError(t, outcome(rec, 1))

	err := outcome(rec, 3)
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, errs.ExitCode(errs.Internal), ee.code)
	assert.Contains(t, err.Error(), "interrupted after 1 of 3")

	rec.Results = append(rec.Results, harness.Result{
		Scenario:   "b",
		FailedStep: 0,
		Failure:    &harness.Failure{Code: errs.Navigation, Message: "unreachable"},
	})
	require.ErrorAs(t, outcome(rec, 2), &ee)
	assert.Equal(t, errs.ExitCode(errs.Navigation), ee.code)
}

func TestList(t *testing.T) {
	env := newEnv(t)
	code, stdout, stderr := env.exec("list", "-f", env.file)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "- drag-drop")
	assert.Contains(t, stdout, "- smoke-ok")
	assert.Contains(t, stdout, "dashboard renders")
	assert.Contains(t, stdout, "(file)")

	code, stdout, _ = env.exec("list", "--format", "json")
	require.Equal(t, 0, code)
	var infos []scenarioInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &infos))
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
		assert.Equal(t, "builtin", info.Source)
		assert.Positive(t, info.Steps)
	}
	assert.Contains(t, names, "mobile-sidebar")
}

func TestShow(t *testing.T) {
	env := newEnv(t)
	code, stdout, _ := env.exec("show", "--output", env.dir)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "(no stored runs)")

	code, stdout, stderr := env.exec("run", "smoke-ok", "-f", env.file, "--output", env.dir, "--format", "json")
	require.Equal(t, 0, code, stderr)
	var rec runstore.Record
	require.NoError(t, json.Unmarshal([]byte(stdout), &rec))

	code, stdout, _ = env.exec("show", "--output", env.dir)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, rec.ID)
	assert.Contains(t, stdout, "[PASS] 1 scenario(s), 0 failed")

	code, stdout, stderr = env.exec("show", rec.ID[:8], "--output", env.dir)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Run ID:  "+rec.ID)
	assert.Contains(t, stdout, "base_url:")
	assert.Contains(t, stdout, "- [PASS] smoke-ok")

	code, _, stderr = env.exec("show", "ffffffff-missing", "--output", env.dir)
	assert.Equal(t, errs.ExitCode(errs.InvalidArgument), code)
	assert.True(t, strings.Contains(stderr, "no stored run matches"))
}
