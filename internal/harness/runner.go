package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kuitang/exambuilder-verify/internal/errs"
	"github.com/kuitang/exambuilder-verify/internal/logutil"
	"github.com/kuitang/exambuilder-verify/internal/obs"
)

const (
	// DefaultTimeout bounds every wait that neither the step nor the scenario sets.
	DefaultTimeout = 10 * time.Second

	maxLoggedBodyChars = 500
)

// Options configure a Runner.
type Options struct {
	// BaseURL is the address of the application under test; relative navigate
	// paths are resolved against it.
	BaseURL string
	// RunID tags results and artifacts. A UUID is generated when empty.
	RunID string
	// DefaultTimeout applies to steps of scenarios that set no timeout.
	DefaultTimeout time.Duration
	// StepRate caps executed steps per second; zero or negative means unlimited.
	StepRate float64
	// Viewport and Device apply to scenarios that set neither.
	Viewport Viewport
	Device   string
	// Now is used for timestamps; tests replace it.
	Now func() time.Time
}

// Runner executes scenarios one at a time.
type Runner struct {
	launcher Launcher
	store    ArtifactStore
	opts     Options
	pacer    *rate.Limiter
}

// NewRunner creates a runner. store may be nil, in which case screenshots are
// taken but not persisted.
func NewRunner(launcher Launcher, store ArtifactStore, opts Options) *Runner {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	pacer := rate.NewLimiter(rate.Inf, 0)
	if opts.StepRate > 0 {
		pacer = rate.NewLimiter(rate.Limit(opts.StepRate), 1)
	}
	return &Runner{
		launcher: launcher,
		store:    store,
		opts:     opts,
		pacer:    pacer,
	}
}

// RunID returns the identifier shared by every result of this runner.
func (r *Runner) RunID() string { return r.opts.RunID }

// RunAll runs scenarios sequentially. A failing scenario never affects the
// next one; only context cancellation stops the loop early.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) []Result {
	results := make([]Result, 0, len(scenarios))
	for _, sc := range scenarios {
		if ctx.Err() != nil {
			break
		}
		results = append(results, r.Run(ctx, sc))
	}
	return results
}

// Run executes one scenario. The session it acquires is released exactly once
// on every path, after the error screenshot when a hard step fails.
func (r *Runner) Run(ctx context.Context, sc Scenario) (res Result) {
	ctx = obs.WithScenario(obs.WithRunID(ctx, r.opts.RunID), sc.Name)
	log := obs.From(ctx)

	res = Result{
		RunID:      r.opts.RunID,
		Scenario:   sc.Name,
		FailedStep: -1,
		Steps:      make([]StepResult, 0, len(sc.Steps)),
		StartedAt:  r.opts.Now(),
	}
	defer func() {
		res.FinishedAt = r.opts.Now()
		if res.Passed {
			log.Info("scenario.passed", "duration_ms", res.Duration().Milliseconds(), "warnings", len(res.Warnings))
		} else if res.Failure != nil {
			log.Error("scenario.failed", "code", res.Failure.Code, "error", res.Failure.Message)
		}
	}()

	if err := sc.Validate(); err != nil {
		res.Failure = &Failure{Code: errs.InvalidArgument, Message: err.Error(), StepIndex: -1}
		return res
	}

	opts := r.sessionOptions(sc)
	log.Info("scenario.start", "steps", len(sc.Steps), "viewport", opts.Viewport.String(), "device", opts.Device)
	sess, err := r.launcher.Acquire(ctx, opts)
	if err != nil {
		res.Failure = &Failure{
			Code:      errs.Unavailable,
			Message:   fmt.Sprintf("acquire browser session: %v", err),
			StepIndex: -1,
		}
		return res
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("session.close_failed", "error", cerr)
			res.Warnings = append(res.Warnings, fmt.Sprintf("closing browser session: %v", cerr))
		}
	}()

	current := -1
	defer func() {
		if p := recover(); p != nil {
			res.Passed = false
			res.FailedStep = current
			msg := fmt.Sprintf("step %d panicked: %v", current+1, p)
			if current < 0 {
				msg = fmt.Sprintf("success screenshot panicked: %v", p)
			}
			res.Failure = &Failure{Code: errs.Internal, Message: msg, StepIndex: current}
			r.captureAfterPanic(ctx, log, sess, sc, &res)
		}
	}()

	for i, st := range sc.Steps {
		current = i
		if err := r.pacer.Wait(ctx); err != nil {
			r.abort(ctx, log, sess, sc, &res, i, err)
			return res
		}
		if err := ctx.Err(); err != nil {
			r.abort(ctx, log, sess, sc, &res, i, err)
			return res
		}

		stepCtx := obs.WithStep(ctx, i+1, string(st.Kind))
		started := r.opts.Now()
		serr := r.execStep(stepCtx, sess, sc, st, &res)
		sr := StepResult{
			Index:       i,
			Kind:        st.Kind,
			Description: st.Describe(),
			Status:      StatusPassed,
			Duration:    r.opts.Now().Sub(started),
		}

		if serr == nil {
			res.Steps = append(res.Steps, sr)
			obs.From(stepCtx).Debug("step.passed", "step_desc", sr.Description)
			continue
		}

		var se *stepError
		if !errors.As(serr, &se) {
			se = failStep(errs.CodeOf(serr), st.Target, "", "", serr)
		}
		sr.Error = se.Error()

		if st.Soft {
			sr.Status = StatusWarned
			res.Steps = append(res.Steps, sr)
			warning := fmt.Sprintf("step %d (%s): %s", i+1, sr.Description, se.Error())
			res.Warnings = append(res.Warnings, warning)
			obs.From(stepCtx).Warn("step.soft_failed", "error", se.Error())
			continue
		}

		sr.Status = StatusFailed
		res.Steps = append(res.Steps, sr)
		res.FailedStep = i
		res.Failure = se.failure(i, st)
		r.captureFailure(ctx, log, sess, sc, &res)
		return res
	}

	current = -1
	if _, err := r.capture(ctx, sess, sc.Name, string(ArtifactSuccess), ArtifactSuccess, &res); err != nil {
		log.Warn("screenshot.success_failed", "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("success screenshot: %v", err))
	}
	res.Passed = true
	return res
}

func (r *Runner) abort(ctx context.Context, log *slog.Logger, sess Session, sc Scenario, res *Result, index int, cause error) {
	res.FailedStep = index
	res.Failure = &Failure{
		Code:      errs.Internal,
		Message:   fmt.Sprintf("run cancelled before step %d: %v", index+1, cause),
		StepIndex: index,
	}
	// the cancelled ctx would refuse the upload
	r.captureFailure(context.WithoutCancel(ctx), log, sess, sc, res)
}

// captureFailure takes the single error screenshot and records page diagnostics.
func (r *Runner) captureFailure(ctx context.Context, log *slog.Logger, sess Session, sc Scenario, res *Result) {
	diag := sess.Diagnostics()
	if res.Failure != nil {
		res.Failure.PageURL = diag.URL
		res.Failure.PageTitle = diag.Title
	}
	log.Error("scenario.diagnostics",
		"url", diag.URL,
		"title", diag.Title,
		"body_preview", logutil.TruncateForLog(diag.BodyText, maxLoggedBodyChars),
	)
	if _, err := r.capture(ctx, sess, sc.Name, string(ArtifactError), ArtifactError, res); err != nil {
		log.Error("screenshot.error_failed", "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("error screenshot: %v", err))
	}
}

// captureAfterPanic is captureFailure for a session that has already
// panicked once; a second panic becomes a warning.
func (r *Runner) captureAfterPanic(ctx context.Context, log *slog.Logger, sess Session, sc Scenario, res *Result) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("screenshot.error_failed", "panic", fmt.Sprint(p))
			res.Warnings = append(res.Warnings, fmt.Sprintf("error screenshot: panicked: %v", p))
		}
	}()
	r.captureFailure(ctx, log, sess, sc, res)
}

func (r *Runner) capture(ctx context.Context, sess Session, scenario, suffix string, kind ArtifactKind, res *Result) (Artifact, error) {
	png, err := sess.Screenshot()
	if err != nil {
		return Artifact{}, fmt.Errorf("take screenshot: %w", err)
	}
	name := ArtifactName(scenario, suffix)
	art := Artifact{Kind: kind, Name: name}
	if r.store != nil {
		loc, err := r.store.Save(ctx, name, png)
		if err != nil {
			return Artifact{}, fmt.Errorf("save %s: %w", name, err)
		}
		art.Location = loc
	}
	res.Artifacts = append(res.Artifacts, art)
	obs.From(ctx).Info("screenshot.saved", "artifact", name, "location", art.Location)
	return art, nil
}

// ArtifactName is the file name of a scenario screenshot: "<scenario>_<suffix>.png".
func ArtifactName(scenario, suffix string) string {
	return sanitizeName(scenario) + "_" + sanitizeName(suffix) + ".png"
}

func sanitizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}

func (r *Runner) sessionOptions(sc Scenario) SessionOptions {
	opts := SessionOptions{
		Viewport:       sc.Viewport,
		Device:         sc.Device,
		DefaultTimeout: r.scenarioTimeout(sc),
	}
	if opts.Viewport.IsZero() && opts.Device == "" {
		opts.Viewport = r.opts.Viewport
		opts.Device = r.opts.Device
	}
	return opts
}

func (r *Runner) scenarioTimeout(sc Scenario) time.Duration {
	if sc.Timeout > 0 {
		return sc.Timeout
	}
	return r.opts.DefaultTimeout
}

func (r *Runner) stepTimeout(sc Scenario, st Step) time.Duration {
	if st.Timeout > 0 {
		return st.Timeout
	}
	return r.scenarioTimeout(sc)
}

// ResolveURL resolves a navigate value against the base URL. Absolute URLs are
// used as given; an empty value means the application root.
func (r *Runner) ResolveURL(value string) (string, error) {
	base, err := url.Parse(r.opts.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return "", fmt.Errorf("parse path %q: %w", value, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if base.Path == "" {
		base.Path = "/"
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	ref.Path = strings.TrimPrefix(ref.Path, "/")
	return base.ResolveReference(ref).String(), nil
}

func (r *Runner) execStep(ctx context.Context, sess Session, sc Scenario, st Step, res *Result) error {
	timeout := r.stepTimeout(sc, st)
	budget := &stepBudget{total: timeout, now: r.opts.Now}
	within := "within " + timeout.String()
	log := obs.From(ctx)
	log.Debug("step.start", "step_desc", st.Describe(), "timeout", timeout.String())

	switch st.Kind {
	case KindNavigate:
		target, err := r.ResolveURL(st.Value)
		if err != nil {
			return failStep(errs.InvalidArgument, Locator{}, "", "", err)
		}
		if err := budget.do(func(t time.Duration) error { return sess.Goto(target, t) }); err != nil {
			return failStep(errs.Navigation, Locator{}, "page "+target+" to load "+within, "", err)
		}
		if !st.Target.IsZero() {
			if err := budget.do(func(t time.Duration) error { return sess.WaitVisible(st.Target, t) }); err != nil {
				return failStep(errs.Navigation, st.Target, "landmark visible "+within, "never rendered", err)
			}
		}
		return nil

	case KindClick, KindFill, KindHover, KindSelect:
		if err := waitPresent(sess, st.Target, budget); err != nil {
			return err
		}
		err := budget.do(func(t time.Duration) error {
			switch st.Kind {
			case KindClick:
				button := st.Button
				if button == "" {
					button = ButtonLeft
				}
				return sess.Click(st.Target, button, t)
			case KindFill:
				return sess.Fill(st.Target, st.Value, t)
			case KindHover:
				return sess.Hover(st.Target, t)
			default:
				return sess.SelectOption(st.Target, st.Value, t)
			}
		})
		if err != nil {
			return failStep(errs.InteractionFailed, st.Target, "", "", err)
		}
		return nil

	case KindDrag:
		if err := waitPresent(sess, st.Target, budget); err != nil {
			return err
		}
		if err := waitPresent(sess, st.Dest, budget); err != nil {
			return err
		}
		if err := budget.do(func(t time.Duration) error { return sess.DragTo(st.Target, st.Dest, t) }); err != nil {
			return failStep(errs.InteractionFailed, st.Target, "drop onto "+st.Dest.String(), "", err)
		}
		return nil

	case KindPause:
		ms, _ := strconv.Atoi(st.Value)
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return failStep(errs.Internal, Locator{}, "", "", ctx.Err())
		case <-timer.C:
			return nil
		}

	case KindScreenshot:
		if _, err := r.capture(ctx, sess, sc.Name, st.Value, ArtifactCapture, res); err != nil {
			return failStep(errs.Internal, Locator{}, "", "", err)
		}
		return nil

	case KindExpectVisible:
		if err := budget.do(func(t time.Duration) error { return sess.WaitVisible(st.Target, t) }); err != nil {
			return failStep(errs.ElementNotFound, st.Target, "visible "+within, "not visible", err)
		}
		return nil

	case KindExpectHidden:
		if err := budget.do(func(t time.Duration) error { return sess.WaitHidden(st.Target, t) }); err != nil {
			return failStep(errs.AssertionFailed, st.Target, "hidden "+within, "still visible", err)
		}
		return nil

	case KindExpectValue:
		if err := waitPresent(sess, st.Target, budget); err != nil {
			return err
		}
		var got string
		err := budget.do(func(t time.Duration) error {
			var err error
			got, err = sess.InputValue(st.Target, t)
			return err
		})
		if err != nil {
			return failStep(errs.InteractionFailed, st.Target, "", "", err)
		}
		if got != st.Value {
			return failStep(errs.AssertionFailed, st.Target, strconv.Quote(st.Value), strconv.Quote(got), nil)
		}
		return nil
	}
	return failStep(errs.InvalidArgument, st.Target, "", "", fmt.Errorf("unknown step kind %q", st.Kind))
}

func waitPresent(sess Session, loc Locator, budget *stepBudget) error {
	if err := budget.do(func(t time.Duration) error { return sess.WaitVisible(loc, t) }); err != nil {
		return failStep(errs.ElementNotFound, loc, "visible within "+budget.total.String(), "not visible", err)
	}
	return nil
}

// stepBudget bounds all the waits of one step by the step's timeout. The
// clock starts when the first wait begins; each later wait gets what is left.
type stepBudget struct {
	total   time.Duration
	now     func() time.Time
	started bool
	start   time.Time
}

// do runs call with the remaining time, or fails with ErrTimeout once the
// budget is spent.
func (b *stepBudget) do(call func(time.Duration) error) error {
	if !b.started {
		b.started = true
		b.start = b.now()
		return call(b.total)
	}
	left := b.total - b.now().Sub(b.start)
	if left <= 0 {
		return fmt.Errorf("%w: step timeout of %s spent", ErrTimeout, b.total)
	}
	return call(left)
}
