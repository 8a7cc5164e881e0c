package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kuitang/exambuilder-verify/internal/artifact"
	"github.com/kuitang/exambuilder-verify/internal/browser"
	"github.com/kuitang/exambuilder-verify/internal/config"
	"github.com/kuitang/exambuilder-verify/internal/errs"
	"github.com/kuitang/exambuilder-verify/internal/harness"
	"github.com/kuitang/exambuilder-verify/internal/notify"
	"github.com/kuitang/exambuilder-verify/internal/obs"
	"github.com/kuitang/exambuilder-verify/internal/report"
	"github.com/kuitang/exambuilder-verify/internal/runstore"
	"github.com/kuitang/exambuilder-verify/internal/scenario"
)

type runFlags struct {
	files    []string
	baseURL  string
	output   string
	headless bool
	viewport string
	device   string
	timeout  time.Duration
	slowMo   time.Duration
	stepRate float64
	logLevel string
	noSave   bool
	noEmail  bool
	format   string
}

// apply copies explicitly set flags over the environment configuration.
func (f *runFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if fs.Changed("output") {
		cfg.OutputDir = f.output
	}
	if fs.Changed("headless") {
		cfg.Headless = f.headless
	}
	// a flag replaces the environment's choice of the other; both flags still conflict
	if fs.Changed("viewport") {
		cfg.Viewport = f.viewport
		if !fs.Changed("device") {
			cfg.Device = ""
		}
	}
	if fs.Changed("device") {
		cfg.Device = f.device
		if !fs.Changed("viewport") {
			cfg.Viewport = ""
		}
	}
	if fs.Changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if fs.Changed("slow-mo") {
		cfg.SlowMo = f.slowMo
	}
	if fs.Changed("step-rate") {
		cfg.StepRate = f.stepRate
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if f.noEmail {
		cfg.NoEmail = true
	}
}

func runCmd(deps Deps) *cobra.Command {
	var f runFlags

	c := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run built-in and file-defined scenarios against the target",
		Long: "Run the named scenarios, or every built-in scenario plus those loaded with --file when none are named.\n" +
			"Exits 0 when every scenario passes; otherwise with the code of the first failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.format != "pretty" && f.format != "json" {
				return withCode(errs.InvalidArgument, fmt.Errorf("unsupported format %q (expected pretty|json)", f.format))
			}

			cfg, err := loadConfig(func(cfg *config.Config) {
				f.apply(cmd.Flags(), cfg)
			})
			if err != nil {
				return err
			}
			obs.SetLevel(obs.ParseLevel(cfg.LogLevel))

			extra, err := scenario.LoadPaths(f.files)
			if err != nil {
				return withCode(errs.InvalidArgument, err)
			}
			selected, err := scenario.Select(args, extra)
			if err != nil {
				return withCode(errs.InvalidArgument, err)
			}

			if f.format == "pretty" {
				cfg.PrintStartupSummary(deps.Stderr)
			}
			return executeRun(cmd.Context(), deps, cfg, selected, f)
		},
	}

	c.Flags().StringSliceVarP(&f.files, "file", "f", nil, "YAML scenario file or directory (repeatable)")
	c.Flags().StringVar(&f.baseURL, "base-url", "", "Application URL (overrides EXAMBUILDER_BASE_URL)")
	c.Flags().StringVar(&f.output, "output", "", "Screenshot and report directory (overrides VERIFY_OUTPUT_DIR)")
	c.Flags().BoolVar(&f.headless, "headless", true, "Run Chromium without a window")
	c.Flags().StringVar(&f.viewport, "viewport", "", "Default viewport, WIDTHxHEIGHT")
	c.Flags().StringVar(&f.device, "device", "", "Default Playwright device profile, e.g. \"iPhone 12\"")
	c.Flags().DurationVar(&f.timeout, "timeout", 0, "Default bounded wait per step, e.g. 15s")
	c.Flags().DurationVar(&f.slowMo, "slow-mo", 0, "Delay between browser operations, e.g. 250ms")
	c.Flags().Float64Var(&f.stepRate, "step-rate", 0, "Maximum steps per second (0 = unlimited)")
	c.Flags().StringVar(&f.logLevel, "log-level", "", "debug|info|warn|error")
	c.Flags().BoolVar(&f.noSave, "no-save", false, "Do not write the run record or report")
	c.Flags().BoolVar(&f.noEmail, "no-email", false, "Log failure emails instead of sending them")
	c.Flags().StringVar(&f.format, "format", "pretty", "Output format: pretty|json")
	return c
}

func executeRun(ctx context.Context, deps Deps, cfg *config.Config, selected []harness.Scenario, f runFlags) error {
	runID := uuid.NewString()
	ctx = obs.WithRunID(ctx, runID)
	log := obs.From(ctx)
	rec := runstore.NewRecord(runID, cfg.BaseURL, deps.Now())
	rec.Config = cfg.Summary()

	store, err := buildStore(ctx, cfg, runID)
	if err != nil {
		return withCode(errs.Unavailable, err)
	}

	launcher, err := deps.Launch(browser.Options{Headless: cfg.Headless, SlowMo: cfg.SlowMo})
	if err != nil {
		return withCode(errs.Unavailable, fmt.Errorf("start browser: %w", err))
	}
	defer func() {
		if err := launcher.Close(); err != nil {
			log.Warn("browser.close_failed", "error", err)
		}
	}()

	runner := harness.NewRunner(launcher, store, harness.Options{
		BaseURL:        cfg.BaseURL,
		RunID:          runID,
		DefaultTimeout: cfg.Timeout,
		StepRate:       cfg.StepRate,
		Viewport:       cfg.ViewportSize(),
		Device:         cfg.Device,
		Now:            deps.Now,
	})
	rec.Results = runner.RunAll(ctx, selected)
	rec.FinishedAt = deps.Now().UTC()

	var reportPath string
	if !f.noSave {
		if path, err := runstore.New(cfg.OutputDir).Save(rec); err != nil {
			log.Error("runstore.save_failed", "error", err)
		} else {
			log.Info("runstore.saved", "path", path)
		}
		if _, htmlPath, err := report.Write(cfg.OutputDir, rec); err != nil {
			log.Error("report.write_failed", "error", err)
		} else {
			reportPath = htmlPath
		}
	}

	if cfg.NotifyEnabled() {
		var mailer notify.Mailer = &notify.MockMailer{}
		if !cfg.NoEmail {
			mailer = deps.NewMailer(cfg.ResendAPIKey, cfg.NotifyFrom)
		}
		if _, err := notify.New(mailer, cfg.NotifyTo).RunFinished(ctx, rec); err != nil {
			log.Error("notify.failed", "error", err)
		}
	}

	if err := printRecord(deps.Stdout, rec, f.format, reportPath); err != nil {
		return err
	}
	return outcome(rec, len(selected))
}

func buildStore(ctx context.Context, cfg *config.Config, runID string) (harness.ArtifactStore, error) {
	local, err := artifact.NewFileStore(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	if !cfg.S3Enabled() {
		return local, nil
	}
	remote, err := artifact.NewS3Store(ctx, artifact.S3Config{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		Bucket:          cfg.S3Bucket,
		Prefix:          cfg.S3Prefix,
		PublicURL:       cfg.S3PublicURL,
		UsePathStyle:    cfg.S3Endpoint != "",
	}, runID)
	if err != nil {
		return nil, err
	}
	return artifact.MultiStore{local, remote}, nil
}

// outcome maps a finished run to the process exit status.
func outcome(rec runstore.Record, selected int) error {
	_, failed, _ := rec.Counts()
	if first := rec.FirstFailure(); first != nil && first.Failure != nil {
		return withCode(first.Failure.Code, fmt.Errorf("%d of %d scenarios failed; first: %s (%s)", failed, len(rec.Results), first.Scenario, first.Failure.Code))
	}
	if len(rec.Results) < selected {
		return withCode(errs.Internal, fmt.Errorf("run interrupted after %d of %d scenarios", len(rec.Results), selected))
	}
	if !rec.Passed() {
		return withCode(errs.Internal, fmt.Errorf("%d of %d scenarios failed", failed, len(rec.Results)))
	}
	return nil
}

func printRecord(w io.Writer, rec runstore.Record, format, reportPath string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	default:
		printPrettyRecord(w, rec, reportPath)
		return nil
	}
}

func printPrettyRecord(w io.Writer, rec runstore.Record, reportPath string) {
	fmt.Fprintf(w, "Run ID:  %s\n", rec.ID)
	fmt.Fprintf(w, "Target:  %s\n", rec.BaseURL)
	if !rec.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Elapsed: %s\n", rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintln(w)

	for _, res := range rec.Results {
		status := "PASS"
		switch {
		case !res.Passed:
			status = "FAIL"
		case len(res.Warnings) > 0:
			status = "WARN"
		}
		fmt.Fprintf(w, "- [%s] %s (%s)\n", status, res.Scenario, res.Duration().Round(time.Millisecond))
		if res.Failure != nil {
			fmt.Fprintf(w, "  error: %s (%s)\n", res.Failure.Message, res.Failure.Code)
		}
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
		for _, a := range res.Artifacts {
			fmt.Fprintf(w, "  %s: %s\n", a.Kind, a.Location)
		}
	}

	passed, failed, warned := rec.Counts()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d scenario(s): %d passed, %d failed", len(rec.Results), passed, failed)
	if warned > 0 {
		fmt.Fprintf(w, ", %d with warnings", warned)
	}
	fmt.Fprintln(w)
	if reportPath != "" {
		fmt.Fprintf(w, "Report:  %s\n", reportPath)
	}
}
