// Package cli wires configuration, the browser driver and the harness into
// the exambuilder-verify command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuitang/exambuilder-verify/internal/browser"
	"github.com/kuitang/exambuilder-verify/internal/config"
	"github.com/kuitang/exambuilder-verify/internal/errs"
	"github.com/kuitang/exambuilder-verify/internal/harness"
	"github.com/kuitang/exambuilder-verify/internal/notify"
)

// Launcher is a harness.Launcher that owns a browser process.
type Launcher interface {
	harness.Launcher
	Close() error
}

// Deps are the process-level collaborators of the commands. Tests replace
// Launch and NewMailer with fakes.
type Deps struct {
	Launch    func(browser.Options) (Launcher, error)
	NewMailer func(apiKey, from string) notify.Mailer
	Stdout    io.Writer
	Stderr    io.Writer
	Now       func() time.Time
}

// DefaultDeps drives a real Chromium and sends mail through Resend.
func DefaultDeps() Deps {
	return Deps{
		Launch: func(opts browser.Options) (Launcher, error) {
			return browser.Launch(opts)
		},
		NewMailer: func(apiKey, from string) notify.Mailer {
			return notify.NewResendMailer(apiKey, from)
		},
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Now:    time.Now,
	}
}

// exitError carries a process exit status through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code errs.Code, err error) error {
	return &exitError{code: errs.ExitCode(code), err: err}
}

// Execute runs the command line and returns the process exit status.
func Execute(ctx context.Context, args []string) int {
	return execute(ctx, DefaultDeps(), args)
}

func execute(ctx context.Context, deps Deps, args []string) int {
	cmd := newRootCmd(deps)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(deps.Stderr, "Error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(deps.Stderr, "Error:", err)
	return 1
}

func newRootCmd(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "exambuilder-verify",
		Short:         "Browser-driven smoke checks for ExamBuilder",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(deps.Stdout)
	cmd.SetErr(deps.Stderr)
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return withCode(errs.InvalidArgument, fmt.Errorf("%w\n%s", err, c.UsageString()))
	})

	cmd.AddCommand(runCmd(deps))
	cmd.AddCommand(listCmd(deps))
	cmd.AddCommand(showCmd(deps))
	return cmd
}

// loadConfig reads the environment and reports validation problems as usage
// errors.
func loadConfig(apply func(*config.Config)) (*config.Config, error) {
	cfg := config.Load()
	if apply != nil {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, withCode(errs.InvalidArgument, err)
	}
	return cfg, nil
}
