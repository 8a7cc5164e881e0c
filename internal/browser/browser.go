// Package browser drives Chromium through Playwright and exposes it as harness sessions.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/exambuilder-verify/internal/harness"
	"github.com/kuitang/exambuilder-verify/internal/obs"
)

// Options configure the shared browser process.
type Options struct {
	Headless bool
	// SlowMo delays every Playwright operation, for watching a headed run.
	SlowMo time.Duration
}

// Launcher owns one Playwright driver and one Chromium process. Each Acquire
// opens an isolated browser context with a single page.
type Launcher struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

var _ harness.Launcher = (*Launcher)(nil)

// Launch starts the Playwright driver and Chromium.
func Launch(opts Options) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.SlowMo > 0 {
		launchOpts.SlowMo = playwright.Float(float64(opts.SlowMo.Milliseconds()))
	}
	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	obs.Pkg("browser").Info("browser.launched", "headless", opts.Headless, "slow_mo_ms", opts.SlowMo.Milliseconds(), "version", b.Version())
	return &Launcher{pw: pw, browser: b}, nil
}

// Acquire opens a fresh context and page configured for one scenario.
func (l *Launcher) Acquire(ctx context.Context, opts harness.SessionOptions) (harness.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.browser == nil {
		return nil, errors.New("browser is closed")
	}

	ctxOpts, err := contextOptions(l.pw.Devices, opts)
	if err != nil {
		return nil, err
	}
	bctx, err := l.browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	if opts.DefaultTimeout > 0 {
		bctx.SetDefaultTimeout(millis(opts.DefaultTimeout))
		bctx.SetDefaultNavigationTimeout(millis(opts.DefaultTimeout))
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	return &session{bctx: bctx, page: page}, nil
}

// Close shuts down Chromium and the driver. It is safe to call more than once.
func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errList []error
	if l.browser != nil {
		if err := l.browser.Close(); err != nil {
			errList = append(errList, fmt.Errorf("close chromium: %w", err))
		}
		l.browser = nil
	}
	if l.pw != nil {
		if err := l.pw.Stop(); err != nil {
			errList = append(errList, fmt.Errorf("stop playwright: %w", err))
		}
		l.pw = nil
	}
	return errors.Join(errList...)
}

// contextOptions applies a named device profile or an explicit viewport.
func contextOptions(devices map[string]*playwright.DeviceDescriptor, opts harness.SessionOptions) (playwright.BrowserNewContextOptions, error) {
	var out playwright.BrowserNewContextOptions
	if opts.Device != "" {
		d, ok := devices[opts.Device]
		if !ok || d == nil {
			return out, fmt.Errorf("unknown device %q", opts.Device)
		}
		out.UserAgent = playwright.String(d.UserAgent)
		out.Viewport = d.Viewport
		out.Screen = d.Screen
		out.DeviceScaleFactor = playwright.Float(d.DeviceScaleFactor)
		out.IsMobile = playwright.Bool(d.IsMobile)
		out.HasTouch = playwright.Bool(d.HasTouch)
		return out, nil
	}
	if !opts.Viewport.IsZero() {
		out.Viewport = &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height}
	}
	return out, nil
}

func millis(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
