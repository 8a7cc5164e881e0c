package harness

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is wrapped by Session implementations when a bounded wait expires.
var ErrTimeout = errors.New("harness: wait timed out")

// SessionOptions configure the browser context of one scenario.
type SessionOptions struct {
	Viewport       Viewport
	Device         string
	DefaultTimeout time.Duration
}

// Diagnostics is a snapshot of the page taken when a step fails.
type Diagnostics struct {
	URL      string
	Title    string
	BodyText string
}

// Session is one exclusively owned browser page. Every wait is bounded by the
// timeout argument; implementations wrap ErrTimeout when it expires.
type Session interface {
	Goto(url string, timeout time.Duration) error
	Click(loc Locator, button MouseButton, timeout time.Duration) error
	Fill(loc Locator, value string, timeout time.Duration) error
	DragTo(src, dst Locator, timeout time.Duration) error
	Hover(loc Locator, timeout time.Duration) error
	SelectOption(loc Locator, value string, timeout time.Duration) error
	WaitVisible(loc Locator, timeout time.Duration) error
	// WaitHidden succeeds once no element matches loc or the match is hidden.
	WaitHidden(loc Locator, timeout time.Duration) error
	InputValue(loc Locator, timeout time.Duration) (string, error)
	Screenshot() ([]byte, error)
	Diagnostics() Diagnostics
	Close() error
}

// Launcher acquires sessions. The runner closes every session it acquires.
type Launcher interface {
	Acquire(ctx context.Context, opts SessionOptions) (Session, error)
}

// ArtifactStore persists screenshot bytes and returns where they were written.
type ArtifactStore interface {
	Save(ctx context.Context, name string, png []byte) (string, error)
}
