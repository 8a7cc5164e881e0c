package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// fakeSession is a scripted in-memory page. Elements are keyed by Locator.String().
type fakeSession struct {
	visible map[string]bool
	values  map[string]string

	onDrag  func(f *fakeSession, src, dst Locator)
	onClick func(f *fakeSession, loc Locator, button MouseButton)

	actionErr        map[string]error
	gotoErr          error
	panicOn          string
	screenshotErr    error
	screenshotPanics bool
	closeErr         error
	// tick runs after every recorded wait or action, e.g. to advance a clock
	tick func()

	url        string
	closeCount int
	shots      int
	calls      []string
	timeouts   []time.Duration
	buttons    []MouseButton
}

func newFakeSession(visible ...Locator) *fakeSession {
	f := &fakeSession{
		visible:   map[string]bool{},
		values:    map[string]string{},
		actionErr: map[string]error{},
	}
	for _, l := range visible {
		f.show(l)
	}
	return f
}

func (f *fakeSession) show(l Locator) { f.visible[l.String()] = true }
func (f *fakeSession) hide(l Locator) { delete(f.visible, l.String()) }

func (f *fakeSession) record(op string, loc Locator, timeout time.Duration) {
	key := op + " " + loc.String()
	f.calls = append(f.calls, key)
	f.timeouts = append(f.timeouts, timeout)
	if f.tick != nil {
		f.tick()
	}
	if f.panicOn != "" && f.panicOn == key {
		panic("scripted panic at " + key)
	}
}

func (f *fakeSession) Goto(url string, timeout time.Duration) error {
	f.calls = append(f.calls, "goto "+url)
	f.timeouts = append(f.timeouts, timeout)
	if f.gotoErr != nil {
		return f.gotoErr
	}
	f.url = url
	return nil
}

func (f *fakeSession) Click(loc Locator, button MouseButton, timeout time.Duration) error {
	f.record("click", loc, timeout)
	f.buttons = append(f.buttons, button)
	if err := f.actionErr[loc.String()]; err != nil {
		return err
	}
	if f.onClick != nil {
		f.onClick(f, loc, button)
	}
	return nil
}

func (f *fakeSession) Fill(loc Locator, value string, timeout time.Duration) error {
	f.record("fill", loc, timeout)
	if err := f.actionErr[loc.String()]; err != nil {
		return err
	}
	f.values[loc.String()] = value
	return nil
}

func (f *fakeSession) DragTo(src, dst Locator, timeout time.Duration) error {
	f.record("drag", src, timeout)
	if err := f.actionErr[src.String()]; err != nil {
		return err
	}
	if f.onDrag != nil {
		f.onDrag(f, src, dst)
	}
	return nil
}

func (f *fakeSession) Hover(loc Locator, timeout time.Duration) error {
	f.record("hover", loc, timeout)
	return f.actionErr[loc.String()]
}

func (f *fakeSession) SelectOption(loc Locator, value string, timeout time.Duration) error {
	f.record("select", loc, timeout)
	if err := f.actionErr[loc.String()]; err != nil {
		return err
	}
	f.values[loc.String()] = value
	return nil
}

func (f *fakeSession) WaitVisible(loc Locator, timeout time.Duration) error {
	f.record("wait_visible", loc, timeout)
	if f.visible[loc.String()] {
		return nil
	}
	return fmt.Errorf("%w: %s after %s", ErrTimeout, loc, timeout)
}

func (f *fakeSession) WaitHidden(loc Locator, timeout time.Duration) error {
	f.record("wait_hidden", loc, timeout)
	if !f.visible[loc.String()] {
		return nil
	}
	return fmt.Errorf("%w: %s still visible after %s", ErrTimeout, loc, timeout)
}

func (f *fakeSession) InputValue(loc Locator, timeout time.Duration) (string, error) {
	f.record("input_value", loc, timeout)
	return f.values[loc.String()], nil
}

func (f *fakeSession) Screenshot() ([]byte, error) {
	if f.screenshotErr != nil {
		return nil, f.screenshotErr
	}
	if f.screenshotPanics {
		panic("scripted panic at screenshot")
	}
	f.shots++
	return []byte(fmt.Sprintf("png-%d", f.shots)), nil
}

func (f *fakeSession) Diagnostics() Diagnostics {
	return Diagnostics{URL: f.url, Title: "ExamBuilder", BodyText: "ExamBuilder\nQuestion Bank"}
}

func (f *fakeSession) Close() error {
	f.closeCount++
	return f.closeErr
}

// fakeLauncher hands out prepared sessions in order, then fresh empty ones.
type fakeLauncher struct {
	mu         sync.Mutex
	prepared   []*fakeSession
	acquired   []*fakeSession
	options    []SessionOptions
	acquireErr error
}

func (l *fakeLauncher) Acquire(_ context.Context, opts SessionOptions) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.options = append(l.options, opts)
	if l.acquireErr != nil {
		return nil, l.acquireErr
	}
	var s *fakeSession
	if len(l.prepared) > 0 {
		s = l.prepared[0]
		l.prepared = l.prepared[1:]
	} else {
		s = newFakeSession()
	}
	l.acquired = append(l.acquired, s)
	return s, nil
}

// memStore records saved artifacts.
type memStore struct {
	saved map[string][]byte
	order []string
	err   error
}

func newMemStore() *memStore { return &memStore{saved: map[string][]byte{}} }

func (m *memStore) Save(_ context.Context, name string, png []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.saved[name] = png
	m.order = append(m.order, name)
	return "mem://" + name, nil
}

var errScripted = errors.New("scripted failure")

// manualClock only moves when advanced.
type manualClock struct{ t time.Time }

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func fixedClock() func() time.Time {
	t := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(10 * time.Millisecond)
		return t
	}
}
