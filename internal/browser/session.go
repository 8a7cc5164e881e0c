package browser

import (
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/exambuilder-verify/internal/harness"
)

const diagnosticsTimeout = time.Second

type session struct {
	bctx playwright.BrowserContext
	page playwright.Page
}

var _ harness.Session = (*session)(nil)

func (s *session) Goto(url string, timeout time.Duration) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(millis(timeout)),
	})
	return mapErr(err)
}

func (s *session) Click(loc harness.Locator, button harness.MouseButton, timeout time.Duration) error {
	opts := playwright.LocatorClickOptions{Timeout: playwright.Float(millis(timeout))}
	if button == harness.ButtonRight {
		opts.Button = playwright.MouseButtonRight
	}
	return mapErr(s.resolve(loc).Click(opts))
}

func (s *session) Fill(loc harness.Locator, value string, timeout time.Duration) error {
	return mapErr(s.resolve(loc).Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(millis(timeout)),
	}))
}

func (s *session) DragTo(src, dst harness.Locator, timeout time.Duration) error {
	return mapErr(s.resolve(src).DragTo(s.resolve(dst), playwright.LocatorDragToOptions{
		Timeout: playwright.Float(millis(timeout)),
	}))
}

func (s *session) Hover(loc harness.Locator, timeout time.Duration) error {
	return mapErr(s.resolve(loc).Hover(playwright.LocatorHoverOptions{
		Timeout: playwright.Float(millis(timeout)),
	}))
}

func (s *session) SelectOption(loc harness.Locator, value string, timeout time.Duration) error {
	_, err := s.resolve(loc).SelectOption(playwright.SelectOptionValues{
		ValuesOrLabels: &[]string{value},
	}, playwright.LocatorSelectOptionOptions{
		Timeout: playwright.Float(millis(timeout)),
	})
	return mapErr(err)
}

func (s *session) WaitVisible(loc harness.Locator, timeout time.Duration) error {
	return s.waitFor(loc, playwright.WaitForSelectorStateVisible, timeout)
}

func (s *session) WaitHidden(loc harness.Locator, timeout time.Duration) error {
	return s.waitFor(loc, playwright.WaitForSelectorStateHidden, timeout)
}

func (s *session) waitFor(loc harness.Locator, state *playwright.WaitForSelectorState, timeout time.Duration) error {
	return mapErr(s.resolve(loc).WaitFor(playwright.LocatorWaitForOptions{
		State:   state,
		Timeout: playwright.Float(millis(timeout)),
	}))
}

func (s *session) InputValue(loc harness.Locator, timeout time.Duration) (string, error) {
	v, err := s.resolve(loc).InputValue(playwright.LocatorInputValueOptions{
		Timeout: playwright.Float(millis(timeout)),
	})
	return v, mapErr(err)
}

func (s *session) Screenshot() ([]byte, error) {
	png, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return png, nil
}

// Diagnostics never fails; fields it cannot read are left empty.
func (s *session) Diagnostics() harness.Diagnostics {
	d := harness.Diagnostics{URL: s.page.URL()}
	if title, err := s.page.Title(); err == nil {
		d.Title = title
	}
	if body, err := s.page.Locator("body").InnerText(playwright.LocatorInnerTextOptions{
		Timeout: playwright.Float(millis(diagnosticsTimeout)),
	}); err == nil {
		d.BodyText = body
	}
	return d
}

// Close releases the page together with its context.
func (s *session) Close() error {
	if err := s.bctx.Close(); err != nil {
		return fmt.Errorf("close browser context: %w", err)
	}
	return nil
}

// resolve turns a locator into a Playwright locator pointing at a single element.
func (s *session) resolve(loc harness.Locator) playwright.Locator {
	l := s.chain(loc)
	if loc.Nth > 0 {
		return l
	}
	return l.First()
}

// chain builds the locator without pinning it to the first match, so that a
// container scope searches every matching container.
func (s *session) chain(loc harness.Locator) playwright.Locator {
	var l playwright.Locator
	if loc.Within != nil {
		l = s.chain(*loc.Within).Locator(Selector(loc))
	} else {
		l = s.page.Locator(Selector(loc))
	}
	if loc.HasText != "" {
		l = l.Filter(playwright.LocatorFilterOptions{HasText: loc.HasText})
	}
	if loc.Parent {
		l = l.Locator(parentSelector)
	}
	if loc.Nth > 0 {
		l = l.Nth(loc.Nth)
	}
	return l
}

const parentSelector = ".."

// Selector returns the Playwright selector for the innermost part of loc.
// Text locators use the substring, case-insensitive text engine.
func Selector(loc harness.Locator) string {
	if loc.Text != "" {
		return "text=" + loc.Text
	}
	return loc.CSS
}

// mapErr marks Playwright timeouts so the runner can report bounded waits.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", harness.ErrTimeout, err)
	}
	return err
}
