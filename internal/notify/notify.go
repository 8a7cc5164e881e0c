// Package notify emails a run summary when scenarios fail.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/resend/resend-go/v3"

	"github.com/kuitang/exambuilder-verify/internal/obs"
	"github.com/kuitang/exambuilder-verify/internal/report"
	"github.com/kuitang/exambuilder-verify/internal/runstore"
)

// Mailer delivers one HTML email.
type Mailer interface {
	Send(to []string, subject, html string) error
}

// ResendMailer sends through the Resend API.
type ResendMailer struct {
	client      *resend.Client
	fromAddress string
}

// NewResendMailer creates a Resend mailer. fromAddress must be verified in Resend.
func NewResendMailer(apiKey, fromAddress string) *ResendMailer {
	return &ResendMailer{
		client:      resend.NewClient(apiKey),
		fromAddress: fromAddress,
	}
}

func (r *ResendMailer) Send(to []string, subject, html string) error {
	_, err := r.client.Emails.Send(&resend.SendEmailRequest{
		From:    r.fromAddress,
		To:      to,
		Subject: subject,
		Html:    html,
	})
	if err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}
	return nil
}

// SentEmail is a captured message.
type SentEmail struct {
	To      []string
	Subject string
	HTML    string
}

// MockMailer captures messages instead of sending them.
type MockMailer struct {
	mu     sync.Mutex
	Emails []SentEmail
	Err    error
}

func (m *MockMailer) Send(to []string, subject, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Emails = append(m.Emails, SentEmail{To: append([]string(nil), to...), Subject: subject, HTML: html})
	obs.Pkg("notify").Info("email.captured", "to", strings.Join(to, ","), "subject", subject)
	return nil
}

// Count returns the number of captured emails.
func (m *MockMailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Emails)
}

// Notifier sends a summary to fixed recipients when a run has failures.
type Notifier struct {
	mailer Mailer
	to     []string
}

// New returns a notifier. With no recipients it never sends.
func New(mailer Mailer, to []string) *Notifier {
	var clean []string
	for _, addr := range to {
		if addr = strings.TrimSpace(addr); addr != "" {
			clean = append(clean, addr)
		}
	}
	return &Notifier{mailer: mailer, to: clean}
}

// Enabled reports whether any recipient is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.mailer != nil && len(n.to) > 0
}

// RunFinished emails the rendered report if rec has failures. It reports
// whether a message was sent.
func (n *Notifier) RunFinished(ctx context.Context, rec runstore.Record) (bool, error) {
	if !n.Enabled() || rec.Passed() || len(rec.Results) == 0 {
		return false, nil
	}
	body, err := report.HTML(rec, report.Options{})
	if err != nil {
		return false, err
	}
	subject := Subject(rec)
	if err := n.mailer.Send(n.to, subject, string(body)); err != nil {
		return false, err
	}
	obs.From(ctx).Info("notify.sent", "recipients", len(n.to), "subject", subject)
	return true, nil
}

// Subject summarizes a failing run in one line.
func Subject(rec runstore.Record) string {
	_, failed, _ := rec.Counts()
	id := rec.ID
	if len(id) > 8 {
		id = id[:8]
	}
	first := ""
	if f := rec.FirstFailure(); f != nil {
		first = ", first: " + f.Scenario
	}
	return fmt.Sprintf("[ExamBuilder verify] %d of %d scenarios failed (run %s%s)", failed, len(rec.Results), id, first)
}
