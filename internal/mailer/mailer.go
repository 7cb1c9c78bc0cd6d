// Package mailer sends the best-effort confirmation emails of an accepted
// loan. Nothing in the lending state depends on an email going out.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Message is one outgoing email.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Sender delivers messages.
// Implemented by SMTP, Log, Recorder, and the Limited wrapper.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures the SMTP sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP sends through a plain SMTP relay with optional PLAIN auth.
type SMTP struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTP creates an SMTP sender.
func NewSMTP(cfg SMTPConfig) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTP{cfg: cfg, send: smtp.SendMail}
}

// Send delivers msg. The context is only checked before dialing; net/smtp
// has no cancellation.
func (m *SMTP) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("smtp: message has no recipients")
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	if err := m.send(addr, auth, m.cfg.From, msg.To, render(m.cfg.From, msg)); err != nil {
		return fmt.Errorf("smtp: send to %s: %w", strings.Join(msg.To, ","), err)
	}
	return nil
}

func render(from string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// Log writes messages to the structured log instead of sending them. Used
// when no SMTP host is configured.
type Log struct{}

// Send logs msg.
func (Log) Send(_ context.Context, msg Message) error {
	slog.Info("email", "to", strings.Join(msg.To, ","), "subject", msg.Subject)
	return nil
}

// Limited wraps a Sender with a token bucket so a burst of acceptances does
// not flood the relay.
type Limited struct {
	next    Sender
	limiter *rate.Limiter
}

// NewLimited allows perSecond messages per second with the given burst.
func NewLimited(next Sender, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Send waits for a token, then delegates.
func (l *Limited) Send(ctx context.Context, msg Message) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mail rate limit: %w", err)
	}
	return l.next.Send(ctx, msg)
}

// Recorder keeps sent messages in memory. Fail, when set, is returned from
// every Send instead of recording.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Fail error
}

// Send records msg.
func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of everything recorded.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

// LoanConfirmation builds the two emails sent when a loan is accepted: one to
// the borrower and one to the owner, each naming the other party.
func LoanConfirmation(title string, owner, borrower Party) []Message {
	var out []Message
	if borrower.Email != "" {
		out = append(out, Message{
			To:      []string{borrower.Email},
			Subject: fmt.Sprintf("Your request for %q was accepted", title),
			Body: fmt.Sprintf("Hi %s,\n\n%s accepted your request for %q.\nContact them at %s to arrange the hand-over.\n",
				borrower.Handle, owner.Handle, title, owner.Email),
		})
	}
	if owner.Email != "" {
		out = append(out, Message{
			To:      []string{owner.Email},
			Subject: fmt.Sprintf("You lent %q", title),
			Body: fmt.Sprintf("Hi %s,\n\nYou accepted %s's request for %q.\nContact them at %s to arrange the hand-over.\n",
				owner.Handle, borrower.Handle, title, borrower.Email),
		})
	}
	return out
}

// Party is one side of a loan.
type Party struct {
	Handle string
	Email  string
}
