// Package notify delivers transactional email: the tenant welcome message
// and user activation links.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/mbd888/bakehouse/internal/metrics"
	"github.com/mbd888/bakehouse/internal/retry"
)

// Message kinds, used as the metrics label.
const (
	KindWelcome    = "welcome"
	KindActivation = "activation"
	KindAccount    = "account"
)

// Message is a single plain-text email.
type Message struct {
	Kind    string
	To      string
	Subject string
	Body    string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender sends mail through an SMTP relay with PLAIN auth.
type SMTPSender struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates an SMTP sender.
func NewSMTPSender(host, port, username, password, from string) *SMTPSender {
	return &SMTPSender{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		send:     smtp.SendMail,
	}
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	send := s.send
	if send == nil {
		send = smtp.SendMail
	}
	err := send(s.Host+":"+s.Port, auth, s.From, []string{msg.To}, s.format(msg))
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		// 5xx replies (unknown mailbox, policy rejection) will not succeed on retry.
		return retry.Permanent(err)
	}
	return err
}

func (s *SMTPSender) format(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

// LogSender writes messages to the log instead of sending them. Used when
// SMTP is not configured.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements Sender.
func (s LogSender) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email (not sent, smtp disabled)", "kind", msg.Kind, "to", msg.To, "subject", msg.Subject)
	return nil
}

// Default retry policy for outbound mail: 3 attempts, 1s then 2s backoff.
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 10 * time.Second
)

// RetryingSender retries transient send failures with exponential backoff.
// Permanent SMTP rejections are not retried.
type RetryingSender struct {
	next   Sender
	policy retry.Policy
	logger *slog.Logger
}

// NewRetryingSender wraps next with the default retry policy.
func NewRetryingSender(next Sender, logger *slog.Logger) *RetryingSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingSender{
		next:   next,
		policy: retry.Policy{Attempts: DefaultAttempts, BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay},
		logger: logger,
	}
}

// WithPolicy overrides attempts and base delay.
func (r *RetryingSender) WithPolicy(attempts int, baseDelay time.Duration) *RetryingSender {
	r.policy.Attempts = attempts
	r.policy.BaseDelay = baseDelay
	return r
}

// Send implements Sender.
func (r *RetryingSender) Send(ctx context.Context, msg Message) error {
	policy := r.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		r.logger.Warn("email send failed, retrying",
			"kind", msg.Kind, "to", msg.To, "attempt", attempt, "wait", wait, "error", err)
	}

	err := policy.Do(ctx, func(ctx context.Context) error {
		return r.next.Send(ctx, msg)
	})
	if err != nil {
		metrics.EmailsTotal.WithLabelValues(msg.Kind, "failed").Inc()
		r.logger.Error("email send gave up", "kind", msg.Kind, "to", msg.To, "error", err)
		return fmt.Errorf("send %s email to %s: %w", msg.Kind, msg.To, err)
	}
	metrics.EmailsTotal.WithLabelValues(msg.Kind, "sent").Inc()
	return nil
}

// Welcome is sent to the first user of a newly provisioned tenant.
func Welcome(to, firstName, companyName, loginURL string) Message {
	return Message{
		Kind:    KindWelcome,
		To:      to,
		Subject: fmt.Sprintf("Welcome to Bakehouse, %s", companyName),
		Body: fmt.Sprintf("Hi %s,\n\nYour workspace for %s is ready.\nSign in at %s to get started.\n",
			firstName, companyName, loginURL),
	}
}

// AccountCreated confirms the manager account of a new workspace.
func AccountCreated(to, firstName, loginURL string) Message {
	return Message{
		Kind:    KindAccount,
		To:      to,
		Subject: "Your Bakehouse account is ready",
		Body:    fmt.Sprintf("Hi %s,\n\nYour manager account has been created.\nSign in at %s\n", firstName, loginURL),
	}
}

// Activation carries the link an invited user follows to set a password.
func Activation(to, firstName, inviterName, activateURL string) Message {
	return Message{
		Kind:    KindActivation,
		To:      to,
		Subject: "Activate your Bakehouse account",
		Body: fmt.Sprintf("Hi %s,\n\n%s invited you to join their team.\nSet your password at %s\n",
			firstName, inviterName, activateURL),
	}
}
