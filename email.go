package authsite

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mail "github.com/wneessen/go-mail"
)

// SendEmail delivers the two transactional emails the site sends
type SendEmail interface {
	SendVerificationEmail(ctx context.Context, to string, verificationLink string) error
	SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error
}

const (
	verificationSubject = "Verify Your Email - Authentication System"
	resetSubject        = "Password Reset - Authentication System"
)

func verificationBody(to, link string) string {
	return fmt.Sprintf(`Hello %s,

Thank you for registering! To activate your account, please verify your email by clicking the link below:

%s

This link will expire in 24 hours.

If you did not register for this account, please ignore this email.

Best regards,
Authentication System Team
`, to, link)
}

func resetBody(to, link string) string {
	return fmt.Sprintf(`Hello %s,

We received a request to reset your password. Click the link below to set a new password:

%s

This link will expire in 24 hours.

If you did not request a password reset, please ignore this email and your password will remain unchanged.

Best regards,
Authentication System Team
`, to, link)
}

// ConsoleEmailSender is a development implementation that logs emails
type ConsoleEmailSender struct {
	Logger *slog.Logger
}

func (c *ConsoleEmailSender) log(to, subject, body string) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email", "to", to, "subject", subject, "body", body)
}

func (c *ConsoleEmailSender) SendVerificationEmail(ctx context.Context, to string, verificationLink string) error {
	c.log(to, verificationSubject, verificationBody(to, verificationLink))
	return nil
}

func (c *ConsoleEmailSender) SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error {
	c.log(to, resetSubject, resetBody(to, resetLink))
	return nil
}

// SMTPEmailSender sends mail through an SMTP relay
type SMTPEmailSender struct {
	Host     string
	Port     int
	UseTLS   bool
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

func (s *SMTPEmailSender) SendVerificationEmail(ctx context.Context, to string, verificationLink string) error {
	return s.send(ctx, to, verificationSubject, verificationBody(to, verificationLink))
}

func (s *SMTPEmailSender) SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error {
	return s.send(ctx, to, resetSubject, resetBody(to, resetLink))
}

func (s *SMTPEmailSender) send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.From); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := []mail.Option{mail.WithPort(s.Port), mail.WithTimeout(timeout)}
	if s.UseTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if s.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.Username),
			mail.WithPassword(s.Password))
	}
	client, err := mail.NewClient(s.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// SentEmail is one message captured by RecordingEmailSender
type SentEmail struct {
	To      string
	Subject string
	Link    string
}

// RecordingEmailSender keeps sent emails in memory. Err, when set, is
// returned from every send after recording the attempt.
type RecordingEmailSender struct {
	mu   sync.Mutex
	sent []SentEmail
	Err  error
}

func (r *RecordingEmailSender) record(to, subject, link string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, SentEmail{To: to, Subject: subject, Link: link})
	return r.Err
}

func (r *RecordingEmailSender) SendVerificationEmail(ctx context.Context, to string, verificationLink string) error {
	return r.record(to, verificationSubject, verificationLink)
}

func (r *RecordingEmailSender) SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error {
	return r.record(to, resetSubject, resetLink)
}

// Sent returns a copy of everything recorded so far
func (r *RecordingEmailSender) Sent() []SentEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentEmail(nil), r.sent...)
}

// Last returns the most recent email, if any
func (r *RecordingEmailSender) Last() (SentEmail, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return SentEmail{}, false
	}
	return r.sent[len(r.sent)-1], true
}
