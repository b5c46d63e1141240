// Package mail sends the account emails (currently only the confirmation
// link).
//
// Services depend on the Mailer interface. Production wires SMTPMailer;
// development and tests use LogMailer, which writes the link to the log so a
// developer can click it without a mail server.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Mailer delivers account emails.
type Mailer interface {
	SendConfirmation(ctx context.Context, to, link string) error
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends mail through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

const confirmationSubject = "Confirm your mineshare account"

// SendConfirmation mails the confirmation link to the new account.
//
// smtp.SendMail has no context parameter, so a cancelled ctx is only
// honoured before the dial.
func (m *SMTPMailer) SendConfirmation(ctx context.Context, to, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := buildMessage(m.cfg.From, to, confirmationSubject, confirmationBody(link), time.Now())

	var a smtp.Auth
	if m.cfg.Username != "" {
		a = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, a, m.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("mail: sending confirmation: %w", err)
	}
	return nil
}

func confirmationBody(link string) string {
	return "Welcome to mineshare!\r\n\r\n" +
		"Please confirm your email address by opening the link below:\r\n\r\n" +
		link + "\r\n\r\n" +
		"If you did not create an account you can ignore this email.\r\n"
}

// buildMessage renders a plain-text RFC 5322 message.
// Header values are stripped of CR/LF so user input cannot inject headers.
func buildMessage(from, to, subject, body string, now time.Time) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}

	header("From", sanitizeHeader(from))
	header("To", sanitizeHeader(to))
	header("Subject", mime.QEncoding.Encode("utf-8", sanitizeHeader(subject)))
	header("Date", now.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	b.WriteString("\r\n")
	b.WriteString(body)

	return b.Bytes()
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}

// LogMailer logs the message instead of sending it.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendConfirmation logs the recipient and link at info level.
func (m *LogMailer) SendConfirmation(_ context.Context, to, link string) error {
	m.logger.Info("confirmation email (not sent, log mailer)",
		slog.String("to", to),
		slog.String("link", link),
	)
	return nil
}
