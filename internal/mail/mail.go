// Package mail delivers confirmation and password reset messages.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// Message is a single outgoing email. HTML may be empty.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a message or reports why it could not.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// LogSender writes messages to the log instead of sending them. Used when no
// SMTP server is configured.
type LogSender struct {
	Log *zap.Logger
}

// Send logs the message.
func (s LogSender) Send(_ context.Context, m Message) error {
	s.Log.Info("mail (not sent)",
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.String("text", m.Text),
	)
	return nil
}

// SMTPSender sends mail through an SMTP relay using PLAIN auth when a user is set.
type SMTPSender struct {
	Addr     string // host:port
	From     string
	User     string
	Password string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender constructs an SMTP sender.
func NewSMTPSender(addr, from, user, password string) (*SMTPSender, error) {
	if addr == "" || from == "" {
		return nil, errors.New("smtp: address and sender are required")
	}
	return &SMTPSender{Addr: addr, From: from, User: user, Password: password, send: smtp.SendMail}, nil
}

// Send delivers m. The context only gates the start of delivery.
func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(m.To, "\r\n") || strings.ContainsAny(m.Subject, "\r\n") {
		return errors.New("smtp: header injection")
	}
	var auth smtp.Auth
	if s.User != "" {
		host, _, err := net.SplitHostPort(s.Addr)
		if err != nil {
			return fmt.Errorf("smtp: %w", err)
		}
		auth = smtp.PlainAuth("", s.User, s.Password, host)
	}
	if err := s.send(s.Addr, auth, s.From, []string{m.To}, s.build(m)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

const boundary = "fin-keeper-alt"

func (s *SMTPSender) build(m Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\n", s.From, m.To, m.Subject)
	if m.HTML == "" {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(m.Text)
		return []byte(b.String())
	}
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", boundary)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n", boundary, m.Text)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n", boundary, m.HTML)
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}
