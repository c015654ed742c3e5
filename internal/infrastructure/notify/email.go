package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/katerpii/issue-agent/internal/domain"
	"github.com/katerpii/issue-agent/internal/ports"
)

// Email sends digests as HTML mail over SMTP.
type Email struct {
	host     string
	port     int
	username string
	password string
	from     string
	log      *slog.Logger
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ ports.Notifier = (*Email)(nil)

// NewEmail configures the SMTP channel. An empty password disables
// authentication, which local relays accept.
func NewEmail(host string, port int, username, password, from string, log *slog.Logger) *Email {
	return &Email{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		log:      log,
		send:     smtp.SendMail,
	}
}

// Deliver renders the digest and mails it to the subscription owner.
func (e *Email) Deliver(ctx context.Context, sub domain.Subscription, res domain.FilteredResult) error {
	body, err := BuildHTML(sub, res)
	if err != nil {
		return err
	}

	var msg strings.Builder
	msg.WriteString("From: " + e.from + "\r\n")
	msg.WriteString("To: " + sub.Email + "\r\n")
	msg.WriteString("Subject: " + BuildSubject(sub, res) + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if e.password != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	if err := e.send(addr, auth, e.from, []string{sub.Email}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", sub.Email, err)
	}

	e.log.Debug("email digest sent", "to", sub.Email, "subscription", sub.ID, "total", res.TotalCount)
	return nil
}
