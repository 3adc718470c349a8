// Package notify mails the daily summary digest. One message covers every
// symbol of a batch run; a single-symbol message can be sent on demand.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/seenimoa/tickerpulse/internal/config"
)

// Message is one plain-text mail.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
	Date    time.Time
}

// Bytes renders the message with RFC 5322 headers and CRLF line endings.
func (m Message) Bytes() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerSafe(m.Subject)))
	fmt.Fprintf(&b, "Date: %s\r\n", m.Date.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	body := strings.ReplaceAll(m.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.Bytes()
}

func headerSafe(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender relays through one SMTP server. STARTTLS is used when the
// server offers it.
type SMTPSender struct {
	addr string
	auth smtp.Auth
	send sendFunc
}

// NewSMTPSender builds a sender from the notify config. Auth is skipped
// when no user is set.
func NewSMTPSender(cfg config.NotifyConfig) *SMTPSender {
	s := &SMTPSender{
		addr: net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		send: smtp.SendMail,
	}
	if cfg.SMTPUser != "" {
		s.auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return s
}

// Send delivers msg. The SMTP exchange itself is not cancellable, so a
// cancelled ctx returns early and leaves it to finish in the background.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- s.send(s.addr, s.auth, msg.From, msg.To, msg.Bytes()) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("notify: smtp %s: %w", s.addr, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
