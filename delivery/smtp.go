package delivery

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig addresses an SMTP relay.
type SMTPConfig struct {
	Host     string `toml:"host" env:"HOST"`
	Port     int    `toml:"port" env:"PORT"`
	Username string `toml:"username" env:"USERNAME"`
	Password string `toml:"password" env:"PASSWORD"`
	From     string `toml:"from" env:"FROM"`
}

// SMTPMailer implements Mailer over a plain SMTP relay.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer returns nil when cfg has no host, so an unconfigured relay
// surfaces as ErrNotConfigured from the Outbox.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Host == "" {
		return nil
	}
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// SendMail implements Mailer.
func (m *SMTPMailer) SendMail(ctx context.Context, recipient, subject, body string) error {
	if strings.ContainsAny(recipient, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("%w: header injection", ErrRejected)
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	var msg strings.Builder
	msg.WriteString("From: " + m.cfg.From + "\r\n")
	msg.WriteString("To: " + recipient + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	errc := make(chan error, 1)
	go func() {
		errc <- m.send(addr, auth, m.cfg.From, []string{recipient}, []byte(msg.String()))
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
