// Package mailer sends notification and digest emails over SMTP.
package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/mailsift/mailsift/internal/logger"
)

// Mailer sends an HTML email.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody, senderName string) error
}

// Config is a config for the SMTP mailer.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

var _ Mailer = (*SMTPMailer)(nil)

// SMTPMailer is a Mailer backed by an SMTP server.
type SMTPMailer struct {
	*Config
}

// New creates an SMTPMailer.
func New(cfg *Config) *SMTPMailer {
	return &SMTPMailer{Config: cfg}
}

var (
	replacer = strings.NewReplacer("\r\n", "", "\r", "", "\n", "", "%0a", "", "%0d", "")
	boundary = "==simple-boundary-mailsift"
)

// Send sends an email.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody, senderName string) error {
	logger.Info(ctx, "sending email", "to", to, "subject", subject)
	from := m.From
	if senderName != "" {
		from = fmt.Sprintf("%s <%s>", replacer.Replace(senderName), m.From)
	}
	if m.Username == "" && m.Password == "" {
		return m.sendWithNoAuth(from, to, subject, htmlBody)
	}
	return m.sendWithAuth(from, to, subject, htmlBody)
}

func (m *SMTPMailer) sendWithNoAuth(from, to, subject, body string) error {
	c, err := smtp.Dial(m.Host + ":" + m.Port)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
	}()
	if err = c.Mail(replacer.Replace(m.From)); err != nil {
		return err
	}
	if err = c.Rcpt(replacer.Replace(to)); err != nil {
		return err
	}
	wc, err := c.Data()
	if err != nil {
		return err
	}
	if _, err = wc.Write(m.composeMail(to, from, subject, body)); err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (m *SMTPMailer) sendWithAuth(from, to, subject, body string) error {
	auth := smtp.PlainAuth("", m.Username, m.Password, m.Host)
	return smtp.SendMail(
		m.Host+":"+m.Port, auth, m.From, []string{to},
		m.composeMail(to, from, subject, body),
	)
}

func (m *SMTPMailer) composeHeader(to, from, subject string) string {
	return "To: " + replacer.Replace(to) + "\r\n" +
		"From: " + from + "\r\n" +
		"Subject: " + replacer.Replace(subject) + "\r\n" +
		"Content-Type: multipart/mixed;\r\n" +
		"  boundary=\"" + boundary + "\"\r\n\r\n" +
		"\r\n\r\n" +
		"--" + boundary + "\r\n" +
		"Content-Type: text/html; charset=\"UTF-8\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n"
}

func (m *SMTPMailer) composeMail(to, from, subject, body string) []byte {
	msg := m.composeHeader(to, from, subject) +
		"\r\n" + base64.StdEncoding.EncodeToString([]byte(body)) +
		"\r\n\r\n--" + boundary + "--\r\n\r\n"
	return []byte(msg)
}
