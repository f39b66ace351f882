// Package mailer delivers the bot's reports over SMTP.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"path/filepath"
	"strconv"
	"strings"

	"paulemploi-bot/internal/components/assert"
	"paulemploi-bot/internal/components/telemetry"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"
)

var tracer = otel.Tracer("paulemploi/mailer")

const (
	report_send = "mailer.send"

	SubjectPrefix   = "[BOT Paul Emploi] "
	ErrorSubject    = "Error"
	defaultFromName = "Bot Paul-Emploi"
	recipientName   = "Chômeur"
)

type TLSMode string

const (
	TLSImplicit TLSMode = "implicit"
	TLSStartTLS TLSMode = "starttls"
	TLSNone     TLSMode = "none"
)

type AuthMode string

const (
	AuthNone    AuthMode = ""
	AuthPlain   AuthMode = "plain"
	AuthXOAuth2 AuthMode = "xoauth2"
)

type Config struct {
	Host string  `json:"host"`
	Port int     `json:"port"`
	TLS  TLSMode `json:"tls"`
	// Auth defaults to plain when a password is set.
	Auth     AuthMode `json:"auth"`
	User     string   `json:"user"`
	Password string   `json:"password"`
	// OAuthTokenCmd is run by `sh -c` and prints an access token for XOAUTH2.
	OAuthTokenCmd string `json:"oauth_token_cmd"`
	FromName      string `json:"from_name"`
}

func (c Config) withDefaults() Config {
	if c.TLS == "" {
		c.TLS = TLSImplicit
	}
	if c.Port == 0 {
		switch c.TLS {
		case TLSImplicit:
			c.Port = 465
		case TLSStartTLS:
			c.Port = 587
		default:
			c.Port = 25
		}
	}
	if c.Auth == AuthNone && c.Password != "" {
		c.Auth = AuthPlain
	}
	if c.FromName == "" {
		c.FromName = defaultFromName
	}
	return c
}

type Attachment struct {
	Name    string
	Content []byte
}

// Mailer sends mails from the configured account.
type Mailer struct {
	config Config
	auth   smtp.Auth
	tel    telemetry.API
}

func NewMailer(config Config, tel telemetry.API) (Mailer, error) {
	assert.NotNil(tel)
	assert.NotEmptyStr(config.Host)

	config = config.withDefaults()
	switch config.TLS {
	case TLSImplicit, TLSStartTLS, TLSNone:
	default:
		return Mailer{}, fmt.Errorf("unknown smtp tls mode %q", config.TLS)
	}

	var auth smtp.Auth
	switch config.Auth {
	case AuthNone:
	case AuthPlain:
		auth = smtp.PlainAuth("", config.User, config.Password, config.Host)
	case AuthXOAuth2:
		if config.OAuthTokenCmd == "" {
			return Mailer{}, fmt.Errorf("smtp auth %q needs oauth_token_cmd", config.Auth)
		}
		auth = XOAuth2(config.User, oauth2.ReuseTokenSource(nil, CommandTokenSource(config.OAuthTokenCmd)))
	default:
		return Mailer{}, fmt.Errorf("unknown smtp auth %q", config.Auth)
	}

	return Mailer{
		config: config,
		auth:   auth,
		tel:    telemetry.NewScopedAPI("mailer", tel),
	}, nil
}

func (m Mailer) addr() string {
	return net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
}

func (m Mailer) message(to, subject, body string, attachments []Attachment) (*email.Email, error) {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("%s <%s>", m.config.FromName, m.config.User)
	mail.To = []string{fmt.Sprintf("%s <%s>", recipientName, to)}
	mail.Subject = SubjectPrefix + subject
	mail.Text = []byte(body)

	for _, a := range attachments {
		contentType := mime.TypeByExtension(filepath.Ext(a.Name))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		_, err := mail.Attach(bytes.NewReader(a.Content), a.Name, contentType)
		if err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Name, err)
		}
	}
	return mail, nil
}

func (m Mailer) deliver(mail *email.Email, auth smtp.Auth) error {
	tlsConfig := &tls.Config{ServerName: m.config.Host}
	switch m.config.TLS {
	case TLSImplicit:
		return mail.SendWithTLS(m.addr(), auth, tlsConfig)
	case TLSStartTLS:
		return mail.SendWithStartTLS(m.addr(), auth, tlsConfig)
	default:
		return mail.Send(m.addr(), auth)
	}
}

// Send mails `body` to `to`, the subject is prefixed with SubjectPrefix.
func (m Mailer) Send(ctx context.Context, to, subject, body string, attachments []Attachment) error {
	ctx, span := tracer.Start(ctx, "Send")
	defer span.End()
	span.SetAttributes(
		attribute.String("subject", subject),
		attribute.Int("attachments", len(attachments)),
	)

	err := ctx.Err()
	if err != nil {
		return err
	}

	mail, err := m.message(to, subject, body, attachments)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build email")
		return err
	}

	m.tel.ReportDebug("sending mail", m.addr(), subject, len(body))
	err = m.deliver(mail, m.auth)
	if err != nil && m.auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		m.tel.ReportWarning(report_send, "server does not support AUTH, sending without it")
		err = m.deliver(mail, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		m.tel.ReportBroken(report_send, err, subject)
		return fmt.Errorf("send mail %q: %w", subject, err)
	}
	return nil
}

// Error mails a failure report.
func (m Mailer) Error(ctx context.Context, to, body string, attachments []Attachment) error {
	return m.Send(ctx, to, ErrorSubject, body, attachments)
}
