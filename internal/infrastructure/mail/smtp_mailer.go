package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/port"
)

// SMTPConfig holds SMTP relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	// MaxAttempts bounds delivery tries per message, including the first
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// sendFunc matches smtp.SendMail
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer implements port.Mailer over net/smtp with bounded exponential retries
type SMTPMailer struct {
	config SMTPConfig
	logger *zap.Logger
	send   sendFunc
	now    func() time.Time
}

// NewSMTPMailer creates a new SMTP mailer
func NewSMTPMailer(config SMTPConfig, logger *zap.Logger) *SMTPMailer {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = time.Second
	}
	if config.MaxElapsedTime <= 0 {
		config.MaxElapsedTime = time.Minute
	}
	return &SMTPMailer{
		config: config,
		logger: logger,
		send:   smtp.SendMail,
		now:    time.Now,
	}
}

// Send delivers msg to its To and Cc recipients. 5xx replies are not retried.
func (m *SMTPMailer) Send(ctx context.Context, msg port.MailMessage) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("mail has no recipients")
	}

	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
	rcpt := append(append([]string{}, msg.To...), msg.Cc...)
	body := m.compose(msg)

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.config.InitialInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := m.send(addr, auth, m.config.From, rcpt, body)
		if err != nil && isPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(m.config.MaxAttempts),
		backoff.WithMaxElapsedTime(m.config.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("Mail delivery failed, retrying",
				zap.Strings("to", msg.To),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		m.logger.Error("Mail delivery failed",
			zap.Strings("to", msg.To),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return fmt.Errorf("failed to send mail: %w", err)
	}

	m.logger.Info("Mail sent",
		zap.Strings("to", msg.To),
		zap.Strings("cc", msg.Cc),
		zap.String("subject", msg.Subject))
	return nil
}

// compose renders a UTF-8 text/plain message with a base64 body
func (m *SMTPMailer) compose(msg port.MailMessage) []byte {
	var buf bytes.Buffer
	header := func(k, v string) {
		buf.WriteString(k + ": " + v + "\r\n")
	}

	header("From", m.config.From)
	header("To", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		header("Cc", strings.Join(msg.Cc, ", "))
	}
	header("Subject", mime.BEncoding.Encode("UTF-8", msg.Subject))
	header("Date", m.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "base64")
	buf.WriteString("\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(msg.Body))
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76] + "\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded + "\r\n")
	return buf.Bytes()
}

func isPermanent(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500
}

var _ port.Mailer = (*SMTPMailer)(nil)
