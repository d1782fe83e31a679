package mail

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/port"
)

// LogMailer writes messages to the log instead of sending them.
// Used for the log provider and when no SMTP host is configured.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a new log-only mailer
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send logs msg and never fails
func (m *LogMailer) Send(ctx context.Context, msg port.MailMessage) error {
	m.logger.Info("Mail (not sent, log-only mailer)",
		zap.Strings("to", msg.To),
		zap.Strings("cc", msg.Cc),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))
	return nil
}

var _ port.Mailer = (*LogMailer)(nil)
