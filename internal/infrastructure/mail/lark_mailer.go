package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	crdberrors "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/port"
)

// ReceiveIDTypeEmail addresses a Lark message by the recipient's email address
const ReceiveIDTypeEmail = "email"

// LarkConfig holds the Lark app credentials used for IM delivery
type LarkConfig struct {
	AppID     string
	AppSecret string

	MaxAttempts     uint
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// MessageCreator is the part of the Lark IM message API the mailer needs
type MessageCreator interface {
	Create(ctx context.Context, req *larkIm.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkIm.CreateMessageResp, error)
}

// LarkMailer implements port.Mailer by sending a Lark post message to every
// To and Cc address. Lark IM has no carbon copy, so Cc recipients get their
// own message.
type LarkMailer struct {
	config   LarkConfig
	messages MessageCreator
	logger   *zap.Logger
}

// NewLarkMailer creates a mailer backed by a Lark SDK client
func NewLarkMailer(config LarkConfig, logger *zap.Logger) *LarkMailer {
	client := lark.NewClient(config.AppID, config.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return NewLarkMailerWithClient(config, client.Im.Message, logger)
}

// NewLarkMailerWithClient creates a mailer over an existing message API
func NewLarkMailerWithClient(config LarkConfig, messages MessageCreator, logger *zap.Logger) *LarkMailer {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = time.Second
	}
	if config.MaxElapsedTime <= 0 {
		config.MaxElapsedTime = time.Minute
	}
	return &LarkMailer{
		config:   config,
		messages: messages,
		logger:   logger,
	}
}

// Send delivers msg to each recipient. Every recipient is attempted; the
// returned error combines the failures.
func (m *LarkMailer) Send(ctx context.Context, msg port.MailMessage) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("mail has no recipients")
	}

	content, err := postContent(msg)
	if err != nil {
		return fmt.Errorf("failed to build lark message: %w", err)
	}

	var errs error
	for _, addr := range append(append([]string{}, msg.To...), msg.Cc...) {
		if err := m.sendOne(ctx, addr, content); err != nil {
			errs = crdberrors.CombineErrors(errs, err)
		}
	}
	if errs != nil {
		return fmt.Errorf("failed to send mail: %w", errs)
	}

	m.logger.Info("Mail sent via Lark",
		zap.Strings("to", msg.To),
		zap.Strings("cc", msg.Cc),
		zap.String("subject", msg.Subject))
	return nil
}

func (m *LarkMailer) sendOne(ctx context.Context, email, content string) error {
	// one uuid per recipient lets Lark drop duplicates when a retry follows a lost response
	dedupe := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.config.InitialInterval

	messageID, err := backoff.Retry(ctx, func() (string, error) {
		req := larkIm.NewCreateMessageReqBuilder().
			ReceiveIdType(ReceiveIDTypeEmail).
			Body(larkIm.NewCreateMessageReqBodyBuilder().
				ReceiveId(email).
				MsgType("post").
				Content(content).
				Uuid(dedupe).
				Build()).
			Build()

		resp, err := m.messages.Create(ctx, req)
		if err != nil {
			return "", err
		}
		if !resp.Success() {
			return "", backoff.Permanent(fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg))
		}
		if resp.Data != nil && resp.Data.MessageId != nil {
			return *resp.Data.MessageId, nil
		}
		return "", nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(m.config.MaxAttempts),
		backoff.WithMaxElapsedTime(m.config.MaxElapsedTime),
	)
	if err != nil {
		m.logger.Error("Failed to send Lark message",
			zap.String("receive_id", email),
			zap.Error(err))
		return fmt.Errorf("%s: %w", email, err)
	}

	m.logger.Debug("Lark message sent",
		zap.String("message_id", messageID),
		zap.String("receive_id", email))
	return nil
}

type postElement struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

type postBody struct {
	Title   string          `json:"title"`
	Content [][]postElement `json:"content"`
}

// postContent renders msg as a ja_jp rich-text post, one paragraph per body line
func postContent(msg port.MailMessage) (string, error) {
	lines := strings.Split(strings.TrimRight(msg.Body, "\n"), "\n")
	paragraphs := make([][]postElement, 0, len(lines))
	for _, line := range lines {
		paragraphs = append(paragraphs, []postElement{{Tag: "text", Text: line}})
	}

	raw, err := json.Marshal(map[string]postBody{
		"ja_jp": {Title: msg.Subject, Content: paragraphs},
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

var _ port.Mailer = (*LarkMailer)(nil)
