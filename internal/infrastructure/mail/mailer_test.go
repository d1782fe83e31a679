package mail

import (
	"context"
	"encoding/base64"
	"errors"
	"net/smtp"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/garyjia/portal-workflow/internal/application/port"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  []byte
}

func newTestMailer(t *testing.T, attempts uint, send func(call int) error) (*SMTPMailer, *[]sentMail) {
	var sent []sentMail
	m := NewSMTPMailer(SMTPConfig{
		Host:            "smtp.example.ac.jp",
		Port:            587,
		From:            "portal@example.ac.jp",
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
	}, zaptest.NewLogger(t))
	m.now = func() time.Time { return time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC) }

	call := 0
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		call++
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: msg})
		return send(call)
	}
	return m, &sent
}

var notice = port.MailMessage{
	To:      []string{"student@example.ac.jp"},
	Cc:      []string{"teacher@example.ac.jp"},
	Subject: "証明書発行申請の取消のお知らせ",
	Body:    "証明書発行申請 c-1 は支払期限を過ぎたため削除されました。\n",
}

func TestSMTPMailer_Send(t *testing.T) {
	m, sent := newTestMailer(t, 3, func(int) error { return nil })

	require.NoError(t, m.Send(context.Background(), notice))
	require.Len(t, *sent, 1)

	got := (*sent)[0]
	assert.Equal(t, "smtp.example.ac.jp:587", got.addr)
	assert.Equal(t, "portal@example.ac.jp", got.from)
	assert.Equal(t, []string{"student@example.ac.jp", "teacher@example.ac.jp"}, got.to)

	raw := string(got.msg)
	assert.Contains(t, raw, "To: student@example.ac.jp\r\n")
	assert.Contains(t, raw, "Cc: teacher@example.ac.jp\r\n")
	assert.Contains(t, raw, "Subject: =?UTF-8?b?")
	assert.Contains(t, raw, "Content-Transfer-Encoding: base64\r\n")

	parts := strings.SplitN(raw, "\r\n\r\n", 2)
	require.Len(t, parts, 2)
	body, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(parts[1], "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, notice.Body, string(body))
}

func TestSMTPMailer_RetriesTransientFailures(t *testing.T) {
	m, sent := newTestMailer(t, 3, func(call int) error {
		if call < 3 {
			return &textproto.Error{Code: 421, Msg: "service not available"}
		}
		return nil
	})

	require.NoError(t, m.Send(context.Background(), notice))
	assert.Len(t, *sent, 3)
}

func TestSMTPMailer_GivesUpAfterMaxAttempts(t *testing.T) {
	m, sent := newTestMailer(t, 2, func(int) error { return errors.New("connection refused") })

	err := m.Send(context.Background(), notice)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Len(t, *sent, 2)
}

func TestSMTPMailer_PermanentFailureNotRetried(t *testing.T) {
	m, sent := newTestMailer(t, 5, func(int) error {
		return &textproto.Error{Code: 550, Msg: "mailbox unavailable"}
	})

	err := m.Send(context.Background(), notice)
	require.Error(t, err)
	assert.Len(t, *sent, 1)
}

func TestSMTPMailer_NoRecipients(t *testing.T) {
	m, sent := newTestMailer(t, 3, func(int) error { return nil })
	assert.Error(t, m.Send(context.Background(), port.MailMessage{Subject: "x"}))
	assert.Empty(t, *sent)
}

func TestLogMailer(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewLogMailer(zap.New(core))

	require.NoError(t, m.Send(context.Background(), notice))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, notice.Subject, logs.All()[0].ContextMap()["subject"])
}
