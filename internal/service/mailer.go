package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
	"go.uber.org/zap"

	"github.com/spec-kit/authsync/internal/config"
)

// ErrSendEmail wraps delivery failures.
var ErrSendEmail = errors.New("failed to send email")

// Email is a single transactional message.
type Email struct {
	To       string
	Subject  string
	Tag      string
	HTMLBody string
	TextBody string
}

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// NewMailer returns a Postmark mailer when a server token is configured and a logging
// stub otherwise.
func NewMailer(cfg config.NotificationConfig, logger *zap.Logger) Mailer {
	if cfg.PostmarkServerToken == "" {
		return &logMailer{logger: logger, from: cfg.EmailFrom}
	}
	return &postmarkMailer{
		client:  postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:    cfg.EmailFrom,
		replyTo: cfg.SupportEmail,
	}
}

type postmarkMailer struct {
	client  *postmark.Client
	from    string
	replyTo string
}

func (m *postmarkMailer) Send(ctx context.Context, msg Email) error {
	resp, err := m.client.SendEmail(ctx, postmark.Email{
		From:     m.from,
		ReplyTo:  m.replyTo,
		To:       msg.To,
		Subject:  msg.Subject,
		Tag:      msg.Tag,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	})
	if err != nil {
		return errors.Join(ErrSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendEmail, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}

type logMailer struct {
	logger *zap.Logger
	from   string
}

func (m *logMailer) Send(_ context.Context, msg Email) error {
	m.logger.Info("email stub",
		zap.String("from", m.from),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("tag", msg.Tag))
	return nil
}
