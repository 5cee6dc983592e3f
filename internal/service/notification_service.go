package service

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/authsync/internal/config"
	"github.com/spec-kit/authsync/internal/events"
)

// NotificationService sends email in response to identity events.
type NotificationService struct {
	dispatcher  events.Dispatcher
	mailer      Mailer
	logger      *zap.Logger
	cfg         config.NotificationConfig
	timeout     time.Duration
	unsubscribe []events.Unsubscribe
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, mailer Mailer, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		mailer:     mailer,
		logger:     logger,
		cfg:        cfg,
		timeout:    10 * time.Second,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.unsubscribe = append(n.unsubscribe,
		n.dispatcher.Subscribe(events.EventUserSignedUp, n.handleUserSignedUp),
		n.dispatcher.Subscribe(events.EventUserUpdated, n.handleUserUpdated),
	)
}

// Close drops the subscriptions.
func (n *NotificationService) Close() {
	for _, unsubscribe := range n.unsubscribe {
		unsubscribe()
	}
	n.unsubscribe = nil
}

func (n *NotificationService) handleUserSignedUp(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.UserSignedUpPayload)
	if !ok {
		n.logger.Warn("UserSignedUp without payload", zap.String("identity_id", event.IdentityID))
		return nil
	}
	n.logger.Info("UserSignedUp", zap.String("identity_id", event.IdentityID), zap.String("email", payload.Email))

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.mailer.Send(ctx, n.confirmationEmail(payload)); err != nil {
		// the account exists regardless, so sign-up itself must not fail
		n.logger.Error("send confirmation email", zap.String("identity_id", event.IdentityID), zap.Error(err))
	}
	return nil
}

func (n *NotificationService) handleUserUpdated(_ context.Context, event events.Event) error {
	n.logger.Debug("UserUpdated", zap.String("identity_id", event.IdentityID))
	return nil
}

func (n *NotificationService) confirmationEmail(payload events.UserSignedUpPayload) Email {
	link := n.confirmLink(payload.ConfirmationToken)
	name := payload.Username
	if strings.TrimSpace(name) == "" {
		name = payload.Email
	}
	return Email{
		To:      payload.Email,
		Subject: "Confirm your email",
		Tag:     "email-confirmation",
		HTMLBody: fmt.Sprintf(`<p>Hi %s,</p><p>Confirm your email address to finish signing up:</p><p><a href="%s">Confirm email</a></p>`,
			html.EscapeString(name), html.EscapeString(link)),
		TextBody: fmt.Sprintf("Hi %s,\n\nConfirm your email address to finish signing up:\n%s\n", name, link),
	}
}

func (n *NotificationService) confirmLink(token string) string {
	u, err := url.Parse(n.cfg.ConfirmURL)
	if err != nil {
		return n.cfg.ConfirmURL + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
