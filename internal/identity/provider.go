package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/authsync/internal/auth"
	"github.com/spec-kit/authsync/internal/domain"
	"github.com/spec-kit/authsync/internal/events"
	"github.com/spec-kit/authsync/internal/repository"
)

// ProviderConfig tunes the local provider.
type ProviderConfig struct {
	BcryptCost               int
	RefreshTokenTTL          time.Duration
	ConfirmationTTL          time.Duration
	RequireEmailConfirmation bool
}

// ProviderDependencies bundles the provider's collaborators.
type ProviderDependencies struct {
	Accounts      repository.IdentityRepository
	Confirmations repository.ConfirmationRepository
	Records       SessionRecordStore
	Storage       SessionStorage
	Tokens        *auth.TokenManager
	Dispatcher    events.Dispatcher
	Logger        *zap.Logger
}

// Provider is a local identity provider. Accounts live in Postgres, session records in
// Redis, and change notifications go through the in-process dispatcher.
type Provider struct {
	cfg           ProviderConfig
	accounts      repository.IdentityRepository
	confirmations repository.ConfirmationRepository
	records       SessionRecordStore
	storage       SessionStorage
	tokens        *auth.TokenManager
	dispatcher    events.Dispatcher
	logger        *zap.Logger
	now           func() time.Time
}

var _ Client = (*Provider)(nil)

// NewProvider builds the provider.
func NewProvider(cfg ProviderConfig, deps ProviderDependencies) *Provider {
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if cfg.ConfirmationTTL <= 0 {
		cfg.ConfirmationTTL = 24 * time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:           cfg,
		accounts:      deps.Accounts,
		confirmations: deps.Confirmations,
		records:       deps.Records,
		storage:       deps.Storage,
		tokens:        deps.Tokens,
		dispatcher:    deps.Dispatcher,
		logger:        logger,
		now:           time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

// GetSession returns the persisted session, refreshing an expired access token while
// the refresh token is still valid.
func (p *Provider) GetSession(ctx context.Context) (*domain.Session, error) {
	session, err := p.storage.Load(ctx)
	if err != nil || session == nil {
		return nil, err
	}
	now := p.now()
	if !session.Expired(now) {
		return session, nil
	}
	if !now.Before(session.RefreshExpiresAt) {
		return nil, p.storage.Clear(ctx)
	}
	return p.refresh(ctx, session)
}

func (p *Provider) refresh(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	record, err := p.records.Get(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.RefreshToken != session.RefreshToken {
		p.logger.Info("persisted session no longer valid", zap.String("session_id", session.ID))
		return nil, p.storage.Clear(ctx)
	}

	account, err := p.accounts.GetByID(ctx, record.IdentityID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, p.storage.Clear(ctx)
		}
		return nil, err
	}

	token, expiresAt, err := p.tokens.GenerateSessionToken(account.ID, account.Email, record.SessionID)
	if err != nil {
		return nil, err
	}
	record.RefreshToken = uuid.NewString()
	if err := p.records.Update(ctx, *record); err != nil {
		return nil, err
	}

	refreshed := &domain.Session{
		ID:               record.SessionID,
		IdentityID:       account.ID,
		AccessToken:      token,
		RefreshToken:     record.RefreshToken,
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: record.ExpiresAt,
	}
	if err := p.storage.Save(ctx, refreshed); err != nil {
		return nil, err
	}
	p.publish(ctx, events.Event{Type: events.EventTokenRefreshed, IdentityID: account.ID, Session: refreshed})
	return refreshed, nil
}

// GetCurrentIdentity verifies the persisted session's token, its server-side record and
// the account it belongs to.
func (p *Provider) GetCurrentIdentity(ctx context.Context) (*domain.Identity, error) {
	session, err := p.storage.Load(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionMissing
	}

	claims, err := p.tokens.ParseSessionToken(session.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	record, err := p.records.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.IdentityID != claims.Subject {
		return nil, fmt.Errorf("%w: session revoked", ErrSessionInvalid)
	}

	account, err := p.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, fmt.Errorf("%w: identity removed", ErrSessionInvalid)
		}
		return nil, err
	}
	return account.Identity(), nil
}

// SignInWithPassword verifies credentials, issues and persists a session, and
// announces SIGNED_IN.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	account, err := p.verify(ctx, email, password)
	if err != nil {
		return nil, err
	}

	session, err := p.issueSession(ctx, account)
	if err != nil {
		return nil, err
	}
	if err := p.storage.Save(ctx, session); err != nil {
		return nil, err
	}

	p.publish(ctx, events.Event{Type: events.EventSignedIn, IdentityID: account.ID, Session: session})
	return session, nil
}

// VerifyCredentials checks email and password without touching the persisted session.
func (p *Provider) VerifyCredentials(ctx context.Context, email, password string) (*domain.Identity, error) {
	account, err := p.verify(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return account.Identity(), nil
}

func (p *Provider) verify(ctx context.Context, email, password string) (*domain.Account, error) {
	account, err := p.accounts.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := auth.ComparePassword(account.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if p.cfg.RequireEmailConfirmation && account.EmailConfirmedAt == nil {
		return nil, ErrEmailNotConfirmed
	}
	return account, nil
}

func (p *Provider) issueSession(ctx context.Context, account *domain.Account) (*domain.Session, error) {
	sessionID := uuid.NewString()
	token, expiresAt, err := p.tokens.GenerateSessionToken(account.ID, account.Email, sessionID)
	if err != nil {
		return nil, err
	}

	record := SessionRecord{
		SessionID:    sessionID,
		IdentityID:   account.ID,
		RefreshToken: uuid.NewString(),
		ExpiresAt:    p.now().Add(p.cfg.RefreshTokenTTL),
	}
	if err := p.records.Create(ctx, record); err != nil {
		return nil, err
	}

	return &domain.Session{
		ID:               sessionID,
		IdentityID:       account.ID,
		AccessToken:      token,
		RefreshToken:     record.RefreshToken,
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

// SignUp creates an account carrying metadata. When confirmation is required a
// confirmation token is stored and USER_SIGNED_UP is announced.
func (p *Provider) SignUp(ctx context.Context, email, password string, metadata domain.Metadata) (*domain.Identity, error) {
	if _, err := p.accounts.GetByEmail(ctx, email); err == nil {
		return nil, ErrUserAlreadyExists
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	hash, err := auth.HashPassword(password, p.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	account := &domain.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Metadata:     metadata,
	}
	if !p.cfg.RequireEmailConfirmation {
		confirmedAt := p.now()
		account.EmailConfirmedAt = &confirmedAt
	}
	if err := p.accounts.Create(ctx, account); err != nil {
		if repository.IsDuplicate(err) {
			return nil, ErrUserAlreadyExists
		}
		return nil, err
	}

	if p.cfg.RequireEmailConfirmation {
		token := &repository.ConfirmationToken{
			IdentityID: account.ID,
			Token:      uuid.NewString(),
			ExpiresAt:  p.now().Add(p.cfg.ConfirmationTTL),
		}
		if err := p.confirmations.Create(ctx, token); err != nil {
			return nil, err
		}
		p.publish(ctx, events.Event{
			Type:       events.EventUserSignedUp,
			IdentityID: account.ID,
			Payload: events.UserSignedUpPayload{
				Email:             account.Email,
				Username:          metadata.String("username"),
				ConfirmationToken: token.Token,
			},
		})
	}
	return account.Identity(), nil
}

// ConfirmEmail consumes a confirmation token.
func (p *Provider) ConfirmEmail(ctx context.Context, tokenStr string) error {
	token, err := p.confirmations.GetByToken(ctx, tokenStr)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrConfirmationInvalid
		}
		return err
	}
	if token.UsedAt != nil || !p.now().Before(token.ExpiresAt) {
		return ErrConfirmationInvalid
	}
	if err := p.accounts.MarkEmailConfirmed(ctx, token.IdentityID); err != nil {
		return err
	}
	if err := p.confirmations.MarkUsed(ctx, token.ID); err != nil {
		return err
	}
	p.publish(ctx, events.Event{Type: events.EventUserUpdated, IdentityID: token.IdentityID})
	return nil
}

// SignOut revokes the persisted session. Local storage is cleared and SIGNED_OUT is
// announced even when revoking the record fails.
func (p *Provider) SignOut(ctx context.Context) error {
	session, loadErr := p.storage.Load(ctx)

	var revokeErr error
	if session != nil {
		revokeErr = p.records.Delete(ctx, session.ID)
	}
	clearErr := p.storage.Clear(ctx)

	event := events.Event{Type: events.EventSignedOut}
	if session != nil {
		event.IdentityID = session.IdentityID
	}
	p.publish(ctx, event)

	return errors.Join(loadErr, revokeErr, clearErr)
}

// UpdateIdentityMetadata merges fields into the current identity's metadata.
func (p *Provider) UpdateIdentityMetadata(ctx context.Context, fields domain.Metadata) (*domain.Identity, error) {
	current, err := p.GetCurrentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	merged, err := p.accounts.MergeMetadata(ctx, current.ID, fields)
	if err != nil {
		return nil, err
	}
	current.Metadata = merged
	p.publish(ctx, events.Event{Type: events.EventUserUpdated, IdentityID: current.ID})
	return current, nil
}

// UpdateIdentityMetadataByID merges fields into any identity's metadata.
func (p *Provider) UpdateIdentityMetadataByID(ctx context.Context, id string, fields domain.Metadata) error {
	if _, err := p.accounts.MergeMetadata(ctx, id, fields); err != nil {
		if repository.IsNotFound(err) {
			return ErrIdentityNotFound
		}
		return err
	}
	p.publish(ctx, events.Event{Type: events.EventUserUpdated, IdentityID: id})
	return nil
}

// LookupIdentityByEmail finds an identity by email, case-insensitively.
func (p *Provider) LookupIdentityByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	account, err := p.accounts.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	return account.Identity(), nil
}

// OnChange forwards every dispatcher event to handler.
func (p *Provider) OnChange(handler ChangeHandler) func() {
	unsubscribe := p.dispatcher.SubscribeAll(func(ctx context.Context, event events.Event) error {
		handler(ctx, domain.IdentityEvent(event.Type), event.Session)
		return nil
	})
	return unsubscribe
}

func (p *Provider) publish(ctx context.Context, event events.Event) {
	event.ID = uuid.NewString()
	event.Timestamp = p.now()
	if err := p.dispatcher.Publish(ctx, event); err != nil {
		p.logger.Warn("identity event handler failed",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}
