// Package identity defines the identity provider contract consumed by the auth core
// and a local provider backed by Postgres accounts and Redis session records.
package identity

import (
	"context"
	"errors"

	"github.com/spec-kit/authsync/internal/domain"
)

var (
	ErrInvalidCredentials  = errors.New("invalid login credentials")
	ErrEmailNotConfirmed   = errors.New("email not confirmed")
	ErrSessionMissing      = errors.New("auth session missing")
	ErrSessionInvalid      = errors.New("invalid session")
	ErrUserAlreadyExists   = errors.New("user already registered")
	ErrIdentityNotFound    = errors.New("identity not found")
	ErrConfirmationInvalid = errors.New("confirmation token is invalid or has expired")
)

// ChangeHandler receives identity change notifications. session is nil for events that
// carry none.
type ChangeHandler func(ctx context.Context, event domain.IdentityEvent, session *domain.Session)

// Client is the identity provider as seen by the auth core.
type Client interface {
	// GetSession returns the persisted session, or nil when there is none.
	GetSession(ctx context.Context) (*domain.Session, error)
	// GetCurrentIdentity re-verifies the persisted session with the provider.
	GetCurrentIdentity(ctx context.Context) (*domain.Identity, error)
	// SignInWithPassword may return a nil session without an error.
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	SignUp(ctx context.Context, email, password string, metadata domain.Metadata) (*domain.Identity, error)
	SignOut(ctx context.Context) error
	UpdateIdentityMetadata(ctx context.Context, fields domain.Metadata) (*domain.Identity, error)
	UpdateIdentityMetadataByID(ctx context.Context, id string, fields domain.Metadata) error
	// VerifyCredentials checks a password without issuing or persisting a session.
	VerifyCredentials(ctx context.Context, email, password string) (*domain.Identity, error)
	LookupIdentityByEmail(ctx context.Context, email string) (*domain.Identity, error)
	ConfirmEmail(ctx context.Context, token string) error
	// OnChange subscribes to identity change notifications until the returned func is called.
	OnChange(handler ChangeHandler) (unsubscribe func())
}
