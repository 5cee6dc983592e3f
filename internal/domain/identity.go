package domain

import (
	"strings"
	"time"
)

// Metadata carries free-form attributes attached to an identity by the provider.
type Metadata map[string]any

// String returns the value under key when it is a string.
func (m Metadata) String(key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Identity is the verified subject of a session.
type Identity struct {
	ID               string
	Email            string
	EmailConfirmedAt *time.Time
	Metadata         Metadata
	CreatedAt        time.Time
}

// Confirmed reports whether the identity's email address was confirmed.
func (i Identity) Confirmed() bool {
	return i.EmailConfirmedAt != nil
}

// Account is the provider-side record backing an identity.
type Account struct {
	ID               string
	Email            string
	PasswordHash     string
	EmailConfirmedAt *time.Time
	Metadata         Metadata
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Identity projects the account onto the identity facts shared with callers.
func (a *Account) Identity() *Identity {
	return &Identity{
		ID:               a.ID,
		Email:            a.Email,
		EmailConfirmedAt: a.EmailConfirmedAt,
		Metadata:         a.Metadata,
		CreatedAt:        a.CreatedAt,
	}
}

// Session is an opaque proof of authentication issued by the identity provider.
type Session struct {
	ID               string    `json:"id"`
	IdentityID       string    `json:"identity_id"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Expired reports whether the access token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// UsernameFromEmail derives the default username from the local part of an email.
func UsernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
