package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/authsync/internal/domain"
)

const (
	audienceSession = "authsync-session"
	audienceAdmin   = "authsync-admin"
)

// TokenManager handles issuing and validating JWT tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (tm *TokenManager) WithClock(now func() time.Time) *TokenManager {
	tm.now = now
	return tm
}

// TTL returns the lifetime of issued tokens.
func (tm *TokenManager) TTL() time.Duration {
	return tm.ttl
}

// SessionClaims describes the access token payload for an identity session.
type SessionClaims struct {
	Email     string `json:"email"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// AdminClaims describes the admin console token payload.
type AdminClaims struct {
	Email string           `json:"email"`
	Role  domain.AdminRole `json:"role"`
	jwt.RegisteredClaims
}

// GenerateSessionToken signs an access token bound to a server-side session record.
func (tm *TokenManager) GenerateSessionToken(identityID, email, sessionID string) (string, time.Time, error) {
	now := tm.now()
	expiresAt := now.Add(tm.ttl)
	claims := &SessionClaims{
		Email:            email,
		SessionID:        sessionID,
		RegisteredClaims: tm.registered(identityID, audienceSession, now, expiresAt),
	}
	return tm.sign(claims, expiresAt)
}

// ParseSessionToken validates an access token and returns its claims.
func (tm *TokenManager) ParseSessionToken(tokenStr string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := tm.parse(tokenStr, claims, audienceSession); err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, errors.New("token missing session id")
	}
	return claims, nil
}

// GenerateAdminToken signs a token for the admin console.
func (tm *TokenManager) GenerateAdminToken(grant *domain.AdminGrant) (string, time.Time, error) {
	now := tm.now()
	expiresAt := now.Add(tm.ttl)
	claims := &AdminClaims{
		Email:            grant.Email,
		Role:             grant.Role(),
		RegisteredClaims: tm.registered(grant.ID, audienceAdmin, now, expiresAt),
	}
	return tm.sign(claims, expiresAt)
}

// ParseAdminToken validates an admin console token.
func (tm *TokenManager) ParseAdminToken(tokenStr string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	if err := tm.parse(tokenStr, claims, audienceAdmin); err != nil {
		return nil, err
	}
	return claims, nil
}

func (tm *TokenManager) registered(subject, audience string, now, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
	}
}

func (tm *TokenManager) sign(claims jwt.Claims, expiresAt time.Time) (string, time.Time, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

func (tm *TokenManager) parse(tokenStr string, claims jwt.Claims, audience string) error {
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	}, jwt.WithAudience(audience), jwt.WithTimeFunc(tm.now), jwt.WithExpirationRequired())
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("invalid token claims")
	}
	return nil
}
