package auth

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/authsync/internal/domain"
	apperrors "github.com/spec-kit/authsync/pkg/util/errorutil"
)

// SessionMiddleware admits only the holder of the currently published session.
type SessionMiddleware struct {
	tokens *TokenManager
	state  func() domain.AuthState
}

// NewSessionMiddleware constructs middleware. state reports the published AuthState. With
// a nil token manager the bearer must equal the session's access token.
func NewSessionMiddleware(tokens *TokenManager, state func() domain.AuthState) *SessionMiddleware {
	return &SessionMiddleware{tokens: tokens, state: state}
}

// Handle rejects callers whose bearer token does not belong to the published session. The
// check is against the state at request time, so a sign-out locks out the old token at once.
func (m *SessionMiddleware) Handle(c *fiber.Ctx) error {
	token, err := bearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return err
	}

	st := m.state()
	if !st.IsAuthenticated || st.Session == nil {
		return apperrors.NewUnauthorized("not signed in")
	}
	if !m.matches(token, st) {
		return apperrors.NewUnauthorized("invalid token")
	}
	return c.Next()
}

func (m *SessionMiddleware) matches(token string, st domain.AuthState) bool {
	if m.tokens == nil {
		return subtle.ConstantTimeCompare([]byte(token), []byte(st.Session.AccessToken)) == 1
	}
	claims, err := m.tokens.ParseSessionToken(token)
	if err != nil {
		return false
	}
	return claims.Subject == st.User.ID && claims.SessionID == st.Session.ID
}
