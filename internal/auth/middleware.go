package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/authsync/internal/domain"
	"github.com/spec-kit/authsync/internal/repository"
	apperrors "github.com/spec-kit/authsync/pkg/util/errorutil"
)

const adminKey = "auth_admin"

// AdminMiddleware validates admin console bearer tokens and loads the caller's grant.
type AdminMiddleware struct {
	tokens *TokenManager
	admins repository.AdminRepository
}

// NewAdminMiddleware constructs middleware.
func NewAdminMiddleware(tokens *TokenManager, admins repository.AdminRepository) *AdminMiddleware {
	return &AdminMiddleware{tokens: tokens, admins: admins}
}

// Handle enforces admin authentication. The grant is re-read on every request so a
// revoked admin loses access before the token expires.
func (m *AdminMiddleware) Handle(c *fiber.Ctx) error {
	token, err := bearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return err
	}

	claims, err := m.tokens.ParseAdminToken(token)
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	grant, err := m.admins.GetByID(c.UserContext(), claims.Subject)
	if err != nil {
		if repository.IsNotFound(err) {
			return apperrors.NewAuthorizationDenied("not authorized", nil)
		}
		return apperrors.NewRemoteUnavailable(err)
	}

	c.Locals(adminKey, grant)
	return c.Next()
}

// AdminFromContext retrieves the authenticated admin grant.
func AdminFromContext(c *fiber.Ctx) (*domain.AdminGrant, bool) {
	grant, ok := c.Locals(adminKey).(*domain.AdminGrant)
	return grant, ok && grant != nil
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", apperrors.NewUnauthorized("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperrors.NewUnauthorized("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}
