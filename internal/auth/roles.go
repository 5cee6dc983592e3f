package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/authsync/internal/domain"
	apperrors "github.com/spec-kit/authsync/pkg/util/errorutil"
)

// RequireSuperAdmin ensures the admin principal is a super admin.
func RequireSuperAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		grant, ok := AdminFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("admin login required")
		}
		if !grant.IsSuperAdmin {
			return apperrors.NewAuthorizationDenied("Only super admins can manage admins", nil)
		}
		return c.Next()
	}
}

// RequirePrivilege ensures the admin principal holds every listed privilege. Super
// admins pass regardless.
func RequirePrivilege(required ...domain.Privilege) fiber.Handler {
	return func(c *fiber.Ctx) error {
		grant, ok := AdminFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("admin login required")
		}
		if grant.IsSuperAdmin {
			return c.Next()
		}
		for _, p := range required {
			if !grant.Has(p) {
				return apperrors.NewAuthorizationDenied("missing privilege "+string(p), nil)
			}
		}
		return c.Next()
	}
}
