package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/authsync/internal/api/dto"
	"github.com/spec-kit/authsync/internal/auth"
	"github.com/spec-kit/authsync/internal/domain"
	"github.com/spec-kit/authsync/internal/service"
	apperrors "github.com/spec-kit/authsync/pkg/util/errorutil"
)

// AdminHandler exposes the admin console endpoints.
type AdminHandler struct {
	admins *service.AdminService
}

// NewAdminHandler constructs handler.
func NewAdminHandler(admins *service.AdminService) *AdminHandler {
	return &AdminHandler{admins: admins}
}

// Login handles POST /admin/login.
func (h *AdminHandler) Login(c *fiber.Ctx) error {
	var req dto.AdminLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	principal, err := h.admins.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AdminLoginResponse{
		Admin:     dto.NewAdminResponse(principal.Grant),
		Token:     principal.Token,
		ExpiresAt: principal.ExpiresAt,
	}})
}

// List handles GET /admin/admins.
func (h *AdminHandler) List(c *fiber.Ctx) error {
	grants, err := h.admins.ListAdmins(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAdminResponses(grants)})
}

// Grant handles POST /admin/admins.
func (h *AdminHandler) Grant(c *fiber.Ctx) error {
	var req dto.GrantAdminRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	grant, err := h.admins.GrantAdmin(c.UserContext(), actor(c), req.ToGrantRequest())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewAdminResponse(grant)})
}

// Revoke handles DELETE /admin/admins/:id.
func (h *AdminHandler) Revoke(c *fiber.Ctx) error {
	if err := h.admins.RevokeAdmin(c.UserContext(), actor(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// UpdatePrivileges handles PATCH /admin/admins/:id/privileges.
func (h *AdminHandler) UpdatePrivileges(c *fiber.Ctx) error {
	var req dto.UpdatePrivilegesRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	grant, err := h.admins.UpdatePrivileges(c.UserContext(), actor(c), c.Params("id"), domain.PrivilegesFromStrings(req.Privileges))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAdminResponse(grant)})
}

// Status handles GET /admin/admins/:id/status.
func (h *AdminHandler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.admins.CheckStatus(c.UserContext(), c.Params("id"))})
}

// Dashboard handles GET /admin/dashboard.
func (h *AdminHandler) Dashboard(c *fiber.Ctx) error {
	dashboard, err := h.admins.Dashboard(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewDashboardResponse(dashboard)})
}

func actor(c *fiber.Ctx) *domain.AdminGrant {
	grant, _ := auth.AdminFromContext(c)
	return grant
}
