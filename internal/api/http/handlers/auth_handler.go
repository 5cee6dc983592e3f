package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/authsync/internal/api/dto"
	"github.com/spec-kit/authsync/internal/service"
	apperrors "github.com/spec-kit/authsync/pkg/util/errorutil"
)

// AuthHandler exposes the credential flow and the published auth state.
type AuthHandler struct {
	credentials *service.CredentialService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(credentials *service.CredentialService) *AuthHandler {
	return &AuthHandler{credentials: credentials}
}

// State handles GET /auth/state.
func (h *AuthHandler) State(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": dto.NewAuthStateResponse(h.credentials.State())})
}

// SignIn handles POST /auth/sign-in. The response is the only place session tokens are
// returned.
func (h *AuthHandler) SignIn(c *fiber.Ctx) error {
	var req dto.SignInRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	st, err := h.credentials.Authenticate(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewSignInResponse(st)})
}

// SignUp handles POST /auth/sign-up. The caller is not signed in, so only the notice is
// returned.
func (h *AuthHandler) SignUp(c *fiber.Ctx) error {
	var req dto.SignUpRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" || req.Username == "" {
		return apperrors.NewValidationError("email, password, username required", nil)
	}

	if err := h.credentials.SignUp(c.UserContext(), req.Email, req.Password, req.Username); err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.SignUpResponse{Notice: service.NoticeCheckEmail}})
}

// SignOut handles POST /auth/sign-out. Local state is reset even when the provider fails.
func (h *AuthHandler) SignOut(c *fiber.Ctx) error {
	if err := h.credentials.SignOut(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAuthStateResponse(h.credentials.State())})
}

// ClearError handles DELETE /auth/error.
func (h *AuthHandler) ClearError(c *fiber.Ctx) error {
	h.credentials.ClearError()
	return c.SendStatus(http.StatusNoContent)
}

// ConfirmEmail handles POST /auth/confirm. GET with ?token= is accepted for email links.
func (h *AuthHandler) ConfirmEmail(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" && c.Method() == fiber.MethodPost {
		var req dto.ConfirmEmailRequest
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
		token = req.Token
	}
	if err := h.credentials.ConfirmEmail(c.UserContext(), token); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"confirmed": true}})
}

// Metadata handles GET /auth/metadata.
func (h *AuthHandler) Metadata(c *fiber.Ctx) error {
	meta, err := h.credentials.FetchMetadata(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": meta})
}

// UpdateMetadata handles PATCH /auth/metadata.
func (h *AuthHandler) UpdateMetadata(c *fiber.Ctx) error {
	var req dto.MetadataUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	meta, err := h.credentials.UpdateMetadata(c.UserContext(), req.ToUpdate())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": meta})
}

// ProfileCheck handles GET /auth/profile-check?email=.
func (h *AuthHandler) ProfileCheck(c *fiber.Ctx) error {
	check, err := h.credentials.CheckUserProfile(c.UserContext(), c.Query("email"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewProfileCheckResponse(check)})
}
