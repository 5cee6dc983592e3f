package auth_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/authsync/internal/auth"
	"github.com/spec-kit/authsync/internal/domain"
	"github.com/spec-kit/authsync/internal/testkit"
	apperrors "github.com/spec-kit/authsync/pkg/util/errorutil"
)

type adminApp struct {
	app    *fiber.App
	tokens *auth.TokenManager
	admins *testkit.AdminRepository
}

func newAdminApp(t *testing.T) *adminApp {
	t.Helper()
	a := &adminApp{
		tokens: auth.NewTokenManager("admin-secret", time.Minute),
		admins: testkit.NewAdminRepository(),
	}
	a.app = fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).SendString(de.Code)
		},
	})
	mw := auth.NewAdminMiddleware(a.tokens, a.admins)
	a.app.Get("/whoami", mw.Handle, func(c *fiber.Ctx) error {
		grant, ok := auth.AdminFromContext(c)
		require.True(t, ok)
		return c.SendString(grant.ID)
	})
	a.app.Get("/super", mw.Handle, auth.RequireSuperAdmin(), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusNoContent)
	})
	a.app.Get("/analytics", mw.Handle, auth.RequirePrivilege(domain.PrivilegeViewAnalytics), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusNoContent)
	})
	return a
}

func (a *adminApp) grant(t *testing.T, g domain.AdminGrant) string {
	t.Helper()
	require.NoError(t, a.admins.Create(context.Background(), &g))
	token, _, err := a.tokens.GenerateAdminToken(&g)
	require.NoError(t, err)
	return token
}

func (a *adminApp) get(t *testing.T, path, authorization string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set(fiber.HeaderAuthorization, authorization)
	}
	resp, err := a.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestAdminMiddlewareLoadsGrant(t *testing.T) {
	a := newAdminApp(t)
	token := a.grant(t, domain.AdminGrant{ID: "root", Email: "root@x.com", IsSuperAdmin: true})

	status, body := a.get(t, "/whoami", "Bearer "+token)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "root", body)
}

func TestAdminMiddlewareRejects(t *testing.T) {
	a := newAdminApp(t)
	sessionToken, _, err := a.tokens.GenerateSessionToken("u1", "a@b.com", "s1")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing header", "", http.StatusUnauthorized, apperrors.CodeUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, apperrors.CodeUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized, apperrors.CodeUnauthorized},
		{"session token", "Bearer " + sessionToken, http.StatusUnauthorized, apperrors.CodeUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := a.get(t, "/whoami", tc.header)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, body)
		})
	}
}

func TestAdminMiddlewareRejectsRevokedGrant(t *testing.T) {
	a := newAdminApp(t)
	token := a.grant(t, domain.AdminGrant{ID: "u2", Email: "b@c.com"})
	require.NoError(t, a.admins.Delete(context.Background(), "u2"))

	status, body := a.get(t, "/whoami", "Bearer "+token)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, apperrors.CodeAuthorizationDenied, body)
}

func TestRequireSuperAdmin(t *testing.T) {
	a := newAdminApp(t)
	super := a.grant(t, domain.AdminGrant{ID: "root", Email: "root@x.com", IsSuperAdmin: true})
	plain := a.grant(t, domain.AdminGrant{ID: "u2", Email: "b@c.com", Privileges: domain.DefaultPrivileges()})

	status, _ := a.get(t, "/super", "Bearer "+super)
	assert.Equal(t, http.StatusNoContent, status)

	status, body := a.get(t, "/super", "Bearer "+plain)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, apperrors.CodeAuthorizationDenied, body)
}

func TestRequirePrivilege(t *testing.T) {
	a := newAdminApp(t)
	viewer := a.grant(t, domain.AdminGrant{ID: "u2", Email: "b@c.com", Privileges: []domain.Privilege{domain.PrivilegeViewAnalytics}})
	editor := a.grant(t, domain.AdminGrant{ID: "u3", Email: "c@d.com", Privileges: []domain.Privilege{domain.PrivilegeEditProfiles}})
	super := a.grant(t, domain.AdminGrant{ID: "root", Email: "root@x.com", IsSuperAdmin: true})

	status, _ := a.get(t, "/analytics", "Bearer "+viewer)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = a.get(t, "/analytics", "Bearer "+super)
	assert.Equal(t, http.StatusNoContent, status)

	status, body := a.get(t, "/analytics", "Bearer "+editor)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, apperrors.CodeAuthorizationDenied, body)
}
