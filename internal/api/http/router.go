package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/authsync/internal/api/http/handlers"
	"github.com/spec-kit/authsync/internal/auth"
	"github.com/spec-kit/authsync/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health            *handlers.HealthHandler
	Auth              *handlers.AuthHandler
	Admin             *handlers.AdminHandler
	AdminMiddleware   *auth.AdminMiddleware
	SessionMiddleware *auth.SessionMiddleware
	Gatherer          prometheus.Gatherer
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/sign-in", cfg.Auth.SignIn)
	authGroup.Post("/sign-up", cfg.Auth.SignUp)
	authGroup.Post("/confirm", cfg.Auth.ConfirmEmail)
	authGroup.Get("/confirm", cfg.Auth.ConfirmEmail)
	authGroup.Get("/profile-check", cfg.Auth.ProfileCheck)

	// the published state belongs to whoever holds the current session
	signedIn := cfg.SessionMiddleware.Handle
	authGroup.Get("/state", signedIn, cfg.Auth.State)
	authGroup.Post("/sign-out", signedIn, cfg.Auth.SignOut)
	authGroup.Delete("/error", signedIn, cfg.Auth.ClearError)
	authGroup.Get("/metadata", signedIn, cfg.Auth.Metadata)
	authGroup.Patch("/metadata", signedIn, cfg.Auth.UpdateMetadata)

	adminGroup := app.Group("/admin")
	adminGroup.Post("/login", cfg.Admin.Login)

	protected := adminGroup.Group("", cfg.AdminMiddleware.Handle)
	protected.Get("/admins", cfg.Admin.List)
	protected.Get("/admins/:id/status", cfg.Admin.Status)
	protected.Get("/dashboard", auth.RequirePrivilege(domain.PrivilegeViewProfiles), cfg.Admin.Dashboard)

	superOnly := protected.Group("", auth.RequireSuperAdmin())
	superOnly.Post("/admins", cfg.Admin.Grant)
	superOnly.Delete("/admins/:id", cfg.Admin.Revoke)
	superOnly.Patch("/admins/:id/privileges", cfg.Admin.UpdatePrivileges)
}
