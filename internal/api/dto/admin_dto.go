package dto

import (
	"time"

	"github.com/spec-kit/authsync/internal/domain"
	"github.com/spec-kit/authsync/internal/service"
)

// AdminLoginRequest payload for POST /admin/login.
type AdminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GrantAdminRequest payload for POST /admin/admins.
type GrantAdminRequest struct {
	ID           string   `json:"id"`
	Email        string   `json:"email"`
	IsSuperAdmin bool     `json:"is_super_admin"`
	Privileges   []string `json:"privileges"`
}

// ToGrantRequest converts the payload for the admin service.
func (r GrantAdminRequest) ToGrantRequest() service.GrantRequest {
	return service.GrantRequest{
		TargetID:     r.ID,
		TargetEmail:  r.Email,
		IsSuperAdmin: r.IsSuperAdmin,
		Privileges:   domain.PrivilegesFromStrings(r.Privileges),
	}
}

// UpdatePrivilegesRequest payload for PATCH /admin/admins/:id/privileges.
type UpdatePrivilegesRequest struct {
	Privileges []string `json:"privileges"`
}

// AdminResponse renders domain.AdminGrant.
type AdminResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	IsSuperAdmin bool      `json:"is_super_admin"`
	Privileges   []string  `json:"privileges"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewAdminResponse converts a grant.
func NewAdminResponse(g *domain.AdminGrant) AdminResponse {
	return AdminResponse{
		ID:           g.ID,
		Email:        g.Email,
		Role:         string(g.Role()),
		IsSuperAdmin: g.IsSuperAdmin,
		Privileges:   domain.PrivilegeStrings(g.Privileges),
		CreatedAt:    g.CreatedAt,
	}
}

// NewAdminResponses converts a grant list.
func NewAdminResponses(grants []domain.AdminGrant) []AdminResponse {
	out := make([]AdminResponse, 0, len(grants))
	for i := range grants {
		out = append(out, NewAdminResponse(&grants[i]))
	}
	return out
}

// AdminLoginResponse is returned by a successful admin login.
type AdminLoginResponse struct {
	Admin     AdminResponse `json:"admin"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// DashboardResponse renders service.AdminDashboard.
type DashboardResponse struct {
	Admins   []AdminResponse   `json:"admins"`
	Profiles []ProfileResponse `json:"profiles"`
}

// NewDashboardResponse converts the dashboard.
func NewDashboardResponse(d *service.AdminDashboard) DashboardResponse {
	profiles := make([]ProfileResponse, 0, len(d.Profiles))
	for _, p := range d.Profiles {
		profiles = append(profiles, NewProfileResponse(p))
	}
	return DashboardResponse{Admins: NewAdminResponses(d.Admins), Profiles: profiles}
}
