package domain

import "time"

// Privilege names an administrative capability.
type Privilege string

const (
	PrivilegeManageUsers    Privilege = "manage_users"
	PrivilegeViewProfiles   Privilege = "view_profiles"
	PrivilegeEditProfiles   Privilege = "edit_profiles"
	PrivilegeDeleteProfiles Privilege = "delete_profiles"
	PrivilegeManageMessages Privilege = "manage_messages"
	PrivilegeViewAnalytics  Privilege = "view_analytics"
	PrivilegeSystemSettings Privilege = "system_settings"
)

// DefaultPrivileges returns the privilege set assigned to new grants.
func DefaultPrivileges() []Privilege {
	return []Privilege{
		PrivilegeManageUsers,
		PrivilegeViewProfiles,
		PrivilegeEditProfiles,
		PrivilegeDeleteProfiles,
		PrivilegeManageMessages,
		PrivilegeViewAnalytics,
		PrivilegeSystemSettings,
	}
}

// Known reports whether p is one of the enumerated privileges.
func (p Privilege) Known() bool {
	for _, known := range DefaultPrivileges() {
		if p == known {
			return true
		}
	}
	return false
}

// AdminRole is mirrored into identity metadata under the "role" key.
type AdminRole string

const (
	AdminRoleAdmin      AdminRole = "admin"
	AdminRoleSuperAdmin AdminRole = "super_admin"
	AdminRoleUser       AdminRole = "user"
)

// AdminGrant records administrative privileges for an identity.
type AdminGrant struct {
	ID           string
	Email        string
	IsSuperAdmin bool
	Privileges   []Privilege
	CreatedAt    time.Time
}

// Role returns the grant's role.
func (g *AdminGrant) Role() AdminRole {
	if g.IsSuperAdmin {
		return AdminRoleSuperAdmin
	}
	return AdminRoleAdmin
}

// Has reports whether the grant carries privilege p.
func (g *AdminGrant) Has(p Privilege) bool {
	for _, held := range g.Privileges {
		if held == p {
			return true
		}
	}
	return false
}

// PrivilegesFromStrings converts stored privilege names.
func PrivilegesFromStrings(values []string) []Privilege {
	out := make([]Privilege, 0, len(values))
	for _, v := range values {
		out = append(out, Privilege(v))
	}
	return out
}

// PrivilegeStrings converts privileges for storage.
func PrivilegeStrings(values []Privilege) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}
