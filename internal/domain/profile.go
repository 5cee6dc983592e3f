package domain

import "time"

// Profile is the per-identity record provisioned on first reconciliation.
type Profile struct {
	ID        string
	Email     string
	Username  string
	CreatedAt time.Time
}
