package events

import (
	"time"

	"github.com/spec-kit/authsync/internal/domain"
)

// EventType enumerates supported event identifiers. Identity change events reuse the
// provider's notification names.
type EventType string

const (
	EventSignedIn       EventType = EventType(domain.IdentityEventSignedIn)
	EventSignedOut      EventType = EventType(domain.IdentityEventSignedOut)
	EventTokenRefreshed EventType = EventType(domain.IdentityEventTokenRefreshed)
	EventUserUpdated    EventType = EventType(domain.IdentityEventUserUpdated)
	EventUserSignedUp   EventType = EventType(domain.IdentityEventUserSignedUp)
)

// Event represents an identity change emitted by the provider.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	IdentityID string          `json:"identity_id,omitempty"`
	Session    *domain.Session `json:"-"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    interface{}     `json:"payload,omitempty"`
}

// UserSignedUpPayload carries what the confirmation email needs.
type UserSignedUpPayload struct {
	Email             string `json:"email"`
	Username          string `json:"username"`
	ConfirmationToken string `json:"-"`
}
