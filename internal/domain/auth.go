package domain

// IdentityEvent enumerates identity provider change notifications.
type IdentityEvent string

const (
	IdentityEventSignedIn       IdentityEvent = "SIGNED_IN"
	IdentityEventSignedOut      IdentityEvent = "SIGNED_OUT"
	IdentityEventTokenRefreshed IdentityEvent = "TOKEN_REFRESHED"
	IdentityEventUserUpdated    IdentityEvent = "USER_UPDATED"
	IdentityEventUserSignedUp   IdentityEvent = "USER_SIGNED_UP"
)

// AuthUser is the published view of the current user.
type AuthUser struct {
	ID       string
	Email    string
	Username string
}

// AuthState is the authoritative view of who the current user is.
// Error and Notice are empty when unset.
type AuthState struct {
	IsAuthenticated bool
	User            *AuthUser
	Loading         bool
	Error           string
	Notice          string
	Session         *Session
}

// InitialAuthState is the state published at process start.
func InitialAuthState() AuthState {
	return AuthState{Loading: true}
}

// SignedOutAuthState is the reset state after sign-out or a verification failure.
func SignedOutAuthState() AuthState {
	return AuthState{}
}

// Normalize recomputes IsAuthenticated from User and Session.
func (s AuthState) Normalize() AuthState {
	s.IsAuthenticated = s.User != nil && s.Session != nil
	return s
}

// Consistent reports whether the IsAuthenticated invariant holds and the published
// session belongs to the published user.
func (s AuthState) Consistent() bool {
	if s.User != nil && s.Session != nil && s.Session.IdentityID != s.User.ID {
		return false
	}
	return s.IsAuthenticated == (s.User != nil && s.Session != nil)
}

// Clone returns a copy that shares no pointers with s.
func (s AuthState) Clone() AuthState {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	if s.Session != nil {
		sess := *s.Session
		s.Session = &sess
	}
	return s
}
