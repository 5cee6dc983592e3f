package dto

import (
	"time"

	"github.com/spec-kit/authsync/internal/domain"
	"github.com/spec-kit/authsync/internal/service"
)

// SignInRequest payload for POST /auth/sign-in.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUpRequest payload for POST /auth/sign-up.
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// ConfirmEmailRequest payload for POST /auth/confirm.
type ConfirmEmailRequest struct {
	Token string `json:"token"`
}

// MetadataUpdateRequest payload for PATCH /auth/metadata. Absent fields are left as is.
type MetadataUpdateRequest struct {
	Username  *string `json:"username"`
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
}

// ToUpdate converts the request for the credential service.
func (r MetadataUpdateRequest) ToUpdate() service.MetadataUpdate {
	return service.MetadataUpdate{Username: r.Username, Name: r.Name, AvatarURL: r.AvatarURL}
}

// UserResponse is the published user.
type UserResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// SessionResponse exposes the session token pair. It is only ever sent to the caller
// that just signed in.
type SessionResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AuthStateResponse renders domain.AuthState.
type AuthStateResponse struct {
	IsAuthenticated bool          `json:"is_authenticated"`
	Loading         bool          `json:"loading"`
	User            *UserResponse `json:"user"`
	Error           *string       `json:"error"`
	Notice          *string       `json:"notice,omitempty"`
}

// NewAuthStateResponse converts the state. Empty Error and Notice render as null.
func NewAuthStateResponse(st domain.AuthState) AuthStateResponse {
	resp := AuthStateResponse{
		IsAuthenticated: st.IsAuthenticated,
		Loading:         st.Loading,
	}
	if st.User != nil {
		resp.User = &UserResponse{ID: st.User.ID, Email: st.User.Email, Username: st.User.Username}
	}
	if st.Error != "" {
		msg := st.Error
		resp.Error = &msg
	}
	if st.Notice != "" {
		notice := st.Notice
		resp.Notice = &notice
	}
	return resp
}

// SignInResponse is the state after a successful sign-in plus the new session's tokens.
type SignInResponse struct {
	AuthStateResponse
	Session *SessionResponse `json:"session"`
}

// NewSignInResponse converts the state produced by a sign-in.
func NewSignInResponse(st domain.AuthState) SignInResponse {
	resp := SignInResponse{AuthStateResponse: NewAuthStateResponse(st)}
	if st.Session != nil {
		resp.Session = &SessionResponse{
			AccessToken:  st.Session.AccessToken,
			RefreshToken: st.Session.RefreshToken,
			ExpiresAt:    st.Session.ExpiresAt,
		}
	}
	return resp
}

// SignUpResponse carries the notice published after a sign-up.
type SignUpResponse struct {
	Notice string `json:"notice"`
}

// ProfileResponse renders domain.Profile.
type ProfileResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// NewProfileResponse converts a profile.
func NewProfileResponse(p domain.Profile) ProfileResponse {
	return ProfileResponse{ID: p.ID, Email: p.Email, Username: p.Username, CreatedAt: p.CreatedAt}
}

// ProfileCheckResponse renders service.ProfileCheck.
type ProfileCheckResponse struct {
	Exists     bool             `json:"exists"`
	HasProfile bool             `json:"has_profile"`
	Message    string           `json:"message"`
	UserID     string           `json:"user_id,omitempty"`
	Profile    *ProfileResponse `json:"profile,omitempty"`
}

// NewProfileCheckResponse converts a profile check.
func NewProfileCheckResponse(check *service.ProfileCheck) ProfileCheckResponse {
	resp := ProfileCheckResponse{
		Exists:     check.Exists,
		HasProfile: check.HasProfile,
		Message:    check.Message,
		UserID:     check.UserID,
	}
	if check.Profile != nil {
		p := NewProfileResponse(*check.Profile)
		resp.Profile = &p
	}
	return resp
}
