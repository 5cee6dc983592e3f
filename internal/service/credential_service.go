package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/authsync/internal/auth"
	"github.com/spec-kit/authsync/internal/domain"
	"github.com/spec-kit/authsync/internal/identity"
	"github.com/spec-kit/authsync/internal/observability"
	"github.com/spec-kit/authsync/internal/repository"
	"github.com/spec-kit/authsync/internal/session"
	apperrors "github.com/spec-kit/authsync/pkg/util/errorutil"
)

// User-facing messages published in AuthState.
const (
	MsgIncorrectCredentials = "Incorrect email or password"
	MsgConfirmEmail         = "Please confirm your email before logging in"
	MsgNoSessionReturned    = "Login failed - no session returned"
	MsgLoginFailed          = "Login failed. Please try again."
	NoticeCheckEmail        = "Please check your email to confirm your account before logging in."
)

// MetadataUpdate carries the identity metadata fields a user may change. Nil fields are left
// untouched.
type MetadataUpdate struct {
	Username  *string
	Name      *string
	AvatarURL *string
}

// UserMetadata is the current identity's descriptive metadata.
type UserMetadata struct {
	Username  string  `json:"username"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url"`
}

// ProfileCheck reports whether an identity and its profile exist.
type ProfileCheck struct {
	Exists     bool            `json:"exists"`
	HasProfile bool            `json:"has_profile"`
	Message    string          `json:"message"`
	UserID     string          `json:"user_id,omitempty"`
	Profile    *domain.Profile `json:"profile,omitempty"`
}

// CredentialService runs sign-in, sign-up and sign-out on top of the session reconciler.
type CredentialService struct {
	client     identity.Client
	reconciler *session.Reconciler
	profiles   repository.ProfileRepository
	logger     *zap.Logger
	metrics    *observability.Metrics
	timeout    time.Duration
}

// CredentialDependencies encapsulates the credential service's collaborators.
type CredentialDependencies struct {
	Client     identity.Client
	Reconciler *session.Reconciler
	Profiles   repository.ProfileRepository
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewCredentialService builds the service. timeout bounds each identity provider call.
func NewCredentialService(deps CredentialDependencies, timeout time.Duration) *CredentialService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CredentialService{
		client:     deps.Client,
		reconciler: deps.Reconciler,
		profiles:   deps.Profiles,
		logger:     logger,
		metrics:    deps.Metrics,
		timeout:    timeout,
	}
}

// State returns the published AuthState.
func (s *CredentialService) State() domain.AuthState {
	return s.reconciler.State()
}

// SignIn authenticates with email and password. It returns false with a classified error
// when the caller ends up unauthenticated; Loading is never left set.
func (s *CredentialService) SignIn(ctx context.Context, email, password string) (bool, error) {
	_, err := s.Authenticate(ctx, email, password)
	return err == nil, err
}

// Authenticate is SignIn returning the authenticated state it produced. The state's
// session always belongs to the identity that signed in.
func (s *CredentialService) Authenticate(ctx context.Context, email, password string) (domain.AuthState, error) {
	gen := s.reconciler.BeginAttempt()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	sess, err := s.client.SignInWithPassword(callCtx, strings.TrimSpace(email), password)
	cancel()
	if err != nil {
		classified := classifySignInError(err)
		s.logger.Info("sign-in rejected", zap.String("email", email), zap.Error(err))
		return s.failSignIn(gen, classified)
	}
	if sess == nil {
		classified := apperrors.NewSessionVerificationFailed(MsgNoSessionReturned, nil)
		s.logger.Warn("sign-in accepted without a session", zap.String("email", email))
		return s.failSignIn(gen, classified)
	}

	// The provider may already have reconciled this session through its SIGNED_IN
	// notification, or a sign-out may have ended the attempt.
	if st, settled, lastErr := s.reconciler.Settled(); settled {
		return s.finishSignIn(sess, st, lastErr)
	}

	st, err := s.reconciler.Reconcile(ctx, sess)
	if errors.Is(err, session.ErrSuperseded) {
		st, _, err = s.reconciler.Settled()
	}
	return s.finishSignIn(sess, st, err)
}

func (s *CredentialService) failSignIn(gen uint64, err error) (domain.AuthState, error) {
	if !s.reconciler.FailAttempt(gen, err) {
		s.publishFailure(err)
	}
	s.recordSignIn(err)
	return s.reconciler.State(), err
}

func (s *CredentialService) finishSignIn(sess *domain.Session, st domain.AuthState, err error) (domain.AuthState, error) {
	if st.IsAuthenticated && st.User.ID == sess.IdentityID {
		s.recordSignIn(nil)
		return st, nil
	}
	if err == nil || st.IsAuthenticated {
		err = apperrors.NewSessionVerificationFailed(MsgLoginFailed, session.ErrSuperseded)
	}
	s.logger.Info("sign-in did not authenticate", zap.String("identity_id", sess.IdentityID), zap.Error(err))
	s.publishFailure(err)
	s.recordSignIn(err)
	return s.reconciler.State(), err
}

// publishFailure surfaces err when the attempt that should have carried it was overtaken,
// so a failed sign-in never leaves an unauthenticated state without an error.
func (s *CredentialService) publishFailure(err error) {
	msg := apperrors.ToDomainError(err).Message
	s.reconciler.Notify(func(st *domain.AuthState) {
		if !st.IsAuthenticated && st.Error == "" {
			st.Error = msg
		}
	})
}

func (s *CredentialService) recordSignIn(err error) {
	if err == nil {
		s.metrics.RecordSignIn("ok")
		return
	}
	s.metrics.RecordSignIn(apperrors.ToDomainError(err).Code)
}

// SignUp creates an account. It never authenticates the caller: on success it publishes
// a notice asking the user to confirm their email.
func (s *CredentialService) SignUp(ctx context.Context, email, password, username string) error {
	email = strings.TrimSpace(email)
	username = strings.TrimSpace(username)
	if username == "" {
		username = domain.UsernameFromEmail(email)
	}
	// sign-up never changes who is signed in, so it must not supersede a bootstrap or
	// sign-in in flight
	done := s.reconciler.BeginTask()

	metadata := domain.Metadata{
		"username":       username,
		"name":           username,
		"avatar_url":     nil,
		"email_verified": false,
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	_, err := s.client.SignUp(callCtx, email, password, metadata)
	cancel()
	if err != nil {
		classified := classifySignUpError(err)
		s.logger.Info("sign-up rejected", zap.String("email", email), zap.Error(err))
		done(func(st *domain.AuthState) {
			st.Error = apperrors.ToDomainError(classified).Message
		})
		return classified
	}

	s.logger.Info("account created", zap.String("email", email), zap.String("username", username))
	done(func(st *domain.AuthState) {
		st.Notice = NoticeCheckEmail
	})
	return nil
}

// SignOut signs out of the identity provider and resets the published state even when
// the provider call fails.
func (s *CredentialService) SignOut(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.client.SignOut(callCtx)
	cancel()
	if err != nil {
		classified := apperrors.NewRemoteUnavailable(err)
		s.logger.Warn("identity sign-out failed", zap.Error(err))
		s.reconciler.SignedOut(apperrors.ToDomainError(classified).Message)
		return classified
	}
	s.reconciler.SignedOut("")
	return nil
}

// ClearError clears the published error and notice.
func (s *CredentialService) ClearError() {
	s.reconciler.ClearError()
}

// UpdateMetadata changes the current identity's metadata and amends the published user.
func (s *CredentialService) UpdateMetadata(ctx context.Context, update MetadataUpdate) (*UserMetadata, error) {
	fields := domain.Metadata{}
	if update.Username != nil {
		fields["username"] = strings.TrimSpace(*update.Username)
	}
	if update.Name != nil {
		fields["name"] = *update.Name
	}
	if update.AvatarURL != nil {
		fields["avatar_url"] = *update.AvatarURL
	}
	if len(fields) == 0 {
		return nil, apperrors.NewValidationError("no metadata fields to update", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	ident, err := s.client.UpdateIdentityMetadata(callCtx, fields)
	cancel()
	if err != nil {
		s.logger.Warn("update metadata failed", zap.Error(err))
		return nil, classifyIdentityError(err, "Failed to update user information")
	}

	if username := fields.String("username"); update.Username != nil && username != "" {
		s.reconciler.AmendUser(func(u *domain.AuthUser) {
			if u.ID == ident.ID {
				u.Username = username
			}
		})
	}
	return metadataOf(ident), nil
}

// FetchMetadata returns the current identity's metadata, or nil when nobody is signed in.
func (s *CredentialService) FetchMetadata(ctx context.Context) (*UserMetadata, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	ident, err := s.client.GetCurrentIdentity(callCtx)
	cancel()
	if errors.Is(err, identity.ErrSessionMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyIdentityError(err, "Failed to fetch user information")
	}
	return metadataOf(ident), nil
}

// CheckUserProfile reports whether an identity exists for email and whether it has a
// profile yet.
func (s *CredentialService) CheckUserProfile(ctx context.Context, email string) (*ProfileCheck, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperrors.NewValidationError("email is required", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	ident, err := s.client.LookupIdentityByEmail(callCtx, email)
	cancel()
	if errors.Is(err, identity.ErrIdentityNotFound) {
		return &ProfileCheck{Message: "User not found"}, nil
	}
	if err != nil {
		return nil, apperrors.NewRemoteUnavailable(err)
	}

	callCtx, cancel = context.WithTimeout(ctx, s.timeout)
	profile, err := s.profiles.GetByID(callCtx, ident.ID)
	cancel()
	if repository.IsNotFound(err) {
		return &ProfileCheck{Exists: true, Message: "User exists but no profile found", UserID: ident.ID}, nil
	}
	if err != nil {
		return nil, apperrors.NewRemoteUnavailable(err)
	}
	return &ProfileCheck{
		Exists:     true,
		HasProfile: true,
		Message:    "User and profile found",
		UserID:     ident.ID,
		Profile:    profile,
	}, nil
}

// ConfirmEmail consumes an email confirmation token.
func (s *CredentialService) ConfirmEmail(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperrors.NewValidationError("confirmation token is required", nil)
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.client.ConfirmEmail(callCtx, token)
	cancel()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, identity.ErrConfirmationInvalid):
		return apperrors.NewValidationError("Confirmation link is invalid or has expired", nil)
	default:
		return apperrors.NewRemoteUnavailable(err)
	}
}

func metadataOf(ident *domain.Identity) *UserMetadata {
	out := &UserMetadata{
		Username: ident.Metadata.String("username"),
		Name:     ident.Metadata.String("name"),
	}
	if avatar := ident.Metadata.String("avatar_url"); avatar != "" {
		out.AvatarURL = &avatar
	}
	return out
}

// classifySignInError maps provider failures onto stable messages. Providers that do not
// return the sentinel errors are matched on their message.
func classifySignInError(err error) error {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials) || containsFold(err, "invalid login credentials"):
		return apperrors.NewCredentialInvalid(MsgIncorrectCredentials, err)
	case errors.Is(err, identity.ErrEmailNotConfirmed) || containsFold(err, "email not confirmed"):
		return apperrors.NewEmailUnconfirmed(MsgConfirmEmail, err)
	default:
		return apperrors.NewRemoteUnavailable(err)
	}
}

func classifySignUpError(err error) error {
	switch {
	case errors.Is(err, identity.ErrUserAlreadyExists) || containsFold(err, "already registered"):
		return apperrors.NewAlreadyExists("User already registered", nil)
	case errors.Is(err, auth.ErrPasswordTooShort):
		return apperrors.NewValidationError(auth.ErrPasswordTooShort.Error(), nil)
	default:
		return apperrors.NewRemoteUnavailable(err)
	}
}

func classifyIdentityError(err error, fallback string) error {
	switch {
	case errors.Is(err, identity.ErrSessionMissing), errors.Is(err, identity.ErrSessionInvalid):
		return apperrors.NewUnauthorized("not signed in")
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewRemoteUnavailable(err)
	default:
		return apperrors.NewRemoteUnavailable(fmt.Errorf("%s: %w", fallback, err))
	}
}

func containsFold(err error, needle string) bool {
	return strings.Contains(strings.ToLower(err.Error()), needle)
}
