package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/authsync/internal/auth"
	"github.com/spec-kit/authsync/internal/domain"
	"github.com/spec-kit/authsync/internal/identity"
	"github.com/spec-kit/authsync/internal/observability"
	"github.com/spec-kit/authsync/internal/repository"
	apperrors "github.com/spec-kit/authsync/pkg/util/errorutil"
)

// ErrNotAdmin marks a valid account that holds no admin grant.
var ErrNotAdmin = errors.New("account holds no admin grant")

const (
	msgNotAuthorized      = "not authorized"
	msgSuperAdminRequired = "Only super admins can manage admins"
	msgAlreadyAdmin       = "User is already an admin"
	roleMetadataKey       = "role"
	dashboardProfileLimit = 100
)

// AdminPrincipal is a verified admin console login.
type AdminPrincipal struct {
	Grant     *domain.AdminGrant
	Token     string
	ExpiresAt time.Time
}

// GrantRequest describes a new admin grant. Empty Privileges selects the defaults.
type GrantRequest struct {
	TargetID     string
	TargetEmail  string
	IsSuperAdmin bool
	Privileges   []domain.Privilege
}

// AdminStatus reports whether an identity is an admin.
type AdminStatus struct {
	IsAdmin    bool               `json:"is_admin"`
	Privileges []domain.Privilege `json:"privileges"`
}

// AdminDashboard is what the admin console lists.
type AdminDashboard struct {
	Admins   []domain.AdminGrant
	Profiles []domain.Profile
}

// AdminService verifies admin logins and gates grant mutations.
type AdminService struct {
	client   identity.Client
	admins   repository.AdminRepository
	profiles repository.ProfileRepository
	tokens   *auth.TokenManager
	logger   *zap.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	timeout  time.Duration
}

// AdminDependencies encapsulates the admin service's collaborators.
type AdminDependencies struct {
	Client   identity.Client
	Admins   repository.AdminRepository
	Profiles repository.ProfileRepository
	Tokens   *auth.TokenManager
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

// NewAdminService builds the service. timeout bounds each remote call.
func NewAdminService(deps AdminDependencies, timeout time.Duration) *AdminService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AdminService{
		client:   deps.Client,
		admins:   deps.Admins,
		profiles: deps.Profiles,
		tokens:   deps.Tokens,
		logger:   logger,
		metrics:  deps.Metrics,
		tracer:   otel.Tracer("authsync/admin"),
		timeout:  timeout,
	}
}

// Login checks credentials independently of the main session and requires an admin
// grant. Bad credentials and a missing grant are indistinguishable to the caller.
func (s *AdminService) Login(ctx context.Context, email, password string) (*AdminPrincipal, error) {
	email = strings.TrimSpace(email)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	ident, err := s.client.VerifyCredentials(callCtx, email, password)
	cancel()
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) || errors.Is(err, identity.ErrEmailNotConfirmed) {
			s.logger.Info("admin login rejected", zap.String("email", email), zap.Error(err))
			return nil, apperrors.NewAuthorizationDenied(msgNotAuthorized, err)
		}
		return nil, apperrors.NewRemoteUnavailable(err)
	}

	callCtx, cancel = context.WithTimeout(ctx, s.timeout)
	grant, err := s.admins.GetByEmail(callCtx, ident.Email)
	cancel()
	if err != nil {
		if repository.IsNotFound(err) {
			s.logger.Info("admin login without grant", zap.String("identity_id", ident.ID))
			return nil, apperrors.NewAuthorizationDenied(msgNotAuthorized, ErrNotAdmin)
		}
		return nil, apperrors.NewRemoteUnavailable(err)
	}

	token, expiresAt, err := s.tokens.GenerateAdminToken(grant)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	s.logger.Info("admin logged in", zap.String("admin_id", grant.ID), zap.String("role", string(grant.Role())))
	return &AdminPrincipal{Grant: grant, Token: token, ExpiresAt: expiresAt}, nil
}

// GrantAdmin creates a grant for the target. Only super admins may call it, and an
// existing grant is never overwritten.
func (s *AdminService) GrantAdmin(ctx context.Context, actor *domain.AdminGrant, req GrantRequest) (grant *domain.AdminGrant, err error) {
	ctx, span := s.tracer.Start(ctx, "admin.grant", trace.WithAttributes(attribute.String("target.id", req.TargetID)))
	defer func() { s.endMutation(span, "grant", err) }()

	if err := requireSuperAdmin(actor); err != nil {
		return nil, err
	}
	req.TargetID = strings.TrimSpace(req.TargetID)
	req.TargetEmail = strings.TrimSpace(req.TargetEmail)
	if req.TargetID == "" || req.TargetEmail == "" {
		return nil, apperrors.NewValidationError("target id and email are required", nil)
	}
	privileges, err := resolvePrivileges(req.Privileges)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	_, err = s.admins.GetByID(callCtx, req.TargetID)
	cancel()
	switch {
	case err == nil:
		return nil, apperrors.NewAlreadyExists(msgAlreadyAdmin, map[string]any{"id": req.TargetID})
	case !repository.IsNotFound(err):
		return nil, apperrors.NewRemoteUnavailable(err)
	}

	grant = &domain.AdminGrant{
		ID:           req.TargetID,
		Email:        req.TargetEmail,
		IsSuperAdmin: req.IsSuperAdmin,
		Privileges:   privileges,
	}
	callCtx, cancel = context.WithTimeout(ctx, s.timeout)
	err = s.admins.Create(callCtx, grant)
	cancel()
	if err != nil {
		if repository.IsDuplicate(err) {
			return nil, apperrors.NewAlreadyExists(msgAlreadyAdmin, map[string]any{"id": req.TargetID})
		}
		return nil, apperrors.NewRemoteUnavailable(err)
	}

	s.logger.Info("admin granted",
		zap.String("actor_id", actor.ID),
		zap.String("admin_id", grant.ID),
		zap.Bool("super_admin", grant.IsSuperAdmin))
	s.mirrorRole(ctx, grant.ID, domain.AdminRoleAdmin)
	return grant, nil
}

// RevokeAdmin deletes the target's grant. Only super admins may call it.
func (s *AdminService) RevokeAdmin(ctx context.Context, actor *domain.AdminGrant, targetID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "admin.revoke", trace.WithAttributes(attribute.String("target.id", targetID)))
	defer func() { s.endMutation(span, "revoke", err) }()

	if err := requireSuperAdmin(actor); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err = s.admins.Delete(callCtx, targetID)
	cancel()
	if err != nil {
		if repository.IsNotFound(err) {
			return apperrors.NewNotFound("admin", map[string]any{"id": targetID})
		}
		return apperrors.NewRemoteUnavailable(err)
	}

	s.logger.Info("admin revoked", zap.String("actor_id", actor.ID), zap.String("admin_id", targetID))
	s.mirrorRole(ctx, targetID, domain.AdminRoleUser)
	return nil
}

// UpdatePrivileges replaces a grant's privilege list. Only super admins may call it.
func (s *AdminService) UpdatePrivileges(ctx context.Context, actor *domain.AdminGrant, targetID string, requested []domain.Privilege) (grant *domain.AdminGrant, err error) {
	ctx, span := s.tracer.Start(ctx, "admin.update_privileges", trace.WithAttributes(attribute.String("target.id", targetID)))
	defer func() { s.endMutation(span, "update_privileges", err) }()

	if err := requireSuperAdmin(actor); err != nil {
		return nil, err
	}
	if len(requested) == 0 {
		return nil, apperrors.NewValidationError("at least one privilege is required", nil)
	}
	privileges, err := resolvePrivileges(requested)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err = s.admins.UpdatePrivileges(callCtx, targetID, privileges)
	cancel()
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperrors.NewNotFound("admin", map[string]any{"id": targetID})
		}
		return nil, apperrors.NewRemoteUnavailable(err)
	}

	callCtx, cancel = context.WithTimeout(ctx, s.timeout)
	defer cancel()
	grant, err = s.admins.GetByID(callCtx, targetID)
	if err != nil {
		return nil, apperrors.NewRemoteUnavailable(err)
	}
	return grant, nil
}

// ListAdmins returns every grant, newest first.
func (s *AdminService) ListAdmins(ctx context.Context) ([]domain.AdminGrant, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	grants, err := s.admins.List(callCtx)
	if err != nil {
		return nil, apperrors.NewRemoteUnavailable(err)
	}
	return grants, nil
}

// CheckStatus reports whether id holds a grant. Lookup failures read as not-admin.
func (s *AdminService) CheckStatus(ctx context.Context, id string) AdminStatus {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	grant, err := s.admins.GetByID(callCtx, id)
	if err != nil {
		if !repository.IsNotFound(err) {
			s.logger.Warn("admin status lookup failed", zap.String("identity_id", id), zap.Error(err))
		}
		return AdminStatus{Privileges: []domain.Privilege{}}
	}
	return AdminStatus{IsAdmin: true, Privileges: grant.Privileges}
}

// Dashboard loads admins and profiles concurrently.
func (s *AdminService) Dashboard(ctx context.Context) (*AdminDashboard, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	var dashboard AdminDashboard
	g.Go(func() error {
		grants, err := s.admins.List(ctx)
		if err != nil {
			return err
		}
		dashboard.Admins = grants
		return nil
	})
	g.Go(func() error {
		profiles, err := s.profiles.List(ctx, dashboardProfileLimit, 0)
		if err != nil {
			return err
		}
		dashboard.Profiles = profiles
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, apperrors.NewRemoteUnavailable(err)
	}
	return &dashboard, nil
}

// mirrorRole writes the advisory role metadata. The grant table stays authoritative, so
// a failure is logged and counted but never rolled back.
func (s *AdminService) mirrorRole(ctx context.Context, identityID string, role domain.AdminRole) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	err := s.client.UpdateIdentityMetadataByID(callCtx, identityID, domain.Metadata{roleMetadataKey: string(role)})
	if err != nil {
		s.metrics.RecordMirrorFailure()
		s.logger.Warn("role metadata mirror failed",
			zap.String("identity_id", identityID),
			zap.String("role", string(role)),
			zap.Error(err))
	}
}

func (s *AdminService) endMutation(span trace.Span, operation string, err error) {
	result := "ok"
	if err != nil {
		result = apperrors.ToDomainError(err).Code
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.RecordAdminMutation(operation, result)
	span.End()
}

func requireSuperAdmin(actor *domain.AdminGrant) error {
	if actor == nil || !actor.IsSuperAdmin {
		return apperrors.NewAuthorizationDenied(msgSuperAdminRequired, nil)
	}
	return nil
}

func resolvePrivileges(requested []domain.Privilege) ([]domain.Privilege, error) {
	if len(requested) == 0 {
		return domain.DefaultPrivileges(), nil
	}
	seen := make(map[domain.Privilege]struct{}, len(requested))
	out := make([]domain.Privilege, 0, len(requested))
	var unknown []string
	for _, p := range requested {
		if !p.Known() {
			unknown = append(unknown, string(p))
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(unknown) > 0 {
		return nil, apperrors.NewValidationError("unknown privileges", map[string]any{"unknown": unknown})
	}
	return out, nil
}
