package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/spec-kit/authsync/internal/auth"
	"github.com/spec-kit/authsync/internal/domain"
	"github.com/spec-kit/authsync/internal/identity"
	"github.com/spec-kit/authsync/internal/observability"
	"github.com/spec-kit/authsync/internal/repository"
	"github.com/spec-kit/authsync/internal/testkit"
	apperrors "github.com/spec-kit/authsync/pkg/util/errorutil"
)

// MockAdminRepository is a testify mock for repository.AdminRepository.
type MockAdminRepository struct {
	mock.Mock
}

func (m *MockAdminRepository) Create(ctx context.Context, grant *domain.AdminGrant) error {
	return m.Called(ctx, grant).Error(0)
}

func (m *MockAdminRepository) GetByID(ctx context.Context, id string) (*domain.AdminGrant, error) {
	args := m.Called(ctx, id)
	if grant := args.Get(0); grant != nil {
		return grant.(*domain.AdminGrant), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAdminRepository) GetByEmail(ctx context.Context, email string) (*domain.AdminGrant, error) {
	args := m.Called(ctx, email)
	if grant := args.Get(0); grant != nil {
		return grant.(*domain.AdminGrant), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAdminRepository) UpdatePrivileges(ctx context.Context, id string, privileges []domain.Privilege) error {
	return m.Called(ctx, id, privileges).Error(0)
}

func (m *MockAdminRepository) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAdminRepository) List(ctx context.Context) ([]domain.AdminGrant, error) {
	args := m.Called(ctx)
	if grants := args.Get(0); grants != nil {
		return grants.([]domain.AdminGrant), args.Error(1)
	}
	return nil, args.Error(1)
}

type AdminServiceSuite struct {
	suite.Suite
	ctx      context.Context
	client   *testkit.IdentityClient
	admins   *testkit.AdminRepository
	profiles *testkit.ProfileRepository
	tokens   *auth.TokenManager
	svc      *AdminService
	super    *domain.AdminGrant
}

func TestAdminServiceSuite(t *testing.T) {
	suite.Run(t, new(AdminServiceSuite))
}

func (s *AdminServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.client = testkit.NewIdentityClient()
	s.admins = testkit.NewAdminRepository()
	s.profiles = testkit.NewProfileRepository()
	s.tokens = auth.NewTokenManager("admin-secret", time.Minute)
	s.svc = s.newService(s.admins)

	s.client.AddAccount("root", "root@x.com", "rootpass")
	s.super = &domain.AdminGrant{ID: "root", Email: "root@x.com", IsSuperAdmin: true, Privileges: domain.DefaultPrivileges()}
	s.Require().NoError(s.admins.Create(s.ctx, s.super))
}

func (s *AdminServiceSuite) newService(admins repository.AdminRepository) *AdminService {
	return NewAdminService(AdminDependencies{
		Client:   s.client,
		Admins:   admins,
		Profiles: s.profiles,
		Tokens:   s.tokens,
		Metrics:  observability.NewMetrics(prometheus.NewRegistry()),
	}, time.Second)
}

func (s *AdminServiceSuite) TestLogin() {
	s.Run("super admin gets a token", func() {
		principal, err := s.svc.Login(s.ctx, "root@x.com", "rootpass")
		s.Require().NoError(err)
		s.Equal("root", principal.Grant.ID)

		claims, err := s.tokens.ParseAdminToken(principal.Token)
		s.Require().NoError(err)
		s.Equal("root", claims.Subject)
		s.Equal(domain.AdminRoleSuperAdmin, claims.Role)
	})

	s.Run("email case does not matter", func() {
		s.client.AddAccount("u3", "admin@x.com", "secret1")
		_, err := s.svc.GrantAdmin(s.ctx, s.super, GrantRequest{TargetID: "u3", TargetEmail: "Admin@x.com"})
		s.Require().NoError(err)

		principal, err := s.svc.Login(s.ctx, "admin@x.com", "secret1")
		s.Require().NoError(err)
		s.Equal("u3", principal.Grant.ID)

		upper, err := s.admins.GetByEmail(s.ctx, "ADMIN@X.COM")
		s.Require().NoError(err)
		lower, err := s.admins.GetByEmail(s.ctx, "admin@x.com")
		s.Require().NoError(err)
		s.Equal(upper, lower)
	})

	s.Run("bad password and missing grant look the same", func() {
		s.client.AddAccount("u4", "plain@x.com", "secret1")

		_, badPassword := s.svc.Login(s.ctx, "root@x.com", "wrong")
		_, notAdmin := s.svc.Login(s.ctx, "plain@x.com", "secret1")

		for _, err := range []error{badPassword, notAdmin} {
			s.True(apperrors.HasCode(err, apperrors.CodeAuthorizationDenied))
			s.Equal(msgNotAuthorized, apperrors.ToDomainError(err).Message)
		}
		s.ErrorIs(badPassword, identity.ErrInvalidCredentials)
		s.ErrorIs(notAdmin, ErrNotAdmin)
	})
}

func (s *AdminServiceSuite) TestLoginLeavesMainSessionAlone() {
	_, err := s.svc.Login(s.ctx, "root@x.com", "rootpass")
	s.Require().NoError(err)

	sess, err := s.client.GetSession(s.ctx)
	s.Require().NoError(err)
	s.Nil(sess)
}

func (s *AdminServiceSuite) TestGrantAdmin() {
	s.client.AddAccount("u2", "b@c.com", "secret1")

	grant, err := s.svc.GrantAdmin(s.ctx, s.super, GrantRequest{TargetID: "u2", TargetEmail: "b@c.com"})
	s.Require().NoError(err)
	s.Equal("u2", grant.ID)
	s.False(grant.IsSuperAdmin)
	s.Equal(domain.DefaultPrivileges(), grant.Privileges)
	s.Len(grant.Privileges, 7)
	s.Equal("admin", s.client.Metadata("b@c.com").String("role"))

	admins, err := s.svc.ListAdmins(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(admins, 2)
	s.Equal("u2", admins[0].ID)
	s.Equal("root", admins[1].ID)
}

func (s *AdminServiceSuite) TestGrantAdminTwice() {
	req := GrantRequest{TargetID: "u2", TargetEmail: "b@c.com"}
	_, err := s.svc.GrantAdmin(s.ctx, s.super, req)
	s.Require().NoError(err)

	_, err = s.svc.GrantAdmin(s.ctx, s.super, GrantRequest{TargetID: "u2", TargetEmail: "b@c.com", IsSuperAdmin: true})
	s.True(apperrors.HasCode(err, apperrors.CodeAlreadyExists))

	admins, err := s.svc.ListAdmins(s.ctx)
	s.Require().NoError(err)
	count := 0
	for _, a := range admins {
		if a.ID == "u2" {
			count++
			s.False(a.IsSuperAdmin)
		}
	}
	s.Equal(1, count)
}

func (s *AdminServiceSuite) TestGrantAdminRequiresSuperAdmin() {
	plain := &domain.AdminGrant{ID: "u5", Email: "p@x.com", Privileges: domain.DefaultPrivileges()}

	_, err := s.svc.GrantAdmin(s.ctx, plain, GrantRequest{TargetID: "u2", TargetEmail: "b@c.com"})
	s.True(apperrors.HasCode(err, apperrors.CodeAuthorizationDenied))

	_, err = s.svc.GrantAdmin(s.ctx, nil, GrantRequest{TargetID: "u2", TargetEmail: "b@c.com"})
	s.True(apperrors.HasCode(err, apperrors.CodeAuthorizationDenied))

	s.True(apperrors.HasCode(s.svc.RevokeAdmin(s.ctx, plain, "root"), apperrors.CodeAuthorizationDenied))
}

func (s *AdminServiceSuite) TestGrantAdminValidatesPrivileges() {
	_, err := s.svc.GrantAdmin(s.ctx, s.super, GrantRequest{
		TargetID:    "u2",
		TargetEmail: "b@c.com",
		Privileges:  []domain.Privilege{domain.PrivilegeViewProfiles, "launch_missiles"},
	})
	s.True(apperrors.HasCode(err, apperrors.CodeValidationFailed))

	grant, err := s.svc.GrantAdmin(s.ctx, s.super, GrantRequest{
		TargetID:    "u2",
		TargetEmail: "b@c.com",
		Privileges:  []domain.Privilege{domain.PrivilegeViewProfiles, domain.PrivilegeViewProfiles},
	})
	s.Require().NoError(err)
	s.Equal([]domain.Privilege{domain.PrivilegeViewProfiles}, grant.Privileges)

	_, err = s.svc.GrantAdmin(s.ctx, s.super, GrantRequest{TargetID: "", TargetEmail: "x@x.com"})
	s.True(apperrors.HasCode(err, apperrors.CodeValidationFailed))
}

func (s *AdminServiceSuite) TestMirrorFailureKeepsGrant() {
	s.client.FailUpdate(errors.New("metadata service down"))

	grant, err := s.svc.GrantAdmin(s.ctx, s.super, GrantRequest{TargetID: "u2", TargetEmail: "b@c.com"})
	s.Require().NoError(err)

	stored, err := s.admins.GetByID(s.ctx, grant.ID)
	s.Require().NoError(err)
	s.Equal("b@c.com", stored.Email)
	s.True(s.svc.CheckStatus(s.ctx, "u2").IsAdmin)
}

func (s *AdminServiceSuite) TestRevokeAdmin() {
	s.client.AddAccount("u2", "b@c.com", "secret1")
	_, err := s.svc.GrantAdmin(s.ctx, s.super, GrantRequest{TargetID: "u2", TargetEmail: "b@c.com"})
	s.Require().NoError(err)

	s.Require().NoError(s.svc.RevokeAdmin(s.ctx, s.super, "u2"))
	s.Equal("user", s.client.Metadata("b@c.com").String("role"))
	s.False(s.svc.CheckStatus(s.ctx, "u2").IsAdmin)

	err = s.svc.RevokeAdmin(s.ctx, s.super, "u2")
	s.True(apperrors.HasCode(err, apperrors.CodeNotFound))
}

func (s *AdminServiceSuite) TestUpdatePrivileges() {
	_, err := s.svc.GrantAdmin(s.ctx, s.super, GrantRequest{TargetID: "u2", TargetEmail: "b@c.com"})
	s.Require().NoError(err)

	grant, err := s.svc.UpdatePrivileges(s.ctx, s.super, "u2", []domain.Privilege{domain.PrivilegeViewAnalytics})
	s.Require().NoError(err)
	s.Equal([]domain.Privilege{domain.PrivilegeViewAnalytics}, grant.Privileges)

	status := s.svc.CheckStatus(s.ctx, "u2")
	s.True(status.IsAdmin)
	s.Equal([]domain.Privilege{domain.PrivilegeViewAnalytics}, status.Privileges)

	_, err = s.svc.UpdatePrivileges(s.ctx, s.super, "u2", nil)
	s.True(apperrors.HasCode(err, apperrors.CodeValidationFailed))

	_, err = s.svc.UpdatePrivileges(s.ctx, s.super, "missing", []domain.Privilege{domain.PrivilegeViewAnalytics})
	s.True(apperrors.HasCode(err, apperrors.CodeNotFound))
}

func (s *AdminServiceSuite) TestDashboard() {
	s.profiles.Put(domain.Profile{ID: "u1", Email: "a@b.com", Username: "a", CreatedAt: time.Now()})

	dashboard, err := s.svc.Dashboard(s.ctx)
	s.Require().NoError(err)
	s.Len(dashboard.Admins, 1)
	s.Len(dashboard.Profiles, 1)
}

func (s *AdminServiceSuite) TestRepositoryFailures() {
	repo := new(MockAdminRepository)
	svc := s.newService(repo)
	dbErr := errors.New("connection reset by peer")

	repo.On("GetByEmail", mock.Anything, "root@x.com").Return(nil, dbErr).Once()
	_, err := svc.Login(s.ctx, "root@x.com", "rootpass")
	s.True(apperrors.HasCode(err, apperrors.CodeRemoteUnavailable))

	repo.On("GetByID", mock.Anything, "u2").Return(nil, pgx.ErrNoRows).Once()
	repo.On("Create", mock.Anything, mock.MatchedBy(func(g *domain.AdminGrant) bool {
		return g.ID == "u2" && !g.IsSuperAdmin && len(g.Privileges) == 7
	})).Return(dbErr).Once()
	_, err = svc.GrantAdmin(s.ctx, s.super, GrantRequest{TargetID: "u2", TargetEmail: "b@c.com"})
	s.True(apperrors.HasCode(err, apperrors.CodeRemoteUnavailable))

	repo.On("GetByID", mock.Anything, "u3").Return(nil, dbErr).Once()
	status := svc.CheckStatus(s.ctx, "u3")
	s.False(status.IsAdmin)
	s.Empty(status.Privileges)

	repo.On("List", mock.Anything).Return(nil, dbErr).Once()
	_, err = svc.ListAdmins(s.ctx)
	s.True(apperrors.HasCode(err, apperrors.CodeRemoteUnavailable))

	repo.On("UpdatePrivileges", mock.Anything, "u4", []domain.Privilege{domain.PrivilegeViewAnalytics}).Return(nil).Once()
	repo.On("GetByID", mock.Anything, "u4").Return(nil, dbErr).Once()
	_, err = svc.UpdatePrivileges(s.ctx, s.super, "u4", []domain.Privilege{domain.PrivilegeViewAnalytics})
	s.True(apperrors.HasCode(err, apperrors.CodeRemoteUnavailable))

	repo.AssertExpectations(s.T())
}

func TestResolvePrivilegesDefaults(t *testing.T) {
	got, err := resolvePrivileges(nil)
	require.NoError(t, err)
	require.Equal(t, domain.DefaultPrivileges(), got)
}
