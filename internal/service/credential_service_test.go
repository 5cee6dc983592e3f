package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/authsync/internal/domain"
	"github.com/spec-kit/authsync/internal/session"
	"github.com/spec-kit/authsync/internal/testkit"
	apperrors "github.com/spec-kit/authsync/pkg/util/errorutil"
)

type credentialFixture struct {
	client     *testkit.IdentityClient
	profiles   *testkit.ProfileRepository
	reconciler *session.Reconciler
	svc        *CredentialService

	mu        sync.Mutex
	published []domain.AuthState
}

func newCredentialFixture(t *testing.T, subscribe bool) *credentialFixture {
	t.Helper()
	f := &credentialFixture{
		client:   testkit.NewIdentityClient(),
		profiles: testkit.NewProfileRepository(),
	}
	f.reconciler = session.NewReconciler(f.client, f.profiles, session.Options{RemoteTimeout: time.Second})
	f.reconciler.Watch(func(st domain.AuthState) {
		f.mu.Lock()
		f.published = append(f.published, st)
		f.mu.Unlock()
	})
	if subscribe {
		require.NoError(t, f.reconciler.Start(context.Background()))
	} else {
		_, err := f.reconciler.Bootstrap(context.Background())
		require.NoError(t, err)
	}
	f.svc = NewCredentialService(CredentialDependencies{
		Client:     f.client,
		Reconciler: f.reconciler,
		Profiles:   f.profiles,
	}, time.Second)

	t.Cleanup(func() {
		f.reconciler.Stop()
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, st := range f.published {
			assert.True(t, st.Consistent(), "publication %d: %+v", i, st)
		}
	})
	return f
}

func TestSignIn(t *testing.T) {
	for _, subscribe := range []bool{true, false} {
		f := newCredentialFixture(t, subscribe)
		f.client.AddAccount("u1", "a@b.com", "secret1")

		ok, err := f.svc.SignIn(context.Background(), "a@b.com", "secret1")
		require.NoError(t, err)
		assert.True(t, ok)

		st := f.svc.State()
		assert.True(t, st.IsAuthenticated)
		assert.False(t, st.Loading)
		assert.Empty(t, st.Error)
		assert.Equal(t, &domain.AuthUser{ID: "u1", Email: "a@b.com", Username: "a"}, st.User)
		assert.Equal(t, 1, f.profiles.Count())
	}
}

func TestSignInBadCredentials(t *testing.T) {
	f := newCredentialFixture(t, true)

	ok, err := f.svc.SignIn(context.Background(), "bad@x.com", "wrong")
	assert.False(t, ok)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeCredentialInvalid))

	st := f.svc.State()
	assert.Equal(t, "Incorrect email or password", st.Error)
	assert.False(t, st.IsAuthenticated)
	assert.False(t, st.Loading)
}

func TestSignInClassifiesProviderMessages(t *testing.T) {
	cases := []struct {
		name     string
		provider error
		code     string
		message  string
	}{
		{"credentials by message", errors.New("Invalid login credentials"), apperrors.CodeCredentialInvalid, MsgIncorrectCredentials},
		{"unconfirmed by message", errors.New("Email not confirmed"), apperrors.CodeEmailUnconfirmed, MsgConfirmEmail},
		{"other failure passes through", errors.New("rate limit exceeded"), apperrors.CodeRemoteUnavailable, "rate limit exceeded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newCredentialFixture(t, true)
			f.client.FailSignIn(tc.provider)

			ok, err := f.svc.SignIn(context.Background(), "a@b.com", "secret1")
			assert.False(t, ok)
			assert.True(t, apperrors.HasCode(err, tc.code))
			assert.Equal(t, tc.message, f.svc.State().Error)
			assert.False(t, f.svc.State().Loading)
		})
	}
}

func TestSignInEmailNotConfirmed(t *testing.T) {
	f := newCredentialFixture(t, true)
	f.client.RequireConfirmation(true)
	f.client.AddUnconfirmedAccount("u1", "a@b.com", "secret1")

	ok, err := f.svc.SignIn(context.Background(), "a@b.com", "secret1")
	assert.False(t, ok)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEmailUnconfirmed))
	assert.Equal(t, MsgConfirmEmail, f.svc.State().Error)
}

func TestSignInWithoutSession(t *testing.T) {
	f := newCredentialFixture(t, true)
	f.client.AddAccount("u1", "a@b.com", "secret1")
	f.client.ReturnNilSessionOnSignIn(true)

	ok, err := f.svc.SignIn(context.Background(), "a@b.com", "secret1")
	assert.False(t, ok)
	require.Error(t, err)
	assert.Equal(t, MsgNoSessionReturned, f.svc.State().Error)
	assert.False(t, f.svc.State().IsAuthenticated)
}

func TestSignInProvisioningFailure(t *testing.T) {
	for _, subscribe := range []bool{true, false} {
		f := newCredentialFixture(t, subscribe)
		f.client.AddAccount("u1", "a@b.com", "secret1")
		f.profiles.CreateErr = errors.New("profiles table unavailable")

		ok, err := f.svc.SignIn(context.Background(), "a@b.com", "secret1")
		assert.False(t, ok)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeProfileProvisioningFailed))

		st := f.svc.State()
		assert.False(t, st.IsAuthenticated)
		assert.False(t, st.Loading)
		assert.Equal(t, "profiles table unavailable", st.Error)
		assert.Equal(t, 1, f.client.SignOutCalls())
	}
}

func TestAuthenticateReturnsOwnSession(t *testing.T) {
	f := newCredentialFixture(t, true)
	f.client.AddAccount("u1", "a@b.com", "secret1")

	st, err := f.svc.Authenticate(context.Background(), "a@b.com", "secret1")
	require.NoError(t, err)
	require.NotNil(t, st.Session)
	assert.Equal(t, "u1", st.Session.IdentityID)
	assert.NotEmpty(t, st.Session.AccessToken)
}

func TestSignInRacingSignOut(t *testing.T) {
	ctx := context.Background()

	signInBlocked := func(t *testing.T, f *credentialFixture, during func()) (bool, error) {
		t.Helper()
		entered, release := f.client.BlockSignIn()
		defer release()

		type result struct {
			ok  bool
			err error
		}
		done := make(chan result, 1)
		go func() {
			ok, err := f.svc.SignIn(ctx, "a@b.com", "secret1")
			done <- result{ok, err}
		}()

		<-entered
		assert.True(t, f.svc.State().Loading)
		f.reconciler.HandleIdentityChange(ctx, domain.IdentityEventSignedOut, nil)
		during()
		release()

		res := <-done
		return res.ok, res.err
	}

	t.Run("sign-out while credentials are checked", func(t *testing.T) {
		f := newCredentialFixture(t, false)
		f.client.AddAccount("u1", "a@b.com", "secret1")

		ok, err := signInBlocked(t, f, func() {})
		assert.False(t, ok)
		assert.ErrorIs(t, err, session.ErrSignedOut)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeSessionVerificationFailed))

		st := f.svc.State()
		assert.False(t, st.IsAuthenticated)
		assert.False(t, st.Loading)
		assert.Nil(t, st.Session)
		assert.Equal(t, session.MsgSignedOut, st.Error)
	})

	t.Run("rejected credentials after a sign-out", func(t *testing.T) {
		f := newCredentialFixture(t, false)
		f.client.AddAccount("u1", "a@b.com", "secret1")

		ok, err := signInBlocked(t, f, func() {
			f.client.FailSignIn(errors.New("Invalid login credentials"))
		})
		assert.False(t, ok)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeCredentialInvalid))

		st := f.svc.State()
		assert.False(t, st.IsAuthenticated)
		assert.False(t, st.Loading)
		assert.Equal(t, MsgIncorrectCredentials, st.Error)
	})
}

func TestSignUpDuringBootstrap(t *testing.T) {
	ctx := context.Background()
	f := newCredentialFixture(t, false)
	f.client.SetSignedIn(f.client.AddAccount("u1", "a@b.com", "secret1"))
	entered, release := f.client.BlockIdentity()
	defer release()

	type result struct {
		st  domain.AuthState
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := f.reconciler.Bootstrap(ctx)
		done <- result{st, err}
	}()
	<-entered

	require.NoError(t, f.svc.SignUp(ctx, "new@b.com", "secret1", "neo"))
	st := f.svc.State()
	assert.True(t, st.Loading, "bootstrap is still in flight")
	assert.Equal(t, NoticeCheckEmail, st.Notice)

	release()
	res := <-done
	require.NoError(t, res.err)
	assert.True(t, res.st.IsAuthenticated)

	st = f.svc.State()
	assert.True(t, st.IsAuthenticated)
	assert.False(t, st.Loading)
	require.NotNil(t, st.User)
	assert.Equal(t, "u1", st.User.ID)
}

func TestSignUp(t *testing.T) {
	f := newCredentialFixture(t, true)

	require.NoError(t, f.svc.SignUp(context.Background(), "new@b.com", "secret1", "neo"))

	st := f.svc.State()
	assert.False(t, st.IsAuthenticated)
	assert.False(t, st.Loading)
	assert.Empty(t, st.Error)
	assert.Equal(t, NoticeCheckEmail, st.Notice)

	sent := f.client.SignUpMetadata()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.Metadata{
		"username":       "neo",
		"name":           "neo",
		"avatar_url":     nil,
		"email_verified": false,
	}, sent[0])
}

func TestSignUpDuplicate(t *testing.T) {
	f := newCredentialFixture(t, true)
	f.client.AddAccount("u1", "a@b.com", "secret1")

	err := f.svc.SignUp(context.Background(), "A@b.com", "secret1", "a")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyExists))
	assert.Equal(t, "User already registered", f.svc.State().Error)
	assert.Empty(t, f.svc.State().Notice)
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()

	t.Run("resets state", func(t *testing.T) {
		f := newCredentialFixture(t, true)
		f.client.AddAccount("u1", "a@b.com", "secret1")
		_, err := f.svc.SignIn(ctx, "a@b.com", "secret1")
		require.NoError(t, err)

		require.NoError(t, f.svc.SignOut(ctx))
		assert.Equal(t, domain.SignedOutAuthState(), f.svc.State())
	})

	t.Run("provider failure still signs out locally", func(t *testing.T) {
		f := newCredentialFixture(t, true)
		f.client.AddAccount("u1", "a@b.com", "secret1")
		_, err := f.svc.SignIn(ctx, "a@b.com", "secret1")
		require.NoError(t, err)
		f.client.FailSignOut(errors.New("network down"))

		err = f.svc.SignOut(ctx)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeRemoteUnavailable))

		st := f.svc.State()
		assert.False(t, st.IsAuthenticated)
		assert.Nil(t, st.User)
		assert.Equal(t, "network down", st.Error)
	})
}

func TestClearError(t *testing.T) {
	f := newCredentialFixture(t, true)
	_, _ = f.svc.SignIn(context.Background(), "bad@x.com", "wrong")
	require.NotEmpty(t, f.svc.State().Error)

	f.svc.ClearError()
	st := f.svc.State()
	assert.Empty(t, st.Error)
	assert.False(t, st.Loading)
	assert.False(t, st.IsAuthenticated)
}

func TestUpdateAndFetchMetadata(t *testing.T) {
	ctx := context.Background()
	f := newCredentialFixture(t, true)

	meta, err := f.svc.FetchMetadata(ctx)
	require.NoError(t, err)
	assert.Nil(t, meta)

	_, err = f.svc.UpdateMetadata(ctx, MetadataUpdate{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))

	f.client.AddAccount("u1", "a@b.com", "secret1")
	_, err = f.svc.SignIn(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	username, avatar := "neo", "https://cdn.example.com/neo.png"
	updated, err := f.svc.UpdateMetadata(ctx, MetadataUpdate{Username: &username, AvatarURL: &avatar})
	require.NoError(t, err)
	assert.Equal(t, "neo", updated.Username)
	require.NotNil(t, updated.AvatarURL)
	assert.Equal(t, avatar, *updated.AvatarURL)
	assert.Equal(t, "neo", f.svc.State().User.Username)

	fetched, err := f.svc.FetchMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, updated, fetched)
}

func TestUpdateMetadataFailure(t *testing.T) {
	ctx := context.Background()
	f := newCredentialFixture(t, true)
	f.client.AddAccount("u1", "a@b.com", "secret1")
	_, err := f.svc.SignIn(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	f.client.FailUpdate(errors.New("boom"))

	name := "Neo"
	_, err = f.svc.UpdateMetadata(ctx, MetadataUpdate{Name: &name})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeRemoteUnavailable))
	assert.Equal(t, "a", f.svc.State().User.Username)
}

func TestCheckUserProfile(t *testing.T) {
	ctx := context.Background()
	f := newCredentialFixture(t, true)

	check, err := f.svc.CheckUserProfile(ctx, "ghost@b.com")
	require.NoError(t, err)
	assert.False(t, check.Exists)
	assert.False(t, check.HasProfile)

	f.client.AddAccount("u1", "a@b.com", "secret1")
	check, err = f.svc.CheckUserProfile(ctx, "a@b.com")
	require.NoError(t, err)
	assert.True(t, check.Exists)
	assert.False(t, check.HasProfile)
	assert.Equal(t, "u1", check.UserID)

	_, err = f.svc.SignIn(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	check, err = f.svc.CheckUserProfile(ctx, "a@b.com")
	require.NoError(t, err)
	assert.True(t, check.HasProfile)
	require.NotNil(t, check.Profile)
	assert.Equal(t, "a", check.Profile.Username)

	_, err = f.svc.CheckUserProfile(ctx, " ")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))
}

func TestConfirmEmail(t *testing.T) {
	ctx := context.Background()
	f := newCredentialFixture(t, true)

	err := f.svc.ConfirmEmail(ctx, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))

	require.NoError(t, f.svc.ConfirmEmail(ctx, "tok-1"))
	assert.Equal(t, []string{"tok-1"}, f.client.ConfirmedTokens())
}
