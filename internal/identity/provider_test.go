package identity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/authsync/internal/auth"
	"github.com/spec-kit/authsync/internal/domain"
	"github.com/spec-kit/authsync/internal/events"
	"github.com/spec-kit/authsync/internal/identity"
	"github.com/spec-kit/authsync/internal/testkit"
)

type providerFixture struct {
	provider      *identity.Provider
	accounts      *testkit.IdentityRepository
	confirmations *testkit.ConfirmationRepository
	records       *identity.MemorySessionRecordStore
	storage       *identity.MemorySessionStorage
	tokens        *auth.TokenManager

	mu     sync.Mutex
	events []events.Event
}

func newProviderFixture(t *testing.T, requireConfirmation bool) *providerFixture {
	t.Helper()
	f := &providerFixture{
		accounts:      testkit.NewIdentityRepository(),
		confirmations: testkit.NewConfirmationRepository(),
		records:       identity.NewMemorySessionRecordStore(),
		storage:       identity.NewMemorySessionStorage(),
		tokens:        auth.NewTokenManager("test-secret", time.Minute),
	}
	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.SubscribeAll(func(_ context.Context, e events.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, e)
		return nil
	})
	f.provider = identity.NewProvider(identity.ProviderConfig{
		BcryptCost:               bcrypt.MinCost,
		RefreshTokenTTL:          time.Hour,
		ConfirmationTTL:          time.Hour,
		RequireEmailConfirmation: requireConfirmation,
	}, identity.ProviderDependencies{
		Accounts:      f.accounts,
		Confirmations: f.confirmations,
		Records:       f.records,
		Storage:       f.storage,
		Tokens:        f.tokens,
		Dispatcher:    dispatcher,
	})
	return f
}

func (f *providerFixture) eventTypes() []events.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func TestProviderSignUpAndSignIn(t *testing.T) {
	ctx := context.Background()
	f := newProviderFixture(t, false)

	created, err := f.provider.SignUp(ctx, "a@b.com", "secret1", domain.Metadata{"username": "a"})
	require.NoError(t, err)
	assert.True(t, created.Confirmed())

	session, err := f.provider.SignInWithPassword(ctx, "A@B.com", "secret1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, created.ID, session.IdentityID)

	current, err := f.provider.GetCurrentIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", current.Email)
	assert.Equal(t, "a", current.Metadata.String("username"))

	assert.Equal(t, []events.EventType{events.EventSignedIn}, f.eventTypes())
}

func TestProviderSignInRejectsBadPassword(t *testing.T) {
	ctx := context.Background()
	f := newProviderFixture(t, false)
	_, err := f.provider.SignUp(ctx, "a@b.com", "secret1", nil)
	require.NoError(t, err)

	_, err = f.provider.SignInWithPassword(ctx, "a@b.com", "wrong-one")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	_, err = f.provider.SignInWithPassword(ctx, "nobody@b.com", "secret1")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	stored, err := f.storage.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestProviderRequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	f := newProviderFixture(t, true)

	created, err := f.provider.SignUp(ctx, "a@b.com", "secret1", domain.Metadata{"username": "a"})
	require.NoError(t, err)
	assert.False(t, created.Confirmed())

	_, err = f.provider.SignInWithPassword(ctx, "a@b.com", "secret1")
	assert.ErrorIs(t, err, identity.ErrEmailNotConfirmed)

	token, ok := f.confirmations.Latest(created.ID)
	require.True(t, ok)
	require.NoError(t, f.provider.ConfirmEmail(ctx, token.Token))
	assert.ErrorIs(t, f.provider.ConfirmEmail(ctx, token.Token), identity.ErrConfirmationInvalid)

	_, err = f.provider.SignInWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.EventUserSignedUp,
		events.EventUserUpdated,
		events.EventSignedIn,
	}, f.eventTypes())
}

func TestProviderSignUpDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newProviderFixture(t, false)
	_, err := f.provider.SignUp(ctx, "a@b.com", "secret1", nil)
	require.NoError(t, err)

	_, err = f.provider.SignUp(ctx, "A@b.com", "secret2", nil)
	assert.ErrorIs(t, err, identity.ErrUserAlreadyExists)
}

func TestProviderSignOutRevokesSession(t *testing.T) {
	ctx := context.Background()
	f := newProviderFixture(t, false)
	_, err := f.provider.SignUp(ctx, "a@b.com", "secret1", nil)
	require.NoError(t, err)
	session, err := f.provider.SignInWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, f.provider.SignOut(ctx))

	record, err := f.records.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, record)

	got, err := f.provider.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = f.provider.GetCurrentIdentity(ctx)
	assert.ErrorIs(t, err, identity.ErrSessionMissing)
	assert.Equal(t, []events.EventType{events.EventSignedIn, events.EventSignedOut}, f.eventTypes())
}

func TestProviderRevokedRecordInvalidatesIdentity(t *testing.T) {
	ctx := context.Background()
	f := newProviderFixture(t, false)
	_, err := f.provider.SignUp(ctx, "a@b.com", "secret1", nil)
	require.NoError(t, err)
	session, err := f.provider.SignInWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, f.records.Delete(ctx, session.ID))

	_, err = f.provider.GetCurrentIdentity(ctx)
	assert.ErrorIs(t, err, identity.ErrSessionInvalid)
}

func TestProviderRefreshesExpiredAccessToken(t *testing.T) {
	ctx := context.Background()
	f := newProviderFixture(t, false)
	_, err := f.provider.SignUp(ctx, "a@b.com", "secret1", nil)
	require.NoError(t, err)
	session, err := f.provider.SignInWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	later := time.Now().Add(2 * time.Minute)
	f.provider.WithClock(func() time.Time { return later })
	f.tokens.WithClock(func() time.Time { return later })

	refreshed, err := f.provider.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, refreshed)
	assert.Equal(t, session.ID, refreshed.ID)
	assert.NotEqual(t, session.RefreshToken, refreshed.RefreshToken)
	assert.True(t, refreshed.ExpiresAt.After(later))
	assert.Contains(t, f.eventTypes(), events.EventTokenRefreshed)
}

func TestProviderDropsSessionPastRefreshWindow(t *testing.T) {
	ctx := context.Background()
	f := newProviderFixture(t, false)
	_, err := f.provider.SignUp(ctx, "a@b.com", "secret1", nil)
	require.NoError(t, err)
	_, err = f.provider.SignInWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	f.provider.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	got, err := f.provider.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	stored, err := f.storage.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestProviderMetadataUpdates(t *testing.T) {
	ctx := context.Background()
	f := newProviderFixture(t, false)
	created, err := f.provider.SignUp(ctx, "a@b.com", "secret1", domain.Metadata{"username": "a"})
	require.NoError(t, err)
	_, err = f.provider.SignInWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	updated, err := f.provider.UpdateIdentityMetadata(ctx, domain.Metadata{"theme": "dark"})
	require.NoError(t, err)
	assert.Equal(t, "dark", updated.Metadata.String("theme"))
	assert.Equal(t, "a", updated.Metadata.String("username"))

	require.NoError(t, f.provider.UpdateIdentityMetadataByID(ctx, created.ID, domain.Metadata{"role": "admin"}))
	current, err := f.provider.GetCurrentIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin", current.Metadata.String("role"))

	err = f.provider.UpdateIdentityMetadataByID(ctx, "missing", domain.Metadata{"role": "admin"})
	assert.ErrorIs(t, err, identity.ErrIdentityNotFound)
}

func TestProviderVerifyCredentialsLeavesSessionAlone(t *testing.T) {
	ctx := context.Background()
	f := newProviderFixture(t, false)
	_, err := f.provider.SignUp(ctx, "a@b.com", "secret1", nil)
	require.NoError(t, err)

	ident, err := f.provider.VerifyCredentials(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", ident.Email)

	stored, err := f.storage.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Empty(t, f.eventTypes())

	looked, err := f.provider.LookupIdentityByEmail(ctx, "A@B.COM")
	require.NoError(t, err)
	assert.Equal(t, ident.ID, looked.ID)
}

func TestProviderOnChangeUnsubscribe(t *testing.T) {
	ctx := context.Background()
	f := newProviderFixture(t, false)
	var seen []domain.IdentityEvent
	unsubscribe := f.provider.OnChange(func(_ context.Context, e domain.IdentityEvent, _ *domain.Session) {
		seen = append(seen, e)
	})

	require.NoError(t, f.provider.SignOut(ctx))
	unsubscribe()
	require.NoError(t, f.provider.SignOut(ctx))

	assert.Equal(t, []domain.IdentityEvent{domain.IdentityEventSignedOut}, seen)
}
