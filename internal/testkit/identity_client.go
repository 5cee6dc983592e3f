package testkit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/authsync/internal/auth"
	"github.com/spec-kit/authsync/internal/domain"
	"github.com/spec-kit/authsync/internal/identity"
)

type fakeAccount struct {
	password string
	identity domain.Identity
}

// IdentityClient is a scriptable identity.Client. Like the real provider it announces
// SIGNED_IN and SIGNED_OUT synchronously to OnChange subscribers.
type IdentityClient struct {
	mu sync.Mutex

	accounts map[string]*fakeAccount
	session  *domain.Session
	current  *domain.Identity

	requireConfirmation bool
	nilSessionOnSignIn  bool

	sessionErr  error
	identityErr error
	signInErr   error
	signUpErr   error
	signOutErr  error
	updateErr   error

	identityGate *gate
	signInGate   *gate
	tokens       *auth.TokenManager

	handlers  map[int]identity.ChangeHandler
	nextID    int
	signOuts  int
	signUps   []domain.Metadata
	confirmed []string
}

var _ identity.Client = (*IdentityClient)(nil)

type gate struct {
	open    chan struct{}
	entered chan struct{}
}

func (g *gate) wait(ctx context.Context) error {
	if g == nil {
		return nil
	}
	g.entered <- struct{}{}
	select {
	case <-g.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewIdentityClient returns a client with no accounts and nobody signed in.
func NewIdentityClient() *IdentityClient {
	return &IdentityClient{
		accounts: make(map[string]*fakeAccount),
		handlers: make(map[int]identity.ChangeHandler),
	}
}

// AddAccount registers a confirmed account and returns its identity.
func (c *IdentityClient) AddAccount(id, email, password string) domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC()
	acc := &fakeAccount{
		password: password,
		identity: domain.Identity{ID: id, Email: email, EmailConfirmedAt: &now, Metadata: domain.Metadata{}, CreatedAt: now},
	}
	c.accounts[strings.ToLower(email)] = acc
	return acc.identity
}

// AddUnconfirmedAccount registers an account whose email is not confirmed.
func (c *IdentityClient) AddUnconfirmedAccount(id, email, password string) domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	acc := &fakeAccount{
		password: password,
		identity: domain.Identity{ID: id, Email: email, Metadata: domain.Metadata{}, CreatedAt: time.Now().UTC()},
	}
	c.accounts[strings.ToLower(email)] = acc
	return acc.identity
}

// SetSignedIn installs a persisted session for the given identity.
func (c *IdentityClient) SetSignedIn(ident domain.Identity) *domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = c.newSessionLocked(ident)
	copied := ident
	c.current = &copied
	out := *c.session
	return &out
}

// IssueSessionTokens makes sessions carry access tokens signed by tm, as the real
// provider's do. Without it access tokens are opaque random strings.
func (c *IdentityClient) IssueSessionTokens(tm *auth.TokenManager) {
	c.set(func() { c.tokens = tm })
}

// RequireConfirmation makes sign-in reject accounts whose email is unconfirmed.
func (c *IdentityClient) RequireConfirmation(v bool)      { c.set(func() { c.requireConfirmation = v }) }

// ReturnNilSessionOnSignIn makes a successful sign-in return no session.
func (c *IdentityClient) ReturnNilSessionOnSignIn(v bool) { c.set(func() { c.nilSessionOnSignIn = v }) }

// FailGetSession scripts GetSession.
func (c *IdentityClient) FailGetSession(err error) { c.set(func() { c.sessionErr = err }) }

// FailGetIdentity scripts GetCurrentIdentity.
func (c *IdentityClient) FailGetIdentity(err error) { c.set(func() { c.identityErr = err }) }

// FailSignIn scripts SignInWithPassword.
func (c *IdentityClient) FailSignIn(err error) { c.set(func() { c.signInErr = err }) }

// FailSignUp scripts SignUp.
func (c *IdentityClient) FailSignUp(err error) { c.set(func() { c.signUpErr = err }) }

// FailSignOut scripts SignOut. The local session is still cleared.
func (c *IdentityClient) FailSignOut(err error) { c.set(func() { c.signOutErr = err }) }

// FailUpdate scripts both metadata updates.
func (c *IdentityClient) FailUpdate(err error) { c.set(func() { c.updateErr = err }) }

// BlockIdentity makes GetCurrentIdentity wait until release is called or its context
// ends. entered receives once per blocked call.
func (c *IdentityClient) BlockIdentity() (entered <-chan struct{}, release func()) {
	return c.block(&c.identityGate)
}

// BlockSignIn makes SignInWithPassword wait, before it checks the credentials, until
// release is called or its context ends.
func (c *IdentityClient) BlockSignIn() (entered <-chan struct{}, release func()) {
	return c.block(&c.signInGate)
}

func (c *IdentityClient) block(slot **gate) (<-chan struct{}, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := &gate{open: make(chan struct{}), entered: make(chan struct{}, 8)}
	*slot = g
	var once sync.Once
	return g.entered, func() {
		once.Do(func() {
			c.mu.Lock()
			if *slot == g {
				*slot = nil
			}
			c.mu.Unlock()
			close(g.open)
		})
	}
}

// SignOutCalls counts SignOut calls, failed ones included.
func (c *IdentityClient) SignOutCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signOuts
}

// SignUpMetadata returns the metadata passed to every SignUp call, in order.
func (c *IdentityClient) SignUpMetadata() []domain.Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Metadata(nil), c.signUps...)
}

// ConfirmedTokens returns the tokens passed to ConfirmEmail, in order.
func (c *IdentityClient) ConfirmedTokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.confirmed...)
}

// Metadata returns the stored metadata of the account with the given email.
func (c *IdentityClient) Metadata(email string) domain.Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	acc, ok := c.accounts[strings.ToLower(email)]
	if !ok {
		return nil
	}
	return copyMetadata(acc.identity.Metadata)
}

// Emit delivers an identity change to subscribers.
func (c *IdentityClient) Emit(ctx context.Context, event domain.IdentityEvent, session *domain.Session) {
	c.mu.Lock()
	handlers := make([]identity.ChangeHandler, 0, len(c.handlers))
	for i := 0; i < c.nextID; i++ {
		if h, ok := c.handlers[i]; ok {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(ctx, event, session)
	}
}

func (c *IdentityClient) GetSession(context.Context) (*domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionErr != nil {
		return nil, c.sessionErr
	}
	if c.session == nil {
		return nil, nil
	}
	out := *c.session
	return &out, nil
}

func (c *IdentityClient) GetCurrentIdentity(ctx context.Context) (*domain.Identity, error) {
	c.mu.Lock()
	g := c.identityGate
	ident, err := c.currentLocked()
	c.mu.Unlock()

	if waitErr := g.wait(ctx); waitErr != nil {
		return nil, waitErr
	}
	return ident, err
}

func (c *IdentityClient) currentLocked() (*domain.Identity, error) {
	if c.identityErr != nil {
		return nil, c.identityErr
	}
	if c.current == nil {
		return nil, identity.ErrSessionMissing
	}
	out := *c.current
	out.Metadata = copyMetadata(c.current.Metadata)
	return &out, nil
}

func (c *IdentityClient) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	c.mu.Lock()
	g := c.signInGate
	c.mu.Unlock()
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.signInErr != nil {
		err := c.signInErr
		c.mu.Unlock()
		return nil, err
	}
	acc, err := c.verifyLocked(email, password)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.nilSessionOnSignIn {
		c.mu.Unlock()
		return nil, nil
	}
	c.session = c.newSessionLocked(acc.identity)
	ident := acc.identity
	c.current = &ident
	session := *c.session
	c.mu.Unlock()

	c.Emit(ctx, domain.IdentityEventSignedIn, &session)
	return &session, nil
}

func (c *IdentityClient) verifyLocked(email, password string) (*fakeAccount, error) {
	acc, ok := c.accounts[strings.ToLower(email)]
	if !ok || acc.password != password {
		return nil, identity.ErrInvalidCredentials
	}
	if c.requireConfirmation && acc.identity.EmailConfirmedAt == nil {
		return nil, identity.ErrEmailNotConfirmed
	}
	return acc, nil
}

func (c *IdentityClient) SignUp(_ context.Context, email, password string, metadata domain.Metadata) (*domain.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signUps = append(c.signUps, copyMetadata(metadata))
	if c.signUpErr != nil {
		return nil, c.signUpErr
	}
	if _, ok := c.accounts[strings.ToLower(email)]; ok {
		return nil, identity.ErrUserAlreadyExists
	}
	acc := &fakeAccount{
		password: password,
		identity: domain.Identity{ID: uuid.NewString(), Email: email, Metadata: copyMetadata(metadata), CreatedAt: time.Now().UTC()},
	}
	c.accounts[strings.ToLower(email)] = acc
	out := acc.identity
	return &out, nil
}

func (c *IdentityClient) SignOut(ctx context.Context) error {
	c.mu.Lock()
	c.signOuts++
	c.session = nil
	c.current = nil
	err := c.signOutErr
	c.mu.Unlock()

	c.Emit(ctx, domain.IdentityEventSignedOut, nil)
	return err
}

func (c *IdentityClient) UpdateIdentityMetadata(_ context.Context, fields domain.Metadata) (*domain.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return nil, c.updateErr
	}
	if c.current == nil {
		return nil, identity.ErrSessionMissing
	}
	for _, acc := range c.accounts {
		if acc.identity.ID == c.current.ID {
			merge(acc.identity.Metadata, fields)
			ident := acc.identity
			ident.Metadata = copyMetadata(acc.identity.Metadata)
			c.current = &ident
			out := ident
			return &out, nil
		}
	}
	return nil, identity.ErrIdentityNotFound
}

func (c *IdentityClient) UpdateIdentityMetadataByID(_ context.Context, id string, fields domain.Metadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return c.updateErr
	}
	for _, acc := range c.accounts {
		if acc.identity.ID == id {
			merge(acc.identity.Metadata, fields)
			return nil
		}
	}
	return identity.ErrIdentityNotFound
}

func (c *IdentityClient) VerifyCredentials(_ context.Context, email, password string) (*domain.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	acc, err := c.verifyLocked(email, password)
	if err != nil {
		return nil, err
	}
	out := acc.identity
	return &out, nil
}

func (c *IdentityClient) LookupIdentityByEmail(_ context.Context, email string) (*domain.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	acc, ok := c.accounts[strings.ToLower(email)]
	if !ok {
		return nil, identity.ErrIdentityNotFound
	}
	out := acc.identity
	return &out, nil
}

func (c *IdentityClient) ConfirmEmail(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token == "" {
		return identity.ErrConfirmationInvalid
	}
	c.confirmed = append(c.confirmed, token)
	return nil
}

func (c *IdentityClient) OnChange(handler identity.ChangeHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers, id)
			c.mu.Unlock()
		})
	}
}

func (c *IdentityClient) set(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

func merge(dst, src domain.Metadata) {
	for k, v := range src {
		dst[k] = v
	}
}

func (c *IdentityClient) newSessionLocked(ident domain.Identity) *domain.Session {
	now := time.Now().UTC()
	session := &domain.Session{
		ID:               uuid.NewString(),
		IdentityID:       ident.ID,
		AccessToken:      uuid.NewString(),
		RefreshToken:     uuid.NewString(),
		ExpiresAt:        now.Add(time.Hour),
		RefreshExpiresAt: now.Add(24 * time.Hour),
	}
	if c.tokens != nil {
		// signing with an in-memory HMAC key does not fail
		access, expiresAt, err := c.tokens.GenerateSessionToken(ident.ID, ident.Email, session.ID)
		if err == nil {
			session.AccessToken = access
			session.ExpiresAt = expiresAt
		}
	}
	return session
}
