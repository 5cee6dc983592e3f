// Package session owns the authoritative AuthState. A single Reconciler derives it from the
// identity provider and the profile store, and every mutation goes through it.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spec-kit/authsync/internal/domain"
	"github.com/spec-kit/authsync/internal/identity"
	"github.com/spec-kit/authsync/internal/observability"
	"github.com/spec-kit/authsync/internal/repository"
	apperrors "github.com/spec-kit/authsync/pkg/util/errorutil"
)

// ErrSuperseded is returned when a newer attempt or a sign-out overtook a reconciliation
// before it could publish.
var ErrSuperseded = errors.New("reconciliation superseded")

// ErrSignedOut is wrapped by the error recorded when a sign-out ends an attempt in flight.
var ErrSignedOut = errors.New("signed out")

// MsgSignedOut is reported to an attempt ended by a sign-out that carried no message.
const MsgSignedOut = "Session was signed out"

var errSessionMismatch = errors.New("session does not belong to the current identity")

const defaultRemoteTimeout = 10 * time.Second

// Watcher observes published states. Watchers run synchronously in publication order and
// must not mutate the Reconciler.
type Watcher func(domain.AuthState)

// Options configures a Reconciler.
type Options struct {
	// RemoteTimeout bounds every identity provider and repository call.
	RemoteTimeout time.Duration
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Tracer        trace.Tracer
}

// Reconciler keeps AuthState consistent with the identity provider and profile store.
type Reconciler struct {
	client   identity.Client
	profiles repository.ProfileRepository
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	now      func() time.Time

	mu          sync.Mutex
	state       domain.AuthState
	lastErr     error
	generation  uint64
	attemptOpen bool
	busy        int
	unsubscribe func()

	notifyMu  sync.Mutex
	watchers  map[uint64]Watcher
	nextWatch uint64
}

// NewReconciler builds a reconciler in the initial loading state.
func NewReconciler(client identity.Client, profiles repository.ProfileRepository, opts Options) *Reconciler {
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = defaultRemoteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("authsync/session")
	}
	return &Reconciler{
		client:   client,
		profiles: profiles,
		timeout:  opts.RemoteTimeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		now:      time.Now,
		state:       domain.InitialAuthState(),
		attemptOpen: true,
		watchers:    make(map[uint64]Watcher),
	}
}

// Start subscribes to identity changes for the lifetime of the process and bootstraps
// from any persisted session.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.unsubscribe == nil {
		r.unsubscribe = r.client.OnChange(r.HandleIdentityChange)
	}
	r.mu.Unlock()

	_, err := r.Bootstrap(ctx)
	return err
}

// Stop drops the identity change subscription.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// State returns a copy of the current AuthState.
func (r *Reconciler) State() domain.AuthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Settled returns the current state, whether every attempt has settled, and the error
// that ended the most recent attempt, if it failed. Tasks started with BeginTask do not
// count as attempts.
func (r *Reconciler) Settled() (domain.AuthState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone(), !r.attemptOpen, r.lastErr
}

// Watch registers fn for every subsequent publication.
func (r *Reconciler) Watch(fn Watcher) (unwatch func()) {
	r.notifyMu.Lock()
	id := r.nextWatch
	r.nextWatch++
	r.watchers[id] = fn
	r.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.notifyMu.Lock()
			delete(r.watchers, id)
			r.notifyMu.Unlock()
		})
	}
}

// Bootstrap restores the persisted session, if any, and reconciles it.
func (r *Reconciler) Bootstrap(ctx context.Context) (domain.AuthState, error) {
	gen := r.BeginAttempt()
	start := r.now()

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	session, err := r.client.GetSession(callCtx)
	cancel()
	if err != nil {
		r.logger.Warn("restore persisted session failed", zap.Error(err))
		return r.abort(ctx, gen, start, observability.OutcomeRemoteUnavailable, apperrors.NewRemoteUnavailable(err), false)
	}

	if session == nil {
		if !r.SettleAttempt(gen, func(s *domain.AuthState) { *s = domain.SignedOutAuthState() }) {
			return r.superseded(start)
		}
		r.metrics.RecordReconcile(observability.OutcomeNoSession, r.now().Sub(start))
		return r.State(), nil
	}
	return r.reconcile(ctx, gen, start, session)
}

// Reconcile verifies session, resolves or provisions the profile, and publishes the
// authenticated state. Only the terminal state of the attempt is published.
func (r *Reconciler) Reconcile(ctx context.Context, session *domain.Session) (domain.AuthState, error) {
	gen := r.BeginAttempt()
	return r.reconcile(ctx, gen, r.now(), session)
}

func (r *Reconciler) reconcile(ctx context.Context, gen uint64, start time.Time, session *domain.Session) (state domain.AuthState, err error) {
	ctx, span := r.tracer.Start(ctx, "session.reconcile", trace.WithAttributes(
		attribute.Int64("session.generation", int64(gen)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	ident, err := r.client.GetCurrentIdentity(callCtx)
	cancel()
	if err != nil {
		r.logger.Warn("session verification failed", zap.Error(err))
		if isTimeout(err) {
			return r.abort(ctx, gen, start, observability.OutcomeRemoteUnavailable, apperrors.NewRemoteUnavailable(err), false)
		}
		return r.abort(ctx, gen, start, observability.OutcomeVerificationFailed,
			apperrors.NewSessionVerificationFailed(err.Error(), err), true)
	}
	span.SetAttributes(attribute.String("identity.id", ident.ID))

	profile, err := r.resolveProfile(ctx, ident)
	if err != nil {
		r.logger.Error("profile provisioning failed", zap.String("identity_id", ident.ID), zap.Error(err))
		if isTimeout(err) {
			return r.abort(ctx, gen, start, observability.OutcomeRemoteUnavailable, apperrors.NewRemoteUnavailable(err), true)
		}
		return r.abort(ctx, gen, start, observability.OutcomeProvisioningFailed,
			apperrors.NewProfileProvisioningFailed(err.Error(), err), true)
	}

	username := profile.Username
	if username == "" {
		username = domain.UsernameFromEmail(ident.Email)
	}
	user := &domain.AuthUser{ID: ident.ID, Email: ident.Email, Username: username}
	verified := *session
	if verified.IdentityID != ident.ID {
		// the provider switched identities after this session was issued
		current, err := r.sessionFor(ctx, ident)
		if err != nil {
			r.logger.Warn("session does not match current identity",
				zap.String("identity_id", ident.ID), zap.String("session_identity_id", verified.IdentityID), zap.Error(err))
			return r.abort(ctx, gen, start, observability.OutcomeVerificationFailed,
				apperrors.NewSessionVerificationFailed(errSessionMismatch.Error(), err), false)
		}
		verified = *current
	}

	if !r.SettleAttempt(gen, func(s *domain.AuthState) {
		*s = domain.AuthState{User: user, Session: &verified}
	}) {
		return r.superseded(start)
	}
	r.metrics.RecordReconcile(observability.OutcomeAuthenticated, r.now().Sub(start))
	r.logger.Debug("session reconciled", zap.String("identity_id", ident.ID), zap.Uint64("generation", gen))
	return r.State(), nil
}

// sessionFor returns the provider's current session when it belongs to ident.
func (r *Reconciler) sessionFor(ctx context.Context, ident *domain.Identity) (*domain.Session, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	current, err := r.client.GetSession(callCtx)
	cancel()
	if err != nil {
		return nil, err
	}
	if current == nil || current.IdentityID != ident.ID {
		return nil, errSessionMismatch
	}
	return current, nil
}

// resolveProfile returns the identity's profile, creating it on first sight.
func (r *Reconciler) resolveProfile(ctx context.Context, ident *domain.Identity) (*domain.Profile, error) {
	profile, err := r.getProfile(ctx, ident.ID)
	if err == nil {
		return profile, nil
	}
	if !repository.IsNotFound(err) {
		return nil, err
	}

	created := &domain.Profile{
		ID:        ident.ID,
		Email:     ident.Email,
		Username:  domain.UsernameFromEmail(ident.Email),
		CreatedAt: r.now().UTC(),
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	err = r.profiles.Create(callCtx, created)
	cancel()
	switch {
	case err == nil:
		r.metrics.RecordProfileProvisioned()
		r.logger.Info("profile provisioned", zap.String("identity_id", ident.ID), zap.String("username", created.Username))
	case repository.IsDuplicate(err):
		// created concurrently by another attempt
	default:
		return nil, err
	}

	return r.getProfile(ctx, ident.ID)
}

func (r *Reconciler) getProfile(ctx context.Context, id string) (*domain.Profile, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.profiles.GetByID(callCtx, id)
}

// abort publishes the reset state carrying err's message. When signOut is set the
// identity provider session is torn down as well.
func (r *Reconciler) abort(ctx context.Context, gen uint64, start time.Time, outcome string, err error, signOut bool) (domain.AuthState, error) {
	if !r.FailAttempt(gen, err) {
		return r.superseded(start)
	}
	r.metrics.RecordReconcile(outcome, r.now().Sub(start))

	if signOut {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		if signOutErr := r.client.SignOut(callCtx); signOutErr != nil {
			r.logger.Warn("sign-out after failed reconciliation", zap.Error(signOutErr))
		}
		cancel()
	}
	return r.State(), err
}

func (r *Reconciler) superseded(start time.Time) (domain.AuthState, error) {
	r.metrics.RecordReconcile(observability.OutcomeSuperseded, r.now().Sub(start))
	return r.State(), ErrSuperseded
}

// HandleIdentityChange reacts to provider notifications. SIGNED_IN with a session
// reconciles, SIGNED_OUT resets immediately, and anything else is ignored.
func (r *Reconciler) HandleIdentityChange(ctx context.Context, event domain.IdentityEvent, session *domain.Session) {
	switch event {
	case domain.IdentityEventSignedIn:
		if session == nil {
			return
		}
		if _, err := r.Reconcile(ctx, session); err != nil && !errors.Is(err, ErrSuperseded) {
			r.logger.Warn("reconcile on sign-in notification failed", zap.Error(err))
		}
	case domain.IdentityEventSignedOut:
		r.reset(func(prev domain.AuthState) string { return prev.Error })
	default:
		r.logger.Debug("identity event ignored", zap.String("event", string(event)))
	}
}

// BeginAttempt starts a new generation and marks the state loading. Any attempt begun
// earlier can no longer publish.
func (r *Reconciler) BeginAttempt() uint64 {
	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.attemptOpen = true
	r.state.Error = ""
	r.state.Notice = ""
	r.publishLocked()
	return gen
}

// SettleAttempt applies fn and publishes the result with the attempt closed, provided gen
// is still current. It reports whether the publication happened.
func (r *Reconciler) SettleAttempt(gen uint64, fn func(*domain.AuthState)) bool {
	return r.settle(gen, fn, nil)
}

// FailAttempt publishes the reset state carrying err's message, provided gen is still
// current.
func (r *Reconciler) FailAttempt(gen uint64, err error) bool {
	return r.settle(gen, func(s *domain.AuthState) {
		*s = domain.SignedOutAuthState()
		s.Error = message(err)
	}, err)
}

func (r *Reconciler) settle(gen uint64, fn func(*domain.AuthState), err error) bool {
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		r.metrics.RecordStalePublication()
		r.logger.Debug("stale publication discarded", zap.Uint64("generation", gen))
		return false
	}
	next := r.state.Clone()
	fn(&next)
	r.state = next
	r.attemptOpen = false
	r.lastErr = err
	r.publishLocked()
	return true
}

// BeginTask marks the state loading for work that must not supersede attempts in flight,
// such as sign-up. done applies fn and ends the task; Loading stays set while an attempt
// or another task is still running.
func (r *Reconciler) BeginTask() (done func(fn func(*domain.AuthState))) {
	r.mu.Lock()
	r.busy++
	r.state.Error = ""
	r.state.Notice = ""
	r.publishLocked()

	var once sync.Once
	return func(fn func(*domain.AuthState)) {
		once.Do(func() {
			r.mu.Lock()
			r.busy--
			if fn != nil {
				next := r.state.Clone()
				fn(&next)
				r.state = next
			}
			r.publishLocked()
		})
	}
}

// Notify applies fn to the current state and publishes it without starting or settling
// an attempt.
func (r *Reconciler) Notify(fn func(*domain.AuthState)) {
	r.mu.Lock()
	next := r.state.Clone()
	fn(&next)
	r.state = next
	r.publishLocked()
}

// SignedOut resets to the unauthenticated state with msg as the error and supersedes
// every attempt in flight.
func (r *Reconciler) SignedOut(msg string) {
	r.reset(func(domain.AuthState) string { return msg })
}

func (r *Reconciler) reset(errorFrom func(prev domain.AuthState) string) {
	r.mu.Lock()
	r.generation++
	next := domain.SignedOutAuthState()
	next.Error = errorFrom(r.state)
	r.state = next

	if r.attemptOpen {
		// the attempt in flight ends here; a settled attempt keeps its own error
		msg := next.Error
		if msg == "" {
			msg = MsgSignedOut
		}
		r.lastErr = apperrors.NewSessionVerificationFailed(msg, ErrSignedOut)
		r.attemptOpen = false
	}
	r.publishLocked()
}

// ClearError clears Error and Notice without touching anything else.
func (r *Reconciler) ClearError() {
	r.mu.Lock()
	r.state.Error = ""
	r.state.Notice = ""
	r.publishLocked()
}

// AmendUser applies fn to the published user. It reports false when nobody is signed in.
func (r *Reconciler) AmendUser(fn func(*domain.AuthUser)) bool {
	r.mu.Lock()
	if r.state.User == nil {
		r.mu.Unlock()
		return false
	}
	next := r.state.Clone()
	fn(next.User)
	r.state = next
	r.publishLocked()
	return true
}

// publishLocked normalizes and delivers the current state. It must be called with mu
// held and releases it; watchers run after mu is released but still in order.
func (r *Reconciler) publishLocked() {
	r.state.Loading = r.attemptOpen || r.busy > 0
	r.state = r.state.Normalize()
	snapshot := r.state.Clone()

	r.notifyMu.Lock()
	r.mu.Unlock()
	defer r.notifyMu.Unlock()

	for _, fn := range r.watcherList() {
		fn(snapshot.Clone())
	}
}

func (r *Reconciler) watcherList() []Watcher {
	out := make([]Watcher, 0, len(r.watchers))
	for id := uint64(0); id < r.nextWatch; id++ {
		if fn, ok := r.watchers[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func message(err error) string {
	if de := apperrors.ToDomainError(err); de != nil {
		return de.Message
	}
	return err.Error()
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
