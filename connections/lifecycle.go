package connections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/link-connect/api"
)

// Lifecycle event names reported to a LifecycleObserver.
const (
	EventCreated         = "created"
	EventCreateFailed    = "create_failed"
	EventAuthorized      = "authorized"
	EventAuthorizeFailed = "authorize_failed"
	EventCanceled        = "canceled"
	EventCancelFailed    = "cancel_failed"
	EventRetrieved       = "retrieved"
)

// LifecycleObserver counts auth-session lifecycle events. Implementations
// must be safe for concurrent use.
type LifecycleObserver interface {
	AuthSessionEvent(event string)
}

// ManagerConfig configures an AuthSessionManager.
type ManagerConfig struct {
	// DisableRetrieval skips the defensive retrieve after success. It is
	// normally taken from the manifest feature flag.
	DisableRetrieval bool
	PollInterval     time.Duration
	MaxPollAttempts  int
	Logger           *slog.Logger
	Observer         LifecycleObserver
}

// AuthSessionManager owns the pending auth session for one partner auth
// pane. The pending pointer is only read or written under mu.
type AuthSessionManager struct {
	api              AuthSessionAPI
	logger           *slog.Logger
	observer         LifecycleObserver
	disableRetrieval bool
	pollInterval     time.Duration
	maxPollAttempts  int

	mu      sync.Mutex
	pending *AuthSession

	closeOnce sync.Once
	done      chan struct{}
	cancels   sync.WaitGroup
}

// NewAuthSessionManager creates a manager over the given API.
func NewAuthSessionManager(a AuthSessionAPI, cfg ManagerConfig) *AuthSessionManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &AuthSessionManager{
		api:              a,
		logger:           logger,
		observer:         cfg.Observer,
		disableRetrieval: cfg.DisableRetrieval,
		pollInterval:     cfg.PollInterval,
		maxPollAttempts:  cfg.MaxPollAttempts,
		done:             make(chan struct{}),
	}
}

func (m *AuthSessionManager) emit(event string) {
	if m.observer != nil {
		m.observer.AuthSessionEvent(event)
	}
}

func (m *AuthSessionManager) closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *AuthSessionManager) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	return bindDone(ctx, m.done)
}

// bindDone derives a context that is also canceled when done closes.
func bindDone(ctx context.Context, done <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// Pending returns the session awaiting authorization, or nil.
func (m *AuthSessionManager) Pending() *AuthSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pending
}

// Create starts a new auth session and makes it the pending one.
func (m *AuthSessionManager) Create(ctx context.Context, institutionID string) (*AuthSession, error) {
	if m.closed() {
		return nil, api.ErrDeallocatedCaller
	}

	ctx, cancel := m.bind(ctx)
	defer cancel()

	s, err := m.api.CreateAuthSession(ctx, institutionID)
	if m.closed() {
		if err == nil {
			m.dispatchCancel(ctx, s)
		}

		return nil, api.ErrDeallocatedCaller
	}

	if err != nil {
		m.emit(EventCreateFailed)
		return nil, fmt.Errorf("creating auth session: %w", err)
	}

	m.mu.Lock()
	m.pending = s
	m.mu.Unlock()

	m.emit(EventCreated)
	m.logger.Debug("auth session created",
		slog.String("session", s.ID),
		slog.String("flow", string(s.Flow)),
		slog.Bool("oauth", s.IsOAuth),
	)

	return s, nil
}

// Authorize waits for the OAuth results of session and exchanges the
// public token. Returns api.ErrDeallocatedCaller if the manager closes
// first.
func (m *AuthSessionManager) Authorize(ctx context.Context, session *AuthSession) (*AuthSession, error) {
	if session == nil || !session.IsOAuth {
		return nil, &api.IntegrationError{Msg: "authorize requires an oauth auth session"}
	}

	if m.closed() {
		return nil, api.ErrDeallocatedCaller
	}

	ctx, cancel := m.bind(ctx)
	defer cancel()

	results, err := pollUntilReady(ctx, m.pollInterval, m.maxPollAttempts, func(ctx context.Context) (*OAuthResults, error) {
		return m.api.FetchOAuthResults(ctx, session.ID)
	})
	if m.closed() {
		return nil, api.ErrDeallocatedCaller
	}

	if err != nil {
		m.emit(EventAuthorizeFailed)
		return nil, fmt.Errorf("fetching oauth results: %w", err)
	}

	authorized, err := m.api.AuthorizeAuthSession(ctx, session.ID, results.PublicToken)
	if m.closed() {
		return nil, api.ErrDeallocatedCaller
	}

	if err != nil {
		m.emit(EventAuthorizeFailed)
		return nil, fmt.Errorf("authorizing auth session: %w", err)
	}

	m.resolve(session.ID)
	m.emit(EventAuthorized)

	return authorized, nil
}

// resolve forgets the pending session once it has completed so a later
// cancel does not touch it.
func (m *AuthSessionManager) resolve(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil && m.pending.ID == sessionID {
		m.pending = nil
	}
}

// CancelPendingIfNeeded cancels the pending session, if any. The pending
// pointer is cleared before the request is dispatched, so back-to-back
// calls issue at most one cancel. The result is only logged.
func (m *AuthSessionManager) CancelPendingIfNeeded(ctx context.Context) {
	m.mu.Lock()
	s := m.pending
	m.pending = nil
	m.mu.Unlock()

	if s == nil {
		return
	}

	m.dispatchCancel(ctx, s)
}

// dispatchCancel sends the cancel on its own goroutine. The request keeps
// ctx values but outlives its cancellation.
func (m *AuthSessionManager) dispatchCancel(ctx context.Context, s *AuthSession) {
	ctx = context.WithoutCancel(ctx)

	m.cancels.Add(1)

	go func() {
		defer m.cancels.Done()

		if _, err := m.api.CancelAuthSession(ctx, s.ID); err != nil {
			m.emit(EventCancelFailed)
			m.logger.Debug("canceling auth session", slog.String("session", s.ID), slog.Any("error", err))

			return
		}

		m.emit(EventCanceled)
		m.logger.Debug("auth session canceled", slog.String("session", s.ID))
	}()
}

// Retrieve re-reads session from the server. When retrieval is disabled
// the input is returned unchanged with no request.
func (m *AuthSessionManager) Retrieve(ctx context.Context, session *AuthSession) (*AuthSession, error) {
	if m.disableRetrieval {
		return session, nil
	}

	if m.closed() {
		return nil, api.ErrDeallocatedCaller
	}

	ctx, cancel := m.bind(ctx)
	defer cancel()

	s, err := m.api.RetrieveAuthSession(ctx, session.ID)
	if m.closed() {
		return nil, api.ErrDeallocatedCaller
	}

	if err != nil {
		return nil, fmt.Errorf("retrieving auth session: %w", err)
	}

	m.emit(EventRetrieved)

	return s, nil
}

// ClearReturnURL scrubs the one-time return URL of authURL server side.
func (m *AuthSessionManager) ClearReturnURL(ctx context.Context, session *AuthSession, authURL string) (*AuthSession, error) {
	if m.closed() {
		return nil, api.ErrDeallocatedCaller
	}

	ctx, cancel := m.bind(ctx)
	defer cancel()

	s, err := m.api.ClearReturnURL(ctx, session.ID, authURL)
	if err != nil {
		return nil, fmt.Errorf("clearing return url: %w", err)
	}

	return s, nil
}

// Close stops in-flight operations. Calls still running return
// api.ErrDeallocatedCaller. Dispatched cancels are left to finish.
func (m *AuthSessionManager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Wait blocks until every dispatched cancel request has returned.
func (m *AuthSessionManager) Wait() {
	m.cancels.Wait()
}

// isDeallocated reports whether err means the owner went away.
func isDeallocated(err error) bool {
	return errors.Is(err, api.ErrDeallocatedCaller)
}
