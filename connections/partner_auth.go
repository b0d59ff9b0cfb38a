package connections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexjbarnes/link-connect/api"
)

// Server error extra_fields consulted when session creation fails.
const (
	extraInstitutionUnavailable = "institution_unavailable"
	extraExpectedAvailableAt    = "expected_to_be_available_at"
)

// PartnerAuthDelegate receives the outcome of a partner auth pane. Exactly
// one method is called per Run, on the Run goroutine, and none after
// Close.
type PartnerAuthDelegate interface {
	SelectedAnotherBank(ctx context.Context)
	RequestedGoBack(ctx context.Context)
	SelectedManualEntry(ctx context.Context)
	ReceivedTerminalError(ctx context.Context, err error)
	CompletedAuthSession(ctx context.Context, session *AuthSession)
}

// ViewKind is what the partner auth pane is currently showing.
type ViewKind string

const (
	ViewEstablishingConnection ViewKind = "establishing_connection"
	ViewPrepane                ViewKind = "prepane"
	ViewLoading                ViewKind = "loading"
	ViewAuthorizing            ViewKind = "authorizing"
	ViewInstitutionMaintenance ViewKind = "institution_maintenance"
	ViewInstitutionUnavailable ViewKind = "institution_unavailable"
	ViewDone                   ViewKind = "done"
)

// Action is a user input the pane accepts.
type Action string

const (
	ActionContinue          Action = "continue"
	ActionBack              Action = "back"
	ActionSelectAnotherBank Action = "select_another_bank"
	ActionManualEntry       Action = "manual_entry"
)

// SessionPhase tracks the current auth session through its lifecycle.
type SessionPhase string

const (
	PhaseNone                 SessionPhase = ""
	PhaseCreated              SessionPhase = "created"
	PhaseAwaitingExternalAuth SessionPhase = "awaiting_external_auth"
	PhaseAuthorizing          SessionPhase = "authorizing"
	PhaseAuthorized           SessionPhase = "authorized"
	PhaseCanceled             SessionPhase = "canceled"
	PhaseErrored              SessionPhase = "errored"
)

// PartnerAuthViewState is a snapshot of the pane.
type PartnerAuthViewState struct {
	Kind                ViewKind
	Institution         Institution
	Prepane             *Prepane
	ExpectedAvailableAt time.Time
	BackHidden          bool
	Busy                bool
	Actions             []Action

	SessionID string
	Phase     SessionPhase

	generation uint64
}

// PartnerAuthConfig configures a PartnerAuthController.
type PartnerAuthConfig struct {
	Institution Institution
	Manifest    *Manifest
	API         AuthSessionAPI
	Presenter   ExternalAuthPresenter
	Delegate    PartnerAuthDelegate

	// CallbackScheme defaults to DefaultCallbackScheme.
	CallbackScheme  string
	PollInterval    time.Duration
	MaxPollAttempts int
	Observer        LifecycleObserver
	Logger          *slog.Logger

	// OnStateChange is called on the Run goroutine after every view
	// change.
	OnStateChange func(PartnerAuthViewState)
}

type userAction struct {
	action     Action
	generation uint64
}

// PartnerAuthController runs one institution's authentication attempt.
// Run owns the flow; user actions are delivered to it over a channel and
// apply only to the view they were issued against.
type PartnerAuthController struct {
	institution    Institution
	manifest       *Manifest
	manager        *AuthSessionManager
	presenter      ExternalAuthPresenter
	delegate       PartnerAuthDelegate
	callbackScheme string
	logger         *slog.Logger
	onStateChange  func(PartnerAuthViewState)

	actions chan userAction
	running atomic.Bool

	mu    sync.Mutex
	state PartnerAuthViewState

	closeOnce sync.Once
	done      chan struct{}
}

// NewPartnerAuthController validates cfg and creates a controller with its
// own AuthSessionManager.
func NewPartnerAuthController(cfg PartnerAuthConfig) (*PartnerAuthController, error) {
	switch {
	case cfg.Institution.ID == "":
		return nil, &api.IntegrationError{Msg: "partner auth requires an institution"}
	case cfg.API == nil:
		return nil, &api.IntegrationError{Msg: "partner auth requires an auth session api"}
	case cfg.Presenter == nil:
		return nil, &api.IntegrationError{Msg: "partner auth requires an external auth presenter"}
	case cfg.Delegate == nil:
		return nil, &api.IntegrationError{Msg: "partner auth requires a delegate"}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	logger = logger.With(slog.String("institution", cfg.Institution.ID))

	scheme := cfg.CallbackScheme
	if scheme == "" {
		scheme = DefaultCallbackScheme
	}

	manager := NewAuthSessionManager(cfg.API, ManagerConfig{
		DisableRetrieval: cfg.Manifest.DisableAuthSessionRetrieval(),
		PollInterval:     cfg.PollInterval,
		MaxPollAttempts:  cfg.MaxPollAttempts,
		Logger:           logger,
		Observer:         cfg.Observer,
	})

	return &PartnerAuthController{
		institution:    cfg.Institution,
		manifest:       cfg.Manifest,
		manager:        manager,
		presenter:      cfg.Presenter,
		delegate:       cfg.Delegate,
		callbackScheme: scheme,
		logger:         logger,
		onStateChange:  cfg.OnStateChange,
		actions:        make(chan userAction, 8),
		state:          PartnerAuthViewState{Institution: cfg.Institution},
		done:           make(chan struct{}),
	}, nil
}

// Manager returns the controller's lifecycle manager.
func (c *PartnerAuthController) Manager() *AuthSessionManager {
	return c.manager
}

// State returns the current view state.
func (c *PartnerAuthController) State() PartnerAuthViewState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state
	st.Actions = slices.Clone(st.Actions)

	return st
}

// Continue, Back, SelectAnotherBank and EnterManually act on whatever
// view is current when they are called.
func (c *PartnerAuthController) Continue()          { c.send(ActionContinue, c.generation()) }
func (c *PartnerAuthController) Back()              { c.send(ActionBack, c.generation()) }
func (c *PartnerAuthController) SelectAnotherBank() { c.send(ActionSelectAnotherBank, c.generation()) }
func (c *PartnerAuthController) EnterManually()     { c.send(ActionManualEntry, c.generation()) }

// Respond issues a against view, a state previously passed to
// OnStateChange or returned by State. It is ignored if the pane has moved
// on since view was published.
func (c *PartnerAuthController) Respond(view PartnerAuthViewState, a Action) {
	c.send(a, view.generation)
}

func (c *PartnerAuthController) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state.generation
}

func (c *PartnerAuthController) send(a Action, gen uint64) {
	select {
	case c.actions <- userAction{action: a, generation: gen}:
	default:
		c.logger.Debug("dropping user action, queue full", slog.String("action", string(a)))
	}
}

// Close dismisses the pane. In-flight requests are canceled, Run returns
// api.ErrDeallocatedCaller and the delegate is not called again.
func (c *PartnerAuthController) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.manager.Close()
	})
}

// Wait blocks until best-effort cancels sent by the manager have returned.
func (c *PartnerAuthController) Wait() {
	c.manager.Wait()
}

func (c *PartnerAuthController) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *PartnerAuthController) setState(st PartnerAuthViewState) {
	c.mu.Lock()
	st.Institution = c.institution
	st.SessionID = c.state.SessionID
	st.Phase = c.state.Phase
	st.generation = c.state.generation + 1
	c.state = st
	c.mu.Unlock()

	c.publish(st)
}

func (c *PartnerAuthController) setPhase(sessionID string, phase SessionPhase) {
	c.mu.Lock()
	c.state.SessionID = sessionID
	c.state.Phase = phase
	c.mu.Unlock()

	c.logger.Debug("auth session phase", slog.String("session", sessionID), slog.String("phase", string(phase)))
}

func (c *PartnerAuthController) publish(st PartnerAuthViewState) {
	if c.onStateChange != nil && !c.isClosed() {
		st.Actions = slices.Clone(st.Actions)
		c.onStateChange(st)
	}
}

// notify calls the delegate unless the pane has been dismissed.
func (c *PartnerAuthController) notify(fn func(PartnerAuthDelegate)) error {
	if c.isClosed() {
		return api.ErrDeallocatedCaller
	}

	fn(c.delegate)

	return nil
}

// interrupted maps a failure after a blocking call to the reason the
// flow must stop, or nil if it should continue.
func (c *PartnerAuthController) interrupted(ctx context.Context, err error) error {
	if c.isClosed() || isDeallocated(err) {
		return api.ErrDeallocatedCaller
	}

	return ctx.Err()
}

// Run drives the pane until a delegate method has been called. It returns
// nil in that case, api.ErrDeallocatedCaller after Close, or the context
// error if ctx ends first.
func (c *PartnerAuthController) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("partner auth controller already running")
	}

	if c.isClosed() {
		return api.ErrDeallocatedCaller
	}

	ctx, cancel := bindDone(ctx, c.done)
	defer cancel()

	c.setState(PartnerAuthViewState{Kind: ViewEstablishingConnection})

	session, err := c.createSession(ctx)
	if err != nil {
		return c.handleCreateError(ctx, err)
	}

	for {
		next, err := c.attempt(ctx, session)
		if err != nil || next == nil {
			return err
		}

		session = next
	}
}

func (c *PartnerAuthController) createSession(ctx context.Context) (*AuthSession, error) {
	s, err := c.manager.Create(ctx, c.institution.ID)
	if err != nil {
		return nil, err
	}

	c.setPhase(s.ID, PhaseCreated)

	return s, nil
}

// attempt runs one external authentication for session. A non-nil
// session return means the attempt failed and should be retried with it.
func (c *PartnerAuthController) attempt(ctx context.Context, session *AuthSession) (*AuthSession, error) {
	if session.IsOAuth {
		c.setState(PartnerAuthViewState{
			Kind:    ViewPrepane,
			Prepane: session.Prepane(),
			Actions: []Action{ActionContinue},
		})

		a, err := c.waitForAction(ctx, ActionContinue, ActionBack)
		if err != nil {
			return nil, err
		}

		if a == ActionBack {
			c.manager.CancelPendingIfNeeded(ctx)
			c.setPhase(session.ID, PhaseCanceled)

			return nil, c.notify(func(d PartnerAuthDelegate) { d.RequestedGoBack(ctx) })
		}
	} else {
		c.setState(PartnerAuthViewState{Kind: ViewLoading, Busy: true})
	}

	c.setPhase(session.ID, PhaseAwaitingExternalAuth)

	returnURL, err := c.present(ctx, session)
	if stop := c.interrupted(ctx, err); stop != nil {
		return nil, stop
	}

	if err == nil && IsSuccessCallback(returnURL, c.callbackScheme) {
		return nil, c.complete(ctx, session)
	}

	if err == nil {
		err = errors.New("callback did not report success")
	}

	return c.failedAttempt(ctx, session, err)
}

func (c *PartnerAuthController) present(ctx context.Context, session *AuthSession) (*url.URL, error) {
	if session.URL == "" {
		return nil, fmt.Errorf("auth session %s has no url: %w", session.ID, ErrPresenterUnavailable)
	}

	authURL, err := url.Parse(session.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing auth url: %w: %w", err, ErrPresenterUnavailable)
	}

	return c.presenter.Present(ctx, authURL, c.callbackScheme)
}

// failedAttempt cancels session. OAuth sessions are retried with a fresh
// session on the prepane; everything else navigates back.
func (c *PartnerAuthController) failedAttempt(ctx context.Context, session *AuthSession, cause error) (*AuthSession, error) {
	c.logger.Info("external auth did not succeed", slog.String("session", session.ID), slog.Any("reason", cause))

	c.manager.CancelPendingIfNeeded(ctx)
	c.setPhase(session.ID, PhaseCanceled)

	if !session.IsOAuth || errors.Is(cause, ErrPresenterUnavailable) {
		return nil, c.notify(func(d PartnerAuthDelegate) { d.RequestedGoBack(ctx) })
	}

	c.setState(PartnerAuthViewState{
		Kind:    ViewPrepane,
		Prepane: session.Prepane(),
		Busy:    true,
	})

	next, err := c.createSession(ctx)
	if err != nil {
		return nil, c.handleCreateError(ctx, err)
	}

	return next, nil
}

func (c *PartnerAuthController) complete(ctx context.Context, session *AuthSession) error {
	final := session

	if session.IsOAuth {
		c.setState(PartnerAuthViewState{Kind: ViewAuthorizing, Busy: true})
		c.setPhase(session.ID, PhaseAuthorizing)

		authorized, err := c.manager.Authorize(ctx, session)
		if err != nil {
			if stop := c.interrupted(ctx, err); stop != nil {
				return stop
			}

			c.manager.CancelPendingIfNeeded(ctx)
			c.setPhase(session.ID, PhaseErrored)

			return c.notify(func(d PartnerAuthDelegate) { d.ReceivedTerminalError(ctx, err) })
		}

		final = authorized
	} else {
		retrieved, err := c.manager.Retrieve(ctx, session)

		switch {
		case err != nil:
			if stop := c.interrupted(ctx, err); stop != nil {
				return stop
			}

			c.logger.Warn("retrieving completed auth session", slog.String("session", session.ID), slog.Any("error", err))
		case retrieved.Status == StatusFailed || retrieved.Status == StatusCanceled:
			_, err := c.failedAttempt(ctx, session, fmt.Errorf("auth session reported status %s", retrieved.Status))
			return err
		default:
			final = retrieved
		}

		c.manager.resolve(session.ID)
	}

	if hasReturnURL(session.URL) {
		if _, err := c.manager.ClearReturnURL(ctx, final, session.URL); err != nil {
			if stop := c.interrupted(ctx, err); stop != nil {
				return stop
			}

			c.logger.Warn("clearing return url", slog.String("session", session.ID), slog.Any("error", err))
		}
	}

	c.setPhase(final.ID, PhaseAuthorized)
	c.setState(PartnerAuthViewState{Kind: ViewDone})

	return c.notify(func(d PartnerAuthDelegate) { d.CompletedAuthSession(ctx, final) })
}

// handleCreateError classifies a session creation failure. Institution
// outages get an actionable view; anything else is terminal.
func (c *PartnerAuthController) handleCreateError(ctx context.Context, err error) error {
	if stop := c.interrupted(ctx, err); stop != nil {
		return stop
	}

	se, ok := api.AsServerError(err)
	if !ok || !se.ExtraBool(extraInstitutionUnavailable) {
		c.logger.Error("creating auth session", slog.Any("error", err))
		c.setPhase("", PhaseErrored)

		return c.notify(func(d PartnerAuthDelegate) { d.ReceivedTerminalError(ctx, err) })
	}

	st := PartnerAuthViewState{Actions: []Action{ActionSelectAnotherBank}}

	if at, ok := se.ExtraTime(extraExpectedAvailableAt); ok {
		st.Kind = ViewInstitutionMaintenance
		st.ExpectedAvailableAt = at
		st.BackHidden = true
	} else {
		st.Kind = ViewInstitutionUnavailable
		if c.manifest != nil && c.manifest.AllowManualEntry {
			st.Actions = append(st.Actions, ActionManualEntry)
		}
	}

	c.logger.Info("institution unavailable", slog.String("view", string(st.Kind)), slog.Time("expected_available_at", st.ExpectedAvailableAt))
	c.setState(st)

	allowed := slices.Clone(st.Actions)
	if !st.BackHidden {
		allowed = append(allowed, ActionBack)
	}

	a, err := c.waitForAction(ctx, allowed...)
	if err != nil {
		return err
	}

	switch a {
	case ActionManualEntry:
		return c.notify(func(d PartnerAuthDelegate) { d.SelectedManualEntry(ctx) })
	case ActionBack:
		return c.notify(func(d PartnerAuthDelegate) { d.RequestedGoBack(ctx) })
	default:
		return c.notify(func(d PartnerAuthDelegate) { d.SelectedAnotherBank(ctx) })
	}
}

// waitForAction blocks for an allowed action issued against the current
// view. Anything else is ignored.
func (c *PartnerAuthController) waitForAction(ctx context.Context, allowed ...Action) (Action, error) {
	c.mu.Lock()
	gen := c.state.generation
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			if c.isClosed() {
				return "", api.ErrDeallocatedCaller
			}

			return "", ctx.Err()
		case ua := <-c.actions:
			if ua.generation != gen || !slices.Contains(allowed, ua.action) {
				c.logger.Debug("ignoring user action", slog.String("action", string(ua.action)))
				continue
			}

			return ua.action, nil
		}
	}
}
