package connections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
)

// ManifestSource fetches the manifest. *Client implements it.
type ManifestSource interface {
	Synchronize(ctx context.Context) (*Manifest, error)
}

// Transition describes a change of the current pane.
type Transition struct {
	From   NextPane
	To     NextPane
	Reason string
}

// Navigator is the single owner of the current pane. Panes only ever come
// from the server: the manifest at start, or a next_pane returned by a
// later call.
type Navigator struct {
	source ManifestSource
	logger *slog.Logger

	mu        sync.Mutex
	manifest  *Manifest
	selected  *Institution
	history   []NextPane
	lastErr   error
	nextSubID int
	observers map[int]func(Transition)
}

// NewNavigator creates a Navigator. A nil logger discards output.
func NewNavigator(source ManifestSource, logger *slog.Logger) *Navigator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Navigator{
		source:    source,
		logger:    logger,
		observers: make(map[int]func(Transition)),
	}
}

// Subscribe registers fn for every transition and returns the function
// that removes it.
func (n *Navigator) Subscribe(fn func(Transition)) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextSubID
	n.nextSubID++
	n.observers[id] = fn
	n.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.observers, id)
			n.mu.Unlock()
		})
	}
}

// Start synchronizes the manifest and moves to its next pane, discarding
// any history.
func (n *Navigator) Start(ctx context.Context) (NextPane, error) {
	m, err := n.source.Synchronize(ctx)
	if err != nil {
		n.Fail(err)
		return PaneUnexpectedError, fmt.Errorf("starting navigation: %w", err)
	}

	n.mu.Lock()
	from := n.currentLocked()
	n.manifest = m
	n.selected = nil
	n.history = nil
	n.lastErr = nil
	to := n.pushLocked(m.NextPane)
	n.mu.Unlock()

	n.notify(Transition{From: from, To: to, Reason: "synchronize"})

	return to, nil
}

// Current returns the current pane, or "" before Start.
func (n *Navigator) Current() NextPane {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.currentLocked()
}

// History returns the panes visited, oldest first.
func (n *Navigator) History() []NextPane {
	n.mu.Lock()
	defer n.mu.Unlock()

	return slices.Clone(n.history)
}

// Manifest returns the last synchronized manifest.
func (n *Navigator) Manifest() *Manifest {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.manifest
}

// Err returns the error that moved navigation to unexpected_error.
func (n *Navigator) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.lastErr
}

// Apply moves to a server-provided pane. Reset re-synchronizes from
// scratch; an empty pane re-synchronizes while keeping history.
func (n *Navigator) Apply(ctx context.Context, pane NextPane) (NextPane, error) {
	switch pane {
	case PaneReset:
		return n.Start(ctx)
	case "":
		return n.Refresh(ctx)
	}

	n.mu.Lock()
	from := n.currentLocked()
	to := n.pushLocked(pane)
	n.mu.Unlock()

	n.notify(Transition{From: from, To: to, Reason: "apply"})

	return to, nil
}

// ApplyManifest adopts a manifest returned by a later call and moves to
// its next pane.
func (n *Navigator) ApplyManifest(ctx context.Context, m *Manifest) (NextPane, error) {
	if m == nil {
		return n.Current(), errors.New("nil manifest")
	}

	n.mu.Lock()
	n.manifest = m
	n.mu.Unlock()

	return n.Apply(ctx, m.NextPane)
}

// SelectInstitution records the institution chosen on the institution
// picker and moves to partner_auth. It fails on any other pane.
func (n *Navigator) SelectInstitution(inst Institution) (NextPane, error) {
	if inst.ID == "" {
		return n.Current(), errors.New("institution has no id")
	}

	n.mu.Lock()
	from := n.currentLocked()
	if from != PaneInstitutionPicker {
		n.mu.Unlock()
		return from, fmt.Errorf("cannot select an institution on pane %q", from)
	}

	n.selected = &inst
	to := n.pushLocked(PanePartnerAuth)
	n.mu.Unlock()

	n.notify(Transition{From: from, To: to, Reason: "institution_selected"})

	return to, nil
}

// Institution returns the institution partner auth should use: the one
// selected on the picker, else the manifest's active institution.
func (n *Navigator) Institution() (Institution, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.selected != nil {
		return *n.selected, true
	}

	if n.manifest != nil && n.manifest.ActiveInstitution != nil {
		return *n.manifest.ActiveInstitution, true
	}

	return Institution{}, false
}

// Refresh re-synchronizes the manifest and pushes its next pane.
func (n *Navigator) Refresh(ctx context.Context) (NextPane, error) {
	m, err := n.source.Synchronize(ctx)
	if err != nil {
		n.Fail(err)
		return PaneUnexpectedError, fmt.Errorf("refreshing manifest: %w", err)
	}

	if m.NextPane == "" || m.NextPane == PaneReset {
		n.Fail(fmt.Errorf("manifest has unusable next pane %q", m.NextPane))
		return PaneUnexpectedError, nil
	}

	return n.ApplyManifest(ctx, m)
}

// Back pops the current pane. It reports false when there is nothing to
// go back to.
func (n *Navigator) Back() (NextPane, bool) {
	n.mu.Lock()
	if len(n.history) < 2 {
		cur := n.currentLocked()
		n.mu.Unlock()

		return cur, false
	}

	from := n.currentLocked()
	n.history = n.history[:len(n.history)-1]
	to := n.currentLocked()
	n.mu.Unlock()

	n.notify(Transition{From: from, To: to, Reason: "back"})

	return to, true
}

// PopTo pops back to the most recent visit of pane. It reports false,
// leaving history untouched, when pane was never visited.
func (n *Navigator) PopTo(pane NextPane) bool {
	n.mu.Lock()
	idx := -1
	for i := len(n.history) - 1; i >= 0; i-- {
		if n.history[i] == pane {
			idx = i
			break
		}
	}

	if idx < 0 {
		n.mu.Unlock()
		return false
	}

	from := n.currentLocked()
	n.history = n.history[:idx+1]
	n.mu.Unlock()

	if from != pane {
		n.notify(Transition{From: from, To: pane, Reason: "pop"})
	}

	return true
}

// Fail moves to unexpected_error and records err.
func (n *Navigator) Fail(err error) {
	n.mu.Lock()
	from := n.currentLocked()
	n.lastErr = err
	n.history = append(n.history, PaneUnexpectedError)
	n.mu.Unlock()

	n.logger.Error("navigation failed", slog.String("from", string(from)), slog.Any("error", err))
	n.notify(Transition{From: from, To: PaneUnexpectedError, Reason: "error"})
}

func (n *Navigator) currentLocked() NextPane {
	if len(n.history) == 0 {
		return ""
	}

	return n.history[len(n.history)-1]
}

// pushLocked appends pane, routing unparsable values to unexpected_error.
func (n *Navigator) pushLocked(pane NextPane) NextPane {
	if pane == PaneUnparsable || pane == "" {
		n.logger.Warn("unparsable next pane, showing error")
		n.lastErr = errors.New("server sent an unknown next pane")
		pane = PaneUnexpectedError
	}

	n.history = append(n.history, pane)

	return pane
}

// notify calls observers outside the lock in subscription order.
func (n *Navigator) notify(t Transition) {
	n.mu.Lock()
	ids := make([]int, 0, len(n.observers))
	for id := range n.observers {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	fns := make([]func(Transition), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, n.observers[id])
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}

// PartnerAuthRoute turns partner auth outcomes into navigator moves. It
// implements PartnerAuthDelegate.
type PartnerAuthRoute struct {
	nav *Navigator

	mu      sync.Mutex
	session *AuthSession
	err     error
}

// NewPartnerAuthRoute creates a route over nav.
func NewPartnerAuthRoute(nav *Navigator) *PartnerAuthRoute {
	return &PartnerAuthRoute{nav: nav}
}

// Session returns the completed auth session, if any.
func (r *PartnerAuthRoute) Session() *AuthSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.session
}

// Err returns the last navigation error.
func (r *PartnerAuthRoute) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

func (r *PartnerAuthRoute) setErr(err error) {
	if err == nil {
		return
	}

	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *PartnerAuthRoute) SelectedAnotherBank(ctx context.Context) {
	if !r.nav.PopTo(PaneInstitutionPicker) {
		_, err := r.nav.Apply(ctx, PaneInstitutionPicker)
		r.setErr(err)
	}
}

func (r *PartnerAuthRoute) RequestedGoBack(context.Context) {
	r.nav.Back()
}

func (r *PartnerAuthRoute) SelectedManualEntry(ctx context.Context) {
	_, err := r.nav.Apply(ctx, PaneManualEntry)
	r.setErr(err)
}

func (r *PartnerAuthRoute) ReceivedTerminalError(_ context.Context, err error) {
	r.setErr(err)
	r.nav.Fail(err)
}

// CompletedAuthSession follows the session's next pane, asking the
// server when it has none.
func (r *PartnerAuthRoute) CompletedAuthSession(ctx context.Context, session *AuthSession) {
	r.mu.Lock()
	r.session = session
	r.mu.Unlock()

	_, err := r.nav.Apply(ctx, session.NextPane)
	r.setErr(err)
}
