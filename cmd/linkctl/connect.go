package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/alexjbarnes/link-connect/connections"
	errs "github.com/alexjbarnes/link-connect/internal/errors"
)

// institutionListLimit caps featured and search results.
const institutionListLimit = 10

// maxConnectSteps bounds how many panes one connect run visits.
const maxConnectSteps = 32

type connectResult struct {
	Pane     string              `yaml:"pane"`
	Session  string              `yaml:"session,omitempty"`
	Accounts []linkedAccountView `yaml:"accounts,omitempty"`
}

// connectFlow handles the panes the navigator lands on. Every pane comes
// from the server except partner_auth, which the picker reaches by
// selecting an institution.
type connectFlow struct {
	a     *app
	fc    *connections.Client
	nav   *connections.Navigator
	query string

	pickerVisits int
	session      *connections.AuthSession
}

func cmdConnect(ctx context.Context, a *app, args []string) error {
	if err := a.cfg.RequireClientSecret(); err != nil {
		return err
	}

	fc, err := connections.NewClient(a.doer, a.cfg.ClientSecret, a.logger)
	if err != nil {
		return err
	}

	nav := connections.NewNavigator(fc, a.logger)
	unsubscribe := nav.Subscribe(func(t connections.Transition) {
		a.logger.Debug("pane transition",
			slog.String("from", string(t.From)),
			slog.String("to", string(t.To)),
			slog.String("reason", t.Reason),
		)
	})
	defer unsubscribe()

	if _, err := nav.Start(ctx); err != nil {
		return fmt.Errorf("synchronizing session: %w", err)
	}

	f := &connectFlow{a: a, fc: fc, nav: nav, query: strings.Join(args, " ")}

	return f.run(ctx)
}

func (f *connectFlow) run(ctx context.Context) error {
	for range maxConnectSteps {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error

		switch pane := f.nav.Current(); pane {
		case connections.PaneInstitutionPicker:
			err = f.institutionPicker(ctx)
		case connections.PanePartnerAuth:
			err = f.partnerAuth(ctx)
		case connections.PaneAccountPicker:
			err = f.accountPicker(ctx)
		case connections.PaneSuccess:
			return f.success(ctx)
		case connections.PaneUnexpectedError:
			if navErr := f.nav.Err(); navErr != nil {
				return fmt.Errorf("linking failed: %w", navErr)
			}

			return errors.New("linking failed")
		default:
			return fmt.Errorf("%w: %s", errs.ErrUnsupportedPane, pane)
		}

		if err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: gave up after %d panes", errs.ErrConnectStopped, maxConnectSteps)
}

func (f *connectFlow) institutionPicker(ctx context.Context) error {
	f.pickerVisits++

	inst, err := pickInstitution(ctx, f.a, f.fc, f.nav.Manifest(), f.query, f.pickerVisits == 1)
	if err != nil {
		return err
	}

	_, err = f.nav.SelectInstitution(inst)

	return err
}

func (f *connectFlow) partnerAuth(ctx context.Context) error {
	inst, ok := f.nav.Institution()
	if !ok {
		return fmt.Errorf("%w: no institution to authenticate with", errs.ErrConnectStopped)
	}

	session, err := runPartnerAuth(ctx, f.a, f.fc, f.nav, inst)
	if err != nil {
		return err
	}

	if session != nil {
		f.session = session
	}

	if f.nav.Current() == connections.PanePartnerAuth {
		return fmt.Errorf("%w: %s authentication did not finish", errs.ErrConnectStopped, institutionName(inst))
	}

	return nil
}

func (f *connectFlow) accountPicker(ctx context.Context) error {
	manifest := f.nav.Manifest()

	session := f.session
	if session == nil && manifest != nil {
		session = manifest.ActiveAuthSession
	}

	if session == nil {
		return fmt.Errorf("%w: no authenticated session to pick accounts from", errs.ErrConnectStopped)
	}

	ids, err := chooseAccounts(ctx, f.a, f.fc, manifest, session)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		return fmt.Errorf("%w: the institution returned no selectable accounts", errs.ErrConnectStopped)
	}

	res, err := f.fc.SelectAccounts(ctx, session.ID, ids)
	if err != nil {
		return err
	}

	_, err = f.nav.Apply(ctx, res.NextPane)

	return err
}

func (f *connectFlow) success(ctx context.Context) error {
	done, err := f.fc.Complete(ctx)
	if err != nil {
		return err
	}

	inst, _ := f.nav.Institution()

	record := linkedSessionRecord(done, inst)
	if err := f.a.state.SaveLinkedSession(record); err != nil {
		f.a.logger.Warn("failed to save linked session", slog.String("error", err.Error()))
	}

	return writeYAML(f.a.out, connectResult{
		Pane:     string(connections.PaneSuccess),
		Session:  done.ID,
		Accounts: newLinkedSessionView(record).Accounts,
	})
}

// pickInstitution asks the user to pick from search or featured results.
// A single result is taken without asking when auto is set.
func pickInstitution(ctx context.Context, a *app, fc *connections.Client, m *connections.Manifest, query string, auto bool) (connections.Institution, error) {
	var (
		list []connections.Institution
		err  error
	)

	if query != "" && (m == nil || !m.InstitutionSearchDisabled) {
		list, err = fc.SearchInstitutions(ctx, query, institutionListLimit)
	} else {
		list, err = fc.FeaturedInstitutions(ctx, institutionListLimit)
	}

	if err != nil {
		return connections.Institution{}, err
	}

	if len(list) == 0 {
		return connections.Institution{}, fmt.Errorf("no institutions match %q", query)
	}

	if len(list) == 1 && auto {
		return list[0], nil
	}

	for i, inst := range list {
		fmt.Fprintf(a.prompt.w, "  %d) %s\n", i+1, inst.Name)
	}

	i, err := a.prompt.choose(ctx, "Institution [1]: ", len(list), 0)
	if err != nil {
		return connections.Institution{}, fmt.Errorf("choosing institution: %w", err)
	}

	return list[i], nil
}

// runPartnerAuth drives the partner auth pane until the controller hands
// control back to the navigator. The returned session is nil unless
// authentication completed.
func runPartnerAuth(ctx context.Context, a *app, fc *connections.Client, nav *connections.Navigator, inst connections.Institution) (*connections.AuthSession, error) {
	route := connections.NewPartnerAuthRoute(nav)

	// Only the latest view matters; older ones are replaced.
	states := make(chan connections.PartnerAuthViewState, 1)

	ctrl, err := connections.NewPartnerAuthController(connections.PartnerAuthConfig{
		Institution:     inst,
		Manifest:        nav.Manifest(),
		API:             fc,
		Presenter:       &terminalPresenter{prompt: a.prompt},
		Delegate:        route,
		CallbackScheme:  a.cfg.CallbackScheme,
		PollInterval:    a.cfg.PollInterval,
		MaxPollAttempts: a.cfg.MaxPollAttempts,
		Observer:        a.metrics,
		Logger:          a.logger,
		OnStateChange: func(st connections.PartnerAuthViewState) {
			select {
			case <-states:
			default:
			}
			states <- st
		},
	})
	if err != nil {
		return nil, err
	}

	defer func() {
		ctrl.Close()
		ctrl.Wait()
	}()

	runErr := make(chan error, 1)

	go func() {
		runErr <- ctrl.Run(ctx)
	}()

	for {
		select {
		case err := <-runErr:
			if err != nil {
				return nil, err
			}

			return route.Session(), nil
		case st := <-states:
			renderState(a.prompt.w, st)

			if st.Busy {
				continue
			}

			choices := actionChoices(st)
			if len(choices) == 0 {
				continue
			}

			action, err := chooseAction(ctx, a.prompt, choices)
			if errors.Is(err, io.EOF) {
				action = eofAction(choices)
				a.logger.Debug("input closed, leaving partner auth", slog.String("action", string(action)))
			} else if err != nil {
				return nil, err
			}

			ctrl.Respond(st, action)
		}
	}
}

// eofAction picks how to leave a view once input is exhausted: back when
// the view offers it, else its first action.
func eofAction(choices []connections.Action) connections.Action {
	if slices.Contains(choices, connections.ActionBack) {
		return connections.ActionBack
	}

	return choices[0]
}

// actionChoices lists the actions a view accepts. Back is offered unless
// hidden.
func actionChoices(st connections.PartnerAuthViewState) []connections.Action {
	choices := slices.Clone(st.Actions)
	if len(choices) > 0 && !st.BackHidden && !slices.Contains(choices, connections.ActionBack) {
		choices = append(choices, connections.ActionBack)
	}

	return choices
}

func chooseAction(ctx context.Context, p *prompter, choices []connections.Action) (connections.Action, error) {
	for i, c := range choices {
		fmt.Fprintf(p.w, "  %d) %s\n", i+1, strings.ReplaceAll(string(c), "_", " "))
	}

	i, err := p.choose(ctx, "Choice [1]: ", len(choices), 0)
	if err != nil {
		return "", err
	}

	return choices[i], nil
}

func renderState(w io.Writer, st connections.PartnerAuthViewState) {
	switch st.Kind {
	case connections.ViewEstablishingConnection:
		fmt.Fprintln(w, "Establishing connection...")
	case connections.ViewLoading, connections.ViewAuthorizing:
		fmt.Fprintln(w, "Waiting for your bank...")
	case connections.ViewPrepane:
		if st.Busy || st.Prepane == nil {
			return
		}

		fmt.Fprintf(w, "\n%s\n", st.Prepane.Title)

		for _, e := range st.Prepane.Body {
			if e.Type == connections.BodyEntryText {
				fmt.Fprintf(w, "  %s\n", e.Text)
			}
		}

		if st.Prepane.PartnerNotice != "" {
			fmt.Fprintf(w, "  %s\n", st.Prepane.PartnerNotice)
		}
	case connections.ViewInstitutionMaintenance:
		fmt.Fprintf(w, "%s is under maintenance until %s.\n",
			institutionName(st.Institution), st.ExpectedAvailableAt.Local().Format(time.Kitchen))
	case connections.ViewInstitutionUnavailable:
		fmt.Fprintf(w, "%s is currently unavailable.\n", institutionName(st.Institution))
	case connections.ViewDone:
		fmt.Fprintln(w, "Connected.")
	}
}

func institutionName(inst connections.Institution) string {
	if inst.Name != "" {
		return inst.Name
	}

	return "This bank"
}

// chooseAccounts waits for the institution's accounts and returns the
// selection. With account selection skipped every selectable account is
// linked without asking.
func chooseAccounts(ctx context.Context, a *app, fc *connections.Client, m *connections.Manifest, session *connections.AuthSession) ([]string, error) {
	res, err := fc.WaitForAccounts(ctx, session.ID, a.cfg.PollInterval, a.cfg.MaxPollAttempts)
	if err != nil {
		return nil, err
	}

	var selectable []connections.PartnerAccount

	for _, acct := range res.Accounts {
		if acct.Selectable() {
			selectable = append(selectable, acct)
		}
	}

	if len(selectable) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(selectable))
	for _, acct := range selectable {
		ids = append(ids, acct.ID)
	}

	if m.SkipAccountSelection || session.SkipAccountSelection || len(selectable) == 1 {
		if m.SingleAccount {
			return ids[:1], nil
		}

		return ids, nil
	}

	for i, acct := range selectable {
		fmt.Fprintf(a.prompt.w, "  %d) %s %s\n", i+1, acct.Name, acct.DisplayableAccountNumbers)
	}

	if m.SingleAccount {
		i, err := a.prompt.choose(ctx, "Account [1]: ", len(selectable), 0)
		if err != nil {
			return nil, err
		}

		return ids[i : i+1], nil
	}

	answer, err := a.prompt.ask(ctx, "Accounts to link (comma separated, empty for all): ")
	if err != nil {
		return nil, err
	}

	return parseSelection(answer, ids)
}

// parseSelection maps "1,3" to the matching ids. Empty selects all.
func parseSelection(answer string, ids []string) ([]string, error) {
	if strings.TrimSpace(answer) == "" {
		return ids, nil
	}

	var picked []string

	for _, part := range strings.Split(answer, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 || n > len(ids) {
			return nil, fmt.Errorf("invalid account choice %q", strings.TrimSpace(part))
		}

		if id := ids[n-1]; !slices.Contains(picked, id) {
			picked = append(picked, id)
		}
	}

	return picked, nil
}
