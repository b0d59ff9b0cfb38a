// Package connections implements the Financial Connections bank-linking
// flow: manifest synchronization, institution search, the auth-session
// lifecycle, the partner authentication controller and pane navigation.
package connections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/alexjbarnes/link-connect/api"
)

const (
	resourceSynchronize          = "financial_connections/sessions/synchronize"
	resourceFeaturedInstitutions = "connections/featured_institutions"
	resourceSearchInstitutions   = "connections/institutions"
	resourceAuthSessions         = "connections/auth_sessions"
	resourceOAuthResults         = "connections/auth_sessions/oauth_results"
	resourceAuthorized           = "connections/auth_sessions/authorized"
	resourceCancel               = "connections/auth_sessions/cancel"
	resourceRetrieve             = "connections/auth_sessions/retrieve"
	resourceAccounts             = "connections/auth_sessions/accounts"
	resourceSelectedAccounts     = "connections/auth_sessions/selected_accounts"
	resourceComplete             = "link_account_sessions/complete"

	// returnURLParam is the one-time redirect parameter scrubbed after a
	// verified completion.
	returnURLParam = "return_url"
)

//go:generate mockgen -destination=mock_connections_test.go -package=connections . AuthSessionAPI,ExternalAuthPresenter

// AuthSessionAPI is the server surface the lifecycle manager drives.
// *Client is the production implementation.
type AuthSessionAPI interface {
	CreateAuthSession(ctx context.Context, institutionID string) (*AuthSession, error)
	FetchOAuthResults(ctx context.Context, sessionID string) (*OAuthResults, error)
	AuthorizeAuthSession(ctx context.Context, sessionID, publicToken string) (*AuthSession, error)
	CancelAuthSession(ctx context.Context, sessionID string) (*AuthSession, error)
	RetrieveAuthSession(ctx context.Context, sessionID string) (*AuthSession, error)
	ClearReturnURL(ctx context.Context, sessionID, authURL string) (*AuthSession, error)
}

// Client issues Financial Connections requests for one linking session.
type Client struct {
	api          api.Doer
	clientSecret string
	logger       *slog.Logger
}

// NewClient creates a Client bound to the linking session identified by
// clientSecret.
func NewClient(doer api.Doer, clientSecret string, logger *slog.Logger) (*Client, error) {
	if clientSecret == "" {
		return nil, &api.IntegrationError{Msg: "financial connections client secret is required"}
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{api: doer, clientSecret: clientSecret, logger: logger}, nil
}

func (c *Client) creds() api.Credentials {
	return api.Credentials{ClientSecret: c.clientSecret}
}

// Synchronize fetches the current manifest.
func (c *Client) Synchronize(ctx context.Context) (*Manifest, error) {
	params := map[string]any{
		"expand": []string{"manifest.active_auth_session"},
		"mobile": map[string]any{"fullscreen": true, "hide_close_button": false},
	}

	resp, err := api.Post[struct {
		Manifest *Manifest `json:"manifest"`
	}](ctx, c.api, resourceSynchronize, params, c.creds())
	if err != nil {
		return nil, fmt.Errorf("synchronizing manifest: %w", err)
	}

	if resp.Manifest == nil {
		return nil, &api.DecodingError{Resource: resourceSynchronize, Err: errors.New("response has no manifest")}
	}

	return resp.Manifest, nil
}

type institutionList struct {
	Data []Institution `json:"data"`
}

// FeaturedInstitutions lists the institutions shown before any search.
func (c *Client) FeaturedInstitutions(ctx context.Context, limit int) ([]Institution, error) {
	resp, err := api.Post[institutionList](ctx, c.api, resourceFeaturedInstitutions, map[string]any{"limit": limit}, c.creds())
	if err != nil {
		return nil, fmt.Errorf("listing featured institutions: %w", err)
	}

	return resp.Data, nil
}

// SearchInstitutions searches institutions by name.
func (c *Client) SearchInstitutions(ctx context.Context, query string, limit int) ([]Institution, error) {
	params := map[string]any{"query": query, "limit": limit}

	resp, err := api.Post[institutionList](ctx, c.api, resourceSearchInstitutions, params, c.creds())
	if err != nil {
		return nil, fmt.Errorf("searching institutions: %w", err)
	}

	return resp.Data, nil
}

// CreateAuthSession starts authentication with an institution.
func (c *Client) CreateAuthSession(ctx context.Context, institutionID string) (*AuthSession, error) {
	return api.Post[AuthSession](ctx, c.api, resourceAuthSessions, map[string]any{"institution": institutionID}, c.creds())
}

// FetchOAuthResults returns api.ErrNotReady until the redirect has been
// processed server side.
func (c *Client) FetchOAuthResults(ctx context.Context, sessionID string) (*OAuthResults, error) {
	return api.Post[OAuthResults](ctx, c.api, resourceOAuthResults, map[string]any{"id": sessionID}, c.creds())
}

// AuthorizeAuthSession exchanges an OAuth public token.
func (c *Client) AuthorizeAuthSession(ctx context.Context, sessionID, publicToken string) (*AuthSession, error) {
	params := map[string]any{"id": sessionID, "public_token": publicToken}
	return api.Post[AuthSession](ctx, c.api, resourceAuthorized, params, c.creds())
}

func (c *Client) CancelAuthSession(ctx context.Context, sessionID string) (*AuthSession, error) {
	return api.Post[AuthSession](ctx, c.api, resourceCancel, map[string]any{"id": sessionID}, c.creds())
}

func (c *Client) RetrieveAuthSession(ctx context.Context, sessionID string) (*AuthSession, error) {
	return api.Post[AuthSession](ctx, c.api, resourceRetrieve, map[string]any{"id": sessionID}, c.creds())
}

// ClearReturnURL sends authURL back with its one-time return_url removed.
func (c *Client) ClearReturnURL(ctx context.Context, sessionID, authURL string) (*AuthSession, error) {
	params := map[string]any{"id": sessionID, "url": scrubReturnURL(authURL)}
	return api.Post[AuthSession](ctx, c.api, resourceAuthSessions, params, c.creds())
}

// PollAccounts returns api.ErrNotReady while the institution is still
// producing accounts.
func (c *Client) PollAccounts(ctx context.Context, sessionID string) (*AccountsResult, error) {
	resp, err := api.Post[AccountsResult](ctx, c.api, resourceAccounts, map[string]any{"id": sessionID}, c.creds())
	if err != nil {
		return nil, fmt.Errorf("polling accounts: %w", err)
	}

	return resp, nil
}

// WaitForAccounts polls until accounts are available, ctx ends or
// attempts run out.
func (c *Client) WaitForAccounts(ctx context.Context, sessionID string, interval time.Duration, attempts int) (*AccountsResult, error) {
	return pollUntilReady(ctx, interval, attempts, func(ctx context.Context) (*AccountsResult, error) {
		return c.PollAccounts(ctx, sessionID)
	})
}

// SelectAccounts records the accounts the user chose to link.
func (c *Client) SelectAccounts(ctx context.Context, sessionID string, accountIDs []string) (*AccountsResult, error) {
	if len(accountIDs) == 0 {
		return nil, &api.IntegrationError{Msg: "at least one account must be selected"}
	}

	params := map[string]any{"id": sessionID, "selected_accounts": accountIDs}

	resp, err := api.Post[AccountsResult](ctx, c.api, resourceSelectedAccounts, params, c.creds())
	if err != nil {
		return nil, fmt.Errorf("selecting accounts: %w", err)
	}

	return resp, nil
}

// Complete finishes the linking session.
func (c *Client) Complete(ctx context.Context) (*CompletedSession, error) {
	resp, err := api.Post[CompletedSession](ctx, c.api, resourceComplete, map[string]any{}, c.creds())
	if err != nil {
		return nil, fmt.Errorf("completing session: %w", err)
	}

	c.logger.Info("linking session completed", slog.String("session", resp.ID), slog.Int("accounts", len(resp.Accounts.Data)))

	return resp, nil
}

func scrubReturnURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	if !q.Has(returnURLParam) {
		return raw
	}

	q.Del(returnURLParam)
	u.RawQuery = q.Encode()

	return u.String()
}

func hasReturnURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	return u.Query().Has(returnURLParam)
}
