// Package link implements the Link consumer protocol: consumer session
// lookup, sign-up and verification, and saved payment details.
package link

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alexjbarnes/link-connect/api"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const (
	resourceLookup              = "consumers/sessions/lookup"
	resourceSignUp              = "consumers/accounts/sign_up"
	resourceStartVerification   = "consumers/sessions/start_verification"
	resourceConfirmVerification = "consumers/sessions/confirm_verification"
	resourceLogOut              = "consumers/sessions/log_out"
)

// Client issues Link consumer requests. Lookup and sign-up keep the
// session cookie in the CookieStore current.
type Client struct {
	api     api.Doer
	cookies CookieStore
	logger  *slog.Logger

	// newIdempotencyKey is replaced in tests.
	newIdempotencyKey func() string
}

// NewClient creates a Client. A nil logger discards output.
func NewClient(doer api.Doer, cookies CookieStore, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if cookies == nil {
		cookies = NewMemoryCookieStore()
	}

	return &Client{
		api:               doer,
		cookies:           cookies,
		logger:            logger,
		newIdempotencyKey: uuid.NewString,
	}
}

// NormalizeEmail trims, lower-cases and NFC-normalizes an address so
// lookups for visually identical addresses hit the same consumer.
func NormalizeEmail(email string) string {
	return norm.NFC.String(strings.ToLower(strings.TrimSpace(email)))
}

// LookupKind is the outcome of a consumer session lookup.
type LookupKind int

const (
	LookupFound LookupKind = iota
	LookupNotFound
	LookupNoAvailableParams
)

func (k LookupKind) String() string {
	switch k {
	case LookupFound:
		return "found"
	case LookupNotFound:
		return "not_found"
	case LookupNoAvailableParams:
		return "no_available_lookup_params"
	default:
		return "unknown"
	}
}

// LookupResult holds the lookup outcome. Account is set only for
// LookupFound; Message carries the server's reason for LookupNotFound.
type LookupResult struct {
	Kind    LookupKind
	Account *Account
	Message string
}

type lookupCookies struct {
	VerificationSessionClientSecrets []string `json:"verification_session_client_secrets"`
}

type lookupRequest struct {
	EmailAddress string         `json:"email_address,omitempty"`
	Cookies      *lookupCookies `json:"cookies,omitempty"`
}

type lookupResponse struct {
	Exists                  bool             `json:"exists"`
	ConsumerSession         *ConsumerSession `json:"consumer_session"`
	PublishableKey          string           `json:"publishable_key"`
	AuthSessionClientSecret string           `json:"auth_session_client_secret"`
	ErrorMessage            string           `json:"error_message"`
}

// sessionCookie reads the persisted cookie. A store failure is logged and
// treated as no cookie.
func (c *Client) sessionCookie() (string, bool) {
	cookie, ok, err := c.cookies.Cookie(SessionCookieKey)
	if err != nil {
		c.logger.Warn("reading session cookie", slog.String("error", err.Error()))
		return "", false
	}

	return cookie, ok && cookie != ""
}

// LookupConsumerSession looks up a consumer by email, by the persisted
// session cookie, or both. With neither available it returns
// LookupNoAvailableParams without a network call. The cookie store is
// updated before the result is returned.
func (c *Client) LookupConsumerSession(ctx context.Context, email string) (*LookupResult, error) {
	email = NormalizeEmail(email)

	cookie, hasCookie := c.sessionCookie()

	if email == "" && !hasCookie {
		return &LookupResult{Kind: LookupNoAvailableParams}, nil
	}

	req := lookupRequest{EmailAddress: email}
	if hasCookie {
		req.Cookies = &lookupCookies{VerificationSessionClientSecrets: []string{cookie}}
	}

	resp, err := api.Post[lookupResponse](ctx, c.api, resourceLookup, req, api.Credentials{})
	if err != nil {
		return nil, fmt.Errorf("looking up consumer session: %w", err)
	}

	if resp.Exists && resp.ConsumerSession != nil {
		if resp.AuthSessionClientSecret != "" {
			if err := c.cookies.SetCookie(SessionCookieKey, resp.AuthSessionClientSecret); err != nil {
				c.logger.Warn("failed to save session cookie", slog.String("error", err.Error()))
			}
		}

		acctEmail := resp.ConsumerSession.EmailAddress
		if acctEmail == "" {
			acctEmail = email
		}

		return &LookupResult{
			Kind:    LookupFound,
			Account: NewAccount(acctEmail, resp.ConsumerSession, resp.PublishableKey),
		}, nil
	}

	if hasCookie {
		c.logger.Debug("session cookie no longer valid, deleting")

		if err := c.cookies.DeleteCookie(SessionCookieKey); err != nil {
			c.logger.Warn("failed to delete session cookie", slog.String("error", err.Error()))
		}
	}

	return &LookupResult{Kind: LookupNotFound, Message: resp.ErrorMessage}, nil
}

// SignUpParams are the fields for creating a new consumer.
type SignUpParams struct {
	EmailAddress  string `json:"email_address"`
	PhoneNumber   string `json:"phone_number"`
	Country       string `json:"country"`
	LegalName     string `json:"legal_name,omitempty"`
	Locale        string `json:"locale,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	ConsentAction string `json:"consent_action,omitempty"`
}

type signUpResponse struct {
	SessionWithPublishableKey
	AuthSessionClientSecret string `json:"auth_session_client_secret"`
}

// SignUp creates a consumer. It is not retried on failure.
func (c *Client) SignUp(ctx context.Context, params SignUpParams) (*SessionWithPublishableKey, error) {
	params.EmailAddress = NormalizeEmail(params.EmailAddress)
	if params.EmailAddress == "" || params.PhoneNumber == "" {
		return nil, &api.IntegrationError{Msg: "sign up requires email address and phone number"}
	}

	var resp signUpResponse

	err := c.api.Do(ctx, api.Request{
		Resource:       resourceSignUp,
		Params:         params,
		IdempotencyKey: c.newIdempotencyKey(),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("signing up consumer: %w", err)
	}

	if resp.AuthSessionClientSecret != "" {
		if err := c.cookies.SetCookie(SessionCookieKey, resp.AuthSessionClientSecret); err != nil {
			c.logger.Warn("failed to save session cookie", slog.String("error", err.Error()))
		}
	}

	return &resp.SessionWithPublishableKey, nil
}

type sessionResponse struct {
	ConsumerSession ConsumerSession `json:"consumer_session"`
}

type startVerificationRequest struct {
	Type    string         `json:"type"`
	Locale  string         `json:"locale,omitempty"`
	Cookies *lookupCookies `json:"cookies,omitempty"`
}

type confirmVerificationRequest struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// StartVerification sends an SMS code. The returned session replaces the
// account's session.
func (c *Client) StartVerification(ctx context.Context, acct *Account, locale string) (*ConsumerSession, error) {
	creds, err := acct.credentials()
	if err != nil {
		return nil, err
	}

	req := startVerificationRequest{Type: "SMS", Locale: locale}
	if cookie, ok := c.sessionCookie(); ok {
		req.Cookies = &lookupCookies{VerificationSessionClientSecrets: []string{cookie}}
	}

	resp, err := api.Post[sessionResponse](ctx, c.api, resourceStartVerification, req, creds)
	if err != nil {
		return nil, fmt.Errorf("starting verification: %w", err)
	}

	acct.replaceSession(&resp.ConsumerSession)

	return &resp.ConsumerSession, nil
}

// ConfirmVerification submits the SMS code. The returned session replaces
// the account's session.
func (c *Client) ConfirmVerification(ctx context.Context, acct *Account, code string) (*ConsumerSession, error) {
	creds, err := acct.credentials()
	if err != nil {
		return nil, err
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &api.IntegrationError{Msg: "verification code is required"}
	}

	resp, err := api.Post[sessionResponse](ctx, c.api, resourceConfirmVerification, confirmVerificationRequest{
		Type: "SMS",
		Code: code,
	}, creds)
	if err != nil {
		return nil, fmt.Errorf("confirming verification: %w", err)
	}

	acct.replaceSession(&resp.ConsumerSession)

	return &resp.ConsumerSession, nil
}

// LogOut ends the consumer session and drops the persisted cookie.
func (c *Client) LogOut(ctx context.Context, acct *Account) error {
	creds, err := acct.credentials()
	if err != nil {
		return err
	}

	if _, err := api.Post[sessionResponse](ctx, c.api, resourceLogOut, struct{}{}, creds); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}

	if err := c.cookies.DeleteCookie(SessionCookieKey); err != nil {
		c.logger.Warn("failed to delete session cookie", slog.String("error", err.Error()))
	}

	acct.replaceSession(nil)

	return nil
}
