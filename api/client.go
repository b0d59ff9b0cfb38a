// Package api is the JSON transport shared by the Link and Financial
// Connections clients. It never retries on its own; callers decide based
// on the returned error type.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://api.stripe.com/v1/"

	// DefaultAPIVersion is sent in the Stripe-Version header.
	DefaultAPIVersion = "2020-08-27"

	// DefaultRequestSurface identifies this SDK in every request body.
	DefaultRequestSurface = "go_link_connect"

	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client when
	// no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads.
	maxAPIResponseBytes = 1024 * 1024
)

// Observer receives one call per completed request. Implementations must
// be safe for concurrent use.
type Observer interface {
	ObserveRequest(resource string, status int, outcome string, elapsed time.Duration)
}

// Credentials selects the secrets attached to a request. Empty fields are
// omitted.
type Credentials struct {
	// PublishableKey overrides the client's default key for this call.
	PublishableKey string

	// ConsumerSessionClientSecret authenticates Link consumer calls.
	ConsumerSessionClientSecret string

	// ClientSecret authenticates Financial Connections session calls.
	ClientSecret string
}

// Request describes one API call.
type Request struct {
	Method         string
	Resource       string
	Params         any
	Credentials    Credentials
	IdempotencyKey string
}

// Doer executes requests and decodes the response into out. *Client is
// the production implementation.
type Doer interface {
	Do(ctx context.Context, req Request, out any) error
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	PublishableKey string
	APIVersion     string
	RequestSurface string
	UserAgent      string
	HTTPClient     *http.Client
	Timeout        time.Duration
	Observer       Observer
}

// Client talks to the API over JSON.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	publishableKey string
	apiVersion     string
	requestSurface string
	userAgent      string
	observer       Observer
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so the Authorization header never
// reaches a third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client. A nil HTTPClient gets Timeout (30
// seconds when zero) and the same-host redirect policy.
func NewClient(cfg Config) (*Client, error) {
	if cfg.PublishableKey == "" {
		return nil, &IntegrationError{Msg: "publishable key is required"}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = httpClientTimeout
		}

		httpClient = &http.Client{
			Timeout:       timeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	c := &Client{
		httpClient:     httpClient,
		baseURL:        cfg.BaseURL,
		publishableKey: cfg.PublishableKey,
		apiVersion:     cfg.APIVersion,
		requestSurface: cfg.RequestSurface,
		userAgent:      cfg.UserAgent,
		observer:       cfg.Observer,
	}

	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}

	if !strings.HasSuffix(c.baseURL, "/") {
		c.baseURL += "/"
	}

	if c.apiVersion == "" {
		c.apiVersion = DefaultAPIVersion
	}

	if c.requestSurface == "" {
		c.requestSurface = DefaultRequestSurface
	}

	if c.userAgent == "" {
		c.userAgent = "link-connect-go"
	}

	return c, nil
}

// RequestSurface returns the surface discriminator sent with each request.
func (c *Client) RequestSurface() string {
	return c.requestSurface
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Non-printable characters are replaced to
// prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// buildBody merges params with the request surface and credentials into
// a single JSON object.
func (c *Client) buildBody(params any, creds Credentials) ([]byte, error) {
	fields := make(map[string]json.RawMessage)

	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshalling request params: %w", err)
		}

		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("request params must encode as a JSON object: %w", err)
		}
	}

	surface, _ := json.Marshal(c.requestSurface)
	fields["request_surface"] = surface

	if creds.ConsumerSessionClientSecret != "" {
		raw, _ := json.Marshal(map[string]string{
			"consumer_session_client_secret": creds.ConsumerSessionClientSecret,
		})
		fields["credentials"] = raw
	}

	if creds.ClientSecret != "" {
		raw, _ := json.Marshal(creds.ClientSecret)
		fields["client_secret"] = raw
	}

	return json.Marshal(fields)
}

// apiErrorBody is the error envelope returned for non-2xx responses.
type apiErrorBody struct {
	Error *struct {
		Type        string          `json:"type"`
		Code        string          `json:"code"`
		Message     string          `json:"message"`
		Param       string          `json:"param"`
		ExtraFields json.RawMessage `json:"extra_fields"`
	} `json:"error"`
}

func parseServerError(status int, body []byte) *ServerError {
	var env apiErrorBody
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		return &ServerError{
			StatusCode:  status,
			Type:        env.Error.Type,
			Code:        env.Error.Code,
			Message:     env.Error.Message,
			Param:       env.Error.Param,
			extraFields: env.Error.ExtraFields,
		}
	}

	return &ServerError{
		StatusCode: status,
		Message:    sanitizeResponseBody(body),
	}
}

// Do sends req and decodes a 2xx response into out (skipped when out is
// nil). A 202 response returns ErrNotReady.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	start := time.Now()
	status, err := c.do(ctx, req, out)

	if c.observer != nil {
		c.observer.ObserveRequest(req.Resource, status, outcomeOf(err), time.Since(start))
	}

	return err
}

func (c *Client) do(ctx context.Context, r Request, out any) (int, error) {
	method := r.Method
	if method == "" {
		method = http.MethodPost
	}

	payload, err := c.buildBody(r.Params, r.Credentials)
	if err != nil {
		return 0, &IntegrationError{Msg: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+r.Resource, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	key := c.publishableKey
	if r.Credentials.PublishableKey != "" {
		key = r.Credentials.PublishableKey
	}

	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Version", c.apiVersion)
	req.Header.Set("User-Agent", c.userAgent)

	if r.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", r.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &NetworkError{Resource: r.Resource, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return resp.StatusCode, &NetworkError{Resource: r.Resource, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode == http.StatusAccepted {
		return resp.StatusCode, ErrNotReady
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, parseServerError(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, &DecodingError{Resource: r.Resource, Err: err}
		}
	}

	return resp.StatusCode, nil
}

// Post sends a POST and decodes the response as T.
func Post[T any](ctx context.Context, d Doer, resource string, params any, creds Credentials) (*T, error) {
	var out T
	if err := d.Do(ctx, Request{Resource: resource, Params: params, Credentials: creds}, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func outcomeOf(err error) string {
	var (
		ne *NetworkError
		se *ServerError
		de *DecodingError
		ie *IntegrationError
	)

	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.As(err, &ne):
		return "network_error"
	case errors.As(err, &se):
		return "server_error"
	case errors.As(err, &de):
		return "decoding_error"
	case errors.As(err, &ie):
		return "integration_error"
	default:
		return "error"
	}
}
