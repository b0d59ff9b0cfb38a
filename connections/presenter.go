package connections

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// DefaultCallbackScheme is the URL scheme the partner redirects to when
// external authentication finishes.
const DefaultCallbackScheme = "stripe-auth"

var (
	// ErrPresenterUnavailable means the external auth surface could not be
	// shown at all, for example because there is no window to attach to.
	ErrPresenterUnavailable = errors.New("external auth presenter unavailable")

	// ErrPresentationCanceled means the user dismissed the external auth
	// surface without completing it.
	ErrPresentationCanceled = errors.New("external auth canceled by user")
)

// ExternalAuthPresenter shows authURL to the user outside the app and
// returns the callback URL the partner redirected to.
type ExternalAuthPresenter interface {
	Present(ctx context.Context, authURL *url.URL, callbackScheme string) (*url.URL, error)
}

// PresenterFunc adapts a function to ExternalAuthPresenter.
type PresenterFunc func(ctx context.Context, authURL *url.URL, callbackScheme string) (*url.URL, error)

func (f PresenterFunc) Present(ctx context.Context, authURL *url.URL, callbackScheme string) (*url.URL, error) {
	return f(ctx, authURL, callbackScheme)
}

// IsSuccessCallback reports whether returnURL is the success redirect:
// its scheme is callbackScheme and it mentions "success".
func IsSuccessCallback(returnURL *url.URL, callbackScheme string) bool {
	if returnURL == nil {
		return false
	}

	return strings.EqualFold(returnURL.Scheme, callbackScheme) && strings.Contains(returnURL.String(), "success")
}
