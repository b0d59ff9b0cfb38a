package errors

import "errors"

// Configuration errors.
var (
	ErrMissingPublishableKey = errors.New("LINK_PUBLISHABLE_KEY is required")
	ErrMissingClientSecret   = errors.New("LINK_FC_CLIENT_SECRET is required for connect")
)

// Command errors.
var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingArgument = errors.New("missing argument")
	ErrNoConsumer      = errors.New("no Link consumer for this email")
	ErrNotVerified     = errors.New("consumer session is not verified")
)

// Connect errors.
var (
	ErrUnsupportedPane = errors.New("pane is not supported by linkctl")
	ErrConnectStopped  = errors.New("bank linking stopped before completion")
)
