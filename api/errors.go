package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// ErrDeallocatedCaller is returned when the object that started an async
// operation was closed before the operation finished. It is terminal: the
// caller must not retry.
var ErrDeallocatedCaller = errors.New("caller was closed before the operation completed")

// ErrNotReady is returned when the server accepted a polling request but
// the result is not available yet (HTTP 202).
var ErrNotReady = errors.New("result not ready")

// NetworkError wraps a transport-level failure (DNS, connection refused,
// timeouts, truncated bodies). These are safe to retry.
type NetworkError struct {
	Resource string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error calling %s: %v", e.Resource, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a structured application error returned by the API.
type ServerError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
	Param      string

	// raw JSON of error.extra_fields, queried with gjson.
	extraFields []byte
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether the status code indicates a server-side
// condition that may clear without any change to the request.
func (e *ServerError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// ExtraField returns the value at path inside error.extra_fields. Paths
// use gjson syntax ("institution_unavailable", "a.b").
func (e *ServerError) ExtraField(path string) (gjson.Result, bool) {
	if len(e.extraFields) == 0 {
		return gjson.Result{}, false
	}

	r := gjson.GetBytes(e.extraFields, path)

	return r, r.Exists()
}

// ExtraBool returns a boolean extra field, false when absent.
func (e *ServerError) ExtraBool(path string) bool {
	r, ok := e.ExtraField(path)
	return ok && r.Bool()
}

// ExtraTime returns an extra field holding a unix timestamp in seconds.
func (e *ServerError) ExtraTime(path string) (time.Time, bool) {
	r, ok := e.ExtraField(path)
	if !ok || r.Type != gjson.Number || r.Int() <= 0 {
		return time.Time{}, false
	}

	return time.Unix(r.Int(), 0).UTC(), true
}

// NewServerError builds a ServerError. extraFields must be a JSON object
// or nil.
func NewServerError(status int, code, message string, extraFields []byte) *ServerError {
	return &ServerError{
		StatusCode:  status,
		Code:        code,
		Message:     message,
		extraFields: extraFields,
	}
}

// DecodingError means the response did not match the expected schema.
type DecodingError struct {
	Resource string
	Err      error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("decoding response from %s: %v", e.Resource, e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }

// IntegrationError reports caller misuse, such as a missing key or calling
// an OAuth-only operation on a legacy session.
type IntegrationError struct {
	Msg string
}

func (e *IntegrationError) Error() string { return "integration error: " + e.Msg }

// IsRetryable reports whether err (or any error in its chain) is a
// transport failure or a temporary server condition.
func IsRetryable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}

	var se *ServerError
	if errors.As(err, &se) {
		return se.Temporary()
	}

	return false
}

// AsServerError returns the ServerError in err's chain, if any.
func AsServerError(err error) (*ServerError, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se, true
	}

	return nil, false
}
