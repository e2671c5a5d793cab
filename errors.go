package tokenpipe

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MrEthical07/tokenpipe/refresh"
)

var (
	// ErrClientNotReady is returned by methods called on a nil or unbuilt Client.
	ErrClientNotReady = errors.New("client not ready")
	// ErrInvalidRequest is returned for a nil or malformed Envelope.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSessionExpired is returned to every request rejected by a failed renewal.
	ErrSessionExpired = refresh.ErrSessionExpired
	// ErrTokenExpired is returned when a request still signals expiry after its one retry.
	ErrTokenExpired = errors.New("token expired after renewal")
	// ErrTransport is returned when no response was received.
	ErrTransport = errors.New("transport failure")
	// ErrUnauthorized matches a 401 from a public endpoint.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPermissionDenied matches a 403. It never triggers renewal.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound matches a 404.
	ErrNotFound = errors.New("resource not found")
	// ErrServerFailure matches any 5xx.
	ErrServerFailure = errors.New("server failure")
	// ErrRequestFailed matches any other non-2xx status.
	ErrRequestFailed = errors.New("request failed")
	// ErrAPIFailure matches an HTTP-success response whose envelope code is not the success code.
	ErrAPIFailure = errors.New("api failure")
	// ErrLoginFailed is returned when the login endpoint refuses the credentials.
	ErrLoginFailed = errors.New("login failed")
)

// HTTPError carries a non-2xx response that was not an expiry signal.
type HTTPError struct {
	StatusCode int
	Body       []byte
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, string(e.Body))
}

// Is maps the status code to its sentinel.
func (e *HTTPError) Is(target error) bool {
	return target == statusSentinel(e.StatusCode)
}

func statusSentinel(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrPermissionDenied
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 500:
		return ErrServerFailure
	default:
		return ErrRequestFailed
	}
}

// APIError carries an envelope whose code is neither success nor token-expired.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api failure: code %d", e.Code)
	}
	return fmt.Sprintf("api failure: code %d: %s", e.Code, e.Message)
}

func (e *APIError) Is(target error) bool { return target == ErrAPIFailure }

// ExpiryError is returned when the retried request signalled expiry again.
type ExpiryError struct {
	Path       string
	StatusCode int
	Code       int
}

func (e *ExpiryError) Error() string {
	return fmt.Sprintf("%s: %s (status %d, code %d)", e.Path, ErrTokenExpired, e.StatusCode, e.Code)
}

func (e *ExpiryError) Is(target error) bool { return target == ErrTokenExpired }
