package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoResponse is matched by every [*Error]: the request never produced an HTTP response.
var ErrNoResponse = errors.New("no response received")

// ErrBodyTooLarge means the response body exceeded Config.MaxBodyBytes. The partial body
// is discarded, so a cut-off envelope is never mistaken for a complete one.
var ErrBodyTooLarge = errors.New("response body too large")

// DefaultTimeout bounds a single exchange when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Request is one outgoing HTTP exchange. URL must be absolute.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully buffered HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client sends a request and returns the buffered response. A response with any status
// code is a success from the transport's point of view; only a missing response is an error.
type Client interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a function to [Client].
type Func func(ctx context.Context, req *Request) (*Response, error)

func (f Func) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Error reports a transport-level failure.
type Error struct {
	Method string
	URL    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Method, e.URL, ErrNoResponse, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrNoResponse }

// Config tunes [HTTP].
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64 // 0 means unlimited; larger bodies fail with ErrBodyTooLarge
}

// HTTP is the net/http implementation of [Client].
type HTTP struct {
	client       *http.Client
	maxBodyBytes int64
}

// NewHTTP returns an [HTTP] client. base may be nil; it is copied, never mutated.
func NewHTTP(base *http.Client, cfg Config) *HTTP {
	c := &http.Client{}
	if base != nil {
		*c = *base
	}
	if c.Transport == nil {
		c.Transport = http.DefaultTransport
	}
	if cfg.UserAgent != "" {
		c.Transport = &userAgentRoundTripper{
			Wrapped:   c.Transport,
			UserAgent: cfg.UserAgent,
		}
	}
	c.Timeout = cfg.Timeout
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	return &HTTP{client: c, maxBodyBytes: cfg.MaxBodyBytes}
}

func (h *HTTP) Send(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &Error{Method: req.Method, URL: req.URL, Err: err}
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Method: req.Method, URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if h.maxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, h.maxBodyBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &Error{Method: req.Method, URL: req.URL, Err: fmt.Errorf("read body: %w", err)}
	}
	if h.maxBodyBytes > 0 && int64(len(data)) > h.maxBodyBytes {
		return nil, &Error{Method: req.Method, URL: req.URL, Err: fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, h.maxBodyBytes)}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

// userAgentRoundTripper sets the User-Agent header on a clone of every request.
type userAgentRoundTripper struct {
	Wrapped   http.RoundTripper
	UserAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.UserAgent)
	return rt.Wrapped.RoundTrip(clone)
}
