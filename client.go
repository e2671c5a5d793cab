package tokenpipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/tokenpipe/credentials"
	"github.com/MrEthical07/tokenpipe/identity"
	"github.com/MrEthical07/tokenpipe/internal/envelope"
	"github.com/MrEthical07/tokenpipe/jwt"
	"github.com/MrEthical07/tokenpipe/refresh"
	"github.com/MrEthical07/tokenpipe/session"
	"github.com/MrEthical07/tokenpipe/transport"
	"github.com/sirupsen/logrus"
)

// Notice texts the pipeline shows when Config.Notify enables them.
const (
	msgPermissionDenied = "You do not have permission to access this resource"
	msgNotFound         = "The requested resource does not exist"
	msgServerFailure    = "Internal server error"
	msgTransport        = "Network connection failed, please check your network settings"
	msgAPIFailure       = "Operation failed"
	msgRenewed          = "Session renewed automatically"
)

// Client is the authenticated request pipeline. It attaches the stored access token to
// every non-public request, detects expiry, renews through a single shared coordinator
// and retries once.
//
// Client is safe for concurrent use. Build one with [New].
type Client struct {
	config      Config
	store       credentials.Store
	transport   transport.Client
	identity    *identity.Client
	coordinator *refresh.Coordinator
	session     *session.Handler
	notifier    session.Notifier
	log         logrus.FieldLogger
	audit       *auditDispatcher
	metrics     *Metrics
	now         func() time.Time
}

// Close flushes the audit dispatcher.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.audit != nil {
		c.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped because the buffer was full.
func (c *Client) AuditDropped() uint64 {
	if c == nil || c.audit == nil {
		return 0
	}
	return c.audit.Dropped()
}

// MetricsSnapshot copies the in-process counters.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil || c.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return c.metrics.Snapshot()
}

// RenewalState reports whether a renewal is in flight.
func (c *Client) RenewalState() refresh.State {
	if c == nil || c.coordinator == nil {
		return refresh.StateIdle
	}
	return c.coordinator.State()
}

// RenewalCycles returns how many renewal cycles have completed.
func (c *Client) RenewalCycles() uint64 {
	if c == nil || c.coordinator == nil {
		return 0
	}
	return c.coordinator.Cycles()
}

// Coordinator returns the renewal coordinator shared by every request.
func (c *Client) Coordinator() *refresh.Coordinator { return c.coordinator }

// Store returns the credential store.
func (c *Client) Store() credentials.Store { return c.store }

// Session returns the session failure handler.
func (c *Client) Session() *session.Handler { return c.session }

func (c *Client) metricInc(id MetricID) {
	if c.metrics != nil {
		c.metrics.Inc(id)
	}
}

// Do sends env through the pipeline.
//
// A non-public request without a stored access token waits for a renewal before it is
// sent. A response signalling expiry (HTTP 401, or a 2xx envelope carrying the
// token-expired code) joins the current renewal and is sent once more. A second expiry
// signal is returned as [*ExpiryError]. A failed renewal returns an error matching
// [ErrSessionExpired]. Other failures are classified into [*HTTPError] and [*APIError]
// and are never retried.
func (c *Client) Do(ctx context.Context, env *Envelope) (*Response, error) {
	if c == nil || c.coordinator == nil {
		return nil, ErrClientNotReady
	}
	if env == nil || env.Path == "" {
		return nil, ErrInvalidRequest
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req := env.clone()
	if req.RequestID == "" {
		req.RequestID = requestIDOrNew(ctx)
	}
	c.metricInc(MetricRequest)
	log := c.log.WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"method":     req.Method,
		"path":       req.Path,
	})

	if req.Public || c.config.isPublic(req.Path) {
		c.metricInc(MetricRequestPublic)
		resp, err := c.send(ctx, req, "")
		if err != nil {
			return nil, c.transportFailure(ctx, log, err)
		}
		return c.classify(ctx, log, req, resp, envelope.Decode(resp.Body))
	}

	token, err := c.credential(ctx, log)
	if err != nil {
		return nil, err
	}

	for {
		resp, err := c.send(ctx, req, token)
		if err != nil {
			return nil, c.transportFailure(ctx, log, err)
		}

		decoded := envelope.Decode(resp.Body)
		expired, viaCode := c.expirySignal(resp.StatusCode, decoded)
		if !expired {
			return c.classify(ctx, log, req, resp, decoded)
		}
		if viaCode {
			c.metricInc(MetricExpiryCode)
		} else {
			c.metricInc(MetricExpiryStatus)
		}

		if req.RetryCount > 0 {
			c.metricInc(MetricRetryExpired)
			log.WithField("status", resp.StatusCode).Warn("access token rejected after renewal")
			return nil, &ExpiryError{Path: req.Path, StatusCode: resp.StatusCode, Code: decoded.Code}
		}

		log.WithFields(logrus.Fields{"status": resp.StatusCode, "code": decoded.Code}).Debug("access token expired")
		token, err = c.coordinator.Acquire(ctx, token)
		if err != nil {
			return nil, err
		}
		if viaCode && c.config.Notify.Renewed {
			c.notify(ctx, session.LevelInfo, msgRenewed, nil)
		}

		req.RetryCount++
		c.metricInc(MetricRetry)
	}
}

// credential returns the access token to send, renewing first when none is usable.
func (c *Client) credential(ctx context.Context, log logrus.FieldLogger) (string, error) {
	creds, err := c.store.Get(ctx)
	if err != nil {
		log.WithError(err).Warn("read credentials")
		return "", fmt.Errorf("read credentials: %w", err)
	}

	token := creds.AccessToken
	if token == "" {
		c.metricInc(MetricCredentialMissing)
		return c.coordinator.Acquire(ctx, "")
	}
	if skew := c.config.Refresh.ProactiveSkew; skew > 0 && jwt.ExpiresWithin(token, skew, c.now()) {
		c.metricInc(MetricCredentialProactive)
		return c.coordinator.Acquire(ctx, token)
	}
	return token, nil
}

func (c *Client) expirySignal(status int, env envelope.Envelope) (expired, viaCode bool) {
	if status == http.StatusUnauthorized {
		return true, false
	}
	if status >= 200 && status <= 299 && env.HasCode && env.Code == c.config.Envelope.TokenExpiredCode {
		return true, true
	}
	return false, false
}

func (c *Client) send(ctx context.Context, req *Envelope, token string) (*transport.Response, error) {
	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}
	if len(req.Body) > 0 && header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}
	header.Set(RequestIDHeader, req.RequestID)
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	return c.transport.Send(ctx, &transport.Request{
		Method: req.Method,
		URL:    c.url(req.Path, req.Params),
		Header: header,
		Body:   req.Body,
	})
}

func (c *Client) url(path string, params url.Values) string {
	u := path
	if !isAbsoluteURL(path) {
		u = strings.TrimRight(c.config.Transport.BaseURL, "/") + path
	}
	if len(params) == 0 {
		return u
	}
	if strings.Contains(u, "?") {
		return u + "&" + params.Encode()
	}
	return u + "?" + params.Encode()
}

func (c *Client) classify(ctx context.Context, log logrus.FieldLogger, req *Envelope, resp *transport.Response, env envelope.Envelope) (*Response, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := &HTTPError{StatusCode: resp.StatusCode, Body: resp.Body, Message: env.Message}
		var msg string
		switch {
		case resp.StatusCode == http.StatusForbidden:
			c.metricInc(MetricPermissionDenied)
			msg = msgPermissionDenied
		case resp.StatusCode == http.StatusNotFound:
			c.metricInc(MetricNotFound)
			msg = msgNotFound
		case resp.StatusCode >= 500:
			c.metricInc(MetricServerError)
			msg = msgServerFailure
		default:
			msg = env.Message
			if msg == "" {
				msg = fmt.Sprintf("Request failed (%d)", resp.StatusCode)
			}
		}
		log.WithField("status", resp.StatusCode).Debug("request failed")
		c.notify(ctx, session.LevelError, msg, herr)
		return nil, herr
	}

	if env.HasCode && env.Code != c.config.Envelope.SuccessCode {
		c.metricInc(MetricAPIError)
		aerr := &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Message}
		msg := env.Message
		if msg == "" {
			msg = msgAPIFailure
		}
		log.WithField("code", env.Code).Debug("api failure")
		c.notify(ctx, session.LevelError, msg, aerr)
		return nil, aerr
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		HasCode:    env.HasCode,
		Code:       env.Code,
		Message:    env.Message,
		Data:       env.Data,
		RequestID:  req.RequestID,
		Retried:    req.RetryCount > 0,
	}, nil
}

func (c *Client) transportFailure(ctx context.Context, log logrus.FieldLogger, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	c.metricInc(MetricTransportError)
	log.WithError(err).Warn("transport failure")
	c.notify(ctx, session.LevelError, msgTransport, err)
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

func (c *Client) notify(ctx context.Context, level session.Level, msg string, cause error) {
	if c.notifier == nil {
		return
	}
	if level == session.LevelError && !c.config.Notify.Errors {
		return
	}
	c.notifier.Notify(ctx, session.Notice{Level: level, Message: msg, Cause: cause})
}

/*
====================================
CONVENIENCE METHODS
====================================
*/

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (*Response, error) {
	return c.Do(ctx, &Envelope{Method: http.MethodGet, Path: path, Params: params})
}

// Post sends a POST request with body encoded as JSON. A []byte or json.RawMessage body is
// sent as is.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.doWithBody(ctx, http.MethodPost, path, body)
}

// Put sends a PUT request with body encoded as JSON.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.doWithBody(ctx, http.MethodPut, path, body)
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, params url.Values) (*Response, error) {
	return c.Do(ctx, &Envelope{Method: http.MethodDelete, Path: path, Params: params})
}

// GetJSON sends a GET request and decodes the response data into out.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, out any) error {
	resp, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	return resp.DecodeData(out)
}

// PostJSON sends a POST request and decodes the response data into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	resp, err := c.Post(ctx, path, in)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.DecodeData(out)
}

func (c *Client) doWithBody(ctx context.Context, method, path string, body any) (*Response, error) {
	data, err := encodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return c.Do(ctx, &Envelope{Method: method, Path: path, Body: data})
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(body)
	}
}
