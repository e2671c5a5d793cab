package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrEthical07/tokenpipe/credentials"
	"github.com/MrEthical07/tokenpipe/internal/envelope"
	"github.com/MrEthical07/tokenpipe/transport"
	"github.com/tidwall/gjson"
)

// ErrRejected is matched by every [*RejectedError].
var ErrRejected = errors.New("identity endpoint rejected request")

// RejectedError reports a response from the identity endpoint that was not a success.
type RejectedError struct {
	Op         string
	StatusCode int
	Code       int
	Message    string
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("%s rejected: status %d", e.Op, e.StatusCode)
	if e.Code != 0 {
		msg += fmt.Sprintf(", code %d", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// Config names the identity endpoints.
type Config struct {
	BaseURL      string
	RefreshPath  string
	RefreshParam string
	// RefreshInBody sends {"<RefreshParam>": token} as JSON instead of a query parameter.
	RefreshInBody bool
	LoginPath     string
	LogoutPath    string
	SuccessCode   int
}

// DefaultConfig returns the storefront endpoint layout.
func DefaultConfig() Config {
	return Config{
		RefreshPath:  "/user/refresh",
		RefreshParam: "refreshToken",
		LoginPath:    "/user/login",
		LogoutPath:   "/user/logout",
		SuccessCode:  200,
	}
}

// Grant is what login and refresh return.
type Grant struct {
	credentials.Credentials
	TokenType             string
	AccessTokenExpiresIn  int64
	RefreshTokenExpiresIn int64
	Identity              credentials.Identity
}

// Client talks to the identity endpoints directly, without the request pipeline, so that
// a renewal can never trigger another renewal.
type Client struct {
	transport transport.Client
	config    Config
}

// New creates a [Client].
func New(tr transport.Client, cfg Config) *Client {
	return &Client{transport: tr, config: cfg}
}

// Renew exchanges refreshToken for a new grant's credentials. It satisfies refresh.Renewer.
func (c *Client) Renew(ctx context.Context, refreshToken string) (credentials.Credentials, error) {
	g, err := c.Refresh(ctx, refreshToken)
	if err != nil {
		return credentials.Credentials{}, err
	}
	return g.Credentials, nil
}

// Refresh calls the refresh endpoint and returns the full grant.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Grant, error) {
	req := &transport.Request{
		Method: http.MethodPost,
		Header: http.Header{"Accept": {"application/json"}},
	}
	if c.config.RefreshInBody {
		body, err := json.Marshal(map[string]string{c.config.RefreshParam: refreshToken})
		if err != nil {
			return Grant{}, err
		}
		req.URL = c.url(c.config.RefreshPath)
		req.Body = body
		req.Header.Set("Content-Type", "application/json")
	} else {
		q := url.Values{}
		q.Set(c.config.RefreshParam, refreshToken)
		req.URL = c.url(c.config.RefreshPath) + "?" + q.Encode()
	}

	payload, err := c.call(ctx, "refresh", req)
	if err != nil {
		return Grant{}, err
	}
	return grantFrom(payload), nil
}

// Login exchanges a username and password for a grant.
func (c *Client) Login(ctx context.Context, username, password string) (Grant, error) {
	body, err := json.Marshal(struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{username, password})
	if err != nil {
		return Grant{}, err
	}

	payload, err := c.call(ctx, "login", &transport.Request{
		Method: http.MethodPost,
		URL:    c.url(c.config.LoginPath),
		Header: http.Header{
			"Accept":       {"application/json"},
			"Content-Type": {"application/json"},
		},
		Body: body,
	})
	if err != nil {
		return Grant{}, err
	}
	return grantFrom(payload), nil
}

// Logout tells the backend to end the session behind accessToken.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	req := &transport.Request{
		Method: http.MethodPost,
		URL:    c.url(c.config.LogoutPath),
		Header: http.Header{"Accept": {"application/json"}},
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	_, err := c.call(ctx, "logout", req)
	return err
}

func (c *Client) call(ctx context.Context, op string, req *transport.Request) (gjson.Result, error) {
	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: %w", op, err)
	}

	env := envelope.Decode(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gjson.Result{}, &RejectedError{Op: op, StatusCode: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if env.HasCode && env.Code != c.config.SuccessCode {
		return gjson.Result{}, &RejectedError{Op: op, StatusCode: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	return envelope.Payload(resp.Body), nil
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(c.config.BaseURL, "/") + path
}

func grantFrom(p gjson.Result) Grant {
	g := Grant{
		Credentials: credentials.Credentials{
			AccessToken:  p.Get("accessToken").String(),
			RefreshToken: p.Get("refreshToken").String(),
		},
		TokenType:             p.Get("tokenType").String(),
		AccessTokenExpiresIn:  p.Get("accessTokenExpiresIn").Int(),
		RefreshTokenExpiresIn: p.Get("refreshTokenExpiresIn").Int(),
	}
	if u := p.Get("userInfo"); u.IsObject() {
		g.Identity = credentials.Identity(u.Raw)
	}
	return g
}
