package tokenpipe

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config holds every tunable of a Client. Start from [DefaultConfig].
type Config struct {
	Transport   TransportConfig
	Envelope    EnvelopeConfig
	Refresh     RefreshConfig
	Account     AccountConfig
	Session     SessionConfig
	Store       StoreConfig
	Notify      NotifyConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
	PublicPaths []string
}

/*
====================================
TRANSPORT CONFIG
====================================
*/

// TransportConfig configures the HTTP transport.
type TransportConfig struct {
	BaseURL      string
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
}

/*
====================================
ENVELOPE CONFIG
====================================
*/

// EnvelopeConfig names the application codes of the {code, message, data} envelope.
type EnvelopeConfig struct {
	SuccessCode      int
	TokenExpiredCode int
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig configures credential renewal.
type RefreshConfig struct {
	Path   string
	Param  string
	InBody bool
	// Timeout bounds one renewal, independent of any caller's context.
	Timeout time.Duration
	// ProactiveSkew treats a JWT access token expiring within the skew as absent.
	// Zero disables the check.
	ProactiveSkew  time.Duration
	EnableThrottle bool
	MaxAttempts    int
	Window         time.Duration
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig names the login, logout and user-info endpoints.
type AccountConfig struct {
	LoginPath    string
	LogoutPath   string
	UserInfoPath string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures what happens when the session is lost.
type SessionConfig struct {
	LoginPage      string
	EntryPages     []string
	ExpiredMessage string
}

// StoreConfig configures the Redis credential store.
type StoreConfig struct {
	RedisPrefix string
	TTL         time.Duration
}

// NotifyConfig selects which user notices the pipeline emits.
type NotifyConfig struct {
	Errors  bool
	Renewed bool
}

// AuditConfig configures the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig enables the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the storefront defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Transport: TransportConfig{
			Timeout:   10 * time.Second,
			UserAgent: "tokenpipe",
		},
		Envelope: EnvelopeConfig{
			SuccessCode:      200,
			TokenExpiredCode: 1007,
		},
		Refresh: RefreshConfig{
			Path:           "/user/refresh",
			Param:          "refreshToken",
			Timeout:        10 * time.Second,
			ProactiveSkew:  0,
			EnableThrottle: false,
			MaxAttempts:    20,
			Window:         time.Minute,
		},
		Account: AccountConfig{
			LoginPath:    "/user/login",
			LogoutPath:   "/user/logout",
			UserInfoPath: "/user/info",
		},
		Session: SessionConfig{
			LoginPage:      "/user/login",
			EntryPages:     []string{"/user/login", "/user/register"},
			ExpiredMessage: "Session expired, please sign in again",
		},
		Store: StoreConfig{
			RedisPrefix: "tp",
		},
		Notify: NotifyConfig{
			Errors:  true,
			Renewed: false,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		PublicPaths: []string{"/user/login", "/user/register", "/user/refresh"},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.PublicPaths = cloneStrings(cfg.PublicPaths)
	out.Session.EntryPages = cloneStrings(cfg.Session.EntryPages)
	return out
}

func cloneStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Transport
	if c.Transport.BaseURL != "" {
		u, err := url.Parse(c.Transport.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("Transport BaseURL must be an absolute URL")
		}
	}
	if c.Transport.Timeout <= 0 {
		return errors.New("Transport Timeout must be > 0")
	}
	if c.Transport.MaxBodyBytes < 0 {
		return errors.New("Transport MaxBodyBytes must be >= 0")
	}

	// Envelope
	if c.Envelope.SuccessCode == c.Envelope.TokenExpiredCode {
		return errors.New("Envelope SuccessCode and TokenExpiredCode must differ")
	}

	// Refresh
	if !strings.HasPrefix(c.Refresh.Path, "/") && !isAbsoluteURL(c.Refresh.Path) {
		return errors.New("Refresh Path must start with / or be an absolute URL")
	}
	if c.Refresh.Param == "" {
		return errors.New("Refresh Param must be set")
	}
	if c.Refresh.Timeout <= 0 {
		return errors.New("Refresh Timeout must be > 0")
	}
	if c.Refresh.ProactiveSkew < 0 {
		return errors.New("Refresh ProactiveSkew must be >= 0")
	}
	if c.Refresh.EnableThrottle {
		if c.Refresh.MaxAttempts <= 0 {
			return errors.New("Refresh MaxAttempts must be > 0 when EnableThrottle is true")
		}
		if c.Refresh.Window <= 0 {
			return errors.New("Refresh Window must be > 0 when EnableThrottle is true")
		}
	}
	if !c.isPublic(c.Refresh.Path) {
		return errors.New("Refresh Path must be listed in PublicPaths")
	}

	// Account
	if c.Account.LoginPath == "" || c.Account.LogoutPath == "" || c.Account.UserInfoPath == "" {
		return errors.New("Account endpoint paths must be set")
	}

	// Session
	if c.Session.LoginPage == "" {
		return errors.New("Session LoginPage must be set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}

func (c *Config) isPublic(path string) bool {
	if u, err := url.Parse(path); err == nil && u.Path != "" {
		path = u.Path
	}
	for _, p := range c.PublicPaths {
		if p != "" && strings.Contains(path, p) {
			return true
		}
	}
	return false
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
