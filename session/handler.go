package session

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Clearer is the store capability the handler needs.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Config tunes a [Handler].
type Config struct {
	// LoginPath is where the user is sent after the session is lost.
	LoginPath string
	// EntryPaths are locations from which no redirect is issued (login, register).
	EntryPaths []string
	// ExpiredMessage is the notice shown when the session is lost.
	ExpiredMessage string
}

// DefaultConfig returns the storefront defaults.
func DefaultConfig() Config {
	return Config{
		LoginPath:      "/user/login",
		EntryPaths:     []string{"/user/login", "/user/register"},
		ExpiredMessage: "Session expired, please sign in again",
	}
}

// Hooks observe the handler. Every field is optional.
type Hooks struct {
	OnCleared    func()
	OnRedirect   func(path string)
	OnSuppressed func()
}

// Option customizes a [Handler].
type Option func(*Handler)

// WithHooks installs observation hooks.
func WithHooks(h Hooks) Option {
	return func(s *Handler) { s.hooks = h }
}

// WithLogger sets the logger. The default is logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Handler) {
		if l != nil {
			s.log = l
		}
	}
}

// Handler reacts to an unrecoverable renewal failure: it clears stored credentials,
// tells the user, and sends them to the login page.
//
// A latch limits a failure cascade to one notice and one redirect. [Handler.Rearm]
// opens the latch again once the user has signed back in.
type Handler struct {
	store    Clearer
	nav      Navigator
	notifier Notifier
	config   Config
	hooks    Hooks
	log      logrus.FieldLogger

	mu    sync.Mutex
	armed bool

	redirects  atomic.Uint64
	suppressed atomic.Uint64
}

// NewHandler creates a [Handler]. nav and notifier may be nil.
func NewHandler(store Clearer, nav Navigator, notifier Notifier, cfg Config, opts ...Option) *Handler {
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultConfig().LoginPath
	}
	if cfg.ExpiredMessage == "" {
		cfg.ExpiredMessage = DefaultConfig().ExpiredMessage
	}
	h := &Handler{
		store:    store,
		nav:      nav,
		notifier: notifier,
		config:   cfg,
		log:      logrus.StandardLogger(),
		armed:    true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleFailure clears the store, then notifies and redirects at most once per cascade.
func (h *Handler) HandleFailure(ctx context.Context, cause error) {
	if h.store != nil {
		if err := h.store.Clear(ctx); err != nil {
			h.log.WithError(err).Warn("clear credentials after session loss")
		} else if h.hooks.OnCleared != nil {
			h.hooks.OnCleared()
		}
	}

	h.mu.Lock()
	fire := h.armed
	h.armed = false
	h.mu.Unlock()

	if !fire {
		h.suppress()
		return
	}

	h.log.WithError(cause).Info("session lost")
	if h.notifier != nil {
		h.notifier.Notify(ctx, Notice{
			Level:   LevelError,
			Message: h.config.ExpiredMessage,
			Cause:   cause,
		})
	}

	if h.nav == nil || h.atEntryPoint(h.nav.Location()) {
		h.suppress()
		return
	}
	h.nav.Navigate(h.config.LoginPath)
	h.redirects.Add(1)
	if h.hooks.OnRedirect != nil {
		h.hooks.OnRedirect(h.config.LoginPath)
	}
}

// Rearm re-enables the notice and redirect after a successful sign-in.
func (h *Handler) Rearm() {
	h.mu.Lock()
	h.armed = true
	h.mu.Unlock()
}

// Armed reports whether the next failure will notify and redirect.
func (h *Handler) Armed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.armed
}

// Redirects returns how many redirects were issued.
func (h *Handler) Redirects() uint64 { return h.redirects.Load() }

// Suppressed returns how many failures ended without a redirect.
func (h *Handler) Suppressed() uint64 { return h.suppressed.Load() }

func (h *Handler) suppress() {
	h.suppressed.Add(1)
	if h.hooks.OnSuppressed != nil {
		h.hooks.OnSuppressed()
	}
}

func (h *Handler) atEntryPoint(location string) bool {
	path := location
	if u, err := url.Parse(location); err == nil {
		path = u.Path
	}
	if path == h.config.LoginPath {
		return true
	}
	for _, p := range h.config.EntryPaths {
		if path == p {
			return true
		}
	}
	return false
}
