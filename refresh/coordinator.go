package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/tokenpipe/credentials"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds one renewal when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// State is the coordinator's renewal state.
type State int32

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Renewer exchanges a refresh token for new credentials. A returned pair with an empty
// RefreshToken keeps the current refresh token.
type Renewer interface {
	Renew(ctx context.Context, refreshToken string) (credentials.Credentials, error)
}

// RenewerFunc adapts a function to [Renewer].
type RenewerFunc func(ctx context.Context, refreshToken string) (credentials.Credentials, error)

func (f RenewerFunc) Renew(ctx context.Context, refreshToken string) (credentials.Credentials, error) {
	return f(ctx, refreshToken)
}

// Store is the subset of [credentials.Store] the coordinator needs.
type Store interface {
	Get(ctx context.Context) (credentials.Credentials, error)
	Set(ctx context.Context, creds credentials.Credentials) error
	Clear(ctx context.Context) error
}

// FailureHandler is told once per failed cycle, before any waiter is rejected. It owns
// clearing the store when it is configured.
type FailureHandler interface {
	HandleFailure(ctx context.Context, cause error)
}

// FailureHandlerFunc adapts a function to [FailureHandler].
type FailureHandlerFunc func(ctx context.Context, cause error)

func (f FailureHandlerFunc) HandleFailure(ctx context.Context, cause error) {
	f(ctx, cause)
}

// Throttle gates renewal calls to the identity endpoint. A non-nil error fails the cycle.
type Throttle interface {
	Allow(ctx context.Context) error
}

// Hooks observe the coordinator. Every field is optional. Hooks run outside the mutex.
type Hooks struct {
	OnStart func()
	OnWait  func()
	// OnReuse fires when a cycle settled with a token another cycle already stored.
	OnReuse   func()
	OnSuccess func(d time.Duration, waiters int)
	OnFailure func(err error, d time.Duration, waiters int)
}

// Config tunes a [Coordinator].
type Config struct {
	Timeout time.Duration
}

// Option customizes a [Coordinator].
type Option func(*Coordinator)

// WithHooks installs observation hooks.
func WithHooks(h Hooks) Option {
	return func(c *Coordinator) { c.hooks = h }
}

// WithThrottle installs a renewal throttle.
func WithThrottle(t Throttle) Option {
	return func(c *Coordinator) { c.throttle = t }
}

// WithLogger sets the logger. The default is logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

type result struct {
	token string
	err   error
}

// Coordinator serializes credential renewal. It is safe for concurrent use.
type Coordinator struct {
	config   Config
	renewer  Renewer
	store    Store
	failure  FailureHandler
	throttle Throttle
	hooks    Hooks
	log      logrus.FieldLogger

	mu      sync.Mutex
	state   State
	waiters []chan result

	cycles atomic.Uint64
}

// New creates a [Coordinator]. failure may be nil, in which case the coordinator clears
// the store itself on a failed cycle.
func New(cfg Config, renewer Renewer, store Store, failure FailureHandler, opts ...Option) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Coordinator{
		config:  cfg,
		renewer: renewer,
		store:   store,
		failure: failure,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire returns a usable access token, renewing it if needed.
//
// staleToken is the access token the caller found unusable, or "" if it had none. If the
// store already holds a different non-empty token by the time the renewal runs, that
// token is returned without calling the identity endpoint.
//
// Exactly one renewal runs per Idle-to-Refreshing transition however many callers arrive.
//
// A caller that sent a token and finds the store empty arrived after a failed cycle
// cleared the session. It is rejected with [ErrNoRefreshToken] without invoking the
// FailureHandler again.
func (c *Coordinator) Acquire(ctx context.Context, staleToken string) (string, error) {
	ch := make(chan result, 1)

	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	start := c.state == StateIdle
	if start {
		c.state = StateRefreshing
	}
	c.mu.Unlock()

	if start {
		if c.hooks.OnStart != nil {
			c.hooks.OnStart()
		}
		go c.run(context.WithoutCancel(ctx), staleToken)
	} else if c.hooks.OnWait != nil {
		c.hooks.OnWait()
	}

	select {
	case r := <-ch:
		return r.token, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns how many callers are waiting on the current cycle.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Cycles returns how many renewal cycles have settled.
func (c *Coordinator) Cycles() uint64 {
	return c.cycles.Load()
}

func (c *Coordinator) run(ctx context.Context, staleToken string) {
	cycle := c.cycles.Load() + 1
	log := c.log.WithField("cycle", cycle)
	log.Debug("credential renewal started")

	started := time.Now()
	renewCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	token, reused, err := c.renew(renewCtx, staleToken)
	cancel()
	elapsed := time.Since(started)

	if err != nil {
		expired := &ExpiredError{Cause: err}
		if errors.Is(err, errAlreadyCleared) {
			// an earlier failed cycle already cleared the session and ran the handler
			log.Debug("credential renewal skipped, session already cleared")
		} else {
			log.WithError(err).WithField("duration", elapsed).Warn("credential renewal failed")
			c.fail(ctx, expired)
		}
		n := c.settle(result{err: expired})
		if c.hooks.OnFailure != nil {
			c.hooks.OnFailure(expired, elapsed, n)
		}
		return
	}

	n := c.settle(result{token: token})
	log.WithFields(logrus.Fields{"duration": elapsed, "waiters": n, "reused": reused}).Debug("credential renewal succeeded")
	if reused && c.hooks.OnReuse != nil {
		c.hooks.OnReuse()
	}
	if c.hooks.OnSuccess != nil {
		c.hooks.OnSuccess(elapsed, n)
	}
}

func (c *Coordinator) renew(ctx context.Context, staleToken string) (string, bool, error) {
	current, err := c.store.Get(ctx)
	if err != nil {
		return "", false, fmt.Errorf("read credentials: %w", err)
	}
	if current.AccessToken != "" && current.AccessToken != staleToken {
		return current.AccessToken, true, nil
	}
	if current.RefreshToken == "" {
		if staleToken != "" && current.Empty() {
			return "", false, errAlreadyCleared
		}
		return "", false, ErrNoRefreshToken
	}
	if c.throttle != nil {
		if err := c.throttle.Allow(ctx); err != nil {
			return "", false, fmt.Errorf("%w: %v", ErrThrottled, err)
		}
	}

	next, err := c.renewer.Renew(ctx, current.RefreshToken)
	if err != nil {
		return "", false, err
	}
	if next.AccessToken == "" {
		return "", false, ErrEmptyAccessToken
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if err := c.store.Set(ctx, next); err != nil {
		return "", false, fmt.Errorf("store credentials: %w", err)
	}
	return next.AccessToken, false, nil
}

func (c *Coordinator) fail(ctx context.Context, cause error) {
	if c.failure != nil {
		c.failure.HandleFailure(ctx, cause)
		return
	}
	if err := c.store.Clear(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.log.WithError(err).Warn("clear credentials after failed renewal")
	}
}

// settle hands r to every waiter of the current cycle and returns to Idle.
func (c *Coordinator) settle(r result) int {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.state = StateIdle
	c.mu.Unlock()

	c.cycles.Add(1)
	for _, w := range waiters {
		w <- r
	}
	return len(waiters)
}
