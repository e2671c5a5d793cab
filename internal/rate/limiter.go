package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	xrate "golang.org/x/time/rate"
)

// Config holds renewal throttle tuning parameters.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// Local throttles renewals within one process using a token bucket that refills
// MaxAttempts tokens per Window.
type Local struct {
	limiter *xrate.Limiter
}

// NewLocal creates a [Local] throttle.
func NewLocal(cfg Config) *Local {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	every := xrate.Every(cfg.Window / time.Duration(cfg.MaxAttempts))
	return &Local{limiter: xrate.NewLimiter(every, cfg.MaxAttempts)}
}

// Allow consumes one token or returns ErrRateLimited.
func (l *Local) Allow(context.Context) error {
	if !l.limiter.Allow() {
		return ErrRateLimited
	}
	return nil
}

// Redis throttles renewals across every process sharing one credential namespace,
// using a fixed-window counter.
type Redis struct {
	redis  redis.UniversalClient
	key    string
	config Config
}

// NewRedis creates a [Redis] throttle counting under prefix.
func NewRedis(client redis.UniversalClient, prefix string, cfg Config) *Redis {
	return &Redis{
		redis:  client,
		key:    renewKey(prefix),
		config: cfg,
	}
}

// Allow increments the window counter and fails once it passes MaxAttempts.
func (r *Redis) Allow(ctx context.Context) error {
	count, err := r.incrementWithTTL(ctx, r.key, r.config.Window)
	if err != nil {
		return err
	}
	if count > int64(r.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (r *Redis) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := r.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func renewKey(prefix string) string {
	if prefix == "" {
		return "rr"
	}
	return prefix + ":rr"
}
