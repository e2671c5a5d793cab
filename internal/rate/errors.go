package rate

import "errors"

var (
	// ErrRateLimited is returned once the renewal budget for the window is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis failures of the shared throttle.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
