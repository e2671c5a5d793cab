package refresh

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired is matched by every rejection a failed renewal hands to waiters.
	ErrSessionExpired = errors.New("session expired")
	// ErrNoRefreshToken means the store held no refresh token, so no renewal was attempted.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrEmptyAccessToken means the identity endpoint answered without an access token.
	ErrEmptyAccessToken = errors.New("renewal returned empty access token")
	// ErrThrottled means the renewal throttle refused the attempt.
	ErrThrottled = errors.New("renewal throttled")

	errAlreadyCleared = fmt.Errorf("%w: credentials already cleared", ErrNoRefreshToken)
)

// ExpiredError is the uniform rejection handed to every waiter of a failed cycle.
// errors.Is(err, ErrSessionExpired) holds; Unwrap exposes the underlying cause.
type ExpiredError struct {
	Cause error
}

func (e *ExpiredError) Error() string {
	if e.Cause == nil {
		return ErrSessionExpired.Error()
	}
	return ErrSessionExpired.Error() + ": " + e.Cause.Error()
}

func (e *ExpiredError) Unwrap() error { return e.Cause }

func (e *ExpiredError) Is(target error) bool { return target == ErrSessionExpired }
