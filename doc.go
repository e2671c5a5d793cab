// Package tokenpipe is an authenticated HTTP request pipeline with coordinated access
// token renewal.
//
// Every non-public request carries the stored access token. When the backend signals
// that the token has expired (HTTP 401, or a successful response whose envelope code is
// the token-expired code), the request joins a single renewal shared by every concurrent
// caller and is sent once more with the new token. If the renewal fails, stored
// credentials are cleared, the user is told once and sent to the login page once, and
// every waiting request fails with [ErrSessionExpired].
//
// # Architecture boundaries
//
// tokenpipe is the public surface: [Client], [Builder], [Config] and the error types.
// Renewal coordination lives in refresh, credential persistence in credentials, the
// identity endpoints in identity and the failure reaction in session. The identity
// client talks to the transport directly, so a renewal never re-enters the pipeline.
//
// # Concurrency
//
// Client methods are safe to call from multiple goroutines after [Builder.Build]. At
// most one renewal is in flight at any time, however many requests detect expiry.
package tokenpipe
