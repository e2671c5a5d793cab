package middleware

import (
	"context"
	"time"

	"github.com/MrEthical07/tokenpipe/jwt"
	"github.com/MrEthical07/tokenpipe/refresh"
	"golang.org/x/oauth2"
)

// Acquirer is the coordinator capability a [TokenSource] needs.
type Acquirer interface {
	Acquire(ctx context.Context, staleToken string) (string, error)
}

// TokenSource hands out the shared access token, renewing it through the coordinator
// when the store holds none or the held one expires within Skew.
type TokenSource struct {
	ctx         context.Context
	store       refresh.Store
	coordinator Acquirer
	// Skew renews JWT access tokens this long before their exp claim. Zero disables it.
	Skew time.Duration
	now  func() time.Time
}

// NewTokenSource returns a TokenSource over store and coordinator; typically
// client.Store() and client.Coordinator(). ctx bounds every Token call.
func NewTokenSource(ctx context.Context, store refresh.Store, coordinator Acquirer) *TokenSource {
	if ctx == nil {
		ctx = context.Background()
	}
	return &TokenSource{ctx: ctx, store: store, coordinator: coordinator, now: time.Now}
}

// Token implements oauth2.TokenSource.
func (s *TokenSource) Token() (*oauth2.Token, error) {
	creds, err := s.store.Get(s.ctx)
	if err != nil {
		return nil, err
	}

	stale := creds.AccessToken == "" ||
		(s.Skew > 0 && jwt.ExpiresWithin(creds.AccessToken, s.Skew, s.now()))
	if stale {
		token, err := s.coordinator.Acquire(s.ctx, creds.AccessToken)
		if err != nil {
			return nil, err
		}
		creds.AccessToken = token
	}

	tok := creds.Token()
	if exp, ok := jwt.PeekExpiry(tok.AccessToken); ok {
		tok.Expiry = exp
	}
	return tok, nil
}
