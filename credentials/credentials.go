package credentials

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// ErrStoreUnavailable wraps backend failures reported by a [Store].
var ErrStoreUnavailable = errors.New("credential store unavailable")

// Credentials is the token pair persisted between requests.
//
// Both fields are set or both are empty, except transiently while a renewal is in flight.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether neither token is present.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// HasAccess reports whether an access token is present.
func (c Credentials) HasAccess() bool {
	return c.AccessToken != ""
}

// HasRefresh reports whether a refresh token is present.
func (c Credentials) HasRefresh() bool {
	return c.RefreshToken != ""
}

// Token converts the pair to an [oauth2.Token] with the Bearer type. Expiry is left
// zero; the pipeline detects expiry from responses, not from local clocks.
func (c Credentials) Token() *oauth2.Token {
	if !c.HasAccess() {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
	}
}

// Identity is the cached user-info document returned by login or the user-info endpoint.
// It is kept as raw JSON because its shape belongs to the backend.
type Identity json.RawMessage

// Empty reports whether no identity is cached.
func (i Identity) Empty() bool {
	return len(i) == 0
}

// Get returns the value at a gjson path, e.g. "username" or "roles.0".
func (i Identity) Get(path string) gjson.Result {
	if i.Empty() {
		return gjson.Result{}
	}
	return gjson.GetBytes(i, path)
}

// MarshalJSON keeps the raw document intact when an Identity is embedded in other JSON.
func (i Identity) MarshalJSON() ([]byte, error) {
	if i.Empty() {
		return []byte("null"), nil
	}
	return i, nil
}

// Store persists credentials and the cached identity.
//
// Implementations must be safe for concurrent use. Clear removes the access token, the
// refresh token and the identity together.
type Store interface {
	Get(ctx context.Context) (Credentials, error)
	Set(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
	Identity(ctx context.Context) (Identity, error)
	SetIdentity(ctx context.Context, id Identity) error
}
