package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minSecretLen = 16

// Config tunes a [Manager].
type Config struct {
	TTL    time.Duration
	Secret []byte
	Issuer string
	// Leeway tolerates clock drift when checking exp. At most two minutes.
	Leeway time.Duration
}

// Manager signs and verifies HS256 access tokens for a backend. The client never needs
// one; the fake backend in internal/testserver uses it to mint tokens with a real exp.
type Manager struct {
	config Config
	parser *jwt.Parser
}

// Claims are carried by every access token a [Manager] issues.
type Claims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a [Manager].
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.TTL <= 0:
		return nil, errors.New("jwt: ttl must be positive")
	case len(cfg.Secret) < minSecretLen:
		return nil, errors.New("jwt: secret too short")
	case cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute:
		return nil, errors.New("jwt: leeway out of range")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Manager{config: cfg, parser: jwt.NewParser(opts...)}, nil
}

// Issue signs a token for uid that expires TTL from now.
func (m *Manager) Issue(uid, tokenID string) (string, error) {
	return m.IssueAt(uid, tokenID, time.Now())
}

// IssueAt signs a token as if the current time were now.
func (m *Manager) IssueAt(uid, tokenID string, now time.Time) (string, error) {
	claims := Claims{
		UID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   uid,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.Secret)
}

// Verify checks the signature, issuer and expiry of token and returns its claims.
func (m *Manager) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := m.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.UID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
