package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PeekExpiry reads the exp claim of tokenStr without verifying the signature. ok is false
// when the token is not a JWT or has no exp claim; opaque tokens are therefore never
// considered expired locally.
func PeekExpiry(tokenStr string) (exp time.Time, ok bool) {
	if tokenStr == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// ExpiresWithin reports whether tokenStr is a JWT that expires before now+skew.
func ExpiresWithin(tokenStr string, skew time.Duration, now time.Time) bool {
	exp, ok := PeekExpiry(tokenStr)
	if !ok {
		return false
	}
	return !now.Add(skew).Before(exp)
}
