// Package jwt lets the client peek at a token's expiry and gives test backends a small
// HS256 issuer.
//
// [PeekExpiry] and [ExpiresWithin] are client-side: they never check signatures and only
// decide whether a token is worth sending. [Manager] is backend-side and pins HS256.
package jwt
