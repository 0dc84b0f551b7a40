// Package auth defines the bearer token contract the HTTP transport enforces
// and provides a JWT implementation validated against a JWKS endpoint.
//
// The transport never interprets tokens itself; it extracts the bearer
// credential and delegates to an Authenticator, answering 401 with an RFC
// 6750 challenge when validation fails.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized means the token is missing, malformed, or failed
// verification. Implementations wrap it so callers can match with errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope means the token verified but does not grant what the
// operation needs.
var ErrInsufficientScope = errors.New("insufficient scope")

// UserInfo is the principal a verified token resolves to.
type UserInfo interface {
	// UserID returns the stable identifier for the principal, typically the
	// token's subject.
	UserID() string
	// Claims decodes the principal's claim set into ref.
	Claims(ref any) error
}

// Authenticator turns a bearer token into a principal. An invalid token
// yields an error wrapping ErrUnauthorized.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}
