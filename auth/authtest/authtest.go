// Package authtest provides authenticators for tests and development setups
// where real token validation is not wanted.
package authtest

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/berrykit/berry-mcp-go/auth"
)

// Static authenticates a fixed set of tokens, mapping each to a user id.
// Tokens not in the map are rejected with auth.ErrUnauthorized.
type Static struct {
	Tokens map[string]string
}

// NewStatic creates a Static authenticator over the given token -> user map.
func NewStatic(tokens map[string]string) *Static {
	return &Static{Tokens: tokens}
}

// CheckAuthentication implements auth.Authenticator.
func (s *Static) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	uid, ok := s.Tokens[strings.TrimSpace(tok)]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return staticUser{id: uid}, nil
}

// NoAuth accepts every token (including none) as the configured user.
type NoAuth struct {
	UserID string
}

// NewNoAuth creates a NoAuth authenticator. An empty userID defaults to
// "test-user".
func NewNoAuth(userID string) *NoAuth {
	if userID == "" {
		userID = "test-user"
	}
	return &NoAuth{UserID: userID}
}

// CheckAuthentication implements auth.Authenticator.
func (n *NoAuth) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	return staticUser{id: n.UserID}, nil
}

type staticUser struct {
	id string
}

func (u staticUser) UserID() string { return u.id }

func (u staticUser) Claims(ref any) error {
	b, err := json.Marshal(map[string]string{"sub": u.id})
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
