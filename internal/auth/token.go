// Package auth issues, verifies and revokes bearer tokens, hashes passwords and
// talks to GitHub for OAuth sign-in.
//
// TWO TOKEN STRATEGIES, ONE INTERFACE:
// A deployment runs exactly one Issuer, chosen by config:
//
//   - SignedIssuer ("jwt"): stateless HS256 tokens. Verification needs only the
//     secret plus a lookup in a small revocation list (so logout is real).
//     Tokens expire and can be refreshed.
//   - OpaqueIssuer ("opaque"): random strings whose SHA-256 digest is stored.
//     Verification is a DB lookup, logout deletes the row, tokens never expire.
//
// The service layer and the HTTP edge only ever see the Issuer interface. Not
// every operation makes sense for both strategies, so an Issuer advertises
// what it can do through Supports, and the router only mounts routes whose
// capability is present.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/sakif/account-api/internal/model"
	"github.com/sakif/account-api/internal/repository"
)

// TokenType is the token_type returned to clients.
const TokenType = "Bearer"

// Kind names a token strategy. The values double as config values.
type Kind string

const (
	KindSigned Kind = "jwt"
	KindOpaque Kind = "opaque"
)

// Capability is an optional operation an Issuer may support.
type Capability string

const (
	// CapRefresh: expiring tokens can be exchanged for fresh ones.
	CapRefresh Capability = "refresh"
	// CapRevokeAll: every token of a user can be enumerated and revoked.
	CapRevokeAll Capability = "revoke_all"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenRevoked = errors.New("auth: token revoked")
	ErrUnsupported  = errors.New("auth: operation not supported by this token strategy")
)

// Token is a freshly issued bearer token.
//
// ExpiresIn is zero for tokens without an intrinsic expiry; the HTTP layer
// omits expires_in in that case.
type Token struct {
	Value     string
	Type      string
	ExpiresIn time.Duration
	ExpiresAt time.Time
}

// Claims is what a verified token says about its holder.
//
// For opaque tokens only UserID and TokenID are known without loading the
// user; UserUUID and Role stay empty and ExpiresAt is zero.
type Claims struct {
	UserID    int64
	UserUUID  string
	Role      string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer is the token strategy used by the session service.
//
// Verify must reject expired, revoked, tampered or unknown tokens with one of
// the Err* sentinels above. Any other error is an infrastructure failure.
//
// WithTokens returns a copy bound to another TokenRepository. Registration uses
// it to persist an opaque token inside the same transaction as the user row.
type Issuer interface {
	Kind() Kind
	Supports(c Capability) bool

	Issue(ctx context.Context, user *model.User) (*Token, error)
	Verify(ctx context.Context, raw string) (*Claims, error)

	// VerifyForRefresh accepts a token that is valid or expired by no more
	// than the configured grace window. Rotate then issues the successor and
	// revokes the old token.
	VerifyForRefresh(ctx context.Context, raw string) (*Claims, error)
	Rotate(ctx context.Context, old *Claims, user *model.User) (*Token, error)

	Revoke(ctx context.Context, raw string) error
	RevokeAll(ctx context.Context, userID int64) error

	WithTokens(tokens repository.TokenRepository) Issuer
}
