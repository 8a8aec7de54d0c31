package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/account-api/internal/apperror"
	"github.com/sakif/account-api/internal/model"
	"github.com/sakif/account-api/internal/repository"
)

// opaqueSecretBytes gives 40 url-safe characters after base64 encoding.
const opaqueSecretBytes = 30

// DefaultTokenName labels tokens issued by login and registration.
const DefaultTokenName = "auth_token"

// OpaqueIssuer issues personal-access-token style bearer tokens.
//
// TOKEN FORMAT:
//
//	<xid>|<40 random url-safe chars>
//	 ^     ^
//	 |     30 bytes from crypto/rand, base64url without padding
//	 row id (readable in logs, sortable by creation time)
//
// Only SHA-256(token) is stored. A random 240-bit secret does not need a slow
// hash like bcrypt: nobody can brute-force it, and a fast hash lets every
// request authenticate with a single indexed lookup.
type OpaqueIssuer struct {
	tokens repository.TokenRepository
	now    func() time.Time
}

var _ Issuer = (*OpaqueIssuer)(nil)

func NewOpaqueIssuer(tokens repository.TokenRepository) *OpaqueIssuer {
	return &OpaqueIssuer{tokens: tokens, now: time.Now}
}

func (o *OpaqueIssuer) Kind() Kind { return KindOpaque }

func (o *OpaqueIssuer) Supports(c Capability) bool {
	return c == CapRevokeAll
}

func (o *OpaqueIssuer) WithTokens(tokens repository.TokenRepository) Issuer {
	cp := *o
	cp.tokens = tokens
	return &cp
}

// Issue stores the digest of a new token and returns the plaintext. The
// plaintext is never persisted; losing it means logging in again.
func (o *OpaqueIssuer) Issue(ctx context.Context, user *model.User) (*Token, error) {
	secret := make([]byte, opaqueSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("auth: generating token: %w", err)
	}

	id := xid.New().String()
	plain := id + "|" + base64.RawURLEncoding.EncodeToString(secret)

	record := &model.AccessToken{
		ID:        id,
		UserID:    user.ID,
		Name:      DefaultTokenName,
		TokenHash: HashToken(plain),
	}
	if err := o.tokens.CreateAccessToken(ctx, record); err != nil {
		return nil, fmt.Errorf("auth: storing token: %w", err)
	}

	return &Token{Value: plain, Type: TokenType}, nil
}

// Verify looks the token up by digest and records its use.
func (o *OpaqueIssuer) Verify(ctx context.Context, raw string) (*Claims, error) {
	if !strings.Contains(raw, "|") {
		return nil, ErrInvalidToken
	}

	record, err := o.tokens.GetAccessTokenByHash(ctx, HashToken(raw))
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("auth: looking up token: %w", err)
	}

	if err := o.tokens.TouchAccessToken(ctx, record.ID, o.now()); err != nil {
		return nil, fmt.Errorf("auth: recording token use: %w", err)
	}

	return &Claims{
		UserID:   record.UserID,
		TokenID:  record.ID,
		IssuedAt: record.CreatedAt,
	}, nil
}

// Revoke deletes the stored token. Deleting a token that is already gone is
// not an error.
func (o *OpaqueIssuer) Revoke(ctx context.Context, raw string) error {
	if err := o.tokens.DeleteAccessToken(ctx, HashToken(raw)); err != nil {
		return fmt.Errorf("auth: deleting token: %w", err)
	}
	return nil
}

func (o *OpaqueIssuer) RevokeAll(ctx context.Context, userID int64) error {
	if err := o.tokens.DeleteAccessTokensForUser(ctx, userID); err != nil {
		return fmt.Errorf("auth: deleting tokens for user %d: %w", userID, err)
	}
	return nil
}

// Opaque tokens do not expire, so there is nothing to refresh.
func (o *OpaqueIssuer) VerifyForRefresh(context.Context, string) (*Claims, error) {
	return nil, ErrUnsupported
}

func (o *OpaqueIssuer) Rotate(context.Context, *Claims, *model.User) (*Token, error) {
	return nil, ErrUnsupported
}

// HashToken returns the hex SHA-256 digest stored for an opaque token.
func HashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
