package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/sakif/account-api/internal/model"
	"github.com/sakif/account-api/internal/repository"
)

// DefaultIssuerName is the "iss" claim when none is configured.
const DefaultIssuerName = "account-api"

// SignedConfig configures a SignedIssuer.
type SignedConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration

	// RefreshGrace is how long after "exp" a token may still be refreshed.
	// Zero means an expired token can never be refreshed.
	RefreshGrace time.Duration
}

// SignedIssuer issues stateless HS256 JWTs.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<user uuid>","uid":42,"role":"user","jti":"01J...","iss":..,"iat":..,"exp":..}
//	- Signature: HMAC-SHA256(header+"."+payload, secret)
//
// WHY A REVOCATION LIST?
// A pure JWT cannot be taken back: it stays valid until exp no matter what the
// server does. To make logout mean something, each token carries a unique jti
// (a ULID) and logout records that jti in revoked_tokens. Verify checks the
// list. Rows only live until the token would have expired on its own (plus
// the refresh grace window), so the list stays small.
type SignedIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	grace  time.Duration
	tokens repository.TokenRepository
	now    func() time.Time
}

var _ Issuer = (*SignedIssuer)(nil)

// NewSignedIssuer validates cfg and returns an issuer using tokens for the
// revocation list.
//
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewSignedIssuer(cfg SignedConfig, tokens repository.TokenRepository) (*SignedIssuer, error) {
	if len(cfg.Secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("auth: JWT TTL must be positive")
	}
	if cfg.RefreshGrace < 0 {
		return nil, errors.New("auth: refresh grace must not be negative")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuerName
	}
	return &SignedIssuer{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		grace:  cfg.RefreshGrace,
		tokens: tokens,
		now:    time.Now,
	}, nil
}

// WithClock returns a copy that reads the time from now. Used by tests to
// move past expiry without sleeping.
func (s *SignedIssuer) WithClock(now func() time.Time) *SignedIssuer {
	cp := *s
	cp.now = now
	return &cp
}

func (s *SignedIssuer) Kind() Kind { return KindSigned }

func (s *SignedIssuer) Supports(c Capability) bool {
	return c == CapRefresh
}

func (s *SignedIssuer) WithTokens(tokens repository.TokenRepository) Issuer {
	cp := *s
	cp.tokens = tokens
	return &cp
}

// signedClaims is the JWT payload. "sub" carries the public uuid; "uid" the
// internal id so the session check needs no uuid lookup.
type signedClaims struct {
	UserID int64  `json:"uid"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (s *SignedIssuer) Issue(_ context.Context, user *model.User) (*Token, error) {
	now := s.now()
	exp := now.Add(s.ttl)

	c := signedClaims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   user.UUID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("auth: signing token: %w", err)
	}

	return &Token{
		Value:     signed,
		Type:      TokenType,
		ExpiresIn: s.ttl,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// Verify checks signature, algorithm, issuer and expiry, then the revocation
// list.
//
// ALGORITHM CONFUSION ATTACK:
// Without pinning the algorithm, an attacker could send a token signed with
// "none" (or an RSA public key used as an HMAC secret) and a careless library
// might accept it. jwt.WithValidMethods closes that door.
func (s *SignedIssuer) Verify(ctx context.Context, raw string) (*Claims, error) {
	c, err := s.parse(raw, 0)
	if err != nil {
		return nil, err
	}
	if err := s.checkRevoked(ctx, c.ID); err != nil {
		return nil, err
	}
	return c.toClaims(), nil
}

// VerifyForRefresh is Verify with the expiry check relaxed by the grace window.
func (s *SignedIssuer) VerifyForRefresh(ctx context.Context, raw string) (*Claims, error) {
	c, err := s.parse(raw, s.grace)
	if err != nil {
		return nil, err
	}
	if err := s.checkRevoked(ctx, c.ID); err != nil {
		return nil, err
	}
	return c.toClaims(), nil
}

// Rotate issues a successor for old (fresh iat, exp and jti; same subject and
// role taken from the current user row) and revokes old.
func (s *SignedIssuer) Rotate(ctx context.Context, old *Claims, user *model.User) (*Token, error) {
	tok, err := s.Issue(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := s.revokeID(ctx, old.TokenID, old.ExpiresAt); err != nil {
		return nil, err
	}
	return tok, nil
}

// Revoke blocklists the token's jti. The signature is still checked (nobody
// gets to fill the list with forged ids) but expiry is not: revoking an
// expired token is a harmless no-op.
func (s *SignedIssuer) Revoke(ctx context.Context, raw string) error {
	c := &signedClaims{}
	_, err := jwt.ParseWithClaims(raw, c, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || c.ID == "" || c.ExpiresAt == nil {
		return ErrInvalidToken
	}
	return s.revokeID(ctx, c.ID, c.ExpiresAt.Time)
}

// RevokeAll is not possible for stateless tokens: the server keeps no record
// of which tokens it handed out.
func (s *SignedIssuer) RevokeAll(context.Context, int64) error {
	return ErrUnsupported
}

func (s *SignedIssuer) revokeID(ctx context.Context, jti string, exp time.Time) error {
	// Keep the entry through the grace window, otherwise a revoked token
	// could still be refreshed after its row was pruned.
	entry := model.RevokedToken{TokenID: jti, ExpiresAt: exp.Add(s.grace)}
	if err := s.tokens.RevokeTokenID(ctx, entry, s.now()); err != nil {
		return fmt.Errorf("auth: revoking token: %w", err)
	}
	return nil
}

func (s *SignedIssuer) checkRevoked(ctx context.Context, jti string) error {
	revoked, err := s.tokens.IsTokenIDRevoked(ctx, jti, s.now())
	if err != nil {
		return fmt.Errorf("auth: checking revocation list: %w", err)
	}
	if revoked {
		return ErrTokenRevoked
	}
	return nil
}

func (s *SignedIssuer) parse(raw string, leeway time.Duration) (*signedClaims, error) {
	c := &signedClaims{}
	_, err := jwt.ParseWithClaims(raw, c, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.ID == "" || c.Subject == "" || c.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return c, nil
}

func (s *SignedIssuer) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
	}
	return s.secret, nil
}

func (c *signedClaims) toClaims() *Claims {
	out := &Claims{
		UserID:   c.UserID,
		UserUUID: c.Subject,
		Role:     c.Role,
		TokenID:  c.ID,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}
