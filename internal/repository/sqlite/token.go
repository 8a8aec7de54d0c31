package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/account-api/internal/apperror"
	"github.com/sakif/account-api/internal/model"
	"github.com/sakif/account-api/internal/repository"
)

var _ repository.TokenRepository = (*TokenDB)(nil)

// TokenDB stores opaque access tokens and revoked signed-token ids.
type TokenDB struct {
	q querier
}

// CreateAccessToken inserts an opaque token record. Only the hash is stored.
func (t *TokenDB) CreateAccessToken(ctx context.Context, token *model.AccessToken) error {
	if token.ID == "" {
		token.ID = xid.New().String()
	}
	token.CreatedAt = time.Now().UTC()

	_, err := t.q.ExecContext(ctx,
		`INSERT INTO personal_access_tokens (id, user_id, name, token_hash, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		token.ID,
		token.UserID,
		token.Name,
		token.TokenHash,
		token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting access token for user %d: %w", token.UserID, err)
	}
	return nil
}

// GetAccessTokenByHash looks a token up by its SHA-256 digest.
// Returns apperror.ErrNotFound if the token was never issued or has been deleted.
func (t *TokenDB) GetAccessTokenByHash(ctx context.Context, hash string) (*model.AccessToken, error) {
	var (
		token    model.AccessToken
		lastUsed sql.NullTime
	)
	err := t.q.QueryRowContext(ctx,
		`SELECT id, user_id, name, token_hash, last_used_at, created_at
		 FROM personal_access_tokens WHERE token_hash = ?`,
		hash,
	).Scan(&token.ID, &token.UserID, &token.Name, &token.TokenHash, &lastUsed, &token.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("access token", "(hash)")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting access token: %w", err)
	}
	if lastUsed.Valid {
		token.LastUsedAt = &lastUsed.Time
	}
	return &token, nil
}

// TouchAccessToken records that the token was just presented.
func (t *TokenDB) TouchAccessToken(ctx context.Context, id string, at time.Time) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE personal_access_tokens SET last_used_at = ? WHERE id = ?`,
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: touching access token %s: %w", id, err)
	}
	return nil
}

// DeleteAccessToken removes a single token. Deleting an unknown hash is a no-op.
func (t *TokenDB) DeleteAccessToken(ctx context.Context, hash string) error {
	_, err := t.q.ExecContext(ctx,
		`DELETE FROM personal_access_tokens WHERE token_hash = ?`, hash,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting access token: %w", err)
	}
	return nil
}

// DeleteAccessTokensForUser removes every token owned by userID.
func (t *TokenDB) DeleteAccessTokensForUser(ctx context.Context, userID int64) error {
	_, err := t.q.ExecContext(ctx,
		`DELETE FROM personal_access_tokens WHERE user_id = ?`, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting access tokens for user %d: %w", userID, err)
	}
	return nil
}

// RevokeTokenID adds a signed token id to the revocation list.
//
// Expired entries are pruned on the same call. There is no sweeper goroutine:
// the list only grows when someone logs out, so cleaning up on write keeps it
// bounded by the number of tokens that could still be valid.
func (t *TokenDB) RevokeTokenID(ctx context.Context, revoked model.RevokedToken, now time.Time) error {
	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at <= ?`, now.Unix(),
	); err != nil {
		return fmt.Errorf("sqlite: pruning revoked tokens: %w", err)
	}

	_, err := t.q.ExecContext(ctx,
		`INSERT INTO revoked_tokens (token_id, expires_at) VALUES (?, ?)
		 ON CONFLICT(token_id) DO NOTHING`,
		revoked.TokenID, revoked.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: revoking token %s: %w", revoked.TokenID, err)
	}
	return nil
}

// IsTokenIDRevoked reports whether tokenID is on the revocation list and the
// entry has not yet lapsed.
func (t *TokenDB) IsTokenIDRevoked(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	var revoked bool
	err := t.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_id = ? AND expires_at > ?)`,
		tokenID, now.Unix(),
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking revoked token %s: %w", tokenID, err)
	}
	return revoked, nil
}
