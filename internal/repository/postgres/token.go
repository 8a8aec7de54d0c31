package postgres

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

type TokenDB struct {
	q querier
}

func (t *TokenDB) CreateAccessToken(ctx context.Context, token *model.AccessToken) error {
	if token.ID == "" {
		token.ID = xid.New().String()
	}
	token.CreatedAt = time.Now().UTC()

	_, err := t.q.ExecContext(ctx,
		`INSERT INTO personal_access_tokens (id, user_id, name, token_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		token.ID, token.UserID, token.Name, token.TokenHash, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: inserting access token for user %d: %w", token.UserID, err)
	}
	return nil
}

func (t *TokenDB) GetAccessTokenByHash(ctx context.Context, hash string) (*model.AccessToken, error) {
	var (
		token    model.AccessToken
		lastUsed sql.NullTime
	)
	err := t.q.QueryRowContext(ctx,
		`SELECT id, user_id, name, token_hash, last_used_at, created_at
		 FROM personal_access_tokens WHERE token_hash = $1`,
		hash,
	).Scan(&token.ID, &token.UserID, &token.Name, &token.TokenHash, &lastUsed, &token.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("access token", "(hash)")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: getting access token: %w", err)
	}
	if lastUsed.Valid {
		token.LastUsedAt = &lastUsed.Time
	}
	return &token, nil
}

func (t *TokenDB) TouchAccessToken(ctx context.Context, id string, at time.Time) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE personal_access_tokens SET last_used_at = $1 WHERE id = $2`, at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("postgres: touching access token %s: %w", id, err)
	}
	return nil
}

func (t *TokenDB) DeleteAccessToken(ctx context.Context, hash string) error {
	_, err := t.q.ExecContext(ctx,
		`DELETE FROM personal_access_tokens WHERE token_hash = $1`, hash,
	)
	if err != nil {
		return fmt.Errorf("postgres: deleting access token: %w", err)
	}
	return nil
}

func (t *TokenDB) DeleteAccessTokensForUser(ctx context.Context, userID int64) error {
	_, err := t.q.ExecContext(ctx,
		`DELETE FROM personal_access_tokens WHERE user_id = $1`, userID,
	)
	if err != nil {
		return fmt.Errorf("postgres: deleting access tokens for user %d: %w", userID, err)
	}
	return nil
}

// RevokeTokenID prunes lapsed entries, then records the revocation.
func (t *TokenDB) RevokeTokenID(ctx context.Context, revoked model.RevokedToken, now time.Time) error {
	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at <= $1`, now.UTC(),
	); err != nil {
		return fmt.Errorf("postgres: pruning revoked tokens: %w", err)
	}

	_, err := t.q.ExecContext(ctx,
		`INSERT INTO revoked_tokens (token_id, expires_at) VALUES ($1, $2)
		 ON CONFLICT (token_id) DO NOTHING`,
		revoked.TokenID, revoked.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: revoking token %s: %w", revoked.TokenID, err)
	}
	return nil
}

func (t *TokenDB) IsTokenIDRevoked(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	var revoked bool
	err := t.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_id = $1 AND expires_at > $2)`,
		tokenID, now.UTC(),
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("postgres: checking revoked token %s: %w", tokenID, err)
	}
	return revoked, nil
}
