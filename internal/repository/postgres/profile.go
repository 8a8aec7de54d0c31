package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/account-api/internal/apperror"
	"github.com/sakif/account-api/internal/model"
	"github.com/sakif/account-api/internal/repository"
)

var _ repository.ProfileRepository = (*ProfileDB)(nil)

type ProfileDB struct {
	q querier
}

func (p *ProfileDB) Create(ctx context.Context, profile *model.Profile) error {
	now := time.Now().UTC()
	profile.ID = xid.New().String()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	_, err := p.q.ExecContext(ctx,
		`INSERT INTO profiles (id, user_id, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		profile.ID, profile.UserID, profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: inserting profile for user %d: %w", profile.UserID, err)
	}
	return nil
}

func (p *ProfileDB) GetByUserID(ctx context.Context, userID int64) (*model.Profile, error) {
	var profile model.Profile
	err := p.q.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&profile.ID, &profile.UserID, &profile.CreatedAt, &profile.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("profile", strconv.FormatInt(userID, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: getting profile for user %d: %w", userID, err)
	}
	return &profile, nil
}
