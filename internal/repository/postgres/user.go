package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/account-api/internal/apperror"
	"github.com/sakif/account-api/internal/model"
	"github.com/sakif/account-api/internal/repository"
)

var _ repository.UserRepository = (*UserDB)(nil)

// EmailTakenMessage mirrors the sqlite store so both backends answer alike.
const EmailTakenMessage = "The email has already been registered."

const userColumns = `id, uuid, name, email, password_hash, role, created_at, updated_at`

type UserDB struct {
	q querier
}

// Create inserts user and returns the generated id via RETURNING.
// The lower(email) unique index turns duplicates into apperror.ErrConflict.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	if user.UUID == "" {
		user.UUID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = model.DefaultRole
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	err := u.q.QueryRowContext(ctx,
		`INSERT INTO users (uuid, name, email, password_hash, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		user.UUID, user.Name, user.Email, user.PasswordHash, user.Role, user.CreatedAt, user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("email", EmailTakenMessage)
		}
		return fmt.Errorf("postgres: inserting user: %w", err)
	}
	return nil
}

func (u *UserDB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := u.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: getting user %d: %w", id, err)
	}
	return user, nil
}

func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := u.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", email)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: getting user by email: %w", err)
	}
	return user, nil
}

func (u *UserDB) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := u.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE lower(email) = lower($1))`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: checking email: %w", err)
	}
	return exists, nil
}

func (u *UserDB) scanOne(ctx context.Context, query string, arg any) (*model.User, error) {
	var user model.User
	err := u.q.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.UUID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
