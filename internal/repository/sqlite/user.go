package sqlite

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

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// EmailTakenMessage is returned when the email UNIQUE index rejects an insert.
const EmailTakenMessage = "The email has already been registered."

// UserDB reads and writes the users table through a connection or a transaction.
type UserDB struct {
	q querier
}

// Create inserts a new user and fills in ID, UUID and timestamps.
//
// The UUID is generated here (not by SQLite) so it is known before the row
// exists. The sequential ID comes back from LastInsertId.
//
// A duplicate email surfaces as apperror.ErrConflict. This is the write-time
// guarantee: even if two requests both pass the service's EmailExists
// pre-check, only one INSERT can win the UNIQUE index.
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

	res, err := u.q.ExecContext(ctx,
		`INSERT INTO users (uuid, name, email, password_hash, role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.UUID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("email", EmailTakenMessage)
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading inserted user id: %w", err)
	}
	user.ID = id

	return nil
}

// GetByID retrieves a user by their sequential ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (u *UserDB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := u.scanOne(ctx, `WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email. The comparison is case-insensitive
// because the column is declared COLLATE NOCASE.
func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := u.scanOne(ctx, `WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", email)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return user, nil
}

// EmailExists reports whether an account with this email is already registered.
func (u *UserDB) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := u.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking email: %w", err)
	}
	return exists, nil
}

func (u *UserDB) scanOne(ctx context.Context, where string, arg any) (*model.User, error) {
	var user model.User
	err := u.q.QueryRowContext(ctx,
		`SELECT id, uuid, name, email, password_hash, role, created_at, updated_at
		 FROM users `+where,
		arg,
	).Scan(
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
