// Package repository declares the storage contracts the service layer relies
// on. Concrete implementations live in the sqlite and postgres subpackages.
//
// UNIT OF WORK:
// Registration must create a user, a profile and (for opaque tokens) a token
// row atomically. Instead of leaking *sql.Tx into the service, a Store hands
// out the same repository set bound either to the connection pool or to a
// transaction (WithinTx). The service never sees SQL, and fakes in tests only
// need to implement these interfaces.
package repository

import (
	"context"
	"time"

	"github.com/sakif/account-api/internal/model"
)

// UserRepository persists user accounts.
//
// Create must return an apperror.ErrConflict error when the email is already
// taken. The check is enforced by the database's unique index, which is what
// makes concurrent registrations with the same email safe.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
}

// ProfileRepository persists the per-user profile record.
type ProfileRepository interface {
	Create(ctx context.Context, profile *model.Profile) error
	GetByUserID(ctx context.Context, userID int64) (*model.Profile, error)
}

// TokenRepository stores opaque access tokens and the revocation list for
// signed tokens. Deletions are idempotent: removing a token that does not
// exist is not an error.
type TokenRepository interface {
	CreateAccessToken(ctx context.Context, token *model.AccessToken) error
	GetAccessTokenByHash(ctx context.Context, hash string) (*model.AccessToken, error)
	TouchAccessToken(ctx context.Context, id string, at time.Time) error
	DeleteAccessToken(ctx context.Context, hash string) error
	DeleteAccessTokensForUser(ctx context.Context, userID int64) error

	RevokeTokenID(ctx context.Context, revoked model.RevokedToken, now time.Time) error
	IsTokenIDRevoked(ctx context.Context, tokenID string, now time.Time) (bool, error)
}

// Repositories is the set of repositories bound to one connection or transaction.
type Repositories interface {
	Users() UserRepository
	Profiles() ProfileRepository
	Tokens() TokenRepository
}

// Store is the root storage handle owned by the server.
//
// WithinTx runs fn inside a single transaction. If fn returns an error (or the
// context is cancelled) the transaction is rolled back and no partial state is
// visible; otherwise it is committed.
type Store interface {
	Repositories
	WithinTx(ctx context.Context, fn func(tx Repositories) error) error
	Ping(ctx context.Context) error
	Close() error
}
