package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/account-api/internal/model"
	"github.com/sakif/account-api/internal/repository"
)

func TestWithinTx_Commit(t *testing.T) {
	db := newTestDB(t)

	err := db.WithinTx(context.Background(), func(tx repository.Repositories) error {
		user := &model.User{Name: "Tx", Email: "tx@example.com", PasswordHash: "h"}
		if err := tx.Users().Create(context.Background(), user); err != nil {
			return err
		}
		return tx.Profiles().Create(context.Background(), &model.Profile{UserID: user.ID})
	})
	if err != nil {
		t.Fatalf("WithinTx() error = %v", err)
	}

	if got := countRows(t, db, "users"); got != 1 {
		t.Errorf("users = %d, want 1", got)
	}
	if got := countRows(t, db, "profiles"); got != 1 {
		t.Errorf("profiles = %d, want 1", got)
	}
}

// TestWithinTx_RollbackOnError simulates a failure after the user row was
// written but before the profile: neither row may survive.
func TestWithinTx_RollbackOnError(t *testing.T) {
	db := newTestDB(t)
	boom := errors.New("profile insert failed")

	err := db.WithinTx(context.Background(), func(tx repository.Repositories) error {
		user := &model.User{Name: "Tx", Email: "rollback@example.com", PasswordHash: "h"}
		if err := tx.Users().Create(context.Background(), user); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx() error = %v, want %v", err, boom)
	}

	if got := countRows(t, db, "users"); got != 0 {
		t.Errorf("users = %d, want 0 after rollback", got)
	}
	if got := countRows(t, db, "profiles"); got != 0 {
		t.Errorf("profiles = %d, want 0 after rollback", got)
	}
}

func TestWithinTx_RollbackOnPanic(t *testing.T) {
	db := newTestDB(t)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = db.WithinTx(context.Background(), func(tx repository.Repositories) error {
			user := &model.User{Name: "Tx", Email: "panic@example.com", PasswordHash: "h"}
			if err := tx.Users().Create(context.Background(), user); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	if got := countRows(t, db, "users"); got != 0 {
		t.Errorf("users = %d, want 0 after panic rollback", got)
	}
}

func TestWithinTx_CancelledContext(t *testing.T) {
	db := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.WithinTx(ctx, func(tx repository.Repositories) error {
		return tx.Users().Create(ctx, &model.User{Name: "x", Email: "c@example.com", PasswordHash: "h"})
	})
	if err == nil {
		t.Fatal("WithinTx() should fail with a cancelled context")
	}
	if got := countRows(t, db, "users"); got != 0 {
		t.Errorf("users = %d, want 0", got)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)

	// migrate already ran in New; a second run must not fail on the
	// ALTER TABLE phase
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}
}
