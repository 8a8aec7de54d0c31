// Package auth: password hashing utilities.
//
// WHY BCRYPT?
// bcrypt is a password hashing function specifically designed to be slow.
// That slowness is a security feature: it makes brute-force attacks expensive.
//
// bcrypt automatically generates a random salt, embeds it in the output hash
// and controls the work factor via "cost". No separate salt column is needed.
//
// Hash format (the full output of bcrypt.GenerateFromPassword):
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 = 4096 iterations)
//	 version
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor. Cost 12 takes roughly 250ms on a
// modern server: negligible for a login, brutal for an attacker.
const defaultCost = 12

// MaxPasswordBytes is bcrypt's input limit. Longer inputs are rejected rather
// than silently truncated.
const MaxPasswordBytes = 72

// ErrPasswordMismatch is returned by Verify when the password is wrong.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// PasswordService provides bcrypt hashing and verification.
//
// It's a struct (not free functions) so that the cost can be injected
// in tests. Cost 4 makes tests run in milliseconds without changing the
// logic being tested.
type PasswordService struct {
	cost int

	// dummyHash is what VerifyAbsent compares against. The constructor builds
	// it, so every VerifyAbsent call costs exactly one bcrypt comparison.
	dummyHash []byte
}

// NewPasswordService creates a PasswordService with the default cost (12).
func NewPasswordService() *PasswordService {
	return newPasswordService(defaultCost)
}

// NewPasswordServiceForTest creates a PasswordService with a custom cost.
// Use 4 (bcrypt.MinCost) in tests in other packages.
//
// Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return newPasswordService(cost)
}

func newPasswordService(cost int) *PasswordService {
	// Only an out-of-range cost makes this fail, and then Hash fails the
	// same way; the nil hash still gives VerifyAbsent a mismatch.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("absent-user-placeholder"), cost)
	return &PasswordService{cost: cost, dummyHash: dummy}
}

// Hash hashes the given plaintext password with bcrypt.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks whether a plaintext password matches a stored bcrypt hash.
// It returns ErrPasswordMismatch for a wrong password.
//
// TIMING SAFETY:
// bcrypt.CompareHashAndPassword compares in constant time, so response time
// does not reveal how much of the password was right.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// VerifyAbsent burns the same bcrypt work as Verify when there is no user to
// check against, so "unknown email" and "wrong password" take equally long.
// It always reports a mismatch.
func (p *PasswordService) VerifyAbsent(plaintext string) error {
	_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(plaintext))
	return ErrPasswordMismatch
}

// UnusableHash returns a bcrypt hash of a random secret nobody knows. Accounts
// created through OAuth get one so that password login is impossible for them
// until a password-reset flow sets a real one.
func (p *PasswordService) UnusableHash() (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("auth: generating placeholder password: %w", err)
	}
	return p.Hash(base64.RawStdEncoding.EncodeToString(secret))
}
