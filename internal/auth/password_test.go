package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// =========================================================================
// HELPER
// =========================================================================

// newTestPasswordService returns a PasswordService with bcrypt cost 4, the
// minimum bcrypt allows. Tests run in milliseconds instead of ~250ms each.
func newTestPasswordService() *PasswordService {
	return NewPasswordServiceForTest(bcrypt.MinCost)
}

// =========================================================================
// Hash TESTS
// =========================================================================

func TestHash_OutputLooksBcrypt(t *testing.T) {
	ps := newTestPasswordService()

	hash, err := ps.Hash("Valid1Pass!")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	// bcrypt hashes always start with $2a$ or $2b$
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("Hash() does not look like a bcrypt hash: %q", hash)
	}
}

func TestHash_SamePasswordProducesDifferentHashes(t *testing.T) {
	ps := newTestPasswordService()

	hash1, _ := ps.Hash("same-password")
	hash2, _ := ps.Hash("same-password")

	if hash1 == hash2 {
		t.Error("Hash() produced identical hashes for the same password (salt must be random)")
	}
}

func TestHash_LengthLimit(t *testing.T) {
	ps := newTestPasswordService()

	if _, err := ps.Hash(strings.Repeat("a", MaxPasswordBytes)); err != nil {
		t.Fatalf("Hash() should accept a %d-byte password, got error: %v", MaxPasswordBytes, err)
	}
	if _, err := ps.Hash(strings.Repeat("a", MaxPasswordBytes+1)); err == nil {
		t.Fatal("Hash() should reject passwords longer than 72 bytes")
	}
}

// =========================================================================
// Verify TESTS
// =========================================================================

func TestVerify_CorrectPassword(t *testing.T) {
	ps := newTestPasswordService()

	hash, err := ps.Hash("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if err := ps.Verify(hash, "correct-horse-battery-staple"); err != nil {
		t.Errorf("Verify() should return nil for a correct password, got: %v", err)
	}
}

func TestVerify_WrongPasswordIsMismatch(t *testing.T) {
	ps := newTestPasswordService()

	hash, _ := ps.Hash("the-real-password")

	err := ps.Verify(hash, "the-wrong-password")
	if !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("Verify() error = %v, want ErrPasswordMismatch", err)
	}
}

func TestVerify_GarbageHashIsNotMismatch(t *testing.T) {
	ps := newTestPasswordService()

	// A corrupt hash in the DB is a server problem, not a wrong password.
	err := ps.Verify("not-a-valid-bcrypt-hash", "password")
	if err == nil {
		t.Fatal("Verify() should return an error for a garbage hash")
	}
	if errors.Is(err, ErrPasswordMismatch) {
		t.Error("Verify() should not report a garbage hash as a password mismatch")
	}
}

func TestVerifyAbsent_AlwaysMismatch(t *testing.T) {
	ps := newTestPasswordService()

	for _, pw := range []string{"", "absent-user-placeholder", "Valid1Pass!"} {
		if err := ps.VerifyAbsent(pw); !errors.Is(err, ErrPasswordMismatch) {
			t.Errorf("VerifyAbsent(%q) = %v, want ErrPasswordMismatch", pw, err)
		}
	}
}

func TestVerifyAbsent_PlaceholderBuiltByConstructor(t *testing.T) {
	ps := newTestPasswordService()

	if len(ps.dummyHash) == 0 {
		t.Fatal("dummyHash is empty after construction")
	}
	cost, err := bcrypt.Cost(ps.dummyHash)
	if err != nil {
		t.Fatalf("bcrypt.Cost(dummyHash) error = %v", err)
	}
	if cost != bcrypt.MinCost {
		t.Errorf("dummyHash cost = %d, want %d", cost, bcrypt.MinCost)
	}

	before := string(ps.dummyHash)
	if err := ps.VerifyAbsent("Valid1Pass!"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("VerifyAbsent() = %v, want ErrPasswordMismatch", err)
	}
	if string(ps.dummyHash) != before {
		t.Error("VerifyAbsent rebuilt the placeholder hash")
	}
}

func TestUnusableHash_MatchesNothingObvious(t *testing.T) {
	ps := newTestPasswordService()

	hash, err := ps.UnusableHash()
	if err != nil {
		t.Fatalf("UnusableHash() error = %v", err)
	}
	for _, pw := range []string{"", "password", "Valid1Pass!"} {
		if err := ps.Verify(hash, pw); err == nil {
			t.Errorf("UnusableHash() accepted %q", pw)
		}
	}
}

// =========================================================================
// ROUND-TRIP TEST
// =========================================================================

func TestHashVerify_RoundTrip(t *testing.T) {
	ps := newTestPasswordService()

	cases := []struct {
		name     string
		password string
	}{
		{"simple alphanumeric", "hello123"},
		{"special characters", "p@$$w0rd!#%"},
		{"unicode", "пароль-密码"},
		{"whitespace", "  leading and trailing  "},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hash, err := ps.Hash(tc.password)
			if err != nil {
				t.Fatalf("Hash(%q) error = %v", tc.password, err)
			}

			if err := ps.Verify(hash, tc.password); err != nil {
				t.Errorf("Verify() failed for %q: %v", tc.password, err)
			}
		})
	}
}
