package model

import "time"

// AccessToken is the server-side record of an opaque bearer token.
//
// Only the SHA-256 digest of the token is stored. If the database leaks, the
// attacker gets hashes that cannot be replayed as bearer tokens.
type AccessToken struct {
	ID         string
	UserID     int64
	TokenHash  string
	Name       string
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// RevokedToken marks a signed token id as no longer valid.
// The row only needs to live until ExpiresAt: after that the token is rejected
// on its own expiry and the row can be pruned.
type RevokedToken struct {
	TokenID   string
	ExpiresAt time.Time
}
