// Package model defines the data structures used throughout the application.
package model

import "time"

// DefaultRole is assigned to every account created through registration.
// Role is a free-form label; nothing in this service enforces it.
const DefaultRole = "user"

// User represents a registered account.
//
// WHY TWO IDENTIFIERS?
// ID is the sequential primary key used for joins (profiles, tokens).
// UUID is the public-facing identifier: it goes into signed tokens and API
// responses so clients never learn how many accounts exist or can guess the
// next one.
//
// Email is stored trimmed and lowercased. The database also enforces a
// case-insensitive UNIQUE index, so "Bob@x.io" and "bob@x.io" can never both
// exist even if a caller forgets to normalise.
//
// PasswordHash carries `json:"-"` so it can never leak through an encoder.
type User struct {
	ID           int64     `json:"id"`
	UUID         string    `json:"uuid"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Profile is the empty companion record created alongside every user.
// Profile editing lives outside this service; registration only guarantees
// that the row exists.
type Profile struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
