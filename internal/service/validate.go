package service

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/sakif/account-api/internal/apperror"
	"github.com/sakif/account-api/internal/auth"
)

const (
	maxNameRunes      = 200
	minPasswordLength = 3

	// passwordSymbols is the fixed set of symbols a password must draw from.
	passwordSymbols = "@$!%*#?&_"
)

// RegisterInput is the registration form. Fields are taken as sent; the
// service trims the name and normalises the email before validating.
type RegisterInput struct {
	Name            string
	Email           string
	Password        string
	ConfirmPassword string
}

type LoginInput struct {
	Email    string
	Password string
}

// rule is one validation check. Rules run in declaration order and the first
// failing one is reported, so the client always sees a single, stable message.
type rule[T any] struct {
	field   string
	ok      func(in T) bool
	message string
}

var registerRules = []rule[RegisterInput]{
	{"name", func(in RegisterInput) bool { return in.Name != "" }, "The name field is required."},
	{"name", func(in RegisterInput) bool { return utf8.RuneCountInString(in.Name) <= maxNameRunes }, "The name may not be longer than 200 characters."},
	{"email", func(in RegisterInput) bool { return in.Email != "" }, "The email field is required."},
	{"email", func(in RegisterInput) bool { return isEmail(in.Email) }, "The email format is invalid."},
	{"password", func(in RegisterInput) bool { return in.Password != "" }, "The password field is required."},
	{"password", func(in RegisterInput) bool { return len(in.Password) >= minPasswordLength }, "The password must be at least 3 characters."},
	{"password", func(in RegisterInput) bool { return isStrongPassword(in.Password) }, "The password must contain at least one uppercase letter, one lowercase letter, one number and one symbol (@$!%*#?&_)."},
	{"password", func(in RegisterInput) bool { return len(in.Password) <= auth.MaxPasswordBytes }, "The password may not be longer than 72 characters."},
	{"c_password", func(in RegisterInput) bool { return in.ConfirmPassword != "" }, "The password confirmation field is required."},
	{"c_password", func(in RegisterInput) bool { return in.ConfirmPassword == in.Password }, "The password confirmation does not match. Please try again."},
}

var loginRules = []rule[LoginInput]{
	{"email", func(in LoginInput) bool { return in.Email != "" }, "The email field is required."},
	{"email", func(in LoginInput) bool { return isEmail(in.Email) }, "The email format is invalid."},
	{"password", func(in LoginInput) bool { return in.Password != "" }, "The password field is required."},
}

func validate[T any](rules []rule[T], in T) error {
	for _, r := range rules {
		if !r.ok(in) {
			return apperror.ValidationFailed(r.field, r.message)
		}
	}
	return nil
}

// ValidateRegister applies the registration rules to an already normalised input.
func ValidateRegister(in RegisterInput) error { return validate(registerRules, in) }

// ValidateLogin applies the login rules to an already normalised input.
func ValidateLogin(in LoginInput) error { return validate(loginRules, in) }

// normalizeEmail trims and lowercases an address. Stored emails are always in
// this form; the database index is case-insensitive as a second line.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// isEmail accepts a bare RFC 5322 address ("a@b.c"), not a display-name form
// like "Ada <a@b.c>", and requires a dot in the domain.
func isEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	_, domain, ok := strings.Cut(s, "@")
	return ok && strings.Contains(domain, ".") && !strings.HasSuffix(domain, ".")
}

// isStrongPassword: only [A-Za-z0-9] and passwordSymbols are allowed, and at
// least one lowercase, one uppercase, one digit and one symbol must appear.
func isStrongPassword(pw string) bool {
	var lower, upper, digit, symbol bool
	for _, r := range pw {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		default:
			return false
		}
	}
	return lower && upper && digit && symbol
}
