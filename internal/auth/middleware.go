package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/account-api/internal/apperror"
)

// UnauthenticatedMessage is the only thing a client learns when a token is
// missing, malformed, expired, revoked or unknown.
const UnauthenticatedMessage = "Unauthenticated."

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. With a plain string key, ANY
// package that knows the string can read or shadow the value. A package-private
// type means only this package can create the keys.
type contextKey string

const (
	claimsKey contextKey = "claims"
	tokenKey  contextKey = "token"
)

// Verifier is the slice of Issuer the session middleware needs.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*Claims, error)
}

// RequireBearer only checks that an "Authorization: Bearer" header is present
// and stores the raw token in the context. Handlers behind it (refresh) run
// their own, relaxed verification.
func RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := BearerToken(r)
		if !ok {
			writeStatus(w, http.StatusUnauthorized, UnauthenticatedMessage)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenKey, raw)))
	})
}

// RequireSession verifies the bearer token and stores both the raw token and
// the verified claims in the request context.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware takes an http.Handler and returns a new one that wraps it. Chi
// applies them in a chain: req → M1 → M2 → Handler → M2 → M1 → resp. Returning
// without calling next stops the chain, which is how a 401 short-circuits.
//
// Token errors answer 401. Anything else (the database is down) is logged and
// answers 500, so an outage is never mistaken for a logout.
func RequireSession(v Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r)
			if !ok {
				writeStatus(w, http.StatusUnauthorized, UnauthenticatedMessage)
				return
			}

			claims, err := v.Verify(r.Context(), raw)
			if err != nil {
				if IsTokenError(err) {
					writeStatus(w, http.StatusUnauthorized, UnauthenticatedMessage)
					return
				}
				logger.ErrorContext(r.Context(), "verifying session token", "error", err, "path", r.URL.Path)
				writeStatus(w, http.StatusInternalServerError, "Server Error")
				return
			}

			ctx := context.WithValue(r.Context(), tokenKey, raw)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims stored by RequireSession.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// TokenFromContext returns the raw bearer token stored by either middleware.
func TokenFromContext(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(tokenKey).(string)
	return raw, ok && raw != ""
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is matched case-insensitively, as RFC 6750 allows.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// IsTokenError reports whether err means "this token is not acceptable" as
// opposed to an infrastructure failure. Service-level unauthorized errors
// count too, so a Verifier may be the session service itself.
func IsTokenError(err error) bool {
	return errors.Is(err, apperror.ErrUnauthorized) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrUnsupported)
}

// writeStatus writes the same envelope the handlers use. It is duplicated here
// because handler imports auth, not the other way round.
func writeStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Success bool   `json:"success"`
		Status  int    `json:"status"`
		Message string `json:"message"`
	}{false, status, message})
}
