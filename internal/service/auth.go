// Package service holds the session business logic.
//
// AuthService sits between the HTTP handlers and the storage/auth layers:
//
//	AuthHandler (HTTP) → AuthService (business rules) → repository.Store (DB)
//	                   ↘ auth.Issuer (tokens)
//	                   ↘ auth.PasswordService (bcrypt)
//
// WHAT THIS PACKAGE DOES NOT DO:
//   - It does NOT read HTTP requests or write responses
//   - It does NOT look up "the current user" from anywhere ambient: every call
//     that needs an identity receives the raw token or verified claims as an
//     argument
//
// ERROR CONTRACT:
// Everything a client may be told comes back as an *apperror.AppError
// (validation, conflict, unauthorized). Every other error is a server error:
// wrapped with context for the log, never shown to the client.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/account-api/internal/apperror"
	"github.com/sakif/account-api/internal/auth"
	"github.com/sakif/account-api/internal/metrics"
	"github.com/sakif/account-api/internal/model"
	"github.com/sakif/account-api/internal/repository"
)

const (
	// InvalidCredentialsMessage is shared by "no such email" and "wrong
	// password" so a caller cannot probe which accounts exist.
	InvalidCredentialsMessage = "The email or password you entered is incorrect."

	EmailTakenMessage = "The email has already been registered."
)

// AuthService handles registration, login and the token lifecycle.
//
// DEPENDENCIES (injected via NewAuthService):
//   - store      repository.Store        → users, profiles, tokens, transactions
//   - issuer     auth.Issuer             → signed or opaque tokens (one per deployment)
//   - passwords  *auth.PasswordService   → bcrypt hashing
//   - metrics    *metrics.Metrics        → outcome counters (may be nil)
//   - logger     *slog.Logger            → structured logging
type AuthService struct {
	store     repository.Store
	issuer    auth.Issuer
	passwords *auth.PasswordService
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewAuthService(
	store repository.Store,
	issuer auth.Issuer,
	passwords *auth.PasswordService,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		store:     store,
		issuer:    issuer,
		passwords: passwords,
		metrics:   m,
		logger:    logger,
	}
}

// AuthResult bundles the user and the token issued for them so the handler
// can build the response envelope in one step.
type AuthResult struct {
	User  *model.User
	Token *auth.Token
}

// Register validates in, then creates the user, an empty profile and the
// first session token in a single transaction.
//
// ORDER OF OPERATIONS:
//  1. Validate (no I/O): the first failing rule is the answer.
//  2. Email pre-check: gives the common duplicate case a clean message without
//     opening a transaction.
//  3. Hash the password: bcrypt takes ~250ms and must not run while holding
//     a write transaction (SQLite has a single writer).
//  4. Transaction: user → profile → token. Any failure rolls all of it back.
//
// The pre-check is not what makes duplicates impossible. Two concurrent
// requests can both pass it; the unique index then rejects the second insert
// and the store turns that into the same Conflict error.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (_ *AuthResult, err error) {
	defer func() { s.record("register", err) }()

	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if err := ValidateRegister(in); err != nil {
		return nil, err
	}

	exists, err := s.store.Users().EmailExists(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("service/auth: checking email: %w", err)
	}
	if exists {
		return nil, apperror.Conflict("email", EmailTakenMessage)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         model.DefaultRole,
	}

	token, err := s.createAccount(ctx, user)
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Conflict("email", EmailTakenMessage)
		}
		return nil, fmt.Errorf("service/auth: registering user: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered", slog.Int64("userID", user.ID))
	return &AuthResult{User: user, Token: token}, nil
}

// createAccount runs the user → profile → token transaction.
func (s *AuthService) createAccount(ctx context.Context, user *model.User) (*auth.Token, error) {
	var token *auth.Token
	err := s.store.WithinTx(ctx, func(tx repository.Repositories) error {
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		if err := tx.Profiles().Create(ctx, &model.Profile{UserID: user.ID}); err != nil {
			return fmt.Errorf("creating profile: %w", err)
		}
		t, err := s.issuer.WithTokens(tx.Tokens()).Issue(ctx, user)
		if err != nil {
			return fmt.Errorf("issuing token: %w", err)
		}
		token = t
		return nil
	})
	return token, err
}

// Login checks credentials and issues a new token.
//
// An unknown email and a wrong password produce the same error AND take
// about the same time: when the user does not exist, a bcrypt comparison
// still runs against a placeholder hash.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (_ *AuthResult, err error) {
	defer func() { s.record("login", err) }()

	in.Email = normalizeEmail(in.Email)
	if err := ValidateLogin(in); err != nil {
		return nil, err
	}

	user, err := s.store.Users().GetByEmail(ctx, in.Email)
	if errors.Is(err, apperror.ErrNotFound) {
		_ = s.passwords.VerifyAbsent(in.Password)
		return nil, apperror.Unauthorized(InvalidCredentialsMessage)
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, in.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthorized(InvalidCredentialsMessage)
		}
		return nil, fmt.Errorf("service/auth: verifying password for user %d: %w", user.ID, err)
	}

	token, err := s.issuer.Issue(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for user %d: %w", user.ID, err)
	}

	return &AuthResult{User: user, Token: token}, nil
}

// Logout revokes the presented token and nothing else: other devices stay
// signed in. Revoking a token that vanished in the meantime is a success.
func (s *AuthService) Logout(ctx context.Context, raw string) (err error) {
	defer func() { s.record("logout", err) }()

	if err := s.issuer.Revoke(ctx, raw); err != nil {
		if auth.IsTokenError(err) {
			return apperror.Unauthorized(auth.UnauthenticatedMessage)
		}
		return fmt.Errorf("service/auth: revoking token: %w", err)
	}
	return nil
}

// LogoutAll revokes every token of the caller. Only strategies that keep a
// server-side record of each token can do this.
func (s *AuthService) LogoutAll(ctx context.Context, claims *auth.Claims) (err error) {
	defer func() { s.record("logout_all", err) }()

	if !s.issuer.Supports(auth.CapRevokeAll) {
		return apperror.Forbidden("Signing out of every device is not available for this token type.")
	}
	if err := s.issuer.RevokeAll(ctx, claims.UserID); err != nil {
		return fmt.Errorf("service/auth: revoking tokens for user %d: %w", claims.UserID, err)
	}
	return nil
}

// Refresh exchanges a signed token for a fresh one. The old token is revoked,
// so each token can be refreshed at most once.
//
// The role in the new token comes from the user row, not the old token, so a
// role change takes effect on the next refresh.
func (s *AuthService) Refresh(ctx context.Context, raw string) (_ *AuthResult, err error) {
	defer func() { s.record("refresh", err) }()

	if !s.issuer.Supports(auth.CapRefresh) {
		return nil, apperror.Forbidden("Tokens of this type do not expire and cannot be refreshed.")
	}

	claims, err := s.issuer.VerifyForRefresh(ctx, raw)
	if err != nil {
		if auth.IsTokenError(err) {
			return nil, apperror.Unauthorized(auth.UnauthenticatedMessage)
		}
		return nil, fmt.Errorf("service/auth: verifying token for refresh: %w", err)
	}

	user, err := s.loadUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}

	token, err := s.issuer.Rotate(ctx, claims, user)
	if err != nil {
		return nil, fmt.Errorf("service/auth: rotating token for user %d: %w", user.ID, err)
	}

	return &AuthResult{User: user, Token: token}, nil
}

// Authenticate verifies a bearer token. It satisfies auth.Verifier, so the
// session middleware goes through the service rather than the issuer.
func (s *AuthService) Authenticate(ctx context.Context, raw string) (*auth.Claims, error) {
	claims, err := s.issuer.Verify(ctx, raw)
	if err != nil {
		if auth.IsTokenError(err) {
			return nil, apperror.Unauthorized(auth.UnauthenticatedMessage)
		}
		return nil, fmt.Errorf("service/auth: verifying token: %w", err)
	}
	return claims, nil
}

// Verify is Authenticate under the name auth.Verifier expects.
func (s *AuthService) Verify(ctx context.Context, raw string) (*auth.Claims, error) {
	return s.Authenticate(ctx, raw)
}

// CurrentUser loads the account behind verified claims. A token that outlived
// its user is treated as unauthenticated.
func (s *AuthService) CurrentUser(ctx context.Context, claims *auth.Claims) (*model.User, error) {
	if claims == nil {
		return nil, apperror.Unauthorized(auth.UnauthenticatedMessage)
	}
	return s.loadUser(ctx, claims.UserID)
}

// LoginWithGitHub signs in the local account that owns the GitHub user's
// verified email, creating it on first sign-in.
//
// New accounts get an unusable password hash: they can only sign in through
// GitHub until a password is set by a flow outside this service.
func (s *AuthService) LoginWithGitHub(ctx context.Context, gh *auth.GitHubUser) (_ *AuthResult, err error) {
	defer func() { s.record("github_login", err) }()

	if gh == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}
	email := normalizeEmail(gh.Email)
	if !isEmail(email) {
		return nil, apperror.ValidationFailed("email", "GitHub did not provide a usable email address.")
	}

	user, err := s.store.Users().GetByEmail(ctx, email)
	switch {
	case err == nil:
		return s.issueFor(ctx, user)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	hash, err := s.passwords.UnusableHash()
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	user = &model.User{
		Name:         gitHubDisplayName(gh),
		Email:        email,
		PasswordHash: hash,
		Role:         model.DefaultRole,
	}
	token, err := s.createAccount(ctx, user)
	if errors.Is(err, apperror.ErrConflict) {
		// Lost a race with a concurrent sign-in or registration: the account
		// exists now, so sign into it.
		existing, lookupErr := s.store.Users().GetByEmail(ctx, email)
		if lookupErr != nil {
			return nil, fmt.Errorf("service/auth: looking up user after conflict: %w", lookupErr)
		}
		return s.issueFor(ctx, existing)
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: registering GitHub user %s: %w", gh.Login, err)
	}

	s.logger.InfoContext(ctx, "user registered via GitHub",
		slog.Int64("userID", user.ID),
		slog.String("login", gh.Login),
	)
	return &AuthResult{User: user, Token: token}, nil
}

func (s *AuthService) issueFor(ctx context.Context, user *model.User) (*AuthResult, error) {
	token, err := s.issuer.Issue(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for user %d: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

func (s *AuthService) loadUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.store.Users().GetByID(ctx, id)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Unauthorized(auth.UnauthenticatedMessage)
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading user %d: %w", id, err)
	}
	return user, nil
}

// record counts the outcome of operation: client-facing errors are
// "rejected", anything else is "error".
func (s *AuthService) record(operation string, err error) {
	var appErr *apperror.AppError
	switch {
	case err == nil:
		s.metrics.AuthEvent(operation, metrics.OutcomeSuccess)
	case errors.As(err, &appErr):
		s.metrics.AuthEvent(operation, metrics.OutcomeRejected)
	default:
		s.metrics.AuthEvent(operation, metrics.OutcomeError)
	}
}

func gitHubDisplayName(gh *auth.GitHubUser) string {
	name := strings.TrimSpace(gh.Name)
	if name == "" {
		name = gh.Login
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		name = string([]rune(name)[:maxNameRunes])
	}
	return name
}
