package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/sakif/account-api/internal/apperror"
	"github.com/sakif/account-api/internal/auth"
	"github.com/sakif/account-api/internal/model"
	"github.com/sakif/account-api/internal/service"
)

const (
	maxBodyBytes    = 1 << 20
	oauthStateName  = "oauth_state"
	oauthStateTTL   = 600 // seconds
	badBodyMessage  = "The request body could not be read."
	oauthBadState   = "The sign-in request is invalid or has expired. Please try again."
	oauthDenied     = "GitHub sign-in was cancelled."
	oauthNoEmail    = "Your GitHub account has no verified primary email address."
	oauthMissingArg = "The sign-in response from GitHub is incomplete."
)

// SessionService is the part of service.AuthService the handlers call.
// Tests substitute a fake; production passes *service.AuthService.
type SessionService interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, in service.LoginInput) (*service.AuthResult, error)
	Logout(ctx context.Context, raw string) error
	LogoutAll(ctx context.Context, claims *auth.Claims) error
	Refresh(ctx context.Context, raw string) (*service.AuthResult, error)
	CurrentUser(ctx context.Context, claims *auth.Claims) (*model.User, error)
	LoginWithGitHub(ctx context.Context, gh *auth.GitHubUser) (*service.AuthResult, error)
}

// GitHubExchanger is the part of auth.GitHubProvider the OAuth handlers call.
type GitHubExchanger interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

// AuthHandler serves the /auth endpoints and /user.
//
// HANDLER RESPONSIBILITIES:
//   - decode the request body into a service input
//   - pull the bearer token / verified claims the middleware put in the context
//   - call exactly one service method
//   - turn the result (or error) into the envelope
//
// Nothing here decides whether credentials are valid or a token is still good.
type AuthHandler struct {
	sessions SessionService
	github   GitHubExchanger // nil when GitHub sign-in is not configured
	logger   *slog.Logger

	errs        errorWriter // registration and everything else: validation → 422
	loginErrors errorWriter // login: validation → 400
}

func NewAuthHandler(sessions SessionService, github GitHubExchanger, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:    sessions,
		github:      github,
		logger:      logger,
		errs:        errorWriter{logger: logger, validationStatus: http.StatusUnprocessableEntity},
		loginErrors: errorWriter{logger: logger, validationStatus: http.StatusBadRequest},
	}
}

// GitHubEnabled reports whether the OAuth routes should be mounted.
func (h *AuthHandler) GitHubEnabled() bool { return h.github != nil }

// --- request / response shapes ---

type registerRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"c_password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userView struct {
	ID    int64  `json:"id"`
	UUID  string `json:"uuid"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// tokenView.ExpiresIn is in seconds and omitted for tokens that never expire.
type tokenView struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
}

type sessionData struct {
	User        userView   `json:"user"`
	AccessToken *tokenView `json:"access_token,omitempty"`
}

func newUserView(u *model.User) userView {
	return userView{ID: u.ID, UUID: u.UUID, Name: u.Name, Email: u.Email, Role: u.Role}
}

func newSessionData(res *service.AuthResult) sessionData {
	return sessionData{
		User: newUserView(res.User),
		AccessToken: &tokenView{
			Token:     res.Token.Value,
			TokenType: res.Token.Type,
			ExpiresIn: int64(res.Token.ExpiresIn.Seconds()),
		},
	}
}

// --- handlers ---

// HandleRegister creates an account.
//
// HTTP: POST /auth/register
// Success: 201 with user + access_token. Validation or duplicate email: 422.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteStatus(w, http.StatusBadRequest, badBodyMessage)
		return
	}

	res, err := h.sessions.Register(r.Context(), service.RegisterInput{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Registration successful.", newSessionData(res))
}

// HandleLogin exchanges credentials for a token.
//
// HTTP: POST /auth/login
// Success: 200. Validation: 400. Bad credentials: 401.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteStatus(w, http.StatusBadRequest, badBodyMessage)
		return
	}

	res, err := h.sessions.Login(r.Context(), service.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		h.loginErrors.write(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Login successful.", newSessionData(res))
}

// HandleLogout revokes the token the request was made with.
//
// HTTP: POST /auth/logout (behind RequireSession)
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	raw, ok := auth.TokenFromContext(r.Context())
	if !ok {
		WriteStatus(w, http.StatusUnauthorized, auth.UnauthenticatedMessage)
		return
	}
	if err := h.sessions.Logout(r.Context(), raw); err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Logout successful.", nil)
}

// HandleLogoutAll revokes every token of the caller.
//
// HTTP: POST /auth/logout-all (behind RequireSession, opaque tokens only)
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		WriteStatus(w, http.StatusUnauthorized, auth.UnauthenticatedMessage)
		return
	}
	if err := h.sessions.LogoutAll(r.Context(), claims); err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Signed out of every device.", nil)
}

// HandleRefresh trades a signed token for a new one.
//
// HTTP: GET /auth/refresh (behind RequireBearer, signed tokens only)
//
// WHY NOT RequireSession?
// A token inside the refresh grace window has already expired, so the
// session check would reject exactly the tokens this endpoint exists for.
// The service runs its own, relaxed verification.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := auth.TokenFromContext(r.Context())
	if !ok {
		WriteStatus(w, http.StatusUnauthorized, auth.UnauthenticatedMessage)
		return
	}
	res, err := h.sessions.Refresh(r.Context(), raw)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Token refreshed.", newSessionData(res))
}

// HandleSession returns the account behind the bearer token.
//
// HTTP: GET /auth/get-session and GET /user (behind RequireSession)
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		WriteStatus(w, http.StatusUnauthorized, auth.UnauthenticatedMessage)
		return
	}
	user, err := h.sessions.CurrentUser(r.Context(), claims)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Session is active.", sessionData{User: newUserView(user)})
}

// HandleGitHubLogin redirects the browser to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived HttpOnly cookie and into the
// authorization URL. The callback only proceeds when both match. The state
// is 32 bytes from crypto/rand, so one visitor's state says nothing about
// another's.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := oauth2.GenerateVerifier()

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateName,
		Value:    state,
		Path:     "/auth/github",
		MaxAge:   oauthStateTTL,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusFound)
}

// HandleGitHubCallback completes the OAuth flow and answers with the same
// envelope as login.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state (CSRF check); the cookie is single-use
//  2. Bail out if the user denied access on GitHub
//  3. Exchange the code for the GitHub identity (primary verified email)
//  4. Sign in or create the local account
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	// --- Step 1: CSRF state ---
	stateCookie, err := r.Cookie(oauthStateName)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.WarnContext(r.Context(), "github callback: state mismatch")
		WriteStatus(w, http.StatusBadRequest, oauthBadState)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:   oauthStateName,
		Value:  "",
		Path:   "/auth/github",
		MaxAge: -1,
	})

	// --- Step 2: denied? ---
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.InfoContext(r.Context(), "github callback: authorization denied", slog.String("error", errParam))
		WriteStatus(w, http.StatusUnauthorized, oauthDenied)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		WriteStatus(w, http.StatusBadRequest, oauthMissingArg)
		return
	}

	// --- Step 3: exchange ---
	ghUser, err := h.github.Exchange(r.Context(), code)
	if errors.Is(err, auth.ErrNoVerifiedEmail) {
		WriteStatus(w, http.StatusUnprocessableEntity, oauthNoEmail)
		return
	}
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	// --- Step 4: local account ---
	res, err := h.sessions.LoginWithGitHub(r.Context(), ghUser)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Login successful.", newSessionData(res))
}

// decodeBody accepts JSON (the default) or a classic HTML form post.
//
// Unknown JSON fields are ignored: clients commonly send extra fields and
// rejecting them would break them for no gain.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return decodeForm(r, dst)
	}

	// An empty body decodes to the zero request, so validation reports the
	// missing fields.
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeForm(r *http.Request, dst any) error {
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return err
	}
	switch v := dst.(type) {
	case *registerRequest:
		v.Name = r.PostFormValue("name")
		v.Email = r.PostFormValue("email")
		v.Password = r.PostFormValue("password")
		v.ConfirmPassword = r.PostFormValue("c_password")
	case *loginRequest:
		v.Email = r.PostFormValue("email")
		v.Password = r.PostFormValue("password")
	default:
		return apperror.ValidationFailed("body", "unsupported form target")
	}
	return nil
}
