package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/account-api/internal/auth"
	"github.com/sakif/account-api/internal/metrics"
	"github.com/sakif/account-api/internal/repository"
	"github.com/sakif/account-api/internal/repository/sqlite"
	"github.com/sakif/account-api/internal/server"
)

// =========================================================================
// HELPERS
// =========================================================================

type testServer struct {
	t  *testing.T
	ts *httptest.Server
}

// newTestServer runs the full stack (router, middleware, service, real
// in-memory SQLite) behind httptest.
func newTestServer(t *testing.T, strategy auth.Kind) *testServer {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var issuer auth.Issuer
	switch strategy {
	case auth.KindSigned:
		signed, err := auth.NewSignedIssuer(auth.SignedConfig{
			Secret: "server-test-secret-0123456789",
			TTL:    15 * time.Minute,
		}, db.Tokens())
		require.NoError(t, err)
		issuer = signed
	default:
		issuer = auth.NewOpaqueIssuer(db.Tokens())
	}

	srv, err := server.New(server.Config{}, server.Deps{
		Store:     db,
		Issuer:    issuer,
		Passwords: auth.NewPasswordServiceForTest(bcrypt.MinCost),
		Metrics:   metrics.New(),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{t: t, ts: ts}
}

type response struct {
	Code int
	Body map[string]any
	Raw  string
}

func (s *testServer) do(method, path, token string, body any) response {
	s.t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, s.ts.URL+path, rdr)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.ts.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)

	out := response{Code: resp.StatusCode, Raw: string(raw)}
	_ = json.Unmarshal(raw, &out.Body)
	return out
}

func (s *testServer) register(email string) string {
	s.t.Helper()
	res := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Ada", "email": email, "password": "Valid1Pass!", "c_password": "Valid1Pass!",
	})
	require.Equal(s.t, http.StatusCreated, res.Code, res.Raw)
	return tokenOf(s.t, res)
}

func tokenOf(t *testing.T, res response) string {
	t.Helper()
	data, ok := res.Body["data"].(map[string]any)
	require.True(t, ok, res.Raw)
	at, ok := data["access_token"].(map[string]any)
	require.True(t, ok, res.Raw)
	tok, _ := at["token"].(string)
	require.NotEmpty(t, tok)
	return tok
}

// =========================================================================
// END-TO-END FLOWS
// =========================================================================

func TestSessionLifecycle(t *testing.T) {
	for _, strategy := range []auth.Kind{auth.KindSigned, auth.KindOpaque} {
		t.Run(string(strategy), func(t *testing.T) {
			s := newTestServer(t, strategy)
			token := s.register("ada@example.com")

			res := s.do(http.MethodGet, "/auth/get-session", token, nil)
			assert.Equal(t, http.StatusOK, res.Code, res.Raw)

			res = s.do(http.MethodGet, "/user", token, nil)
			assert.Equal(t, http.StatusOK, res.Code, res.Raw)
			assert.NotContains(t, res.Raw, "password")

			res = s.do(http.MethodPost, "/auth/logout", token, nil)
			assert.Equal(t, http.StatusOK, res.Code, res.Raw)

			res = s.do(http.MethodGet, "/auth/get-session", token, nil)
			assert.Equal(t, http.StatusUnauthorized, res.Code)
			assert.Equal(t, auth.UnauthenticatedMessage, res.Body["message"])

			// A second logout with the dead token is a 401, not a 500.
			res = s.do(http.MethodPost, "/auth/logout", token, nil)
			assert.Equal(t, http.StatusUnauthorized, res.Code)
		})
	}
}

func TestLogin_StatusCodes(t *testing.T) {
	s := newTestServer(t, auth.KindOpaque)
	s.register("ada@example.com")

	res := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "ada@example.com", "password": "Valid1Pass!"})
	assert.Equal(t, http.StatusOK, res.Code, res.Raw)
	assert.Equal(t, true, res.Body["success"])

	wrong := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "ada@example.com", "password": "Nope1234!"})
	unknown := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "bob@example.com", "password": "Nope1234!"})
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, wrong.Raw, unknown.Raw, "unknown email and wrong password must be indistinguishable")

	res = s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "not-an-email", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestRegister_StatusCodes(t *testing.T) {
	s := newTestServer(t, auth.KindOpaque)
	s.register("ada@example.com")

	res := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Ada", "email": "ADA@example.com", "password": "Valid1Pass!", "c_password": "Valid1Pass!",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, res.Code)
	assert.Equal(t, false, res.Body["success"])
	assert.EqualValues(t, 422, res.Body["status"])

	res = s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Ada", "email": "new@example.com", "password": "alllowercase1", "c_password": "alllowercase1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, res.Code)
}

func TestRefresh_OnlyForSignedTokens(t *testing.T) {
	t.Run("jwt", func(t *testing.T) {
		s := newTestServer(t, auth.KindSigned)
		token := s.register("ada@example.com")

		res := s.do(http.MethodGet, "/auth/refresh", token, nil)
		require.Equal(t, http.StatusOK, res.Code, res.Raw)
		fresh := tokenOf(t, res)
		assert.NotEqual(t, token, fresh)

		assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/auth/get-session", fresh, nil).Code)
		assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/auth/refresh", token, nil).Code,
			"a rotated token must not refresh again")
		assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/auth/refresh", "", nil).Code)

		// logout-all is not mounted for signed tokens.
		assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/auth/logout-all", fresh, nil).Code)
	})

	t.Run("opaque", func(t *testing.T) {
		s := newTestServer(t, auth.KindOpaque)
		token := s.register("ada@example.com")

		assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/auth/refresh", token, nil).Code)

		other := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "ada@example.com", "password": "Valid1Pass!"})
		second := tokenOf(t, other)

		res := s.do(http.MethodPost, "/auth/logout-all", token, nil)
		assert.Equal(t, http.StatusOK, res.Code, res.Raw)
		assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/user", second, nil).Code)
	})
}

// =========================================================================
// ROUTER PLUMBING
// =========================================================================

func TestRouter_EnvelopeForUnknownRoutesAndMethods(t *testing.T) {
	s := newTestServer(t, auth.KindOpaque)

	res := s.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.Equal(t, false, res.Body["success"])

	res = s.do(http.MethodDelete, "/auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, res.Code)
	assert.EqualValues(t, 405, res.Body["status"])
}

func TestRouter_GitHubRoutesOnlyWhenConfigured(t *testing.T) {
	s := newTestServer(t, auth.KindOpaque)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/auth/github/login", "", nil).Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t, auth.KindOpaque)
	s.register("ada@example.com")

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", "", nil).Code)

	res := s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Raw, `account_api_auth_events_total{operation="register",outcome="success"} 1`)
	assert.Contains(t, res.Raw, `route="/auth/register"`)
}

// deadlineStore records whether the context handed to WithinTx carried a
// deadline.
type deadlineStore struct {
	repository.Store
	sawDeadline bool
}

func (d *deadlineStore) WithinTx(ctx context.Context, fn func(tx repository.Repositories) error) error {
	_, d.sawDeadline = ctx.Deadline()
	return d.Store.WithinTx(ctx, fn)
}

func TestRequestTimeout_BoundsTransactions(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := &deadlineStore{Store: db}
	srv, err := server.New(server.Config{RequestTimeout: 5 * time.Second}, server.Deps{
		Store:     store,
		Issuer:    auth.NewOpaqueIssuer(db.Tokens()),
		Passwords: auth.NewPasswordServiceForTest(bcrypt.MinCost),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	s := &testServer{t: t, ts: ts}

	s.register("ada@example.com")
	assert.True(t, store.sawDeadline, "register transaction ran without a deadline")
}

func TestNew_RequiresCoreDeps(t *testing.T) {
	_, err := server.New(server.Config{}, server.Deps{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
