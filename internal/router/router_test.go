package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"idea-server/internal/config"
	"idea-server/internal/handler"
	"idea-server/internal/metrics"
	"idea-server/internal/middleware"
	"idea-server/internal/model"
	"idea-server/internal/repository"
	"idea-server/internal/revocation"
	"idea-server/internal/service"
	"idea-server/internal/token"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

type testServer struct {
	handler http.Handler
	service *service.AuthService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		RequestTimeout: 5 * time.Second,
		CORSOrigins:    []string{"*"},
	}

	codec, err := token.NewCodec([]byte(strings.Repeat("r", 32)), time.Hour)
	require.NoError(t, err)

	users := repository.NewMemoryUserRepository()
	revoked := revocation.NewMemoryStore()
	m := metrics.New()
	authService := service.NewAuthService(users, service.NewBcryptHasher(bcrypt.MinCost), codec, revoked, m)
	require.NoError(t, authService.EnsureAdmin(context.Background(), "root", "rootpass"))

	h := New(cfg, middleware.NewAuthMiddleware(codec, revoked, users, m), Handlers{
		Auth:    handler.NewAuthHandler(authService),
		User:    handler.NewUserHandler(authService),
		Health:  handler.NewHealthHandler(users),
		Metrics: m.Handler(),
	})

	return &testServer{handler: h, service: authService}
}

func (s *testServer) do(t *testing.T, method string, path string, bearer string, body any) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var out envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (s *testServer) login(t *testing.T, username string, password string) string {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, status)

	var result struct {
		Token     string `json:"token"`
		TokenType string `json:"token_type"`
		ExpiresIn int64  `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &result))
	require.Equal(t, "Bearer", result.TokenType)
	require.Equal(t, int64(3600), result.ExpiresIn)
	return result.Token
}

func TestRouter_SessionLifecycle(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	status, body := srv.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice", "password": "secret1", "email": "alice@example.com",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, body.Success)

	raw := srv.login(t, "alice", "secret1")

	status, body = srv.do(t, http.MethodGet, "/api/users/me", raw, nil)
	require.Equal(t, http.StatusOK, status)
	var profile struct {
		Username string `json:"username"`
		Role     string `json:"role"`
		Enabled  bool   `json:"enabled"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &profile))
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, "USER", profile.Role)
	assert.True(t, profile.Enabled)

	status, _ = srv.do(t, http.MethodPost, "/api/auth/logout", raw, nil)
	require.Equal(t, http.StatusOK, status)

	// The token has not expired, but it is revoked now.
	status, body = srv.do(t, http.MethodGet, "/api/users/me", raw, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "UNAUTHORIZED", body.Error.Code)

	status, _ = srv.do(t, http.MethodPost, "/api/auth/logout", raw, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRouter_LogoutWithoutUsableToken(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	status, body := srv.do(t, http.MethodPost, "/api/auth/logout", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)

	status, _ = srv.do(t, http.MethodPost, "/api/auth/logout", "not.a.token", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRouter_PasswordChangeInvalidatesOldTokens(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	status, _ := srv.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": "carol", "password": "secret1"})
	require.Equal(t, http.StatusCreated, status)
	raw := srv.login(t, "carol", "secret1")

	status, body := srv.do(t, http.MethodPut, "/api/users/me/password", raw, map[string]string{
		"old_password": "wrong1", "new_password": "secret2",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, body.Error)

	status, _ = srv.do(t, http.MethodPut, "/api/users/me/password", raw, map[string]string{
		"old_password": "secret1", "new_password": "secret2",
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = srv.do(t, http.MethodGet, "/api/users/me", raw, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// Issuance is second-granular; a token from the same second as the change is stale too.
	time.Sleep(time.Until(time.Now().Truncate(time.Second).Add(time.Second)))
	fresh := srv.login(t, "carol", "secret2")
	status, _ = srv.do(t, http.MethodGet, "/api/users/me", fresh, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRouter_AdminDisablesAccount(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	status, _ := srv.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": "dave", "password": "secret1"})
	require.Equal(t, http.StatusCreated, status)
	userToken := srv.login(t, "dave", "secret1")
	adminToken := srv.login(t, "root", "rootpass")

	status, body := srv.do(t, http.MethodPut, "/api/admin/users/dave/status", userToken, map[string]bool{"enabled": false})
	assert.Equal(t, http.StatusForbidden, status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "FORBIDDEN", body.Error.Code)

	status, _ = srv.do(t, http.MethodPut, "/api/admin/users/dave/status", "", map[string]bool{"enabled": false})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = srv.do(t, http.MethodPut, "/api/admin/users/dave/status", adminToken, map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, status)

	status, body = srv.do(t, http.MethodGet, "/api/users/me", userToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "ACCOUNT_DISABLED", body.Error.Code)

	status, body = srv.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "dave", "password": "secret1"})
	assert.Equal(t, http.StatusForbidden, status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "ACCOUNT_DISABLED", body.Error.Code)

	status, _ = srv.do(t, http.MethodPut, "/api/admin/users/ghost/status", adminToken, map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRouter_RequestValidation(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	status, body := srv.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": "a!", "password": "123"})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "VALIDATION_FAILED", body.Error.Code)
	assert.Contains(t, body.Error.Fields, "username")
	assert.Contains(t, body.Error.Fields, "password")

	status, body = srv.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": "root", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "ALREADY_EXISTS", body.Error.Code)

	status, body = srv.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "root", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	status, body := srv.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)

	srv.do(t, http.MethodGet, "/api/users/me", "garbage", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `idea_auth_gate_decisions_total{outcome="malformed"} 1`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouter_UpdateProfilePartially(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	status, _ := srv.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "erin", "password": "secret1", "email": "erin@example.com",
	})
	require.Equal(t, http.StatusCreated, status)
	raw := srv.login(t, "erin", "secret1")

	type profile struct {
		Email  string `json:"email"`
		Avatar string `json:"avatar"`
	}
	read := func(body envelope) profile {
		var p profile
		require.NoError(t, json.Unmarshal(body.Data, &p))
		return p
	}

	status, body := srv.do(t, http.MethodPut, "/api/users/me", raw, map[string]string{"avatar": "erin.png"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, profile{Email: "erin@example.com", Avatar: "erin.png"}, read(body))

	status, body = srv.do(t, http.MethodPut, "/api/users/me", raw, map[string]string{"email": "new@example.com"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, profile{Email: "new@example.com", Avatar: "erin.png"}, read(body))

	status, body = srv.do(t, http.MethodGet, "/api/users/me", raw, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, profile{Email: "new@example.com", Avatar: "erin.png"}, read(body))

	status, body = srv.do(t, http.MethodPut, "/api/users/me", raw, map[string]string{"email": "bad@"})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "VALIDATION_FAILED", body.Error.Code)

	status, _ = srv.do(t, http.MethodPut, "/api/users/me", "", map[string]string{"avatar": "x.png"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

// deadlineUsers records whether the gate's lookup carried a request deadline.
type deadlineUsers struct {
	*repository.MemoryUserRepository
	sawDeadline chan bool
}

func (u *deadlineUsers) FindByUsername(ctx context.Context, username string) (model.User, error) {
	_, ok := ctx.Deadline()
	select {
	case u.sawDeadline <- ok:
	default:
	}
	return u.MemoryUserRepository.FindByUsername(ctx, username)
}

func TestRouter_GateLookupsRunUnderRequestTimeout(t *testing.T) {
	t.Parallel()

	codec, err := token.NewCodec([]byte(strings.Repeat("r", 32)), time.Hour)
	require.NoError(t, err)
	users := &deadlineUsers{MemoryUserRepository: repository.NewMemoryUserRepository(), sawDeadline: make(chan bool, 1)}
	revoked := revocation.NewMemoryStore()
	authService := service.NewAuthService(users, service.NewBcryptHasher(bcrypt.MinCost), codec, revoked, nil)
	require.NoError(t, authService.EnsureAdmin(context.Background(), "root", "rootpass"))

	admin, err := users.MemoryUserRepository.FindByUsername(context.Background(), "root")
	require.NoError(t, err)
	raw, _, err := codec.Issue(model.PrincipalFromUser(admin), time.Now())
	require.NoError(t, err)

	h := New(&config.Config{RequestTimeout: 5 * time.Second}, middleware.NewAuthMiddleware(codec, revoked, users, nil), Handlers{
		Auth:   handler.NewAuthHandler(authService),
		User:   handler.NewUserHandler(authService),
		Health: handler.NewHealthHandler(users),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	select {
	case ok := <-users.sawDeadline:
		assert.True(t, ok)
	default:
		t.Fatal("gate did not look up the account")
	}
}
