package tests

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskmanager/auth-service/internal/auth"
	"github.com/taskmanager/auth-service/internal/config"
	"github.com/taskmanager/auth-service/internal/db"
	authhttp "github.com/taskmanager/auth-service/internal/http"
	"github.com/taskmanager/auth-service/internal/http/handlers"
	"github.com/taskmanager/auth-service/internal/limiter"
	"github.com/taskmanager/auth-service/internal/metrics"
	"github.com/taskmanager/auth-service/internal/repo"
)

func TestMain(m *testing.M) {
	// Set env if unset. Do NOT set DATABASE_URL; integration tests skip if missing.
	if os.Getenv("ACCESS_TOKEN_SECRET") == "" {
		os.Setenv("ACCESS_TOKEN_SECRET", "test-access-secret-at-least-32-characters")
	}
	if os.Getenv("REFRESH_TOKEN_SECRET") == "" {
		os.Setenv("REFRESH_TOKEN_SECRET", "test-refresh-secret-at-least-32-characters")
	}
	if os.Getenv("DEVICE_SALT") == "" {
		os.Setenv("DEVICE_SALT", "test-device-salt")
	}
	if os.Getenv("DEV_MODE") == "" {
		os.Setenv("DEV_MODE", "true")
	}
	// The whole suite runs from one IP; the per-IP limit must not trip it.
	if os.Getenv("LOGIN_RATE_LIMIT") == "" {
		os.Setenv("LOGIN_RATE_LIMIT", "1000")
	}

	code := m.Run()
	os.Exit(code)
}

// testServer holds the server and DB for integration tests
type testServer struct {
	Server *httptest.Server
	DB     *sql.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err, "config load must succeed for integration test")

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DatabaseURL)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	err = RunMigrations(database)
	require.NoError(t, err, "migrations must run successfully")

	logger := zap.NewNop()

	// The shared counter store; a local store is enough for a single test server.
	var store limiter.Store = limiter.NewMemoryStore()
	if cfg.RedisURL != "" {
		client, err := db.OpenRedis(ctx, cfg.RedisURL)
		require.NoError(t, err, "redis open must succeed when REDIS_URL is set")
		t.Cleanup(func() { client.Close() })
		store = limiter.NewRedisStore(client)
	}
	lockout := limiter.New(store, "lock:acct:", cfg.MaxLoginFailures, cfg.LockoutWindow)
	mfaLockout := limiter.New(store, "lock:mfa:", cfg.MaxMFAFailures, cfg.MFAWindow)
	ipLimiter := limiter.New(limiter.NewMemoryStore(), "rl:ip:", cfg.LoginRateLimit, cfg.LoginRateWindow)

	userRepo := repo.NewUserRepo(database)
	mfaRepo := repo.NewMFARepo(database)
	deviceRepo := repo.NewDeviceRepo(database)
	attemptRepo := repo.NewAttemptRepo(database)

	jwtService := auth.NewJWTService(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	authService := auth.NewService(userRepo, mfaRepo, deviceRepo, attemptRepo, jwtService, lockout, mfaLockout, logger, auth.Options{
		DeviceSalt:     cfg.DeviceSalt,
		DeviceTrustTTL: cfg.DeviceTrustTTL,
		MFASessionTTL:  cfg.MFAWindow,
		MaxMFAFailures: cfg.MaxMFAFailures,
	})

	m := metrics.New()
	authHandler := handlers.NewAuthHandler(authService, logger, m)
	router := authhttp.NewRouter(authHandler, jwtService, userRepo, ipLimiter, database, m, logger)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{Server: server, DB: database}
}

func (s *testServer) BaseURL() string { return s.Server.URL }

func (s *testServer) TruncateAuth(t *testing.T) {
	t.Helper()
	require.NoError(t, TruncateAuthTables(context.Background(), s.DB), "truncate auth tables")
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func postJSON(t *testing.T, client *http.Client, url, token string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

// loginResponse matches the login / verify-mfa response body
type loginResponse struct {
	RequiresMFA  bool   `json:"requires_mfa"`
	MFASessionID string `json:"mfa_session_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	User         struct {
		ID         string `json:"id"`
		Email      string `json:"email"`
		MFAEnabled bool   `json:"mfa_enabled"`
	} `json:"user"`
}

// mfaSetupResponse matches POST /auth/mfa/setup response
type mfaSetupResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

const (
	testEmail    = "integration@example.com"
	testPassword = "IntegrationPass1!"
)

func registerAndLogin(t *testing.T, client *http.Client, baseURL string) loginResponse {
	t.Helper()
	creds := map[string]string{"email": testEmail, "password": testPassword}

	resp := postJSON(t, client, baseURL+"/auth/register", "", creds)
	body := readBody(resp)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode, "register must return 201; body: %s", body)

	resp = postJSON(t, client, baseURL+"/auth/login", "", creds)
	defer resp.Body.Close()
	loginBody := readBody(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode, "login must return 200; body: %s", loginBody)

	var res loginResponse
	require.NoError(t, json.Unmarshal([]byte(loginBody), &res))
	return res
}

func TestAuthIntegration(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ts := newTestServer(t)
	baseURL := ts.BaseURL()
	client := ts.Server.Client()

	t.Run("A_HealthCheck", func(t *testing.T) {
		resp, err := client.Get(baseURL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "GET /health must return 200")
	})

	t.Run("B_RegisterAndLogin", func(t *testing.T) {
		ts.TruncateAuth(t)
		res := registerAndLogin(t, client, baseURL)
		assert.False(t, res.RequiresMFA)
		assert.NotEmpty(t, res.AccessToken)
		assert.NotEmpty(t, res.RefreshToken)
		assert.Equal(t, "bearer", res.TokenType)
		assert.Equal(t, testEmail, res.User.Email)
	})

	t.Run("B2_DuplicateEmail", func(t *testing.T) {
		ts.TruncateAuth(t)
		registerAndLogin(t, client, baseURL)

		resp := postJSON(t, client, baseURL+"/auth/register", "", map[string]string{
			"email": testEmail, "password": testPassword,
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode, "second register for same email must return 409; body: %s", readBody(resp))
	})

	t.Run("C_MeWithBearerToken", func(t *testing.T) {
		ts.TruncateAuth(t)
		res := registerAndLogin(t, client, baseURL)

		req, err := http.NewRequest(http.MethodGet, baseURL+"/me", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+res.AccessToken)
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		body := readBody(resp)
		require.Equal(t, http.StatusOK, resp.StatusCode, "GET /me must return 200; body: %s", body)

		var me map[string]any
		require.NoError(t, json.Unmarshal([]byte(body), &me))
		assert.Equal(t, testEmail, me["email"])
	})

	t.Run("D_RefreshRotation", func(t *testing.T) {
		ts.TruncateAuth(t)
		res := registerAndLogin(t, client, baseURL)

		resp := postJSON(t, client, baseURL+"/auth/refresh", "", map[string]string{"refresh_token": res.RefreshToken})
		rotatedBody := readBody(resp)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "first refresh must return 200; body: %s", rotatedBody)

		var rotated loginResponse
		require.NoError(t, json.Unmarshal([]byte(rotatedBody), &rotated))
		assert.NotEqual(t, res.RefreshToken, rotated.RefreshToken, "refresh must rotate the token")

		// Replaying the exchanged token must fail and revoke the lineage.
		resp = postJSON(t, client, baseURL+"/auth/refresh", "", map[string]string{"refresh_token": res.RefreshToken})
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "replayed refresh token must be rejected")

		resp = postJSON(t, client, baseURL+"/auth/refresh", "", map[string]string{"refresh_token": rotated.RefreshToken})
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "lineage must be dead after reuse was detected")
	})

	t.Run("E_Logout", func(t *testing.T) {
		ts.TruncateAuth(t)
		res := registerAndLogin(t, client, baseURL)

		resp := postJSON(t, client, baseURL+"/auth/logout", res.AccessToken, struct{}{})
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = postJSON(t, client, baseURL+"/auth/refresh", "", map[string]string{"refresh_token": res.RefreshToken})
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "refresh token must be dead after logout")
	})

	t.Run("F_MFAEndToEnd", func(t *testing.T) {
		ts.TruncateAuth(t)
		res := registerAndLogin(t, client, baseURL)

		resp := postJSON(t, client, baseURL+"/auth/mfa/setup", res.AccessToken, struct{}{})
		setupBody := readBody(resp)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "mfa setup must return 200; body: %s", setupBody)

		var setup mfaSetupResponse
		require.NoError(t, json.Unmarshal([]byte(setupBody), &setup))
		require.NotEmpty(t, setup.Secret)

		code, err := totp.GenerateCode(setup.Secret, time.Now())
		require.NoError(t, err)
		resp = postJSON(t, client, baseURL+"/auth/mfa/confirm", res.AccessToken, map[string]string{"code": code})
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		// Login now returns an MFA challenge instead of tokens.
		resp = postJSON(t, client, baseURL+"/auth/login", "", map[string]string{"email": testEmail, "password": testPassword})
		challengeBody := readBody(resp)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "login must return 200 challenge; body: %s", challengeBody)

		var challenge loginResponse
		require.NoError(t, json.Unmarshal([]byte(challengeBody), &challenge))
		require.True(t, challenge.RequiresMFA)
		require.NotEmpty(t, challenge.MFASessionID)
		assert.Empty(t, challenge.AccessToken, "no tokens before TOTP verification")

		code, err = totp.GenerateCode(setup.Secret, time.Now())
		require.NoError(t, err)
		resp = postJSON(t, client, baseURL+"/auth/verify-mfa", "", map[string]any{
			"mfa_session_id":     challenge.MFASessionID,
			"code":               code,
			"remember_device":    true,
			"device_fingerprint": "integration-device",
		})
		verifyBody := readBody(resp)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "verify-mfa must return 200; body: %s", verifyBody)

		var verified loginResponse
		require.NoError(t, json.Unmarshal([]byte(verifyBody), &verified))
		assert.NotEmpty(t, verified.AccessToken)

		// The remembered device skips the challenge on the next login.
		resp = postJSON(t, client, baseURL+"/auth/login", "", map[string]string{
			"email": testEmail, "password": testPassword, "device_fingerprint": "integration-device",
		})
		trustedBody := readBody(resp)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "trusted-device login must return 200; body: %s", trustedBody)

		var trusted loginResponse
		require.NoError(t, json.Unmarshal([]byte(trustedBody), &trusted))
		assert.False(t, trusted.RequiresMFA, "trusted device must skip MFA")
		assert.NotEmpty(t, trusted.AccessToken)
	})

	t.Run("G_AccountLockout", func(t *testing.T) {
		ts.TruncateAuth(t)
		registerAndLogin(t, client, baseURL)

		wrong := map[string]string{"email": testEmail, "password": "WrongPass1!"}
		for i := 0; i < 5; i++ {
			resp := postJSON(t, client, baseURL+"/auth/login", "", wrong)
			resp.Body.Close()
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "failure %d must return 401", i+1)
		}

		resp := postJSON(t, client, baseURL+"/auth/login", "", map[string]string{"email": testEmail, "password": testPassword})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusLocked, resp.StatusCode, "correct password must be rejected while locked; body: %s", readBody(resp))
	})
}
