package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sofatutor/brian/internal/api"
	"github.com/sofatutor/brian/internal/audit"
	"github.com/sofatutor/brian/internal/auth"
	"github.com/sofatutor/brian/internal/config"
	"github.com/sofatutor/brian/internal/database"
	"github.com/sofatutor/brian/internal/encryption"
	"github.com/sofatutor/brian/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCompleter struct {
	text   string
	chunks []string
	err    error
	// failAfter makes Stream fail after this many chunks when err is set.
	failAfter int

	lastUser   string
	lastPrompt string
}

func (f *fakeCompleter) Complete(_ context.Context, user, prompt string) (string, error) {
	f.lastUser, f.lastPrompt = user, prompt
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeCompleter) Stream(_ context.Context, user, prompt string, onDelta func(string) error) (string, error) {
	f.lastUser, f.lastPrompt = user, prompt
	var full strings.Builder
	for i, ch := range f.chunks {
		if f.err != nil && i == f.failAfter {
			return full.String(), f.err
		}
		full.WriteString(ch)
		if err := onDelta(ch); err != nil {
			return full.String(), err
		}
	}
	if f.err != nil {
		return full.String(), f.err
	}
	return full.String(), nil
}

type fakeTokens struct {
	n   int
	err error
}

func (f fakeTokens) CountTokens(string) (int, error) { return f.n, f.err }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type testEnv struct {
	srv       *Server
	db        *database.DB
	issuer    *auth.Issuer
	completer *fakeCompleter
}

func newTestEnv(t *testing.T, mutate func(*config.Config, *Deps)) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(ctx, database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "server-test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.DefaultConfig()
	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.AccessTokenExpire)
	require.NoError(t, err)
	hasher, err := encryption.NewPasswordHasherWithCost(bcrypt.MinCost)
	require.NoError(t, err)

	completer := &fakeCompleter{text: "Hi, I'm Brian."}
	deps := Deps{
		Users:     db,
		Hasher:    hasher,
		Issuer:    issuer,
		Completer: completer,
		Tokens:    fakeTokens{n: 5},
		Limiter:   ratelimit.NewMemoryLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		DB:        db,
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}

	srv, err := New(cfg, deps)
	require.NoError(t, err)
	return &testEnv{srv: srv, db: db, issuer: issuer, completer: completer}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) signUp(t *testing.T, username, password string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/create-user", api.CreateUserRequest{
		Name: "Test User", Username: username, Email: username + "@example.com", Password: password,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func (e *testEnv) bearer(t *testing.T, username string) http.Header {
	t.Helper()
	token, err := e.issuer.Issue(username)
	require.NoError(t, err)
	return http.Header{"Authorization": {api.BearerHeader(token)}}
}

func detail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var e api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), w.Body.String())
	return e.Detail
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(nil, Deps{})
	assert.Error(t, err)
	_, err = New(config.DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var h HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, Version, h.Version)
	assert.Equal(t, "ok", h.Database)
	assert.WithinDuration(t, time.Now(), h.Timestamp, time.Minute)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHealth_DatabaseDown(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, d *Deps) {
		d.DB = fakePinger{err: errors.New("connection refused")}
	})
	w := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded"`)
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not Found", detail(t, w))
}

func TestCreateUser(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/create-user", api.CreateUserRequest{
		Name: "Ada", Username: "ada", Email: "ada@example.com", Password: "secret",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"User created successfully"}`, w.Body.String())

	user, err := env.db.GetUserByUsername(context.Background(), "ada")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", user.Password)

	t.Run("duplicate username", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/create-user", api.CreateUserRequest{
			Name: "Ada 2", Username: "ada", Email: "other@example.com", Password: "x",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "User already exists", detail(t, w))
	})

	t.Run("duplicate email", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/create-user", api.CreateUserRequest{
			Name: "Ada 3", Username: "ada3", Email: "ada@example.com", Password: "x",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/create-user", `{"username":"bob"}`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.NotEmpty(t, detail(t, w))
	})

	t.Run("malformed json", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/create-user", `{`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestCreateUser_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config, _ *Deps) { c.MaxRequestSize = 64 })
	w := env.do(t, http.MethodPost, "/create-user", api.CreateUserRequest{
		Name: strings.Repeat("n", 100), Username: "u", Email: "e", Password: "p",
	}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signUp(t, "ada", "lovelace")

	w := env.do(t, http.MethodPost, "/login", api.LoginRequest{Username: "ada", Password: "lovelace"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Login successful", resp.Message)
	assert.Equal(t, "bearer", resp.TokenType)
	sub, err := env.issuer.Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ada", sub)

	tests := []struct {
		name string
		req  api.LoginRequest
	}{
		{"wrong password", api.LoginRequest{Username: "ada", Password: "babbage"}},
		{"unknown user", api.LoginRequest{Username: "grace", Password: "lovelace"}},
		{"empty fields", api.LoginRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/login", tt.req, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "Invalid credentials", detail(t, w))
		})
	}
}

func TestGenerateText_Auth(t *testing.T) {
	env := newTestEnv(t, nil)
	body := api.GenerateTextRequest{Prompt: "hi"}

	w := env.do(t, http.MethodPost, "/generate-text", body, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Not authenticated", detail(t, w))

	w = env.do(t, http.MethodPost, "/generate-text", body, http.Header{"Authorization": {"Basic abc"}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/generate-text", body, http.Header{"Authorization": {"Bearer not-a-jwt"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid or expired token", detail(t, w))

	other, err := auth.NewIssuer("another-secret", time.Hour)
	require.NoError(t, err)
	forged, err := other.Issue("ada")
	require.NoError(t, err)
	w = env.do(t, http.MethodPost, "/generate-text", body, http.Header{"Authorization": {api.BearerHeader(forged)}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGenerateText_JSON(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/generate-text", api.GenerateTextRequest{Prompt: "who are you?"}, env.bearer(t, "ada"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"response":"Hi, I'm Brian."}`, w.Body.String())
	assert.Equal(t, "ada", env.completer.lastUser)
	assert.Equal(t, "who are you?", env.completer.lastPrompt)
	assert.Equal(t, "30", w.Header().Get("X-RateLimit-Limit"))
}

func TestGenerateText_Stream(t *testing.T) {
	env := newTestEnv(t, nil)
	env.completer.chunks = []string{"Hel", "lo", " <b>world</b>"}

	header := env.bearer(t, "ada")
	header.Set("Accept", "text/plain")
	w := env.do(t, http.MethodPost, "/generate-text", api.GenerateTextRequest{Prompt: "hi"}, header)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello <b>world</b>", w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
	assert.True(t, w.Flushed)

	w = env.do(t, http.MethodPost, "/generate-text?stream=true", api.GenerateTextRequest{Prompt: "hi"}, env.bearer(t, "ada"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello <b>world</b>", w.Body.String())
}

func TestGenerateText_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.completer.err = errors.New("upstream error 500")

	w := env.do(t, http.MethodPost, "/generate-text", api.GenerateTextRequest{Prompt: "hi"}, env.bearer(t, "ada"))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Text generation failed", detail(t, w))

	w = env.do(t, http.MethodPost, "/generate-text?stream=1", api.GenerateTextRequest{Prompt: "hi"}, env.bearer(t, "ada"))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestGenerateText_StreamInterrupted(t *testing.T) {
	env := newTestEnv(t, nil)
	env.completer.chunks = []string{"partial", "never"}
	env.completer.err = errors.New("connection reset")
	env.completer.failAfter = 1

	w := env.do(t, http.MethodPost, "/generate-text?stream=true", api.GenerateTextRequest{Prompt: "hi"}, env.bearer(t, "ada"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "partial", w.Body.String())
}

func TestGenerateText_PromptTooLong(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config, d *Deps) {
		c.MaxPromptTokens = 10
		d.Tokens = fakeTokens{n: 11}
	})
	w := env.do(t, http.MethodPost, "/generate-text", api.GenerateTextRequest{Prompt: "long"}, env.bearer(t, "ada"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, detail(t, w), "11 tokens")
	assert.Empty(t, env.completer.lastPrompt)
}

func TestGenerateText_TokenCountErrorIsIgnored(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, d *Deps) {
		d.Tokens = fakeTokens{err: errors.New("no tokenizer")}
	})
	w := env.do(t, http.MethodPost, "/generate-text", api.GenerateTextRequest{Prompt: "hi"}, env.bearer(t, "ada"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGenerateText_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, d *Deps) {
		d.Limiter = ratelimit.NewMemoryLimiter(2, time.Minute)
	})
	header := env.bearer(t, "ada")
	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodPost, "/generate-text", api.GenerateTextRequest{Prompt: "hi"}, header)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do(t, http.MethodPost, "/generate-text", api.GenerateTextRequest{Prompt: "hi"}, header)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Rate limit exceeded", detail(t, w))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Limits are per user.
	w = env.do(t, http.MethodPost, "/generate-text", api.GenerateTextRequest{Prompt: "hi"}, env.bearer(t, "grace"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGenerateText_RateLimitDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config, d *Deps) {
		c.RateLimitEnabled = false
		d.Limiter = ratelimit.NewMemoryLimiter(1, time.Hour)
	})
	header := env.bearer(t, "ada")
	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodPost, "/generate-text", api.GenerateTextRequest{Prompt: "hi"}, header)
		require.Equal(t, http.StatusOK, w.Code)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, ratelimit.ErrRedisUnavailable
}

func TestGenerateText_LimiterUnavailable(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, d *Deps) { d.Limiter = failingLimiter{} })
	w := env.do(t, http.MethodPost, "/generate-text", api.GenerateTextRequest{Prompt: "hi"}, env.bearer(t, "ada"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEndToEnd_SignUpLoginGenerate(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signUp(t, "ada", "pw")

	w := env.do(t, http.MethodPost, "/login", api.LoginRequest{Username: "ada", Password: "pw"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var login api.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))

	w = env.do(t, http.MethodPost, "/generate-text", api.GenerateTextRequest{Prompt: "hello"},
		http.Header{"Authorization": {api.BearerHeader(login.AccessToken)}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ada", env.completer.lastUser)
}

func TestStartShutdown(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config, _ *Deps) { c.ListenAddr = "127.0.0.1:0" })
	errCh := make(chan error, 1)
	go func() { errCh <- env.srv.Start() }()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.srv.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestAuditTrail(t *testing.T) {
	var trail bytes.Buffer
	env := newTestEnv(t, func(_ *config.Config, d *Deps) {
		d.Audit = audit.NewWriterLogger(&trail)
	})
	env.signUp(t, "ada", "lovelace")
	env.do(t, http.MethodPost, "/create-user", api.CreateUserRequest{
		Name: "Ada", Username: "ada", Email: "ada@example.com", Password: "x",
	}, nil)
	env.do(t, http.MethodPost, "/login", api.LoginRequest{Username: "ada", Password: "lovelace"}, nil)
	env.do(t, http.MethodPost, "/login", api.LoginRequest{Username: "ada", Password: "wrong"}, nil)
	env.do(t, http.MethodPost, "/generate-text", api.GenerateTextRequest{Prompt: "hi"},
		http.Header{"Authorization": {"Bearer not-a-jwt"}, "X-Request-ID": {"req-42"}})

	raw := trail.String()
	assert.NotContains(t, raw, "lovelace")

	var events []audit.Event
	dec := json.NewDecoder(strings.NewReader(raw))
	for dec.More() {
		var e audit.Event
		require.NoError(t, dec.Decode(&e))
		events = append(events, e)
	}
	require.Len(t, events, 5)

	assert.Equal(t, audit.ActionUserCreate, events[0].Action)
	assert.Equal(t, audit.ResultSuccess, events[0].Result)
	assert.Equal(t, audit.ResultFailure, events[1].Result)
	assert.Equal(t, audit.ActionUserLogin, events[2].Action)
	assert.Equal(t, audit.ResultSuccess, events[2].Result)
	assert.Equal(t, "wrong password", events[3].Details["reason"])
	assert.Equal(t, audit.ActionTokenReject, events[4].Action)
	assert.Equal(t, audit.ActorAnonymous, events[4].Actor)
	assert.Equal(t, "req-42", events[4].RequestID)
}
