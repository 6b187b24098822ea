package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/internal/clock"
	"github.com/jrsteele09/go-auth-client/internal/config"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/transport"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/sessions/repofake"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "jane@example.com"
	testPassword = "s3cret"
	testProject  = "p1"

	pathSignIn      = "POST /api/sign-in"
	pathExchange    = "POST /api/exchange"
	pathSession     = "GET /api/session"
	pathLogout      = "POST /api/logout"
	pathOAuthVerify = "POST /api/oauth/verify"
	pathTeamMember  = "POST /api/team-member"
	pathLoginPage   = "GET /provider/login"
	pathLoginPost   = "POST /provider/login"
	pathGrantPost   = "POST /provider/projects/p1/grant"
	pathGrantGet    = "GET /provider/projects/p1/grant"
	pathVerify      = "GET /provider/session"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recorded is one request seen by the fake server.
type recorded struct {
	Header http.Header
	Query  url.Values
	Body   []byte
}

func (r recorded) json(t *testing.T) map[string]string {
	t.Helper()
	out := map[string]string{}
	require.NoError(t, json.Unmarshal(r.Body, &out))
	return out
}

func (r recorded) form(t *testing.T) url.Values {
	t.Helper()
	values, err := url.ParseQuery(string(r.Body))
	require.NoError(t, err)
	return values
}

// fakeServer stands in for the first-party API and the provider. Handlers
// are keyed by "METHOD /path" and every request is recorded.
type fakeServer struct {
	*httptest.Server
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests map[string][]recorded
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	s := &fakeServer{
		handlers: map[string]http.HandlerFunc{},
		requests: map[string][]recorded{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		s.mu.Lock()
		s.requests[key] = append(s.requests[key], recorded{Header: r.Header.Clone(), Query: r.URL.Query(), Body: body})
		h := s.handlers[key]
		s.mu.Unlock()

		if h == nil {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *fakeServer) handle(key string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[key] = h
}

func (s *fakeServer) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests[key])
}

func (s *fakeServer) last(t *testing.T, key string) recorded {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := s.requests[key]
	require.NotEmpty(t, reqs, "no request for %s", key)
	return reqs[len(reqs)-1]
}

func writeJSON(status int, v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeHTML(status int, page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(page))
	}
}

type fakePush struct{ calls int }

func (p *fakePush) Unregister(context.Context) error {
	p.calls++
	return nil
}

type fakeCache struct{ clears int }

func (c *fakeCache) Clear(context.Context) error {
	c.clears++
	return nil
}

// testFixture holds all test dependencies
type testFixture struct {
	server  *fakeServer
	cfg     config.Config
	repo    *repofake.FakeRepo
	store   *sessions.Store
	service *auth.Service
	push    *fakePush
	cache   *fakeCache
	clock   *clock.FakeClock
	now     time.Time
}

func testConfig(base string) config.Config {
	cfg := config.Default()
	cfg.API = config.APIConfig{
		SignInURL:        base + "/api/sign-in",
		TokenExchangeURL: base + "/api/exchange",
		SessionURL:       base + "/api/session",
		LogoutURL:        base + "/api/logout",
		OAuthVerifyURL:   base + "/api/oauth/verify",
		TeamMemberURL:    base + "/api/team-member",
	}
	cfg.Provider.Name = "acme"
	cfg.Provider.Domain = "provider.test"
	cfg.Provider.LoginPageURL = base + "/provider/login"
	cfg.Provider.LoginURL = base + "/provider/login"
	cfg.Provider.AccessGrantURL = base + "/provider/projects/{projectId}/grant"
	cfg.Provider.SessionVerifyURL = base + "/provider/session"
	cfg.Provider.ProjectID = testProject
	cfg.Browser.AppHost = "app.example.com"
	cfg.HTTP.StepTimeout = 2 * time.Second
	return cfg
}

func setupTestFixture(t *testing.T, options ...auth.ServiceOption) *testFixture {
	t.Helper()
	f := &testFixture{
		server: newFakeServer(t),
		repo:   repofake.NewFakeRepo(),
		push:   &fakePush{},
		cache:  &fakeCache{},
		clock:  clock.Fake(testEpoch),
		now:    testEpoch,
	}
	f.cfg = testConfig(f.server.URL)

	store, err := sessions.NewStore(f.repo, sessions.WithNowTime(func() time.Time { return f.now }))
	require.NoError(t, err)
	f.store = store

	client, err := transport.New(transport.WithStepTimeout(f.cfg.HTTP.StepTimeout))
	require.NoError(t, err)

	opts := append([]auth.ServiceOption{
		auth.WithNowTime(func() time.Time { return f.now }),
		auth.WithClock(f.clock),
		auth.WithPushRegistrar(f.push),
		auth.WithContentCache(f.cache),
	}, options...)
	f.service, err = auth.NewService(f.cfg, store, client, opts...)
	require.NoError(t, err)
	return f
}

// signedJWT returns an HS256 token expiring at exp.
func signedJWT(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": subject,
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func appSessionBody(tok string) map[string]any {
	return map[string]any{
		"data": map[string]any{
			"token":     tok,
			"settingId": "setting-1",
			"user": map[string]any{
				"id":       "u1",
				"email":    testEmail,
				"name":     "Jane",
				"timezone": "Europe/London",
			},
		},
	}
}

func creds() auth.Credentials {
	return auth.Credentials{Email: testEmail, Password: testPassword}
}

func TestNewService_Validation(t *testing.T) {
	client, err := transport.New()
	require.NoError(t, err)
	_, err = auth.NewService(config.Default(), nil, client)
	require.Error(t, err)

	store, err := sessions.NewStore(repofake.NewFakeRepo())
	require.NoError(t, err)
	_, err = auth.NewService(config.Default(), store, nil)
	require.Error(t, err)
}

func TestLogin_FirstParty(t *testing.T) {
	f := setupTestFixture(t)
	exp := testEpoch.Add(2 * time.Hour)
	jwt := signedJWT(t, "u1", exp)
	f.server.handle(pathSignIn, writeJSON(http.StatusOK, appSessionBody(jwt)))

	session, err := f.service.Login(context.Background(), creds())
	require.NoError(t, err)
	require.Equal(t, jwt, utils.Value(session.Token))
	require.Equal(t, "u1", session.User.ID)
	require.Equal(t, "setting-1", utils.Value(session.SettingID))
	require.Equal(t, exp.Unix(), utils.Value(session.TokenExpiresAt))

	body := f.server.last(t, pathSignIn).json(t)
	require.Equal(t, testEmail, body["email"])
	require.Equal(t, 0, f.server.count(pathExchange))
	require.Equal(t, 0, f.server.count(pathSession))
	require.True(t, f.store.IsValid())
	require.False(t, f.store.ShouldVerifyWithServer())
	require.Equal(t, "Europe/London", f.store.Timezone())
}

func TestLogin_ExpiresInIsRelativeToNow(t *testing.T) {
	f := setupTestFixture(t)
	f.server.handle(pathSignIn, writeJSON(http.StatusOK, map[string]any{
		"token":     "opaque-token",
		"expiresIn": 3600,
		"user":      map[string]any{"id": "u1"},
	}))

	session, err := f.service.Login(context.Background(), creds())
	require.NoError(t, err)
	require.Equal(t, testEpoch.Add(time.Hour).Unix(), utils.Value(session.TokenExpiresAt))
}

func TestLogin_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		kind    apperrors.Kind
		message string
	}{
		{
			name:    "unauthorized with message",
			handler: writeJSON(http.StatusUnauthorized, map[string]any{"message": "Wrong password"}),
			kind:    apperrors.KindInvalidCredentials,
			message: "Wrong password",
		},
		{
			name:    "success false",
			handler: writeJSON(http.StatusOK, map[string]any{"success": false}),
			kind:    apperrors.KindInvalidCredentials,
			message: apperrors.ErrInvalidCredentials.Message,
		},
		{
			name:    "server error",
			handler: writeHTML(http.StatusBadGateway, "<h1>bad gateway</h1>"),
			kind:    apperrors.KindProviderUnavailable,
			message: apperrors.ErrProviderUnavailable.Message,
		},
		{
			name:    "no token or user",
			handler: writeJSON(http.StatusOK, map[string]any{"status": "ok"}),
			kind:    apperrors.KindTokenNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestFixture(t)
			f.server.handle(pathSignIn, tt.handler)

			session, err := f.service.Login(context.Background(), creds())
			require.Nil(t, session)
			var appErr *apperrors.Error
			require.ErrorAs(t, err, &appErr)
			require.Equal(t, tt.kind, appErr.Kind)
			if tt.message != "" {
				require.Equal(t, tt.message, appErr.Message)
			}

			restored, err := f.store.RestoreSession()
			require.NoError(t, err)
			require.Nil(t, restored)
		})
	}
}

func TestLogin_MissingCredentials(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Login(context.Background(), auth.Credentials{Email: testEmail})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	require.Equal(t, 0, f.server.count(pathSignIn))
}

func TestLogin_UnreachableServer(t *testing.T) {
	f := setupTestFixture(t)
	f.server.Close()

	_, err := f.service.Login(context.Background(), creds())
	require.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
}
