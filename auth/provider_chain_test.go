package auth_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/stretchr/testify/require"
)

const loginPage = `<!doctype html>
<html><head><meta name="csrf-token" content="meta-csrf"></head>
<body><form method="post" action="/provider/login">
<input type="hidden" name="_token" value="csrf-1">
<input type="email" name="email"><input type="password" name="password">
</form></body></html>`

// servePage sets a session cookie and returns the provider login page.
func servePage(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "provider_session", Value: "cookie-1", Path: "/"})
	writeHTML(http.StatusOK, loginPage)(w, r)
}

func (f *testFixture) exchangeReturns(t *testing.T, appToken string) {
	t.Helper()
	f.server.handle(pathExchange, writeJSON(http.StatusOK, appSessionBody(appToken)))
}

func (f *testFixture) requireCounts(t *testing.T, want map[string]int) {
	t.Helper()
	for key, n := range want {
		require.Equal(t, n, f.server.count(key), key)
	}
}

func TestLoginWithProvider_TokenOnFirstPost(t *testing.T) {
	f := setupTestFixture(t)
	providerJWT := signedJWT(t, "provider-user", testEpoch.Add(time.Hour))
	f.server.handle(pathLoginPage, servePage)
	f.server.handle(pathLoginPost, writeJSON(http.StatusOK, map[string]any{"data": map[string]any{"token": providerJWT}}))
	f.exchangeReturns(t, "app-token")

	session, err := f.service.LoginWithProvider(context.Background(), creds())
	require.NoError(t, err)
	require.Equal(t, "app-token", utils.Value(session.Token))
	require.Equal(t, testEmail, session.User.Email)

	f.requireCounts(t, map[string]int{
		pathLoginPage: 1,
		pathLoginPost: 1,
		pathGrantPost: 0,
		pathGrantGet:  0,
		pathVerify:    0,
		pathExchange:  1,
	})

	post := f.server.last(t, pathLoginPost)
	form := post.form(t)
	require.Equal(t, "csrf-1", form.Get("_token"))
	require.Equal(t, testEmail, form.Get("email"))
	require.Equal(t, "csrf-1", post.Header.Get("X-CSRF-TOKEN"))
	require.Contains(t, post.Header.Get("Cookie"), "provider_session=cookie-1")

	exchange := f.server.last(t, pathExchange)
	require.Equal(t, providerJWT, exchange.json(t)["token"])
	require.Equal(t, "Bearer "+providerJWT, exchange.Header.Get("Authorization"))
}

func TestLoginWithProvider_TokenFromAccessGrantLocation(t *testing.T) {
	f := setupTestFixture(t)
	f.server.handle(pathLoginPage, servePage)
	f.server.handle(pathLoginPost, writeHTML(http.StatusOK, "<html><body>Welcome back</body></html>"))
	f.server.handle(pathGrantPost, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/app/?token=abc123", http.StatusFound)
	})
	f.exchangeReturns(t, "app-token")

	_, err := f.service.LoginWithProvider(context.Background(), creds())
	require.NoError(t, err)

	require.Equal(t, "abc123", f.server.last(t, pathExchange).json(t)["token"])
	require.Equal(t, testProject, f.server.last(t, pathGrantPost).json(t)["projectId"])
	require.Contains(t, f.server.last(t, pathGrantPost).Header.Get("Cookie"), "provider_session=cookie-1")
	f.requireCounts(t, map[string]int{pathGrantPost: 1, pathGrantGet: 0, pathExchange: 1})
}

func TestLoginWithProvider_ReachesAccessGrantGet(t *testing.T) {
	f := setupTestFixture(t)
	f.server.handle(pathLoginPage, servePage)
	f.server.handle(pathLoginPost, writeHTML(http.StatusOK, "<html>ok</html>"))
	f.server.handle(pathGrantPost, writeJSON(http.StatusMethodNotAllowed, map[string]any{"ok": true}))
	f.server.handle(pathGrantGet, writeJSON(http.StatusOK, map[string]any{"redirectUrl": "https://app.example.com/cb?access_token=grant-token&settingId=s-9"}))
	f.exchangeReturns(t, "app-token")

	session, err := f.service.LoginWithProvider(context.Background(), creds())
	require.NoError(t, err)
	require.Equal(t, "app-token", utils.Value(session.Token))

	f.requireCounts(t, map[string]int{
		pathLoginPage: 1,
		pathLoginPost: 1,
		pathGrantPost: 1,
		pathGrantGet:  1,
		pathVerify:    0,
		pathExchange:  1,
	})
	require.Equal(t, testProject, f.server.last(t, pathGrantGet).Query.Get("projectId"))
	require.Equal(t, "grant-token", f.server.last(t, pathExchange).json(t)["token"])
}

func TestLoginWithProvider_SessionVerifyIsLastResort(t *testing.T) {
	f := setupTestFixture(t)
	f.server.handle(pathLoginPost, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/provider/home", http.StatusSeeOther)
	})
	f.server.handle(pathVerify, writeJSON(http.StatusOK, map[string]any{"jwt": "verify-token"}))
	f.exchangeReturns(t, "app-token")

	_, err := f.service.LoginWithProvider(context.Background(), creds())
	require.NoError(t, err)
	require.Equal(t, "verify-token", f.server.last(t, pathExchange).json(t)["token"])
	f.requireCounts(t, map[string]int{pathLoginPage: 1, pathGrantPost: 1, pathGrantGet: 1, pathVerify: 1})
}

func TestLoginWithProvider_TokenNotFound(t *testing.T) {
	f := setupTestFixture(t)
	f.server.handle(pathLoginPage, servePage)
	f.server.handle(pathLoginPost, writeHTML(http.StatusOK, "<html>ok</html>"))
	f.server.handle(pathGrantPost, writeJSON(http.StatusOK, map[string]any{"granted": true}))
	f.server.handle(pathGrantGet, writeJSON(http.StatusOK, map[string]any{"granted": true}))
	f.server.handle(pathVerify, writeJSON(http.StatusOK, map[string]any{"authenticated": true}))

	_, err := f.service.LoginWithProvider(context.Background(), creds())
	require.ErrorIs(t, err, apperrors.ErrTokenNotFound)
	f.requireCounts(t, map[string]int{pathGrantPost: 1, pathGrantGet: 1, pathVerify: 1, pathExchange: 0})
}

func TestLoginWithProvider_JSONErrorFailsFast(t *testing.T) {
	f := setupTestFixture(t)
	f.server.handle(pathLoginPost, writeJSON(http.StatusUnprocessableEntity, map[string]any{
		"success": false,
		"message": "Your account is locked",
	}))

	_, err := f.service.LoginWithProvider(context.Background(), creds())
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.KindInvalidCredentials, appErr.Kind)
	require.Equal(t, "Your account is locked", appErr.Message)
	f.requireCounts(t, map[string]int{pathGrantPost: 0, pathExchange: 0})
}

func TestLoginWithProvider_RejectedStatusWithJSONFailsFast(t *testing.T) {
	f := setupTestFixture(t)
	f.server.handle(pathLoginPost, writeJSON(http.StatusUnauthorized, map[string]any{
		"message": "Invalid email or password",
	}))

	_, err := f.service.LoginWithProvider(context.Background(), creds())
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.KindInvalidCredentials, appErr.Kind)
	require.Equal(t, "Invalid email or password", appErr.Message)
	f.requireCounts(t, map[string]int{pathGrantPost: 0, pathGrantGet: 0, pathVerify: 0, pathExchange: 0})
}

func TestLoginWithProvider_FailurePhraseInHTML(t *testing.T) {
	f := setupTestFixture(t)
	f.server.handle(pathLoginPost, writeHTML(http.StatusOK, "<p class=error>These credentials do not match our records.</p>"))

	_, err := f.service.LoginWithProvider(context.Background(), creds())
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	f.requireCounts(t, map[string]int{pathGrantPost: 0})
}

func TestLoginWithProvider_ProviderUnreachable(t *testing.T) {
	f := setupTestFixture(t)
	f.server.Close()

	_, err := f.service.LoginWithProvider(context.Background(), creds())
	require.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
}

func TestLoginWithProvider_SingleFlight(t *testing.T) {
	f := setupTestFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.server.handle(pathLoginPage, func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		servePage(w, r)
	})
	f.server.handle(pathLoginPost, writeJSON(http.StatusOK, map[string]any{"token": "provider-token"}))
	f.exchangeReturns(t, "app-token")

	done := make(chan error, 1)
	go func() {
		_, err := f.service.LoginWithProvider(context.Background(), creds())
		done <- err
	}()
	<-entered

	_, err := f.service.Login(context.Background(), creds())
	require.ErrorIs(t, err, apperrors.ErrLoginInProgress)
	_, err = f.service.LoginWithProvider(context.Background(), creds())
	require.ErrorIs(t, err, apperrors.ErrLoginInProgress)

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, 1, f.server.count(pathLoginPage))
}

func TestLoginWithProvider_MetaAntiForgeryFallback(t *testing.T) {
	f := setupTestFixture(t)
	f.server.handle(pathLoginPage, writeHTML(http.StatusOK, `<html><head><meta name="csrf-token" content="meta-csrf"></head><body></body></html>`))
	f.server.handle(pathLoginPost, writeJSON(http.StatusOK, map[string]any{"token": "provider-token"}))
	f.exchangeReturns(t, "app-token")

	_, err := f.service.LoginWithProvider(context.Background(), creds())
	require.NoError(t, err)
	post := f.server.last(t, pathLoginPost)
	require.Equal(t, "meta-csrf", post.form(t).Get("_token"))
}

func TestLoginWithProvider_LoginPageFailureIsSwallowed(t *testing.T) {
	f := setupTestFixture(t)
	f.server.handle(pathLoginPage, writeHTML(http.StatusInternalServerError, "oops"))
	f.server.handle(pathLoginPost, writeJSON(http.StatusOK, map[string]any{"data": map[string]any{"jwt": "provider-token"}}))
	f.exchangeReturns(t, "app-token")

	_, err := f.service.LoginWithProvider(context.Background(), creds())
	require.NoError(t, err)
	require.Empty(t, f.server.last(t, pathLoginPost).form(t).Get("_token"))
}
