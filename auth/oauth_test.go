package auth_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/auth"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	oidcIssuer   = "https://accounts.provider.test"
	oidcClientID = "client-1"
)

func signIDToken(t *testing.T, key *rsa.PrivateKey, audience string) string {
	t.Helper()
	now := time.Now()
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, jwtlib.MapClaims{
		"iss":   oidcIssuer,
		"aud":   audience,
		"sub":   "provider-user-1",
		"email": testEmail,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}).SignedString(key)
	require.NoError(t, err)
	return raw
}

func setupOIDCFixture(t *testing.T) (*testFixture, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	verifier := oidc.NewVerifier(oidcIssuer, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}, &oidc.Config{ClientID: oidcClientID})
	return setupTestFixture(t, auth.WithIDTokenVerifier(verifier)), key
}

func TestLoginWithOAuthToken_VerifiesIDTokenLocally(t *testing.T) {
	f, key := setupOIDCFixture(t)
	f.server.handle(pathOAuthVerify, writeJSON(http.StatusOK, appSessionBody("app-token")))

	idToken := signIDToken(t, key, oidcClientID)
	tok := (&oauth2.Token{AccessToken: "provider-access"}).WithExtra(map[string]any{"id_token": idToken})

	session, err := f.service.LoginWithOAuthToken(context.Background(), "google", tok)
	require.NoError(t, err)
	require.Equal(t, "app-token", utils.Value(session.Token))

	body := f.server.last(t, pathOAuthVerify).json(t)
	require.Equal(t, idToken, body["idToken"])
	require.Equal(t, "provider-access", body["accessToken"])
	require.Equal(t, "google", body["provider"])
}

func TestLoginWithOAuthToken_RejectsBadIDToken(t *testing.T) {
	f, key := setupOIDCFixture(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tests := map[string]string{
		"wrong key":      signIDToken(t, other, oidcClientID),
		"wrong audience": signIDToken(t, key, "someone-else"),
		"not a jwt":      "garbage",
	}
	for name, idToken := range tests {
		t.Run(name, func(t *testing.T) {
			tok := (&oauth2.Token{AccessToken: "x"}).WithExtra(map[string]any{"id_token": idToken})
			_, err := f.service.LoginWithOAuthToken(context.Background(), "google", tok)
			require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
		})
	}
	require.Equal(t, 0, f.server.count(pathOAuthVerify))
}

func TestLoginWithOAuthToken_WithoutVerifierUsesServer(t *testing.T) {
	f := setupTestFixture(t)
	f.server.handle(pathOAuthVerify, writeJSON(http.StatusUnauthorized, map[string]any{"error": "invalid_token"}))

	_, err := f.service.LoginWithOAuthToken(context.Background(), "apple", &oauth2.Token{AccessToken: "x"})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	require.Equal(t, 1, f.server.count(pathOAuthVerify))

	_, err = f.service.LoginWithOAuthToken(context.Background(), "apple", nil)
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	_, err = f.service.LoginWithOAuthToken(context.Background(), "apple", &oauth2.Token{})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	require.Equal(t, 1, f.server.count(pathOAuthVerify))
}
