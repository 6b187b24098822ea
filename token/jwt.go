package token

import (
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// JWTHeaderMarker is the base64url prefix of every JSON JWT header ("{\"").
const JWTHeaderMarker = "eyJ"

// LooksLikeJWT reports whether s starts with the JWT header marker.
func LooksLikeJWT(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), JWTHeaderMarker)
}

// ExpiresAt reads the exp claim from a JWT without verifying it. The server
// stays authoritative; this only seeds the local expiry check.
func ExpiresAt(raw string) (int64, bool) {
	if !LooksLikeJWT(raw) {
		return 0, false
	}
	parsed, _, err := jwtlib.NewParser().ParseUnverified(raw, jwtlib.MapClaims{})
	if err != nil {
		return 0, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	return exp.Unix(), true
}
