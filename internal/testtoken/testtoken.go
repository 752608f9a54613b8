// Package testtoken signs throwaway JWTs for tests.
package testtoken

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var signingKey = []byte("session-test-key")

// Issue signs an HS256 token for sub valid from iat until exp. extra claims
// are merged in last and may override the defaults.
func Issue(t testing.TB, sub string, iat, exp time.Time, extra map[string]any) string {
	t.Helper()
	claims := jwtlib.MapClaims{
		"sub": sub,
		"iat": iat.Unix(),
		"exp": exp.Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(signingKey)
	require.NoError(t, err)
	return signed
}

// ValidFor issues a token for sub that expires d after now.
func ValidFor(t testing.TB, sub string, now time.Time, d time.Duration) string {
	t.Helper()
	return Issue(t, sub, now, now.Add(d), nil)
}
