package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, expiresAt *time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "user-1"}
	if expiresAt != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*expiresAt)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	got, ok := TokenExpiry(signedToken(t, &exp))
	if !ok || !got.Equal(exp) {
		t.Fatalf("TokenExpiry() = %v, %v; want %v", got, ok, exp)
	}
	if _, ok := TokenExpiry(signedToken(t, nil)); ok {
		t.Error("token without exp reported an expiry")
	}
	if _, ok := TokenExpiry("opaque-user-token"); ok {
		t.Error("opaque token reported an expiry")
	}
}
