package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func signJWT(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return signed
}

func TestJWTAuthenticatorAcceptsValidTokenWithScope(t *testing.T) {
	auth := NewJWTAuthenticator(JWTAuthConfig{HMACSecret: "s3cret", Issuer: "kestreld"}, nil)
	token := signJWT(t, "s3cret", jwt.MapClaims{
		"iss":   "kestreld",
		"exp":   float64(time.Now().Add(time.Hour).Unix()),
		"scope": "submit",
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/submit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	called := false
	auth.Middleware("submit")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected downstream handler invoked, got status %d", rec.Code)
	}
}

func TestJWTAuthenticatorRejectsMissingScope(t *testing.T) {
	auth := NewJWTAuthenticator(JWTAuthConfig{HMACSecret: "s3cret"}, nil)
	token := signJWT(t, "s3cret", jwt.MapClaims{
		"exp":   float64(time.Now().Add(time.Hour).Unix()),
		"scope": "read",
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/submit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	auth.Middleware("submit")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("downstream handler should not be invoked")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestJWTAuthenticatorRejectsExpiredToken(t *testing.T) {
	auth := NewJWTAuthenticator(JWTAuthConfig{HMACSecret: "s3cret"}, nil)
	token := signJWT(t, "s3cret", jwt.MapClaims{
		"exp": float64(time.Now().Add(-time.Hour).Unix()),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/submit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("downstream handler should not be invoked")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestJWTAuthenticatorRejectsMissingBearer(t *testing.T) {
	auth := NewJWTAuthenticator(JWTAuthConfig{HMACSecret: "s3cret"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/submit", nil)
	rec := httptest.NewRecorder()
	auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("downstream handler should not be invoked")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
