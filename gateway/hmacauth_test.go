package gateway

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func signedRequest(t *testing.T, secret, apiKey, nonce string, at time.Time, body string) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(at.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/v1/submit", strings.NewReader(body))
	sig := computeSignature(secret, ts, nonce, req.Method, canonicalPath(req), []byte(body))
	req.Header.Set(HeaderAPIKey, apiKey)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
	return req
}

func TestHMACAuthenticatorAcceptsValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	auth := NewHMACAuthenticator(map[string]string{"key1": "secret1"}, nil, nil)
	auth.now = func() time.Time { return now }

	req := signedRequest(t, "secret1", "key1", "nonce-1", now, `{"intent_id":"x"}`)
	rec := httptest.NewRecorder()
	called := false
	auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected downstream handler to be invoked, got status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestHMACAuthenticatorRejectsUnknownAPIKey(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	auth := NewHMACAuthenticator(map[string]string{"key1": "secret1"}, nil, nil)
	auth.now = func() time.Time { return now }

	req := signedRequest(t, "secret1", "not-a-key", "nonce-1", now, `{}`)
	rec := httptest.NewRecorder()
	auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("downstream handler should not be invoked")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHMACAuthenticatorRejectsReplayedNonce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	auth := NewHMACAuthenticator(map[string]string{"key1": "secret1"}, nil, nil)
	auth.now = func() time.Time { return now }

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req1 := signedRequest(t, "secret1", "key1", "nonce-dup", now, `{}`)
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request accepted, got %d", rec1.Code)
	}

	req2 := signedRequest(t, "secret1", "key1", "nonce-dup", now, `{}`)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("expected replayed nonce rejected, got %d", rec2.Code)
	}
}

func TestHMACAuthenticatorRejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	auth := NewHMACAuthenticator(map[string]string{"key1": "secret1"}, nil, nil)
	auth.now = func() time.Time { return now }

	stale := now.Add(-10 * time.Minute)
	req := signedRequest(t, "secret1", "key1", "nonce-stale", stale, `{}`)
	rec := httptest.NewRecorder()
	auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("downstream handler should not be invoked")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for stale timestamp, got %d", rec.Code)
	}
}
