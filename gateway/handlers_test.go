package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kestrel/idempotency"
	"kestrel/intent"
	"kestrel/predictor"
)

func newStore(t *testing.T) *intent.SQLiteStore {
	t.Helper()
	store, err := intent.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

type fakePool struct {
	submitted   []string
	predictions map[string]predictor.Prediction
}

func (f *fakePool) Submit(intentID string) bool {
	f.submitted = append(f.submitted, intentID)
	return true
}

func (f *fakePool) Prediction(intentID string) (predictor.Prediction, bool) {
	pred, ok := f.predictions[intentID]
	return pred, ok
}

func newTestServer(t *testing.T) (*Server, *fakePool, *intent.SQLiteStore) {
	t.Helper()
	store := newStore(t)
	submitter := idempotency.New(store, func(id string) string { return "/v1/status/" + id })
	pool := &fakePool{}
	srv := New(Config{
		Submitter: submitter,
		Store:     store,
		Pool:      pool,
		Now:       func() time.Time { return time.Unix(0, 0).UTC() },
	})
	return srv, pool, store
}

func TestHandleSubmitAcceptsFreshIntent(t *testing.T) {
	srv, pool, _ := newTestServer(t)

	body := `{"intent_id":"11111111-1111-4111-8111-111111111111","target_chain":"eth-mainnet","deadline_ms":9999999999999}`
	req := httptest.NewRequest(http.MethodPost, "/v1/submit", strings.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp SubmitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.IntentID != "11111111-1111-4111-8111-111111111111" {
		t.Fatalf("unexpected intent_id: %+v", resp)
	}
	if resp.RequestHash == "" {
		t.Fatalf("expected request_hash to be set")
	}
	if len(pool.submitted) != 1 {
		t.Fatalf("expected pool.Submit called once, got %d", len(pool.submitted))
	}
}

func TestHandleSubmitRejectsMissingIntentID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/submit", strings.NewReader(`{"target_chain":"eth-mainnet"}`))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var env ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Reason.Code != "CLIENT_BAD_REQUEST" {
		t.Fatalf("expected CLIENT_BAD_REQUEST, got %+v", env.Reason)
	}
}

func TestHandleSubmitConflictsOnReplayedIntentWithDifferentBody(t *testing.T) {
	srv, pool, _ := newTestServer(t)

	id := "22222222-2222-4222-8222-222222222222"
	first := `{"intent_id":"` + id + `","target_chain":"eth-mainnet","deadline_ms":9999999999999}`
	req1 := httptest.NewRequest(http.MethodPost, "/v1/submit", strings.NewReader(first))
	rec1 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusAccepted {
		t.Fatalf("expected first submission accepted, got %d", rec1.Code)
	}

	second := `{"intent_id":"` + id + `","target_chain":"base-mainnet","deadline_ms":9999999999999}`
	req2 := httptest.NewRequest(http.MethodPost, "/v1/submit", strings.NewReader(second))
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusConflict {
		t.Fatalf("expected 409 on conflicting replay, got %d: %s", rec2.Code, rec2.Body.String())
	}
	if len(pool.submitted) != 1 {
		t.Fatalf("expected pool.Submit not called again on conflict, got %d calls", len(pool.submitted))
	}
}

func TestHandleStatusReturnsUnknownIntent(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/status/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleStatusReturnsKnownIntent(t *testing.T) {
	srv, _, store := newTestServer(t)

	id := "33333333-3333-4333-8333-333333333333"
	if _, err := store.Create(context.Background(), id, []byte(`{}`), "hash-3", "corr-3"); err != nil {
		t.Fatalf("create: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/status/"+id, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.State != string(intent.StateReceived) {
		t.Fatalf("expected RECEIVED, got %s", resp.State)
	}
	if resp.CorrelationID != "corr-3" {
		t.Fatalf("expected corr-3, got %s", resp.CorrelationID)
	}
}
