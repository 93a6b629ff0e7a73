package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"

	"kestrel/idempotency"
	"kestrel/intent"
	"kestrel/pipeline"
)

// Reason is the canonical error envelope's nested reason (spec.md §6).
type Reason struct {
	Code       string         `json:"code"`
	Category   string         `json:"category"`
	HTTPStatus int            `json:"http_status"`
	Message    string         `json:"message"`
	Context    map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope is the canonical error shape returned for any non-2xx
// submission or status response.
type ErrorEnvelope struct {
	CorrID      string `json:"corr_id,omitempty"`
	RequestHash string `json:"request_hash,omitempty"`
	State       string `json:"state,omitempty"`
	Reason      Reason `json:"reason"`
	TS          string `json:"ts"`
}

// SubmitResponse is the submission boundary's success shape (spec.md §6).
type SubmitResponse struct {
	IntentID      string `json:"intent_id"`
	Decision      string `json:"decision"`
	ReasonCode    string `json:"reason_code,omitempty"`
	RequestHash   string `json:"request_hash"`
	StatusURL     string `json:"status_url"`
	CorrelationID string `json:"correlation_id"`
}

// StatusResponse is the status endpoint's response shape (spec.md §6).
type StatusResponse struct {
	IntentID         string           `json:"intent_id"`
	State            string           `json:"state"`
	ReasonCode       string           `json:"reason_code,omitempty"`
	TimestampsMs     map[string]int64 `json:"timestamps_ms"`
	CorrelationID    string           `json:"correlation_id"`
	RelaySubmissions []string         `json:"relay_submissions,omitempty"`
	PInclusion       *float64         `json:"p_inclusion,omitempty"`
	PLatencyMs       *float64         `json:"p_latency_ms,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload pipeline.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "", "", "", Reason{
			Code: "CLIENT_BAD_REQUEST", Category: "CLIENT", HTTPStatus: http.StatusBadRequest,
			Message: "malformed request body",
		}, s.now())
		return
	}
	if payload.IntentID == "" {
		writeError(w, "", "", "", Reason{
			Code: "CLIENT_BAD_REQUEST", Category: "CLIENT", HTTPStatus: http.StatusBadRequest,
			Message: "intent_id is required",
		}, s.now())
		return
	}

	requestHash, err := computeRequestHash(payload)
	if err != nil {
		writeError(w, payload.IntentID, "", "", Reason{
			Code: "CLIENT_BAD_REQUEST", Category: "CLIENT", HTTPStatus: http.StatusBadRequest,
			Message: "failed to canonicalize payload",
		}, s.now())
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		writeError(w, payload.IntentID, requestHash, "", Reason{
			Code: "INTERNAL_ERROR", Category: "INTERNAL", HTTPStatus: http.StatusInternalServerError,
			Message: "failed to encode payload",
		}, s.now())
		return
	}

	resp, err := s.submitter.Submit(r.Context(), payload.IntentID, raw, requestHash)
	switch {
	case err == nil:
		if s.metrics != nil {
			s.metrics.RecordDecision(resp.Decision)
		}
		if !resp.Replayed && s.pool != nil {
			s.pool.Submit(resp.IntentID)
		}
		writeJSON(w, http.StatusAccepted, SubmitResponse{
			IntentID:      resp.IntentID,
			Decision:      resp.Decision,
			RequestHash:   resp.RequestHash,
			StatusURL:     resp.StatusURL,
			CorrelationID: resp.CorrelationID,
		})
	case errors.Is(err, idempotency.ErrConflict):
		writeError(w, payload.IntentID, requestHash, "", Reason{
			Code: "CLIENT_IDEMPOTENCY_CONFLICT", Category: "CLIENT", HTTPStatus: http.StatusConflict,
			Message: "request_hash does not match the original submission for this intent_id",
		}, s.now())
	default:
		s.logger.Error("gateway: submit failed", "intent_id", payload.IntentID, "err", err)
		writeError(w, payload.IntentID, requestHash, "", Reason{
			Code: "INTERNAL_ERROR", Category: "INTERNAL", HTTPStatus: http.StatusInternalServerError,
			Message: "failed to accept submission",
		}, s.now())
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "intent_id")
	in, err := s.store.Get(r.Context(), intentID)
	if err != nil {
		if errors.Is(err, intent.ErrNotFound) {
			writeError(w, "", "", "", Reason{
				Code: "CLIENT_BAD_REQUEST", Category: "CLIENT", HTTPStatus: http.StatusNotFound,
				Message: "unknown intent_id",
			}, s.now())
			return
		}
		s.logger.Error("gateway: status lookup failed", "intent_id", intentID, "err", err)
		writeError(w, "", "", "", Reason{
			Code: "INTERNAL_ERROR", Category: "INTERNAL", HTTPStatus: http.StatusInternalServerError,
			Message: "failed to load intent",
		}, s.now())
		return
	}

	events, err := s.store.Events(r.Context(), intentID)
	if err != nil {
		s.logger.Error("gateway: event lookup failed", "intent_id", intentID, "err", err)
		events = nil
	}

	timestamps := make(map[string]int64, len(events))
	for _, ev := range events {
		timestamps[string(ev.ToState)] = ev.Timestamp.UnixMilli()
	}

	reasonCode := ""
	if in.LastReason != nil {
		reasonCode = in.LastReason.Code
	}

	resp := StatusResponse{
		IntentID:      in.IntentID,
		State:         string(in.State),
		ReasonCode:    reasonCode,
		TimestampsMs:  timestamps,
		CorrelationID: in.CorrelationID,
	}
	if s.pool != nil {
		if pred, ok := s.pool.Prediction(intentID); ok {
			resp.PInclusion = &pred.PInclusion
			resp.PLatencyMs = &pred.PLatencyMs
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// computeRequestHash produces the hex-encoded Keccak256 digest of the
// payload's canonical encoding, used as C11's request_hash.
func computeRequestHash(payload pipeline.Payload) (string, error) {
	canonical, err := pipeline.Canonicalize(payload)
	if err != nil {
		return "", err
	}
	digest := crypto.Keccak256(canonical)
	return hex.EncodeToString(digest), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, corrID, requestHash, state string, reason Reason, now time.Time) {
	writeJSON(w, reason.HTTPStatus, ErrorEnvelope{
		CorrID:      corrID,
		RequestHash: requestHash,
		State:       state,
		Reason:      reason,
		TS:          now.UTC().Format(time.RFC3339),
	})
}

func writeThrottled(w http.ResponseWriter, r *http.Request) {
	writeError(w, "", "", "", Reason{
		Code: "QUEUE_THROTTLED", Category: "QUEUE", HTTPStatus: http.StatusTooManyRequests,
		Message: "rate limit exceeded",
	}, time.Now())
}
