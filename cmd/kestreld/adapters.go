package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"kestrel/bundle"
	"kestrel/intent"
	"kestrel/relay"
)

// httpSimulator implements orchestrator.Simulator by delegating to an
// external local transaction simulator over HTTP, the seam spec.md §1
// excludes from this module's core.
type httpSimulator struct {
	client  *http.Client
	baseURL string
}

func newHTTPSimulator(baseURL string) *httpSimulator {
	return &httpSimulator{client: &http.Client{Timeout: 5 * time.Second}, baseURL: baseURL}
}

func (h *httpSimulator) Simulate(ctx context.Context, in intent.Intent) (bundle.SimOutputs, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/simulate", bytes.NewReader(in.Payload))
	if err != nil {
		return bundle.SimOutputs{}, fmt.Errorf("kestreld: build simulate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return bundle.SimOutputs{}, fmt.Errorf("kestreld: simulate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return bundle.SimOutputs{}, fmt.Errorf("kestreld: simulator returned status %d", resp.StatusCode)
	}

	var out bundle.SimOutputs
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return bundle.SimOutputs{}, fmt.Errorf("kestreld: decode simulate response: %w", err)
	}
	return out, nil
}

// httpSubmitter implements relay.Submitter by POSTing a bundle plan to a
// relay lane resolved by ID from a static endpoint map.
type httpSubmitter struct {
	client    *http.Client
	endpoints map[string]string
}

func newHTTPSubmitter(endpoints map[string]string) *httpSubmitter {
	return &httpSubmitter{client: &http.Client{Timeout: 5 * time.Second}, endpoints: endpoints}
}

func (h *httpSubmitter) Submit(ctx context.Context, laneID string, plan bundle.Plan) (string, error) {
	endpoint, ok := h.endpoints[laneID]
	if !ok {
		return "", fmt.Errorf("kestreld: unknown relay lane %q", laneID)
	}

	body, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("kestreld: marshal bundle plan: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("kestreld: build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("kestreld: submit request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("kestreld: relay %s returned status %d", laneID, resp.StatusCode)
	}

	var out struct {
		AckID string `json:"ack_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("kestreld: decode submit response: %w", err)
	}
	return out.AckID, nil
}

// staticLaneHealth serves a read-only lane health snapshot, mutated only by
// its own periodic refresh task (spec.md §5's "Provider/lane-health caches:
// readable without locking; mutated only by their owning daemon task").
type staticLaneHealth struct {
	mu    sync.RWMutex
	lanes []relay.LaneHealth
}

func newStaticLaneHealth(initial []relay.LaneHealth) *staticLaneHealth {
	return &staticLaneHealth{lanes: initial}
}

func (s *staticLaneHealth) Lanes() []relay.LaneHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]relay.LaneHealth, len(s.lanes))
	copy(out, s.lanes)
	return out
}

func (s *staticLaneHealth) set(lanes []relay.LaneHealth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lanes = lanes
}
