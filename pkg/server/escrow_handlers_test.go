// Copyright 2025 Clearing Protocol
//
// Escrow API Handler Tests

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentclearing/clearinghouse/pkg/database"
	"github.com/agentclearing/clearinghouse/pkg/escrow"
	"github.com/agentclearing/clearinghouse/pkg/metrics"
	"github.com/agentclearing/clearinghouse/pkg/payment"
	"github.com/agentclearing/clearinghouse/pkg/verifier"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := database.NewMemoryStore()
	escrowSvc, err := escrow.NewService(&escrow.ServiceConfig{
		Store:    store,
		Payments: payment.NewSimulator(nil),
		Metrics:  metrics.Nop(),
	})
	require.NoError(t, err)

	factory := verifier.NewFactory(nil)
	factory.Register(verifier.NewMockVerifier())
	verificationSvc, err := escrow.NewVerificationService(&escrow.VerificationServiceConfig{
		Store:   store,
		Escrow:  escrowSvc,
		Factory: factory,
		Metrics: metrics.Nop(),
	})
	require.NoError(t, err)

	srv := New(&Config{
		ListenAddr:   "127.0.0.1:0",
		Escrow:       escrowSvc,
		Verification: verificationSvc,
		Health:       NewHealthTracker(),
	})
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createContract(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/v1/escrow", map[string]any{
		"buyer_id":                "buyer-1",
		"amount":                  "25.000000",
		"description":             "write a haiku",
		"verification_descriptor": map[string]any{"type": "mock", "should_pass": true},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode(t, resp)
	return body["id"].(string)
}

func TestAPI_FullLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := createContract(t, ts)
	base := fmt.Sprintf("%s/api/v1/escrow/%s", ts.URL, id)

	resp := postJSON(t, base+"/fund", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	require.Equal(t, "FUNDED", body["status"])
	require.NotEmpty(t, body["escrow_wallet"])

	resp = postJSON(t, base+"/accept", map[string]any{"worker_id": "worker-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "IN_PROGRESS", decode(t, resp)["status"])

	resp = postJSON(t, base+"/submit", map[string]any{"payload": "an autumn haiku", "worker_id": "worker-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode(t, resp)
	require.Equal(t, "COMPLETED", body["final_status"])
	require.Equal(t, true, body["verification_passed"])
	require.NotEmpty(t, body["settlement_ref"])

	resp, err := http.Get(base + "/events")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()
	var events []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	require.Equal(t, "CONTRACT_CREATED", events[0]["event_type"])
	require.Equal(t, "PAYMENT_CONFIRMED", events[len(events)-1]["event_type"])
}

func TestAPI_StatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := createContract(t, ts)

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/escrow/%s/status", ts.URL, id))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	require.Equal(t, "CREATED", body["status"])
	require.NotEmpty(t, body["allowed_events"])
}

func TestAPI_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	// Unknown contract -> 404 with a stable code
	resp, err := http.Get(ts.URL + "/api/v1/escrow/6a6e88f5-84a2-4c80-ae31-4d9bed93c9aa")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "CONTRACT_NOT_FOUND", decode(t, resp)["error"])

	// Illegal transition -> 409
	id := createContract(t, ts)
	resp = postJSON(t, fmt.Sprintf("%s/api/v1/escrow/%s/accept", ts.URL, id),
		map[string]any{"worker_id": "worker-1"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "ILLEGAL_TRANSITION", decode(t, resp)["error"])

	// Malformed id -> 400
	resp, err = http.Get(ts.URL + "/api/v1/escrow/not-a-uuid")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_DisputeRoute(t *testing.T) {
	ts := newTestServer(t)
	id := createContract(t, ts)
	base := fmt.Sprintf("%s/api/v1/escrow/%s", ts.URL, id)

	resp := postJSON(t, base+"/fund", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, base+"/dispute", map[string]any{"reason": "cold feet", "raised_by": "buyer-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "DISPUTED", decode(t, resp)["status"])
}

func TestAPI_RequestIDEcho(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}

func TestAPI_Health(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	// Database is never connected in this harness, so the service
	// reports itself degraded
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "degraded", decode(t, resp)["status"])
}
