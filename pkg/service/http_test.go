package service

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdictai/verdict-oss/pkg/domain"
	"github.com/verdictai/verdict-oss/pkg/evaluator"
)

func postDecide(t *testing.T, handler http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/decide", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Decide(t *testing.T) {
	svc := newTestService(t, Options{Evaluator: evaluator.Static{Allow: true, Score: 0.9}})
	handler := svc.Handler()

	rec := postDecide(t, handler, domain.PolicyRequest{
		Kind:    "constitutional_evaluation",
		Action:  "workspace.query",
		Context: map[string]any{"trust": 0.5},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var dec domain.PolicyDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dec))
	assert.True(t, dec.Allow)
	assert.Equal(t, 0.9, dec.ComplianceScore)
}

func TestHandler_DecideDeniedIsStillOK(t *testing.T) {
	// A deny is a decision, not an error; the transport must return 200.
	svc := newTestService(t, Options{Evaluator: evaluator.Static{}})
	handler := svc.Handler()

	rec := postDecide(t, handler, domain.PolicyRequest{
		Kind:    "constitutional_evaluation",
		Action:  "workspace.query",
		Context: map[string]any{"trust": 0.5},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var dec domain.PolicyDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dec))
	assert.False(t, dec.Allow)
}

func TestHandler_DecideInvalidRequest(t *testing.T) {
	svc := newTestService(t, Options{})
	handler := svc.Handler()

	rec := postDecide(t, handler, domain.PolicyRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "REQUEST_INVALID", resp.Code)
}

func TestHandler_DecideMalformedBody(t *testing.T) {
	svc := newTestService(t, Options{})
	handler := svc.Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/decide", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "REQUEST_MALFORMED", resp.Code)
}

func TestHandler_DecideMethodNotAllowed(t *testing.T) {
	svc := newTestService(t, Options{})
	handler := svc.Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/decide", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_Health(t *testing.T) {
	svc := newTestService(t, Options{Evaluator: evaluator.Static{Allow: true}})
	handler := svc.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
}

func TestHandler_HealthDegraded(t *testing.T) {
	svc := newTestService(t, Options{Evaluator: evaluator.Static{Allow: true}, TierTwo: erroringTier{}})
	handler := svc.Handler()

	for i := 0; i < 4; i++ {
		postDecide(t, handler, domain.PolicyRequest{
			Kind:    "constitutional_evaluation",
			Action:  "workspace.query." + string(rune('a'+i)),
			Context: map[string]any{"trust": 0.5},
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.True(t, health.TierTwoDegraded)
}

func TestHandler_Stats(t *testing.T) {
	svc := newTestService(t, Options{Evaluator: evaluator.Static{Allow: true}})
	handler := svc.Handler()

	postDecide(t, handler, domain.PolicyRequest{
		Kind:    "constitutional_evaluation",
		Action:  "workspace.query",
		Context: map[string]any{"trust": 0.5},
	})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var report MetricsReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.EqualValues(t, 1, report.RequestCount)
	assert.Equal(t, 1, report.Cache.Size)
}

func TestHandler_Metrics(t *testing.T) {
	svc := newTestService(t, Options{Evaluator: evaluator.Static{Allow: true}})
	handler := svc.Handler()

	postDecide(t, handler, domain.PolicyRequest{
		Kind:    "constitutional_evaluation",
		Action:  "workspace.query",
		Context: map[string]any{"trust": 0.5},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "verdict_decisions_total")
	assert.Contains(t, body, "verdict_cache_lookups_total")
}
