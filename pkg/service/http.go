package service

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/verdictai/verdict-oss/pkg/domain"
)

// Handler returns the HTTP surface the engine exposes to the outside:
//
//	POST /v1/decide  - the decision entry point
//	GET  /health     - liveness plus latency/cache signals
//	GET  /stats      - structured counters snapshot
//	GET  /metrics    - Prometheus scrape endpoint
//
// The handler is a thin shim over the service; all semantics live below it.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/decide", s.handleDecide)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

func (s *Service) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req domain.PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrorResponse{
			Code:    "REQUEST_MALFORMED",
			Message: "request body is not valid JSON",
		})
		return
	}

	dec, err := s.Decide(r.Context(), req)
	if err != nil {
		status, resp := classifyError(err, req.TraceID)
		writeError(w, status, resp)
		return
	}

	writeJSON(w, http.StatusOK, dec)
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.Health()
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Service) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Metrics())
}

func classifyError(err error, traceID string) (int, domain.ErrorResponse) {
	code := "INTERNAL_FAULT"
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		code = "REQUEST_INVALID"
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrServiceClosed):
		code = "SERVICE_CLOSED"
		status = http.StatusServiceUnavailable
	}

	return status, domain.ErrorResponse{
		Code:    code,
		Message: err.Error(),
		TraceID: traceID,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, resp domain.ErrorResponse) {
	writeJSON(w, status, resp)
}
