package domain

import "errors"

// Error taxonomy for the decision pipeline. Business-logic denials are never
// errors; they travel as PolicyDecision values. Only malformed input and
// genuine internal faults reach the caller as errors.
var (
	// ErrInvalidRequest marks a request rejected before it enters the
	// pipeline (missing required fields or schema mismatch).
	ErrInvalidRequest = errors.New("invalid policy request")
	// ErrEvaluatorFailed marks a failed or unavailable full evaluation. The
	// pipeline converts it into a safe-default deny; it is never returned
	// from Decide.
	ErrEvaluatorFailed = errors.New("policy evaluation failed")
	// ErrCacheTierUnavailable marks an unreachable distributed cache tier.
	// Logged and swallowed; the cache degrades to tier-1-only operation.
	ErrCacheTierUnavailable = errors.New("cache tier unavailable")
	// ErrInternalFault marks an unexpected programming error inside the
	// coordinator. The only error a batched request can terminate with.
	ErrInternalFault = errors.New("internal fault")
	// ErrNotPartiallyResolvable is returned when Resolve is invoked for a
	// request the partial evaluator declined. Calling Resolve without a
	// preceding positive CanResolve is a programming error.
	ErrNotPartiallyResolvable = errors.New("request is not partially resolvable")
	// ErrServiceClosed is returned for requests submitted after shutdown.
	ErrServiceClosed = errors.New("decision service is closed")
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// ErrorResponse defines the standard JSON error model returned by the HTTP
// adapter. It exposes a stable machine-readable code without leaking internal
// detail. TraceID carries the request correlation ID when available.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}
