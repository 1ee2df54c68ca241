package domain

import (
	"fmt"
	"strings"
)

// PolicyRequest is an authorization/compliance question posed to the engine.
// It is constructed by the transport layer and treated as read-only by every
// core component.
type PolicyRequest struct {
	// Kind names the evaluation family, e.g. "constitutional_evaluation".
	Kind string `json:"kind" yaml:"kind"`
	// ComplianceTag identifies the compliance regime the request is checked
	// against. Optional; an empty tag selects the default regime.
	ComplianceTag string `json:"compliance_tag,omitempty" yaml:"compliance_tag,omitempty"`
	// Action is the operation the caller wants to perform. Optional.
	Action string `json:"action,omitempty" yaml:"action,omitempty"`
	// Context carries free-form request attributes. Only a fixed projection
	// of these fields participates in decision caching.
	Context map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
	// TraceID correlates the request across logs and spans. Assigned by the
	// service when the caller leaves it empty. Never part of the cache key.
	TraceID string `json:"trace_id,omitempty" yaml:"trace_id,omitempty"`
}

// Validate rejects requests that cannot enter the pipeline.
func (r PolicyRequest) Validate() error {
	if strings.TrimSpace(r.Kind) == "" {
		return &DomainError{
			Err:     ErrInvalidRequest,
			Code:    "REQUEST_INVALID",
			Message: "policy request requires a kind",
		}
	}
	for key := range r.Context {
		if strings.TrimSpace(key) == "" {
			return &DomainError{
				Err:     ErrInvalidRequest,
				Code:    "REQUEST_INVALID",
				Message: fmt.Sprintf("policy request context contains an empty key (kind %q)", r.Kind),
			}
		}
	}
	return nil
}

// ContextBool reads a boolean context attribute.
func (r PolicyRequest) ContextBool(key string) (bool, bool) {
	v, ok := r.Context[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// ContextFloat reads a numeric context attribute, accepting the numeric types
// that survive JSON and YAML decoding.
func (r PolicyRequest) ContextFloat(key string) (float64, bool) {
	v, ok := r.Context[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
