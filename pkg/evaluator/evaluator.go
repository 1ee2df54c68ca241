// Package evaluator defines the full-evaluation collaborator contract and
// its implementations: an embedded OPA engine for compiled policy bundles, a
// static fallback for bundle-less operation, and a guard that bounds each
// evaluation with a timeout and normalizes failures so the pipeline can
// substitute a safe-default deny without ever caching it.
package evaluator

import (
	"context"

	"github.com/verdictai/verdict-oss/pkg/domain"
)

// Evaluator produces an authoritative decision for a request. Implementations
// may perform I/O and must honour context cancellation.
type Evaluator interface {
	Evaluate(ctx context.Context, req domain.PolicyRequest) (domain.PolicyDecision, error)
}

// Func adapts a plain function to the Evaluator interface.
type Func func(ctx context.Context, req domain.PolicyRequest) (domain.PolicyDecision, error)

// Evaluate implements Evaluator.
func (f Func) Evaluate(ctx context.Context, req domain.PolicyRequest) (domain.PolicyDecision, error) {
	return f(ctx, req)
}

// Static answers every request with a fixed verdict. It is the safe-default
// implementation used when no policy bundle is loaded; the zero value denies.
type Static struct {
	Allow  bool
	Score  float64
	Reason string
}

// Evaluate implements Evaluator.
func (s Static) Evaluate(_ context.Context, _ domain.PolicyRequest) (domain.PolicyDecision, error) {
	reason := s.Reason
	if reason == "" {
		reason = "no policy bundle loaded, default verdict applied"
	}
	return domain.PolicyDecision{
		Allow:             s.Allow,
		ComplianceScore:   s.Score,
		Reasons:           []string{reason},
		ConstitutionalTag: "static_default",
	}, nil
}
