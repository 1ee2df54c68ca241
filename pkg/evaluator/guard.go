package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/verdictai/verdict-oss/pkg/domain"
)

// DefaultTimeout bounds a single full evaluation.
const DefaultTimeout = 100 * time.Millisecond

// Guard wraps an evaluator with a per-request timeout and normalizes every
// failure into ErrEvaluatorFailed. It deliberately returns the error instead
// of a deny decision: the resolution site substitutes the safe-default deny
// per call, so failure verdicts never enter the cache.
type Guard struct {
	inner   Evaluator
	timeout time.Duration
	logger  *slog.Logger
}

// NewGuard wraps inner. A non-positive timeout selects DefaultTimeout.
func NewGuard(inner Evaluator, timeout time.Duration, logger *slog.Logger) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{inner: inner, timeout: timeout, logger: logger}
}

// Evaluate runs the wrapped evaluator under a deadline. Failures and
// timeouts are logged and reported as ErrEvaluatorFailed.
func (g *Guard) Evaluate(ctx context.Context, req domain.PolicyRequest) (domain.PolicyDecision, error) {
	evalCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	dec, err := g.inner.Evaluate(evalCtx, req)
	if err != nil {
		g.logger.Warn("full evaluation failed",
			"kind", req.Kind, "action", req.Action, "error", err)
		return domain.PolicyDecision{}, &domain.DomainError{
			Err:     domain.ErrEvaluatorFailed,
			Code:    "EVALUATOR_FAILED",
			Message: fmt.Sprintf("full evaluation failed: %v", err),
		}
	}
	return dec, nil
}

// SafeDefaultDeny builds the deny decision substituted on evaluator failure.
func SafeDefaultDeny(cause error) domain.PolicyDecision {
	return domain.PolicyDecision{
		Allow:             false,
		ComplianceScore:   0.0,
		Reasons:           []string{fmt.Sprintf("policy evaluation failed, denying by default: %v", cause)},
		ConstitutionalTag: "fail_closed",
		EvaluationDetails: map[string]any{
			"error": domain.ErrEvaluatorFailed.Error(),
		},
	}
}
