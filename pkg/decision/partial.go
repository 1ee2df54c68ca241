package decision

import (
	"fmt"

	"github.com/verdictai/verdict-oss/pkg/domain"
)

// Context attribute names consulted by the partial evaluator.
const (
	ctxSandbox = "sandbox"
	ctxAudit   = "audit"
	ctxTrust   = "trust"
)

// DefaultMinTrust is the trust threshold a known-safe action must meet before
// the fast path will allow it.
const DefaultMinTrust = 0.7

// defaultUnsafeActions are always denied regardless of context. The fast path
// may deny these on its own authority because no context can make them safe.
var defaultUnsafeActions = []string{
	"credentials.exfiltrate",
	"network.disable_monitoring",
	"system.delete_audit_log",
	"system.escalate_privileges",
	"system.execute_shell",
}

// defaultSafeActions may be allowed by the fast path, but only when the
// request context carries sandbox and audit flags and meets the trust
// threshold. Anything less falls through to full evaluation; the fast path
// never denies a known-safe action on its own.
var defaultSafeActions = []string{
	"data.read_public",
	"log.append",
	"metrics.emit",
	"status.report",
}

// PartialEvaluator resolves a fixed set of unambiguous request shapes without
// invoking the full policy engine. It exists purely as a throughput
// optimization for the hottest request shapes and is never the sole authority
// for novel action types.
type PartialEvaluator struct {
	unsafeActions map[string]struct{}
	safeActions   map[string]struct{}
	minTrust      float64
}

// PartialEvaluatorOptions customize the fast-path tables. Zero values select
// the defaults.
type PartialEvaluatorOptions struct {
	UnsafeActions []string
	SafeActions   []string
	MinTrust      float64
}

// NewPartialEvaluator constructs an evaluator with the default action tables.
func NewPartialEvaluator() *PartialEvaluator {
	return NewPartialEvaluatorWithOptions(PartialEvaluatorOptions{})
}

// NewPartialEvaluatorWithOptions constructs an evaluator with custom tables.
func NewPartialEvaluatorWithOptions(opts PartialEvaluatorOptions) *PartialEvaluator {
	unsafe := opts.UnsafeActions
	if len(unsafe) == 0 {
		unsafe = defaultUnsafeActions
	}
	safe := opts.SafeActions
	if len(safe) == 0 {
		safe = defaultSafeActions
	}
	minTrust := opts.MinTrust
	if minTrust <= 0 {
		minTrust = DefaultMinTrust
	}

	p := &PartialEvaluator{
		unsafeActions: make(map[string]struct{}, len(unsafe)),
		safeActions:   make(map[string]struct{}, len(safe)),
		minTrust:      minTrust,
	}
	for _, action := range unsafe {
		p.unsafeActions[action] = struct{}{}
	}
	for _, action := range safe {
		p.safeActions[action] = struct{}{}
	}
	return p
}

// CanResolve reports whether the fast path can answer this request. Unsafe
// actions always resolve. Safe actions resolve only when the context clears
// the trust threshold with sandboxing and auditing enabled. Everything else
// defers to the full evaluator.
func (p *PartialEvaluator) CanResolve(req domain.PolicyRequest) bool {
	if _, ok := p.unsafeActions[req.Action]; ok {
		return true
	}
	if _, ok := p.safeActions[req.Action]; ok {
		return p.contextMeetsThreshold(req)
	}
	return false
}

// Resolve answers a request CanResolve accepted. Calling it for any other
// request is a programming error and returns ErrNotPartiallyResolvable.
func (p *PartialEvaluator) Resolve(req domain.PolicyRequest) (domain.PolicyDecision, error) {
	if _, ok := p.unsafeActions[req.Action]; ok {
		return domain.PolicyDecision{
			Allow:             false,
			ComplianceScore:   0.0,
			Reasons:           []string{fmt.Sprintf("action %q is inherently unsafe", req.Action)},
			ConstitutionalTag: "fast_path_deny",
			PartialEvaluation: true,
		}, nil
	}

	if _, ok := p.safeActions[req.Action]; ok && p.contextMeetsThreshold(req) {
		trust, _ := req.ContextFloat(ctxTrust)
		return domain.PolicyDecision{
			Allow:             true,
			ComplianceScore:   trust,
			Reasons:           []string{fmt.Sprintf("action %q is known safe with sufficient trust", req.Action)},
			ConstitutionalTag: "fast_path_allow",
			PartialEvaluation: true,
		}, nil
	}

	return domain.PolicyDecision{}, &domain.DomainError{
		Err:     domain.ErrNotPartiallyResolvable,
		Code:    "PARTIAL_EVAL_PRECONDITION",
		Message: fmt.Sprintf("Resolve called for action %q without a positive CanResolve", req.Action),
	}
}

func (p *PartialEvaluator) contextMeetsThreshold(req domain.PolicyRequest) bool {
	sandbox, ok := req.ContextBool(ctxSandbox)
	if !ok || !sandbox {
		return false
	}
	audit, ok := req.ContextBool(ctxAudit)
	if !ok || !audit {
		return false
	}
	trust, ok := req.ContextFloat(ctxTrust)
	return ok && trust >= p.minTrust
}
