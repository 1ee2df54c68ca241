package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"

	"github.com/verdictai/verdict-oss/pkg/domain"
)

const defaultEntrypoint = "verdict/decision"

// OPAOptions control OPA engine construction.
type OPAOptions struct {
	// Entrypoint is the policy decision path (e.g. "verdict/decision").
	Entrypoint string
	// Modules contains the Rego modules loaded into the engine, keyed by
	// filename.
	Modules map[string]string
}

// OPAEngine evaluates policy decisions using an embedded OPA instance. It
// performs no caching of its own; the two-tier cache in front of the
// pipeline owns that concern.
type OPAEngine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	queries       map[string]*rego.PreparedEvalQuery
	mu            sync.RWMutex
}

// NewOPAEngine constructs an engine for the supplied modules and entrypoint.
// The default entrypoint is warmed eagerly to surface syntax errors at
// startup rather than on the first request.
func NewOPAEngine(ctx context.Context, opts OPAOptions) (*OPAEngine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}

	if len(opts.Modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}

	moduleOrder := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(opts.Modules))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsedModules[name] = module
	}

	engine := &OPAEngine{
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		entrypoint:    entry,
		queries:       make(map[string]*rego.PreparedEvalQuery),
	}

	if _, err := engine.getPreparedQuery(ctx, entry); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return engine, nil
}

// Evaluate executes the policy for the supplied request and converts the
// result payload into a decision.
func (e *OPAEngine) Evaluate(ctx context.Context, req domain.PolicyRequest) (domain.PolicyDecision, error) {
	prepared, err := e.getPreparedQuery(ctx, e.entrypoint)
	if err != nil {
		return domain.PolicyDecision{}, fmt.Errorf("prepare query: %w", err)
	}

	payload := map[string]any{
		"kind":           req.Kind,
		"compliance_tag": req.ComplianceTag,
		"action":         req.Action,
		"context":        contextOrEmpty(req.Context),
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return domain.PolicyDecision{}, fmt.Errorf("opa decision: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.PolicyDecision{}, fmt.Errorf("opa decision: entrypoint %q produced no result", e.entrypoint)
	}

	decisionPayload, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return domain.PolicyDecision{}, fmt.Errorf("opa decision: unexpected result type %T", results[0].Expressions[0].Value)
	}

	return parseDecisionPayload(decisionPayload)
}

func (e *OPAEngine) getPreparedQuery(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if prepared, ok := e.queries[entry]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	query := "data." + strings.ReplaceAll(entry, "/", ".")

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+1)
	opts = append(opts, rego.Query(query))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have already prepared the query; respect first entry.
	if existing, ok := e.queries[entry]; ok {
		return existing, nil
	}

	e.queries[entry] = &prepared
	return &prepared, nil
}

func parseDecisionPayload(payload map[string]any) (domain.PolicyDecision, error) {
	dec := domain.PolicyDecision{}

	allow, ok := payload["allow"].(bool)
	if !ok {
		return domain.PolicyDecision{}, fmt.Errorf("opa decision: allow must be bool, got %T", payload["allow"])
	}
	dec.Allow = allow

	if score, ok := payload["compliance_score"]; ok {
		f, ok := toFloat(score)
		if !ok {
			return domain.PolicyDecision{}, fmt.Errorf("opa decision: compliance_score must be numeric, got %T", score)
		}
		dec.ComplianceScore = f
	}

	dec.Reasons = toStringSlice(payload["reasons"])

	if tag, ok := payload["constitutional_tag"].(string); ok {
		dec.ConstitutionalTag = tag
	}

	if details, ok := payload["details"].(map[string]any); ok {
		dec.EvaluationDetails = details
	}

	return dec, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toStringSlice(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func contextOrEmpty(ctx map[string]any) map[string]any {
	if ctx == nil {
		return map[string]any{}
	}
	return ctx
}
