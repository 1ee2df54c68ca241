package domain

// PolicyDecision is the outcome of evaluating a PolicyRequest. Exactly one of
// the partial evaluator, the full evaluator, or a cache lookup produces it.
// Decisions are immutable once produced; the cache stores and returns clones
// so a caller can never mutate another caller's result.
type PolicyDecision struct {
	Allow             bool           `json:"allow" yaml:"allow"`
	ComplianceScore   float64        `json:"compliance_score" yaml:"compliance_score"`
	Reasons           []string       `json:"reasons,omitempty" yaml:"reasons,omitempty"`
	EvaluationDetails map[string]any `json:"evaluation_details,omitempty" yaml:"evaluation_details,omitempty"`
	ConstitutionalTag string         `json:"constitutional_tag,omitempty" yaml:"constitutional_tag,omitempty"`
	PartialEvaluation bool           `json:"partial_evaluation" yaml:"partial_evaluation"`
	CacheHit          bool           `json:"cache_hit" yaml:"cache_hit"`
	LatencyMS         float64        `json:"latency_ms" yaml:"latency_ms"`
}

// Clone returns a deep copy of the decision to avoid shared mutable state.
func (d PolicyDecision) Clone() PolicyDecision {
	clone := d
	if len(d.Reasons) > 0 {
		clone.Reasons = append([]string(nil), d.Reasons...)
	}
	clone.EvaluationDetails = cloneAnyMap(d.EvaluationDetails)
	return clone
}

func cloneAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
