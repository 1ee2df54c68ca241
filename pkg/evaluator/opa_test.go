package evaluator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdictai/verdict-oss/pkg/domain"
)

const testPolicy = `
package verdict

import rego.v1

default decision := {
	"allow": false,
	"compliance_score": 0.0,
	"reasons": ["no rule matched"],
	"constitutional_tag": "default_deny",
}

decision := {
	"allow": true,
	"compliance_score": input.context.trust,
	"reasons": ["trusted workspace access"],
	"constitutional_tag": "workspace_access",
	"details": {"rule": "workspace_query"},
} if {
	input.action == "workspace.query"
	input.context.trust >= 0.5
}
`

func newTestEngine(t *testing.T) *OPAEngine {
	t.Helper()
	engine, err := NewOPAEngine(context.Background(), OPAOptions{
		Modules: map[string]string{"verdict.rego": testPolicy},
	})
	require.NoError(t, err)
	return engine
}

func TestOPAEngine_AllowingRule(t *testing.T) {
	engine := newTestEngine(t)

	dec, err := engine.Evaluate(context.Background(), domain.PolicyRequest{
		Kind:    "constitutional_evaluation",
		Action:  "workspace.query",
		Context: map[string]any{"trust": 0.8},
	})
	require.NoError(t, err)

	assert.True(t, dec.Allow)
	assert.InDelta(t, 0.8, dec.ComplianceScore, 1e-9)
	assert.Equal(t, []string{"trusted workspace access"}, dec.Reasons)
	assert.Equal(t, "workspace_access", dec.ConstitutionalTag)
	assert.Equal(t, "workspace_query", dec.EvaluationDetails["rule"])
}

func TestOPAEngine_DefaultDeny(t *testing.T) {
	engine := newTestEngine(t)

	dec, err := engine.Evaluate(context.Background(), domain.PolicyRequest{
		Kind:    "constitutional_evaluation",
		Action:  "workspace.query",
		Context: map[string]any{"trust": 0.2},
	})
	require.NoError(t, err)

	assert.False(t, dec.Allow)
	assert.Zero(t, dec.ComplianceScore)
	assert.Equal(t, "default_deny", dec.ConstitutionalTag)
}

func TestOPAEngine_NilContext(t *testing.T) {
	engine := newTestEngine(t)

	dec, err := engine.Evaluate(context.Background(), domain.PolicyRequest{
		Kind:   "constitutional_evaluation",
		Action: "anything.else",
	})
	require.NoError(t, err)
	assert.False(t, dec.Allow)
}

func TestOPAEngine_RequiresModules(t *testing.T) {
	_, err := NewOPAEngine(context.Background(), OPAOptions{})
	assert.Error(t, err)
}

func TestOPAEngine_ParseErrorAtStartup(t *testing.T) {
	_, err := NewOPAEngine(context.Background(), OPAOptions{
		Modules: map[string]string{"broken.rego": "package verdict\n\ndecision := {"},
	})
	assert.Error(t, err)
}

func TestOPAEngine_InvalidDecisionShape(t *testing.T) {
	engine, err := NewOPAEngine(context.Background(), OPAOptions{
		Modules: map[string]string{
			"bad.rego": `
package verdict

import rego.v1

decision := {"allow": "yes"}
`,
		},
	})
	require.NoError(t, err)

	_, err = engine.Evaluate(context.Background(), domain.PolicyRequest{Kind: "constitutional_evaluation"})
	assert.ErrorContains(t, err, "allow must be bool")
}

func TestOPAEngine_CustomEntrypoint(t *testing.T) {
	engine, err := NewOPAEngine(context.Background(), OPAOptions{
		Entrypoint: "governance/verdict",
		Modules: map[string]string{
			"gov.rego": `
package governance

import rego.v1

verdict := {"allow": true, "compliance_score": 1.0}
`,
		},
	})
	require.NoError(t, err)

	dec, err := engine.Evaluate(context.Background(), domain.PolicyRequest{Kind: "constitutional_evaluation"})
	require.NoError(t, err)
	assert.True(t, dec.Allow)
	assert.Equal(t, 1.0, dec.ComplianceScore)
}

func TestLoadBundleDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policy.rego"), []byte(testPolicy), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	modules, err := LoadBundleDir(dir)
	require.NoError(t, err)
	require.Len(t, modules, 1)
	assert.Equal(t, testPolicy, modules["policy.rego"])
}

func TestLoadBundleDir_Empty(t *testing.T) {
	_, err := LoadBundleDir(t.TempDir())
	assert.ErrorContains(t, err, "no rego modules")
}

func TestLoadBundleDir_Missing(t *testing.T) {
	_, err := LoadBundleDir(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}
