package ruleregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/internal/domain"
)

func TestBuiltinConnectionRules(t *testing.T) {
	reg := New(EnvDevelopment)
	RegisterDefaultRules(reg)

	assert.False(t, reg.CanConnect(domain.NodeTypeCodeJob, domain.NodeTypeStart))
	assert.False(t, reg.CanConnect(domain.NodeTypeEndpoint, domain.NodeTypeCodeJob))
	assert.True(t, reg.CanConnect(domain.NodeTypeStart, domain.NodeTypeCodeJob))
	assert.True(t, reg.CanConnect(domain.NodeTypeCodeJob, domain.NodeTypeEndpoint))
}

func TestImmutableRuleBlocksOverride(t *testing.T) {
	reg := New(EnvDevelopment, WithAllowOverride(true))
	err := reg.RegisterConnectionRule(RuleKey{Name: "x", Category: CategoryConnection, Immutable: true}, startNoInputRule{}, false, "")
	require.NoError(t, err)

	err = reg.RegisterConnectionRule(RuleKey{Name: "x", Category: CategoryConnection}, startNoInputRule{}, true, "")
	require.Error(t, err)

	trail := reg.AuditTrail()
	require.NotEmpty(t, trail)
	assert.Equal(t, ActionRegisterFailed, trail[len(trail)-1].Action)
}

func TestFreezeBlocksAllRebinds(t *testing.T) {
	reg := New(EnvDevelopment, WithAllowOverride(true))
	require.NoError(t, reg.RegisterConnectionRule(RuleKey{Name: "x", Category: CategoryConnection}, startNoInputRule{}, false, ""))

	reg.Freeze()
	err := reg.RegisterConnectionRule(RuleKey{Name: "x", Category: CategoryConnection}, startNoInputRule{}, true, "")
	assert.Error(t, err, "frozen registry must block rebind of existing name even with override=true")

	// Freezing an already-frozen registry is a no-op.
	reg.Freeze()
	assert.True(t, reg.IsFrozen())
}

func TestUnfreezeRequiresForceInProduction(t *testing.T) {
	reg := New(EnvProduction)
	reg.Freeze()

	err := reg.Unfreeze(false)
	require.Error(t, err)

	err = reg.Unfreeze(true)
	require.NoError(t, err)
	assert.False(t, reg.IsFrozen())
}

func TestTemporaryOverrideRestoresAndDeletesNewKeys(t *testing.T) {
	reg := New(EnvDevelopment, WithAllowOverride(true))

	scope, err := reg.TemporaryOverride(map[RuleKey]ConnectionRule{
		{Name: "start_no_input", Category: CategoryConnection}: fakeAllowAllRule{},
		{Name: "brand_new", Category: CategoryConnection}:      fakeAllowAllRule{},
	}, nil)
	require.NoError(t, err)

	assert.True(t, reg.CanConnect(domain.NodeTypeCodeJob, domain.NodeTypeStart))

	scope.Restore()

	// brand_new should be gone again.
	_, exists := reg.connectionRules["brand_new"]
	assert.False(t, exists)
}

func TestTemporaryOverrideRejectedInProduction(t *testing.T) {
	reg := New(EnvProduction)
	_, err := reg.TemporaryOverride(map[RuleKey]ConnectionRule{}, nil)
	assert.Error(t, err)
}

func TestGetDataTransformMergesHighestPriorityWins(t *testing.T) {
	reg := New(EnvDevelopment, WithAllowOverride(true))
	require.NoError(t, reg.RegisterTransformRule(RuleKey{Name: "low", Category: CategoryTransform, Priority: PriorityLow}, fakeTransformRule{out: map[string]any{"a": 1, "b": 1}}, false, ""))
	require.NoError(t, reg.RegisterTransformRule(RuleKey{Name: "high", Category: CategoryTransform, Priority: PriorityHigh}, fakeTransformRule{out: map[string]any{"b": 2}}, false, ""))

	result := reg.GetDataTransform(fakeNode{t: domain.NodeTypePersonJob}, fakeNode{t: domain.NodeTypeCodeJob})
	assert.Equal(t, 1, result["a"])
	assert.Equal(t, 2, result["b"], "higher-priority rule must win on key conflict")
}

func TestMergeTransformsEdgeWinsOverType(t *testing.T) {
	out := MergeTransforms(map[string]any{"x": "edge"}, map[string]any{"x": "type", "y": "type"})
	assert.Equal(t, "edge", out["x"])
	assert.Equal(t, "type", out["y"])
}

func TestPersonJobToolExtractionRule(t *testing.T) {
	rule := personJobToolExtractionRule{}
	withTools := fakeNode{t: domain.NodeTypePersonJob, cfg: map[string]any{"tools": []any{"search"}}}
	without := fakeNode{t: domain.NodeTypePersonJob, cfg: map[string]any{}}

	assert.True(t, rule.AppliesTo(withTools, fakeNode{}))
	assert.False(t, rule.AppliesTo(without, fakeNode{}))
	assert.Equal(t, true, rule.GetTransform(withTools, fakeNode{})["extract_tool_results"])
}

func TestDefaultRegistrySingleton(t *testing.T) {
	ResetDefault()
	r1 := Default()
	r2 := Default()
	assert.Same(t, r1, r2)
	assert.False(t, r1.CanConnect(domain.NodeTypeEndpoint, domain.NodeTypeCodeJob))
	ResetDefault()
}

type fakeAllowAllRule struct{}

func (fakeAllowAllRule) Name() string                                      { return "fake" }
func (fakeAllowAllRule) Priority() RulePriority                            { return PriorityHigh }
func (fakeAllowAllRule) CanConnect(_, _ domain.NodeType) bool              { return true }
func (fakeAllowAllRule) Reason(_, _ domain.NodeType) string                { return "" }

type fakeTransformRule struct{ out map[string]any }

func (fakeTransformRule) Name() string                             { return "fake-transform" }
func (fakeTransformRule) Priority() RulePriority                   { return PriorityNormal }
func (fakeTransformRule) AppliesTo(_, _ TypedNode) bool            { return true }
func (f fakeTransformRule) GetTransform(_, _ TypedNode) map[string]any { return f.out }

type fakeNode struct {
	t   domain.NodeType
	cfg map[string]any
}

func (n fakeNode) Type() domain.NodeType   { return n.t }
func (n fakeNode) Config() map[string]any { return n.cfg }
