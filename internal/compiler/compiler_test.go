package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/ruleregistry"
)

func simpleDiagram() domain.DomainDiagram {
	return domain.DomainDiagram{
		Nodes: []domain.DomainNode{
			{ID: "n1", Type: domain.NodeTypeStart, Data: map[string]any{}},
			{ID: "n2", Type: domain.NodeTypeCodeJob, Data: map[string]any{}},
			{ID: "n3", Type: domain.NodeTypeEndpoint, Data: map[string]any{}},
		},
		Arrows: []domain.DomainArrow{
			{ID: "a1", Source: "n1:output", Target: "n2:input"},
			{ID: "a2", Source: "n2:output", Target: "n3:input"},
		},
		Metadata: domain.DiagramMetadata{ID: "d1", Name: "simple"},
	}
}

func testRegistry(t *testing.T) *ruleregistry.Registry {
	t.Helper()
	reg := ruleregistry.New(ruleregistry.EnvTesting, ruleregistry.WithAllowOverride(true))
	ruleregistry.RegisterDefaultRules(reg)
	return reg
}

func TestCompileSimpleDiagram(t *testing.T) {
	exec, err := Compile(simpleDiagram(), testRegistry(t))
	require.NoError(t, err)
	require.NotNil(t, exec)

	assert.Len(t, exec.Nodes, 3)
	assert.Len(t, exec.Edges, 2)
	assert.Equal(t, []string{"n1"}, exec.Metadata.StartNodeIDs)
	assert.Equal(t, []string{"n1"}, exec.ExecutionOrder[:1])
	assert.Empty(t, exec.Validate())
}

func TestCompileRejectsEmptyDiagram(t *testing.T) {
	_, err := Compile(domain.DomainDiagram{}, testRegistry(t))
	assert.Error(t, err)
}

func TestCompileRejectsMissingStartNode(t *testing.T) {
	d := domain.DomainDiagram{
		Nodes: []domain.DomainNode{{ID: "n1", Type: domain.NodeTypeEndpoint, Data: map[string]any{}}},
	}
	_, err := Compile(d, testRegistry(t))
	assert.Error(t, err)
}

func TestCompileRejectsIncomingToStart(t *testing.T) {
	d := domain.DomainDiagram{
		Nodes: []domain.DomainNode{
			{ID: "n1", Type: domain.NodeTypeStart, Data: map[string]any{}},
			{ID: "n2", Type: domain.NodeTypeCodeJob, Data: map[string]any{}},
		},
		Arrows: []domain.DomainArrow{{ID: "a1", Source: "n2:output", Target: "n1:input"}},
	}
	result := CompileWithDiagnostics(d, testRegistry(t), "")
	assert.False(t, result.IsValid())
}

func TestCompileWarnsOnUnreachableNode(t *testing.T) {
	d := simpleDiagram()
	d.Nodes = append(d.Nodes, domain.DomainNode{ID: "orphan", Type: domain.NodeTypeCodeJob, Data: map[string]any{}})
	result := CompileWithDiagnostics(d, testRegistry(t), "")
	require.True(t, result.IsValid())
	require.True(t, result.HasWarnings())

	found := false
	for _, w := range result.Warnings {
		if w.NodeID == "orphan" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCompilePersonJobRequiresPersonReference(t *testing.T) {
	d := domain.DomainDiagram{
		Nodes: []domain.DomainNode{
			{ID: "n1", Type: domain.NodeTypeStart, Data: map[string]any{}},
			{ID: "n2", Type: domain.NodeTypePersonJob, Data: map[string]any{}},
		},
		Arrows: []domain.DomainArrow{{ID: "a1", Source: "n1:output", Target: "n2:input"}},
	}
	_, err := Compile(d, testRegistry(t))
	assert.Error(t, err)
}

func TestCompileWithDiagnosticsStopAfterValidation(t *testing.T) {
	result := CompileWithDiagnostics(simpleDiagram(), testRegistry(t), PhaseValidation)
	assert.Nil(t, result.Diagram)
	assert.True(t, result.IsValid())
}

func TestDecompileRoundTripsNodesAndEdges(t *testing.T) {
	exec, err := Compile(simpleDiagram(), testRegistry(t))
	require.NoError(t, err)

	back := Decompile(exec)
	assert.Len(t, back.Nodes, 3)
	assert.Len(t, back.Arrows, 2)
}
