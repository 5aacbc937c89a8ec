package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/internal/domain"
)

func sampleDiagram() domain.DomainDiagram {
	temp := 0.7
	maxTokens := 512
	return domain.DomainDiagram{
		Metadata: domain.DiagramMetadata{Name: "greeting", Description: "says hi then decides", Version: "1"},
		Nodes: []domain.DomainNode{
			{ID: "n1", Type: domain.NodeTypeStart, Label: "Start", Position: domain.Vec2{X: 0, Y: 0}},
			{ID: "n2", Type: domain.NodeTypeCondition, Label: "Check", Position: domain.Vec2{X: 100, Y: 0},
				Data: map[string]any{"expression": "true"}},
			{ID: "n3", Type: domain.NodeTypeEndpoint, Label: "End", Position: domain.Vec2{X: 200, Y: 0}},
		},
		Arrows: []domain.DomainArrow{
			{ID: "a1", Source: "n1:output", Target: "n2:input"},
			{ID: "a2", Source: "n2:condtrue", Target: "n3:input", Label: "approved"},
			{ID: "a3", Source: "n2:condfalse", Target: "n1:input"},
		},
		Persons: []domain.DomainPerson{
			{ID: "p1", Label: "Assistant", LLMConfig: domain.PersonLLMConfig{
				Service: "openai", Model: "gpt-4o", APIKeyID: "key-1", SystemPrompt: "be terse",
				Temperature: &temp, MaxTokens: &maxTokens,
			}},
		},
	}
}

func byLabel(nodes []domain.DomainNode) map[string]domain.DomainNode {
	m := make(map[string]domain.DomainNode, len(nodes))
	for _, n := range nodes {
		m[n.Label] = n
	}
	return m
}

func TestNativeRoundTrip(t *testing.T) {
	original := sampleDiagram()
	data, err := EncodeNative(original)
	require.NoError(t, err)

	decoded, err := DecodeNative(data)
	require.NoError(t, err)

	assert.Equal(t, original.Metadata, decoded.Metadata)
	assert.ElementsMatch(t, original.Nodes, decoded.Nodes)
	assert.ElementsMatch(t, original.Arrows, decoded.Arrows)
	assert.ElementsMatch(t, original.Persons, decoded.Persons)
}

func TestNativeEncodeIsDeterministic(t *testing.T) {
	d := sampleDiagram()
	first, err := EncodeNative(d)
	require.NoError(t, err)
	second, err := EncodeNative(d)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLightRoundTripPreservesGraphShape(t *testing.T) {
	original := sampleDiagram()
	data, err := EncodeLight(original)
	require.NoError(t, err)

	decoded, err := DecodeLight(data)
	require.NoError(t, err)

	origByLabel := byLabel(original.Nodes)
	gotByLabel := byLabel(decoded.Nodes)
	require.Len(t, gotByLabel, len(origByLabel))
	for label, n := range origByLabel {
		got, ok := gotByLabel[label]
		require.True(t, ok, "missing node %q after round trip", label)
		assert.Equal(t, n.Type, got.Type)
		assert.Equal(t, n.Position, got.Position)
	}
	assert.Len(t, decoded.Arrows, len(original.Arrows))
	assert.Len(t, decoded.Persons, len(original.Persons))
	assert.Equal(t, original.Persons[0].LLMConfig, decoded.Persons[0].LLMConfig)
}

func TestLightUnknownLabelReferenceFails(t *testing.T) {
	data := []byte(`
nodes:
  - id: n1
    label: Start
    type: start
connections:
  - from: "Start:output"
    to: "Ghost:input"
metadata: {}
`)
	_, err := DecodeLight(data)
	assert.Error(t, err)
}

func TestReadableRoundTripResolvesBranches(t *testing.T) {
	original := sampleDiagram()
	data, err := EncodeReadable(original)
	require.NoError(t, err)

	decoded, err := DecodeReadable(data)
	require.NoError(t, err)

	origByLabel := byLabel(original.Nodes)
	gotByLabel := byLabel(decoded.Nodes)
	require.Len(t, gotByLabel, len(origByLabel))
	for label, n := range origByLabel {
		got, ok := gotByLabel[label]
		require.True(t, ok, "missing node %q after round trip", label)
		assert.Equal(t, n.Type, got.Type)
	}
	require.Len(t, decoded.Arrows, 3)

	nodeIDToLabel := make(map[string]string, len(decoded.Nodes))
	for _, n := range decoded.Nodes {
		nodeIDToLabel[n.ID] = n.Label
	}
	var sawApproved bool
	for _, a := range decoded.Arrows {
		sourceID, _, err := domain.ParseHandle(a.Source)
		require.NoError(t, err)
		targetID, _, err := domain.ParseHandle(a.Target)
		require.NoError(t, err)
		if a.Label == "approved" {
			sawApproved = true
			assert.Equal(t, "Check", nodeIDToLabel[sourceID])
			assert.Equal(t, "End", nodeIDToLabel[targetID])
		}
	}
	assert.True(t, sawApproved, "branch arrow labeled 'approved' should survive the round trip")

	require.Len(t, decoded.Persons, 1)
	assert.Equal(t, original.Persons[0].LLMConfig, decoded.Persons[0].LLMConfig)
}

func TestReadableSingleOutputCollapsesToScalarFlow(t *testing.T) {
	d := domain.DomainDiagram{
		Nodes: []domain.DomainNode{
			{ID: "n1", Type: domain.NodeTypeStart, Label: "Start"},
			{ID: "n2", Type: domain.NodeTypeEndpoint, Label: "End"},
		},
		Arrows: []domain.DomainArrow{{ID: "a1", Source: "n1:output", Target: "n2:input"}},
	}
	data, err := EncodeReadable(d)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Start: End")
}
