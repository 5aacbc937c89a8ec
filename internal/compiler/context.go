package compiler

import (
	"sort"

	"github.com/dipeo/engine/internal/diagram"
	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/graphutil"
	"github.com/dipeo/engine/internal/ruleregistry"
)

// Context carries a compilation's inputs, accumulated outputs, and
// diagnostics across all six phases. Each phase function takes *Context and
// either extends it or appends diagnostics; the driver loop in compiler.go
// stops at the first phase leaving a fatal diagnostic.
type Context struct {
	Input    domain.DomainDiagram
	Registry *ruleregistry.Registry
	Factories *FactoryRegistry

	Diagnostics []Diagnostic

	handlesByNode map[string][]domain.DomainHandle
	nodeByID      map[string]domain.DomainNode

	compiledNodes []diagram.ExecutableNode
	compiledByID  map[string]*diagram.ExecutableNode

	resolvedArrows []resolvedArrow

	edges        []diagram.ExecutableEdge
	dependencies map[string][]string

	startNodeIDs    []string
	personNodeIndex map[string][]string

	parallelGroups [][]string
	graph          *graphutil.Graph
}

// newContext builds a Context and precomputes the effective handle set per
// node (declared handles plus synthesized defaults for any label a diagram
// omitted), since every later phase needs it.
func newContext(input domain.DomainDiagram, registry *ruleregistry.Registry, factories *FactoryRegistry) *Context {
	ctx := &Context{
		Input:           input,
		Registry:        registry,
		Factories:       factories,
		handlesByNode:   make(map[string][]domain.DomainHandle),
		nodeByID:        make(map[string]domain.DomainNode),
		dependencies:    make(map[string][]string),
		personNodeIndex: make(map[string][]string),
	}

	for _, n := range input.Nodes {
		ctx.nodeByID[n.ID] = n
	}

	for _, n := range input.Nodes {
		declared := input.HandlesForNode(n.ID)
		have := make(map[domain.HandleLabel]bool, len(declared))
		for _, h := range declared {
			have[h.Label] = true
		}
		handles := append([]domain.DomainHandle(nil), declared...)
		for _, h := range domain.DefaultHandles(n.ID, n.Type) {
			if !have[h.Label] {
				handles = append(handles, h)
			}
		}
		ctx.handlesByNode[n.ID] = handles
	}

	return ctx
}

// handleDirection looks up the direction of (nodeID, label) from the
// precomputed effective handle set, returning ok=false if undeclared.
func (ctx *Context) handleDirection(nodeID string, label domain.HandleLabel) (domain.HandleDirection, bool) {
	for _, h := range ctx.handlesByNode[nodeID] {
		if h.Label == label {
			return h.Direction, true
		}
	}
	return "", false
}

// execNodeAdapter satisfies ruleregistry.TypedNode over a compiled node, so
// Phase 4 can consult the rule registry's transform rules against already
// factory-validated node props.
type execNodeAdapter struct {
	node *diagram.ExecutableNode
}

func (a execNodeAdapter) Type() domain.NodeType    { return a.node.Type }
func (a execNodeAdapter) Config() map[string]any { return a.node.Props }

// sortedKeys returns m's keys sorted, for deterministic iteration where the
// map itself gives no order guarantee.
func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
