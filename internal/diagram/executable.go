// Package diagram holds the compiler's output shape: ExecutableDiagram, the
// immutable, indexed container a scheduler runs against. Nothing in this
// package performs compilation — it only stores and re-validates what the
// compiler assembled.
//
// Grounded on SPEC_FULL.md §4.4 (C4) and, for the O(1)-lookup index idiom,
// on the teacher's internal/node.Registry (byID map keyed lookup).
package diagram

import (
	"fmt"
	"sort"

	"github.com/dipeo/engine/internal/domain"
)

// ExecutableNode is a compiled, immutable node. Props carries the
// type-specific fields a node factory produced during compilation (e.g.
// join_policy for condition nodes, max_iteration for person_job nodes); the
// node's Type determines which Props keys callers may expect, making this a
// sum type over a single concrete Go shape rather than one struct per kind.
type ExecutableNode struct {
	ID       string
	Type     domain.NodeType
	Position domain.Vec2
	Label    string
	Props    map[string]any
}

// ExecutableEdge is a resolved, compiled connection between two handles.
type ExecutableEdge struct {
	ID             string
	SourceNodeID   string
	SourceOutput   domain.HandleLabel
	TargetNodeID   string
	TargetInput    domain.HandleLabel
	ContentType    string
	TransformRules map[string]any
	Metadata       map[string]any
}

// Metadata is the compiler's Phase 6 assembly block: everything about the
// diagram as a whole rather than any one node or edge.
type Metadata struct {
	StartNodeIDs    []string
	PersonIndex     map[string]domain.DomainPerson
	PersonNodeIndex map[string][]string // person_id -> node_ids referencing it
	Dependencies    map[string][]string // target_node -> source_nodes
	ParallelGroups  [][]string
	Warnings        []string
	Diagram         domain.DiagramMetadata
}

// ExecutableDiagram is the compiler's Phase 6 output: a pure, indexed data
// container. Nothing here mutates after Assembly builds it.
type ExecutableDiagram struct {
	Nodes          []ExecutableNode
	Edges          []ExecutableEdge
	IncomingIndex  map[string][]ExecutableEdge
	OutgoingIndex  map[string][]ExecutableEdge
	ExecutionOrder []string // optional precomputed topological order; nil if the scheduler must compute it
	Metadata       Metadata

	byID map[string]*ExecutableNode
}

// New builds an ExecutableDiagram from already-resolved nodes and edges,
// deriving the lookup index. Called only by the compiler's Assembly phase.
func New(nodes []ExecutableNode, edges []ExecutableEdge, meta Metadata, executionOrder []string) *ExecutableDiagram {
	d := &ExecutableDiagram{
		Nodes:         nodes,
		Edges:         edges,
		IncomingIndex: make(map[string][]ExecutableEdge),
		OutgoingIndex: make(map[string][]ExecutableEdge),
		Metadata:      meta,
		byID:          make(map[string]*ExecutableNode, len(nodes)),
	}
	for i := range d.Nodes {
		d.byID[d.Nodes[i].ID] = &d.Nodes[i]
	}
	for _, e := range edges {
		d.OutgoingIndex[e.SourceNodeID] = append(d.OutgoingIndex[e.SourceNodeID], e)
		d.IncomingIndex[e.TargetNodeID] = append(d.IncomingIndex[e.TargetNodeID], e)
	}
	if executionOrder != nil {
		d.ExecutionOrder = executionOrder
	}
	return d
}

// GetNode returns the node with the given id, or nil if absent. O(1).
func (d *ExecutableDiagram) GetNode(id string) *ExecutableNode {
	return d.byID[id]
}

// GetIncomingEdges returns the edges targeting nodeID. O(1) amortized.
func (d *ExecutableDiagram) GetIncomingEdges(nodeID string) []ExecutableEdge {
	return d.IncomingIndex[nodeID]
}

// GetOutgoingEdges returns the edges sourced from nodeID. O(1) amortized.
func (d *ExecutableDiagram) GetOutgoingEdges(nodeID string) []ExecutableEdge {
	return d.OutgoingIndex[nodeID]
}

// Validate re-checks the post-compile invariants defensively, ahead of
// execution. It does not re-run the compiler; it only confirms the
// container itself is internally consistent.
func (d *ExecutableDiagram) Validate() []error {
	var errs []error

	seenNode := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if seenNode[n.ID] {
			errs = append(errs, fmt.Errorf("duplicate node id %q", n.ID))
		}
		seenNode[n.ID] = true
		if !n.Type.IsValid() {
			errs = append(errs, fmt.Errorf("node %q has unrecognized type %q", n.ID, n.Type))
		}
	}

	seenEdge := make(map[string]bool, len(d.Edges))
	for _, e := range d.Edges {
		if seenEdge[e.ID] {
			errs = append(errs, fmt.Errorf("duplicate edge id %q", e.ID))
		}
		seenEdge[e.ID] = true
		if _, ok := d.byID[e.SourceNodeID]; !ok {
			errs = append(errs, fmt.Errorf("edge %q references unknown source node %q", e.ID, e.SourceNodeID))
		}
		if _, ok := d.byID[e.TargetNodeID]; !ok {
			errs = append(errs, fmt.Errorf("edge %q references unknown target node %q", e.ID, e.TargetNodeID))
		}
	}

	for _, n := range d.Nodes {
		switch n.Type {
		case domain.NodeTypeStart:
			if len(d.IncomingIndex[n.ID]) > 0 {
				errs = append(errs, fmt.Errorf("start node %q has incoming edges", n.ID))
			}
		case domain.NodeTypeEndpoint:
			if len(d.OutgoingIndex[n.ID]) > 0 {
				errs = append(errs, fmt.Errorf("endpoint node %q has outgoing edges", n.ID))
			}
		case domain.NodeTypeCondition:
			labels := map[domain.HandleLabel]bool{}
			for _, e := range d.OutgoingIndex[n.ID] {
				labels[e.SourceOutput] = true
			}
			if len(labels) > 2 {
				errs = append(errs, fmt.Errorf("condition node %q exposes more than two output branches", n.ID))
			}
		}
	}

	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errs
}
