package compiler

import (
	"fmt"
	"sort"

	"github.com/dipeo/engine/internal/diagram"
	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/graphutil"
	"github.com/dipeo/engine/internal/ruleregistry"
)

// runValidation is Phase 1: structural soundness of the raw DomainDiagram.
func runValidation(ctx *Context) {
	if len(ctx.Input.Nodes) == 0 {
		ctx.errorf(PhaseValidation, "", "", "diagram has no nodes")
		return
	}

	seen := make(map[string]bool, len(ctx.Input.Nodes))
	startCount, endpointCount := 0, 0
	for _, n := range ctx.Input.Nodes {
		if seen[n.ID] {
			ctx.errorf(PhaseValidation, n.ID, "", "duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		if !n.Type.IsValid() {
			ctx.errorf(PhaseValidation, n.ID, "", "node %q has unrecognized type %q", n.ID, n.Type)
		}
		if n.Type == domain.NodeTypeStart {
			startCount++
		}
		if n.Type == domain.NodeTypeEndpoint {
			endpointCount++
		}
	}
	if startCount == 0 {
		ctx.errorf(PhaseValidation, "", "", "diagram has no start node")
	}
	if endpointCount == 0 {
		ctx.warnf(PhaseValidation, "", "", "diagram has no endpoint node")
	}
	if ctx.hasErrors() {
		return
	}

	for _, a := range ctx.Input.Arrows {
		srcNodeID, srcLabel, err := domain.ParseHandle(a.Source)
		if err != nil {
			ctx.errorf(PhaseValidation, "", a.ID, "arrow %q has malformed source handle: %v", a.ID, err)
			continue
		}
		tgtNodeID, tgtLabel, err := domain.ParseHandle(a.Target)
		if err != nil {
			ctx.errorf(PhaseValidation, "", a.ID, "arrow %q has malformed target handle: %v", a.ID, err)
			continue
		}
		if _, ok := ctx.nodeByID[srcNodeID]; !ok {
			ctx.errorf(PhaseValidation, srcNodeID, a.ID, "arrow %q source references unknown node %q", a.ID, srcNodeID)
			continue
		}
		if _, ok := ctx.nodeByID[tgtNodeID]; !ok {
			ctx.errorf(PhaseValidation, tgtNodeID, a.ID, "arrow %q target references unknown node %q", a.ID, tgtNodeID)
			continue
		}

		srcDir, ok := ctx.handleDirection(srcNodeID, srcLabel)
		if !ok || srcDir != domain.HandleDirectionOutput {
			ctx.errorf(PhaseValidation, srcNodeID, a.ID, "arrow %q source handle %q is not an output handle", a.ID, a.Source)
		}
		tgtDir, ok := ctx.handleDirection(tgtNodeID, tgtLabel)
		if !ok || tgtDir != domain.HandleDirectionInput {
			ctx.errorf(PhaseValidation, tgtNodeID, a.ID, "arrow %q target handle %q is not an input handle", a.ID, a.Target)
		}

		if tgtNodeID != "" && ctx.nodeByID[tgtNodeID].Type == domain.NodeTypeStart {
			ctx.errorf(PhaseValidation, tgtNodeID, a.ID, "start node %q cannot receive incoming connections", tgtNodeID)
		}
		if srcNodeID != "" && ctx.nodeByID[srcNodeID].Type == domain.NodeTypeEndpoint {
			ctx.errorf(PhaseValidation, srcNodeID, a.ID, "endpoint node %q cannot send outgoing connections", srcNodeID)
		}
	}

	for _, n := range ctx.Input.Nodes {
		if n.Type != domain.NodeTypeCondition {
			continue
		}
		haveTrue, haveFalse := false, false
		for _, a := range ctx.Input.Arrows {
			nodeID, label, err := domain.ParseHandle(a.Source)
			if err != nil || nodeID != n.ID {
				continue
			}
			switch label {
			case domain.HandleLabelCondTrue:
				haveTrue = true
			case domain.HandleLabelCondFalse:
				haveFalse = true
			}
		}
		if !haveTrue {
			ctx.warnf(PhaseValidation, n.ID, "", "condition node %q has no condtrue branch", n.ID)
		}
		if !haveFalse {
			ctx.warnf(PhaseValidation, n.ID, "", "condition node %q has no condfalse branch", n.ID)
		}
	}
}

// runNodeTransformation is Phase 2: build typed, factory-validated nodes and
// extract the start-node set and person index.
func runNodeTransformation(ctx *Context) {
	ctx.compiledByID = make(map[string]*diagram.ExecutableNode, len(ctx.Input.Nodes))

	for _, n := range ctx.Input.Nodes {
		factory := ctx.Factories.For(n.Type)
		props, err := factory(n)
		if err != nil {
			ctx.errorf(PhaseNodeTransformation, n.ID, "", "%v", err)
			continue
		}
		compiled := diagram.ExecutableNode{
			ID: n.ID, Type: n.Type, Position: n.Position, Label: n.Label, Props: props,
		}
		ctx.compiledNodes = append(ctx.compiledNodes, compiled)

		if n.Type == domain.NodeTypeStart {
			ctx.startNodeIDs = append(ctx.startNodeIDs, n.ID)
		}
		if personID, ok := props["person"].(string); ok && personID != "" {
			ctx.personNodeIndex[personID] = append(ctx.personNodeIndex[personID], n.ID)
		}
	}

	if ctx.hasErrors() {
		return
	}
	for i := range ctx.compiledNodes {
		ctx.compiledByID[ctx.compiledNodes[i].ID] = &ctx.compiledNodes[i]
	}
	sort.Strings(ctx.startNodeIDs)
}

// runConnectionResolution is Phase 3: resolve each arrow's endpoints to
// (node_id, label) tuples and check the resolved (source_type, target_type)
// pair against the rule registry.
func runConnectionResolution(ctx *Context) {
	for _, a := range ctx.Input.Arrows {
		srcNodeID, srcLabel, err := domain.ParseHandle(a.Source)
		if err != nil {
			ctx.errorf(PhaseConnectionResolution, "", a.ID, "cannot resolve source handle: %v", err)
			continue
		}
		tgtNodeID, tgtLabel, err := domain.ParseHandle(a.Target)
		if err != nil {
			ctx.errorf(PhaseConnectionResolution, "", a.ID, "cannot resolve target handle: %v", err)
			continue
		}

		srcNode, srcOK := ctx.nodeByID[srcNodeID]
		tgtNode, tgtOK := ctx.nodeByID[tgtNodeID]
		if !srcOK || !tgtOK {
			ctx.errorf(PhaseConnectionResolution, "", a.ID, "arrow %q endpoint node mismatch", a.ID)
			continue
		}

		if !ctx.Registry.CanConnect(srcNode.Type, tgtNode.Type) {
			reason := ctx.Registry.ConnectionDenialReason(srcNode.Type, tgtNode.Type)
			ctx.errorf(PhaseConnectionResolution, "", a.ID, "connection %s -> %s rejected by rule registry: %s",
				srcNode.Type, tgtNode.Type, reason)
			continue
		}

		ctx.resolvedArrows = append(ctx.resolvedArrows, resolvedArrow{
			Arrow:  a,
			Source: resolvedHandle{NodeID: srcNodeID, Label: srcLabel},
			Target: resolvedHandle{NodeID: tgtNodeID, Label: tgtLabel},
		})
	}
}

// runEdgeBuilding is Phase 4: produce ExecutableEdges, consulting the rule
// registry for merged type-based + edge-specific transform rules, and build
// the node_dependencies map.
func runEdgeBuilding(ctx *Context) {
	depSet := make(map[string]map[string]bool)

	for _, ra := range ctx.resolvedArrows {
		srcCompiled := ctx.compiledByID[ra.Source.NodeID]
		tgtCompiled := ctx.compiledByID[ra.Target.NodeID]
		if srcCompiled == nil || tgtCompiled == nil {
			ctx.errorf(PhaseEdgeBuilding, "", ra.Arrow.ID, "arrow %q references a node dropped during transformation", ra.Arrow.ID)
			continue
		}

		typeBased := ctx.Registry.GetDataTransform(execNodeAdapter{srcCompiled}, execNodeAdapter{tgtCompiled})
		edgeSpecific, _ := ra.Arrow.Data["transform"].(map[string]any)
		transform := ruleregistry.MergeTransforms(edgeSpecific, typeBased)

		ctx.edges = append(ctx.edges, diagram.ExecutableEdge{
			ID:             ra.Arrow.ID,
			SourceNodeID:   ra.Source.NodeID,
			SourceOutput:   ra.Source.Label,
			TargetNodeID:   ra.Target.NodeID,
			TargetInput:    ra.Target.Label,
			ContentType:    ra.Arrow.ContentType,
			TransformRules: transform,
			Metadata:       map[string]any{},
		})

		if depSet[ra.Target.NodeID] == nil {
			depSet[ra.Target.NodeID] = make(map[string]bool)
		}
		depSet[ra.Target.NodeID][ra.Source.NodeID] = true
	}

	for target, sources := range depSet {
		list := sortedKeys(sources)
		ctx.dependencies[target] = list
	}
}

// runOptimization is Phase 5: pure, non-fatal analysis — reachability,
// cycle detection, and parallel-group hints — using graphutil (adapted from
// the teacher's engine.Graph).
func runOptimization(ctx *Context) {
	g := graphutil.New()
	for _, n := range ctx.compiledNodes {
		g.AddNode(n.ID)
	}
	for _, e := range ctx.edges {
		g.AddEdge(e.SourceNodeID, e.TargetNodeID)
	}
	ctx.graph = g

	reached := g.Reachable(ctx.startNodeIDs...)
	unreached := g.Unreached(reached)
	sort.Strings(unreached)
	for _, id := range unreached {
		ctx.warnf(PhaseOptimization, id, "", "node %q is not reachable from any start node", id)
	}

	if g.HasCycle() {
		ctx.warnf(PhaseOptimization, "", "", "diagram contains at least one cycle")
	}

	groups := make(map[string][]string)
	for target, sources := range ctx.dependencies {
		key := fmt.Sprintf("%v", sources)
		groups[key] = append(groups[key], target)
	}
	for _, targets := range groups {
		if len(targets) > 1 {
			sort.Strings(targets)
			ctx.parallelGroups = append(ctx.parallelGroups, targets)
		}
	}
	sort.Slice(ctx.parallelGroups, func(i, j int) bool {
		return ctx.parallelGroups[i][0] < ctx.parallelGroups[j][0]
	})
}

// runAssembly is Phase 6: materialize the final ExecutableDiagram.
func runAssembly(ctx *Context) *diagram.ExecutableDiagram {
	personIndex := make(map[string]domain.DomainPerson, len(ctx.Input.Persons))
	for _, p := range ctx.Input.Persons {
		personIndex[p.ID] = p
	}

	var warnings []string
	for _, w := range ctx.Warnings() {
		warnings = append(warnings, w.String())
	}

	meta := diagram.Metadata{
		StartNodeIDs:    ctx.startNodeIDs,
		PersonIndex:     personIndex,
		PersonNodeIndex: ctx.personNodeIndex,
		Dependencies:    ctx.dependencies,
		ParallelGroups:  ctx.parallelGroups,
		Warnings:        warnings,
		Diagram:         ctx.Input.Metadata,
	}

	var executionOrder []string
	if ctx.graph != nil {
		if order, acyclic := ctx.graph.TopologicalOrder(); acyclic {
			executionOrder = order
		}
	}

	return diagram.New(ctx.compiledNodes, ctx.edges, meta, executionOrder)
}
