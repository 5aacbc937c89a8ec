package compiler

import (
	"fmt"
	"strings"

	"github.com/dipeo/engine/internal/diagram"
	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/ruleregistry"
)

// phaseFunc is a compilation stage that may extend ctx with fatal or
// advisory diagnostics. Assembly is handled separately since it alone
// produces the output value.
type phaseFunc struct {
	name Phase
	run  func(*Context)
}

var pipeline = []phaseFunc{
	{PhaseValidation, runValidation},
	{PhaseNodeTransformation, runNodeTransformation},
	{PhaseConnectionResolution, runConnectionResolution},
	{PhaseEdgeBuilding, runEdgeBuilding},
	{PhaseOptimization, runOptimization},
}

// Result is the outcome of CompileWithDiagnostics: a diagram (nil if a
// fatal error stopped the pipeline before Assembly), plus every
// error/warning accumulated along the way.
type Result struct {
	Diagram  *diagram.ExecutableDiagram
	Errors   []Diagnostic
	Warnings []Diagnostic
}

// IsValid reports whether compilation produced no fatal errors.
func (r Result) IsValid() bool { return len(r.Errors) == 0 }

// HasWarnings reports whether compilation produced any advisory diagnostic.
func (r Result) HasWarnings() bool { return len(r.Warnings) > 0 }

// Compile runs the full six-phase pipeline and returns the assembled
// diagram, or an error joining every fatal diagnostic from the phase that
// stopped the pipeline.
func Compile(input domain.DomainDiagram, registry *ruleregistry.Registry) (*diagram.ExecutableDiagram, error) {
	result := CompileWithDiagnostics(input, registry, "")
	if !result.IsValid() {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("compilation failed: %s", strings.Join(msgs, "; "))
	}
	return result.Diagram, nil
}

// CompileWithDiagnostics runs the pipeline, never panicking from phase
// logic: an internal compiler bug is caught and reported as an Internal
// diagnostic rather than propagated. stopAfter, if non-empty, halts the
// pipeline after that phase completes (inclusive) regardless of whether it
// produced errors — used by tooling that only needs a partial result (e.g.
// a UI asking only for Phase 1 validation feedback).
func CompileWithDiagnostics(input domain.DomainDiagram, registry *ruleregistry.Registry, stopAfter Phase) (result Result) {
	if registry == nil {
		registry = ruleregistry.Default()
	}

	ctx := newContext(input, registry, DefaultFactoryRegistry())

	defer func() {
		if r := recover(); r != nil {
			ctx.errorf(PhaseAssembly, "", "", "internal compiler error: %v", r)
			result = Result{Errors: ctx.Errors(), Warnings: ctx.Warnings()}
		}
	}()

	for _, p := range pipeline {
		p.run(ctx)
		if ctx.hasErrors() {
			return Result{Errors: ctx.Errors(), Warnings: ctx.Warnings()}
		}
		if stopAfter != "" && p.name == stopAfter {
			return Result{Errors: ctx.Errors(), Warnings: ctx.Warnings()}
		}
	}

	assembled := runAssembly(ctx)
	return Result{Diagram: assembled, Errors: ctx.Errors(), Warnings: ctx.Warnings()}
}

// Decompile reconstructs a best-effort DomainDiagram from an
// ExecutableDiagram, for round-trip tooling. It is lossy: handle ids are
// freshly generated rather than recovered, and UI-only metadata (exact
// canvas positions beyond what the node retained) is not reconstructed
// beyond what ExecutableNode carries.
func Decompile(exec *diagram.ExecutableDiagram) domain.DomainDiagram {
	out := domain.DomainDiagram{
		Metadata: exec.Metadata.Diagram,
	}

	handleSeq := 0
	nextHandleID := func() string {
		handleSeq++
		return fmt.Sprintf("handle_%d", handleSeq)
	}

	for _, n := range exec.Nodes {
		data := make(map[string]any, len(n.Props))
		for k, v := range n.Props {
			data[k] = v
		}
		out.Nodes = append(out.Nodes, domain.DomainNode{
			ID: n.ID, Type: n.Type, Position: n.Position, Label: n.Label, Data: data,
		})
		for _, label := range handleLabelsFor(n, exec) {
			out.Handles = append(out.Handles, domain.DomainHandle{
				ID: nextHandleID(), NodeID: n.ID, Label: label.label, Direction: label.dir,
			})
		}
	}

	for _, e := range exec.Edges {
		out.Arrows = append(out.Arrows, domain.DomainArrow{
			ID:          e.ID,
			Source:      domain.BuildHandle(e.SourceNodeID, e.SourceOutput),
			Target:      domain.BuildHandle(e.TargetNodeID, e.TargetInput),
			ContentType: e.ContentType,
			Data:        map[string]any{"transform": e.TransformRules},
		})
	}

	seenPerson := make(map[string]bool)
	for personID := range exec.Metadata.PersonNodeIndex {
		if person, ok := exec.Metadata.PersonIndex[personID]; ok && !seenPerson[personID] {
			out.Persons = append(out.Persons, person)
			seenPerson[personID] = true
		}
	}

	return out
}

type labelDir struct {
	label domain.HandleLabel
	dir   domain.HandleDirection
}

// handleLabelsFor derives the handle labels a compiled node must have had,
// from the edges actually touching it, falling back to the type's default
// handle set if no edge used a given direction.
func handleLabelsFor(n diagram.ExecutableNode, exec *diagram.ExecutableDiagram) []labelDir {
	seen := make(map[domain.HandleLabel]domain.HandleDirection)
	for _, e := range exec.GetOutgoingEdges(n.ID) {
		seen[e.SourceOutput] = domain.HandleDirectionOutput
	}
	for _, e := range exec.GetIncomingEdges(n.ID) {
		seen[e.TargetInput] = domain.HandleDirectionInput
	}
	if len(seen) == 0 {
		for _, h := range domain.DefaultHandles(n.ID, n.Type) {
			seen[h.Label] = h.Direction
		}
	}
	out := make([]labelDir, 0, len(seen))
	for label, dir := range seen {
		out = append(out, labelDir{label, dir})
	}
	return out
}
