// Package compiler implements the six-phase diagram compiler (spec
// component C3): Validation, Node Transformation, Connection Resolution,
// Edge Building, Optimization, Assembly. Each phase consumes and extends a
// shared CompilationContext and stops the pipeline on its first error.
//
// Grounded on
// _examples/original_source/dipeo/domain/diagram/compilation/domain_compiler.py
// and its types.py, re-expressed with the teacher's phase-as-function style
// (c.f. internal/application/executor's stage functions) instead of Python's
// class-per-phase, and reusing internal/graphutil (adapted from the
// teacher's internal/engine.Graph) for Phase 5's reachability and cycle
// analysis.
package compiler

import (
	"fmt"

	"github.com/dipeo/engine/internal/domain"
)

// Phase names a compilation stage, carried on every error/warning for
// diagnostics.
type Phase string

const (
	PhaseValidation           Phase = "validation"
	PhaseNodeTransformation   Phase = "node_transformation"
	PhaseConnectionResolution Phase = "connection_resolution"
	PhaseEdgeBuilding         Phase = "edge_building"
	PhaseOptimization         Phase = "optimization"
	PhaseAssembly             Phase = "assembly"
)

// Severity distinguishes a fatal compilation error from an advisory warning.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one compiler finding, fatal or advisory, attributed to the
// phase and (where known) node/arrow that produced it.
type Diagnostic struct {
	Phase      Phase
	Severity   Severity
	Message    string
	NodeID     string
	ArrowID    string
	Suggestion string
}

func (d Diagnostic) String() string {
	loc := ""
	switch {
	case d.NodeID != "" && d.ArrowID != "":
		loc = fmt.Sprintf(" (node=%s arrow=%s)", d.NodeID, d.ArrowID)
	case d.NodeID != "":
		loc = fmt.Sprintf(" (node=%s)", d.NodeID)
	case d.ArrowID != "":
		loc = fmt.Sprintf(" (arrow=%s)", d.ArrowID)
	}
	return fmt.Sprintf("[%s] %s: %s%s", d.Phase, d.Severity, d.Message, loc)
}

// errorf appends a fatal diagnostic to ctx.
func (ctx *Context) errorf(phase Phase, nodeID, arrowID, format string, args ...any) {
	ctx.Diagnostics = append(ctx.Diagnostics, Diagnostic{
		Phase: phase, Severity: SeverityError, Message: fmt.Sprintf(format, args...),
		NodeID: nodeID, ArrowID: arrowID,
	})
}

// warnf appends an advisory diagnostic to ctx.
func (ctx *Context) warnf(phase Phase, nodeID, arrowID, format string, args ...any) {
	ctx.Diagnostics = append(ctx.Diagnostics, Diagnostic{
		Phase: phase, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...),
		NodeID: nodeID, ArrowID: arrowID,
	})
}

// hasErrors reports whether ctx accumulated any fatal diagnostic.
func (ctx *Context) hasErrors() bool {
	for _, d := range ctx.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the fatal diagnostics.
func (ctx *Context) Errors() []Diagnostic {
	var out []Diagnostic
	for _, d := range ctx.Diagnostics {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// Warnings returns only the advisory diagnostics.
func (ctx *Context) Warnings() []Diagnostic {
	var out []Diagnostic
	for _, d := range ctx.Diagnostics {
		if d.Severity == SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}

// resolvedHandle is a parsed, validated handle reference produced by
// Phase 3 for one arrow endpoint.
type resolvedHandle struct {
	NodeID string
	Label  domain.HandleLabel
}

// resolvedArrow pairs an arrow with its parsed source/target handles.
type resolvedArrow struct {
	Arrow  domain.DomainArrow
	Source resolvedHandle
	Target resolvedHandle
}
