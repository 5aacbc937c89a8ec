// Package ruleregistry implements the pluggable connection-legality and
// data-transform rule store (spec component C2): priority-ordered rule
// evaluation, immutability, environment-gated override policy, freeze/
// unfreeze, and a bounded audit trail with caller attribution.
//
// Grounded on _examples/original_source/dipeo/infrastructure/execution/rules/registry.py
// and its adapters.py (built-in rule catalog) and compat.py (default
// singleton), re-expressed with the mbflow teacher's interface+private-struct
// idiom and sync.RWMutex concurrency style.
package ruleregistry

import (
	"github.com/dipeo/engine/internal/domain"
)

// RulePriority orders rule evaluation. Higher values evaluate first for
// connection rules (descending) and last for transform rules (ascending,
// so higher priority overrides on merge).
type RulePriority int

const (
	PriorityLow    RulePriority = 0
	PriorityNormal RulePriority = 50
	PriorityHigh   RulePriority = 100
)

// RuleCategory distinguishes connection-legality rules from data-transform
// rules. Both share the same registration, priority, and audit machinery.
type RuleCategory string

const (
	CategoryConnection RuleCategory = "connection"
	CategoryTransform   RuleCategory = "transform"
)

// RuleKey identifies a registered rule and carries its registration policy.
type RuleKey struct {
	Name         string
	Category     RuleCategory
	Priority     RulePriority
	Description  string
	Immutable    bool
	Dependencies []string
}

// String renders the key as "category:name", matching the original
// registry's __str__.
func (k RuleKey) String() string {
	return string(k.Category) + ":" + k.Name
}

// ConnectionRule decides whether an edge between two node types is legal.
type ConnectionRule interface {
	Name() string
	Priority() RulePriority
	CanConnect(source, target domain.NodeType) bool
	Reason(source, target domain.NodeType) string
}

// TransformRule decides, and produces, a data transform to apply across an
// edge between two typed nodes.
type TransformRule interface {
	Name() string
	Priority() RulePriority
	AppliesTo(source, target TypedNode) bool
	GetTransform(source, target TypedNode) map[string]any
}

// TypedNode is the minimal view a transform rule needs of a compiled node:
// its type and whatever type-specific fields (e.g. configured tools) the
// rule inspects. The compiler's node implementations satisfy this.
type TypedNode interface {
	Type() domain.NodeType
	Config() map[string]any
}
