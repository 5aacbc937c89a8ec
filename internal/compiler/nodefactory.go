package compiler

import (
	"fmt"

	"github.com/dipeo/engine/internal/domain"
)

// NodeFactory validates a raw DomainNode's data bag for one node type and
// returns the typed default-filled properties the compiled node carries.
// Grounded on domain_compiler.py's per-type factory dispatch (Phase 2).
type NodeFactory func(node domain.DomainNode) (props map[string]any, err error)

// FactoryRegistry maps a node type to its factory, mirroring the teacher's
// internal/node.Registry lookup-by-key pattern but keyed on the closed
// NodeType enum instead of an open node id/name.
type FactoryRegistry struct {
	factories map[domain.NodeType]NodeFactory
}

// DefaultFactoryRegistry builds the registry with one factory per node type
// named in SPEC_FULL.md §3.
func DefaultFactoryRegistry() *FactoryRegistry {
	r := &FactoryRegistry{factories: map[domain.NodeType]NodeFactory{
		domain.NodeTypeStart:          startFactory,
		domain.NodeTypeEndpoint:       passthroughFactory,
		domain.NodeTypeCondition:      conditionFactory,
		domain.NodeTypePersonJob:      personJobFactory,
		domain.NodeTypePersonBatchJob: personJobFactory,
		domain.NodeTypeCodeJob:        passthroughFactory,
		domain.NodeTypeAPIJob:         passthroughFactory,
		domain.NodeTypeDB:             passthroughFactory,
		domain.NodeTypeNotion:         passthroughFactory,
		domain.NodeTypeUserResponse:   passthroughFactory,
		domain.NodeTypeHook:           passthroughFactory,
	}}
	return r
}

// For returns the factory registered for t, or passthroughFactory if none is
// registered (an unrecognized type is already rejected in Phase 1, so this
// is a defensive fallback, not normal control flow).
func (r *FactoryRegistry) For(t domain.NodeType) NodeFactory {
	if f, ok := r.factories[t]; ok {
		return f
	}
	return passthroughFactory
}

// passthroughFactory copies the node's data bag verbatim; used for node
// types with no compiler-enforced defaults.
func passthroughFactory(node domain.DomainNode) (map[string]any, error) {
	props := make(map[string]any, len(node.Data))
	for k, v := range node.Data {
		props[k] = v
	}
	return props, nil
}

// startFactory validates trigger configuration: a hook trigger requires a
// hook_event.
func startFactory(node domain.DomainNode) (map[string]any, error) {
	props, _ := passthroughFactory(node)
	mode := domain.TriggerModeManual
	if raw, ok := node.Data["trigger_mode"]; ok {
		if s, ok := raw.(string); ok {
			mode = domain.TriggerMode(s)
		}
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("start node %s has invalid trigger_mode %q", node.ID, mode)
	}
	if mode == domain.TriggerModeHook {
		event, _ := node.Data["hook_event"].(string)
		if event == "" {
			return nil, fmt.Errorf("start node %s with trigger_mode=hook requires a hook_event", node.ID)
		}
	}
	props["trigger_mode"] = string(mode)
	return props, nil
}

// conditionFactory defaults join_policy to "any" when the diagram doesn't
// specify one.
func conditionFactory(node domain.DomainNode) (map[string]any, error) {
	props, _ := passthroughFactory(node)
	if _, ok := props["join_policy"]; !ok {
		props["join_policy"] = string(domain.JoinStrategyAny)
	}
	policy := domain.JoinStrategy(fmt.Sprint(props["join_policy"]))
	if !policy.IsValid() {
		return nil, fmt.Errorf("condition node %s has invalid join_policy %q", node.ID, policy)
	}
	return props, nil
}

// personJobFactory requires a person reference and max_iteration >= 1,
// defaulting max_iteration to 1 when absent.
func personJobFactory(node domain.DomainNode) (map[string]any, error) {
	props, _ := passthroughFactory(node)

	personID, _ := props["person"].(string)
	if personID == "" {
		return nil, fmt.Errorf("person_job node %s requires a person reference", node.ID)
	}

	maxIteration := 1
	if raw, ok := props["max_iteration"]; ok {
		switch v := raw.(type) {
		case int:
			maxIteration = v
		case float64:
			maxIteration = int(v)
		default:
			return nil, fmt.Errorf("person_job node %s has non-numeric max_iteration", node.ID)
		}
	}
	if maxIteration < 1 {
		return nil, fmt.Errorf("person_job node %s has max_iteration < 1", node.ID)
	}
	props["max_iteration"] = maxIteration

	rule := domain.ContextCleaningNoForget
	if raw, ok := props["context_cleaning_rule"]; ok {
		if s, ok := raw.(string); ok {
			rule = domain.ContextCleaningRule(s)
		}
	}
	if !rule.IsValid() {
		return nil, fmt.Errorf("person_job node %s has invalid context_cleaning_rule %q", node.ID, rule)
	}
	props["context_cleaning_rule"] = string(rule)

	return props, nil
}
