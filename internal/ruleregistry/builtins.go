package ruleregistry

import (
	"fmt"
	"sync"

	"github.com/dipeo/engine/internal/domain"
)

// startNoInputRule: start nodes cannot receive input connections.
// Grounded on adapters.py's StartNoInputRule.
type startNoInputRule struct{}

func (startNoInputRule) Name() string              { return "start_no_input" }
func (startNoInputRule) Priority() RulePriority     { return PriorityHigh }
func (startNoInputRule) CanConnect(_, target domain.NodeType) bool {
	return target != domain.NodeTypeStart
}
func (startNoInputRule) Reason(_, target domain.NodeType) string {
	if target == domain.NodeTypeStart {
		return "start nodes cannot receive input connections"
	}
	return ""
}

// endpointNoOutputRule: endpoint nodes cannot send output connections.
// Grounded on adapters.py's EndpointNoOutputRule.
type endpointNoOutputRule struct{}

func (endpointNoOutputRule) Name() string          { return "endpoint_no_output" }
func (endpointNoOutputRule) Priority() RulePriority { return PriorityHigh }
func (endpointNoOutputRule) CanConnect(source, _ domain.NodeType) bool {
	return source != domain.NodeTypeEndpoint
}
func (endpointNoOutputRule) Reason(source, _ domain.NodeType) string {
	if source == domain.NodeTypeEndpoint {
		return "endpoint nodes cannot send output connections"
	}
	return ""
}

// outputCapableRule: output-capable node types must not target start.
// Grounded on adapters.py's OutputCapableRule (redundant safety net per
// spec §4.2).
type outputCapableRule struct {
	outputCapable map[domain.NodeType]bool
}

func newOutputCapableRule() outputCapableRule {
	return outputCapableRule{outputCapable: map[domain.NodeType]bool{
		domain.NodeTypePersonJob: true,
		domain.NodeTypeCondition: true,
		domain.NodeTypeCodeJob:   true,
		domain.NodeTypeAPIJob:    true,
		domain.NodeTypeStart:     true,
	}}
}

func (r outputCapableRule) Name() string          { return "output_capable" }
func (r outputCapableRule) Priority() RulePriority { return PriorityNormal }
func (r outputCapableRule) CanConnect(source, target domain.NodeType) bool {
	if r.outputCapable[source] {
		return target != domain.NodeTypeStart
	}
	return true
}
func (r outputCapableRule) Reason(source, target domain.NodeType) string {
	if r.outputCapable[source] && target == domain.NodeTypeStart {
		return fmt.Sprintf("%s nodes cannot connect to start nodes", source)
	}
	return ""
}

// personJobToolExtractionRule: when the source person_job node has tools
// configured, inject extract_tool_results=true for downstream consumers.
// Grounded on adapters.py's PersonJobToolExtractionRule.
type personJobToolExtractionRule struct{}

func (personJobToolExtractionRule) Name() string          { return "personjob_tool_extraction" }
func (personJobToolExtractionRule) Priority() RulePriority { return PriorityNormal }
func (personJobToolExtractionRule) AppliesTo(source, _ TypedNode) bool {
	if source.Type() != domain.NodeTypePersonJob {
		return false
	}
	tools, ok := source.Config()["tools"]
	if !ok {
		return false
	}
	switch t := tools.(type) {
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	default:
		return tools != nil
	}
}
func (r personJobToolExtractionRule) GetTransform(source, target TypedNode) map[string]any {
	if !r.AppliesTo(source, target) {
		return map[string]any{}
	}
	return map[string]any{"extract_tool_results": true}
}

// RegisterDefaultRules registers the standard built-in connection and
// transform rules to reg, exactly as adapters.register_default_rules does.
func RegisterDefaultRules(reg *Registry) {
	mustRegisterConnection := func(rule ConnectionRule, description string) {
		_ = reg.RegisterConnectionRule(RuleKey{
			Name: rule.Name(), Category: CategoryConnection,
			Priority: rule.Priority(), Description: description,
		}, rule, true, "builtin")
	}

	mustRegisterConnection(startNoInputRule{}, "start nodes cannot receive input connections")
	mustRegisterConnection(endpointNoOutputRule{}, "endpoint nodes cannot send output connections")
	mustRegisterConnection(newOutputCapableRule(), "output-capable nodes can connect to any node except start")

	rule := personJobToolExtractionRule{}
	_ = reg.RegisterTransformRule(RuleKey{
		Name: rule.Name(), Category: CategoryTransform,
		Priority: rule.Priority(), Description: "extract tool results from person_job nodes with tools",
	}, rule, true, "builtin")
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide default registry, lazily constructed
// with the built-in rules pre-registered, allow_override=true and
// auditing disabled — matching compat.get_default_registry().
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New(EnvDevelopment, WithAllowOverride(true), WithAudit(false))
		RegisterDefaultRules(defaultRegistry)
	})
	return defaultRegistry
}

// ResetDefault discards the default singleton so the next Default() call
// rebuilds it from scratch. Intended for tests, matching
// compat.reset_default_registry().
func ResetDefault() {
	defaultOnce = sync.Once{}
	defaultRegistry = nil
}
