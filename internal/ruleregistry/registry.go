package ruleregistry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dipeo/engine/internal/domain"
)

// Environment names the deployment environment consulted for the registry's
// default override policy and its production safety checks (freeze/unfreeze,
// temporary_override).
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
)

func (e Environment) allowsOverrideByDefault() bool {
	switch e {
	case EnvDevelopment, "dev", EnvTesting, "test":
		return true
	default:
		return false
	}
}

func (e Environment) isProduction() bool {
	return e == EnvProduction
}

type connectionEntry struct {
	key  RuleKey
	rule ConnectionRule
}

type transformEntry struct {
	key  RuleKey
	rule TransformRule
}

// Registry is the pluggable store of connection and transform rules.
type Registry struct {
	mu sync.RWMutex

	env           Environment
	allowOverride bool
	enableAudit   bool
	frozen        bool

	connectionRules map[string]connectionEntry
	transformRules  map[string]transformEntry

	audit []AuditEntry
}

// Option configures a new Registry.
type Option func(*Registry)

// WithAllowOverride pins the override policy instead of deriving it from
// the environment.
func WithAllowOverride(allow bool) Option {
	return func(r *Registry) { r.allowOverride = allow }
}

// WithAudit toggles audit-trail recording (on by default).
func WithAudit(enabled bool) Option {
	return func(r *Registry) { r.enableAudit = enabled }
}

// New constructs a Registry for the given environment. allowOverride
// defaults from the environment the way the original registry does: true
// in development/testing, false otherwise (notably production).
func New(env Environment, opts ...Option) *Registry {
	r := &Registry{
		env:             env,
		allowOverride:   env.allowsOverrideByDefault(),
		enableAudit:     true,
		connectionRules: make(map[string]connectionEntry),
		transformRules:  make(map[string]transformEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterConnectionRule registers a connection rule under key.
func (r *Registry) RegisterConnectionRule(key RuleKey, rule ConnectionRule, override bool, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.connectionRules[key.Name]
	if err := r.checkRegistrationConstraints(key, exists, existing.key.Immutable, override); err != nil {
		r.record(key, ActionRegisterFailed, reason, err)
		return err
	}

	r.connectionRules[key.Name] = connectionEntry{key: key, rule: rule}
	action := ActionRegister
	if exists {
		action = ActionOverride
	}
	r.record(key, action, reason, nil)
	return nil
}

// RegisterTransformRule registers a transform rule under key.
func (r *Registry) RegisterTransformRule(key RuleKey, rule TransformRule, override bool, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.transformRules[key.Name]
	if err := r.checkRegistrationConstraints(key, exists, existing.key.Immutable, override); err != nil {
		r.record(key, ActionRegisterFailed, reason, err)
		return err
	}

	r.transformRules[key.Name] = transformEntry{key: key, rule: rule}
	action := ActionRegister
	if exists {
		action = ActionOverride
	}
	r.record(key, action, reason, nil)
	return nil
}

// checkRegistrationConstraints mirrors _check_registration_constraints:
// frozen blocks ANY rebind of an existing name regardless of immutability
// (the stricter reading this implementation adopts, see SPEC_FULL.md §9);
// an immutable existing rule blocks rebinding even when not frozen; absent
// both, override policy governs. Caller holds r.mu.
func (r *Registry) checkRegistrationConstraints(key RuleKey, exists, existingImmutable, override bool) error {
	if r.frozen && exists {
		return fmt.Errorf("registry is frozen: cannot rebind existing rule %q", key.Name)
	}
	if existingImmutable {
		return fmt.Errorf("rule %q is immutable and cannot be overridden", key.Name)
	}
	if exists && !override && !r.allowOverride {
		return fmt.Errorf("rule %q already exists and override policy forbids replacing it", key.Name)
	}
	return nil
}

// UnregisterConnectionRule removes a connection rule. Immutable rules
// require force.
func (r *Registry) UnregisterConnectionRule(name string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.connectionRules[name]
	if !exists {
		return fmt.Errorf("connection rule %q not found", name)
	}
	if entry.key.Immutable && !force {
		err := fmt.Errorf("rule %q is immutable; pass force=true to unregister", name)
		r.record(entry.key, ActionUnregisterFailed, "", err)
		return err
	}
	delete(r.connectionRules, name)
	r.record(entry.key, ActionUnregister, "", nil)
	return nil
}

// UnregisterTransformRule removes a transform rule. Immutable rules
// require force.
func (r *Registry) UnregisterTransformRule(name string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.transformRules[name]
	if !exists {
		return fmt.Errorf("transform rule %q not found", name)
	}
	if entry.key.Immutable && !force {
		err := fmt.Errorf("rule %q is immutable; pass force=true to unregister", name)
		r.record(entry.key, ActionUnregisterFailed, "", err)
		return err
	}
	delete(r.transformRules, name)
	r.record(entry.key, ActionUnregister, "", nil)
	return nil
}

// Freeze blocks any further rebinding of existing rule names. Freezing an
// already-frozen registry is a no-op.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}
	r.frozen = true
	r.record(RuleKey{Name: "*"}, ActionFreeze, "", nil)
}

// Unfreeze lifts the freeze. In production this requires force=true.
func (r *Registry) Unfreeze(force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.frozen {
		return nil
	}
	if r.env.isProduction() && !force {
		err := fmt.Errorf("cannot unfreeze registry in production without force=true")
		r.record(RuleKey{Name: "*"}, ActionUnfreezeFailed, "", err)
		return err
	}
	r.frozen = false
	r.record(RuleKey{Name: "*"}, ActionUnfreeze, "", nil)
	return nil
}

// IsFrozen reports whether the registry currently rejects rebinds.
func (r *Registry) IsFrozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// CanConnect evaluates connection rules in descending priority order;
// the first rule that denies the connection wins (fail-closed).
func (r *Registry) CanConnect(source, target domain.NodeType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]connectionEntry, 0, len(r.connectionRules))
	for _, e := range r.connectionRules {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].key.Priority != entries[j].key.Priority {
			return entries[i].key.Priority > entries[j].key.Priority
		}
		return entries[i].key.Name < entries[j].key.Name
	})

	for _, e := range entries {
		if !e.rule.CanConnect(source, target) {
			return false
		}
	}
	return true
}

// ConnectionDenialReason returns the first applicable denial reason for
// (source, target), or "" if the connection is legal.
func (r *Registry) ConnectionDenialReason(source, target domain.NodeType) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]connectionEntry, 0, len(r.connectionRules))
	for _, e := range r.connectionRules {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].key.Priority != entries[j].key.Priority {
			return entries[i].key.Priority > entries[j].key.Priority
		}
		return entries[i].key.Name < entries[j].key.Name
	})

	for _, e := range entries {
		if !e.rule.CanConnect(source, target) {
			return e.rule.Reason(source, target)
		}
	}
	return ""
}

// GetDataTransform evaluates applicable transform rules in ascending
// priority order and merges their outputs; later (higher-priority) rules
// overwrite earlier ones on key conflict.
func (r *Registry) GetDataTransform(source, target TypedNode) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]transformEntry, 0, len(r.transformRules))
	for _, e := range r.transformRules {
		if e.rule.AppliesTo(source, target) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].key.Priority != entries[j].key.Priority {
			return entries[i].key.Priority < entries[j].key.Priority
		}
		return entries[i].key.Name < entries[j].key.Name
	})

	result := make(map[string]any)
	for _, e := range entries {
		for k, v := range e.rule.GetTransform(source, target) {
			result[k] = v
		}
	}
	return result
}

// MergeTransforms merges edge-specific transforms over type-based
// transforms; edge-specific values always win on key conflict.
func MergeTransforms(edgeTransform, typeBasedTransform map[string]any) map[string]any {
	out := make(map[string]any, len(typeBasedTransform)+len(edgeTransform))
	for k, v := range typeBasedTransform {
		out[k] = v
	}
	for k, v := range edgeTransform {
		out[k] = v
	}
	return out
}

// TemporaryOverride installs overrides for the duration of the returned
// scope's lifetime, restoring (or deleting, for keys that did not
// previously exist) the original rules when Restore is called. Rejects in
// production.
type TemporaryOverrideScope struct {
	registry  *Registry
	snapshots []overrideSnapshot
}

type overrideSnapshot struct {
	category RuleCategory
	name     string
	existed  bool
	connKey  RuleKey
	connRule ConnectionRule
	xformKey RuleKey
	xformRule TransformRule
}

// TemporaryOverride snapshots the current rule (if any) under each key in
// overrides, installs the override, and returns a scope whose Restore
// method undoes the change — deleting the rule entirely if it did not
// exist before the override, matching the original's context-manager
// semantics.
func (r *Registry) TemporaryOverride(connOverrides map[RuleKey]ConnectionRule, xformOverrides map[RuleKey]TransformRule) (*TemporaryOverrideScope, error) {
	if r.env.isProduction() {
		return nil, fmt.Errorf("temporary_override is rejected in production")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	scope := &TemporaryOverrideScope{registry: r}

	for key, rule := range connOverrides {
		existing, exists := r.connectionRules[key.Name]
		snap := overrideSnapshot{category: CategoryConnection, name: key.Name, existed: exists}
		if exists {
			snap.connKey, snap.connRule = existing.key, existing.rule
		}
		scope.snapshots = append(scope.snapshots, snap)
		r.connectionRules[key.Name] = connectionEntry{key: key, rule: rule}
		r.record(key, ActionTempOverride, "", nil)
	}

	for key, rule := range xformOverrides {
		existing, exists := r.transformRules[key.Name]
		snap := overrideSnapshot{category: CategoryTransform, name: key.Name, existed: exists}
		if exists {
			snap.xformKey, snap.xformRule = existing.key, existing.rule
		}
		scope.snapshots = append(scope.snapshots, snap)
		r.transformRules[key.Name] = transformEntry{key: key, rule: rule}
		r.record(key, ActionTempOverride, "", nil)
	}

	return scope, nil
}

// Restore undoes the temporary override, restoring original rules and
// deleting any key that did not exist before the override was installed.
func (s *TemporaryOverrideScope) Restore() {
	r := s.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, snap := range s.snapshots {
		switch snap.category {
		case CategoryConnection:
			if snap.existed {
				r.connectionRules[snap.name] = connectionEntry{key: snap.connKey, rule: snap.connRule}
			} else {
				delete(r.connectionRules, snap.name)
			}
			r.record(RuleKey{Name: snap.name, Category: CategoryConnection}, ActionTempRestore, "", nil)
		case CategoryTransform:
			if snap.existed {
				r.transformRules[snap.name] = transformEntry{key: snap.xformKey, rule: snap.xformRule}
			} else {
				delete(r.transformRules, snap.name)
			}
			r.record(RuleKey{Name: snap.name, Category: CategoryTransform}, ActionTempRestore, "", nil)
		}
	}
}

// AuditTrail returns a copy of the current audit trail.
func (r *Registry) AuditTrail() []AuditEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]AuditEntry(nil), r.audit...)
}

// record appends an audit entry and trims the trail if needed. Caller must
// hold r.mu (write lock).
func (r *Registry) record(key RuleKey, action AuditAction, reason string, err error) {
	if !r.enableAudit {
		return
	}
	entry := AuditEntry{
		Timestamp:      time.Now(),
		RuleKey:        key.String(),
		Action:         action,
		CallerInfo:     callerInfo(3),
		Environment:    string(r.env),
		Success:        err == nil,
		OverrideReason: reason,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	r.audit = append(r.audit, entry)
	r.audit = trimAuditTrail(r.audit)
}
