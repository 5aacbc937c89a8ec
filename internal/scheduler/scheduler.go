package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dipeo/engine/internal/convmem"
	"github.com/dipeo/engine/internal/diagram"
	"github.com/dipeo/engine/internal/domain"
	engineerrors "github.com/dipeo/engine/internal/domain/errors"
	"github.com/dipeo/engine/internal/execstate"
	"github.com/dipeo/engine/internal/graphutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config governs one Scheduler's dispatch behavior.
type Config struct {
	ErrorPolicy          domain.EngineErrorPolicy
	Retry                RetryPolicy
	MaxParallel          int
	NodeTimeout          time.Duration
	EnableCircuitBreaker bool
	CircuitBreaker       CircuitBreakerConfig
	// Tracer, when non-nil, wraps each node dispatch in a span. Left nil,
	// dispatch proceeds untraced.
	Tracer trace.Tracer
}

// DefaultConfig matches the spec's defaults: fail_fast, 3 retries, up to
// 10 nodes dispatched in parallel, and a 5-minute per-node timeout.
func DefaultConfig() Config {
	return Config{
		ErrorPolicy: domain.ErrorPolicyFailFast,
		Retry:       DefaultRetryPolicy(),
		MaxParallel: 10,
		NodeTimeout: 5 * time.Minute,
	}
}

// Scheduler executes one ExecutableDiagram against one ExecutionState.
// Grounded on the teacher's executor.WorkflowEngine, generalized from
// static topological waves to a recomputed ready set so loops (cycles the
// compiler deliberately tolerates) execute correctly.
type Scheduler struct {
	diag     *diagram.ExecutableDiagram
	handlers map[domain.NodeType]NodeHandler
	state    *execstate.ExecutionState
	memory   *convmem.Memory
	services ServiceLookup
	observer *Bus
	cfg      Config
	breakers *CircuitBreakerBank

	loopMembers map[string]bool // nodes lying on some cycle (or a cyclic condition's direct exit); exempt from the terminal-status ready gate

	mu                   sync.Mutex
	iterationCount       map[string]int
	completedAtIteration map[string]int // last iteration number at which a node reached Completed
	edgeConsumed         map[string]int // "from|to" edge key -> source's completedAtIteration value last used to satisfy this edge
	gated                map[string]bool // node ids whose only live inbound path is a non-taken branch
}

// New constructs a Scheduler. handlers must cover every node type present in
// diag; missing types fail the first dispatch attempt with a configuration
// error.
func New(diag *diagram.ExecutableDiagram, handlers map[domain.NodeType]NodeHandler, state *execstate.ExecutionState, memory *convmem.Memory, services ServiceLookup, observer *Bus, cfg Config) *Scheduler {
	g := graphutil.New()
	rev := graphutil.New()
	for _, n := range diag.Nodes {
		g.AddNode(n.ID)
		rev.AddNode(n.ID)
	}
	for _, e := range diag.Edges {
		g.AddEdge(e.SourceNodeID, e.TargetNodeID)
		rev.AddEdge(e.TargetNodeID, e.SourceNodeID)
	}
	loopMembers := computeLoopMembers(g, rev, g.BackEdges())
	// A loop-member condition node re-decides its branch every iteration,
	// so its direct successors — including the node(s) the loop exits
	// to, which otherwise lie outside the cycle proper — must stay
	// re-readyable too: they get skipped on one iteration and taken on
	// another, not just skipped once and done.
	for _, n := range diag.Nodes {
		if n.Type != domain.NodeTypeCondition || !loopMembers[n.ID] {
			continue
		}
		for _, e := range diag.OutgoingIndex[n.ID] {
			loopMembers[e.TargetNodeID] = true
		}
	}

	if cfg.CircuitBreaker == (CircuitBreakerConfig{}) {
		cfg.CircuitBreaker = DefaultCircuitBreakerConfig()
	}

	return &Scheduler{
		diag:                 diag,
		handlers:             handlers,
		state:                state,
		memory:               memory,
		services:             services,
		observer:             observer,
		cfg:                  cfg,
		breakers:             NewCircuitBreakerBank(cfg.CircuitBreaker),
		loopMembers:          loopMembers,
		iterationCount:       make(map[string]int),
		completedAtIteration: make(map[string]int),
		edgeConsumed:         make(map[string]int),
		gated:                make(map[string]bool),
	}
}

// computeLoopMembers finds every node lying on the cycle a back edge closes:
// nodes reachable forward from the back edge's target that can also reach
// the back edge's source, unioned across every back edge. These nodes are
// exempt from the ordinary "never re-ready once terminal" rule, since a
// loop's body re-executes on every iteration.
func computeLoopMembers(g, rev *graphutil.Graph, backEdges []graphutil.Edge) map[string]bool {
	members := make(map[string]bool)
	for _, be := range backEdges {
		forward := g.Reachable(be.To)
		backward := rev.Reachable(be.From)
		for id := range forward {
			if backward[id] {
				members[id] = true
			}
		}
	}
	return members
}

func edgeKey(from, to string) string { return from + "|" + to }

// Run executes the diagram to completion (or cancellation/failure),
// implementing the tick loop of spec §4.7.2: compute ready, dispatch as a
// batch, commit results, repeat until nothing more can become ready.
func (s *Scheduler) Run(ctx context.Context) Result {
	now := time.Now()
	s.observer.OnExecutionStart(s.state.ExecutionID(), s.diag.Metadata.Diagram.ID, now)
	s.state.UpdateStatus(domain.ExecutionStatusRunning, nil)

	var terminalErr error

tickLoop:
	for {
		select {
		case <-ctx.Done():
			terminalErr = ctx.Err()
			s.state.UpdateStatus(domain.ExecutionStatusCancelled, terminalErr)
			break tickLoop
		default:
		}

		ready := s.computeReady()
		if len(ready) == 0 {
			break
		}

		outcomes := s.dispatchBatch(ctx, ready)
		failFast := false
		for _, oc := range outcomes {
			s.commit(oc)
			if oc.err != nil && s.cfg.ErrorPolicy == domain.ErrorPolicyFailFast {
				failFast = true
				terminalErr = oc.err
			}
		}
		if failFast {
			s.state.UpdateStatus(domain.ExecutionStatusFailed, terminalErr)
			break tickLoop
		}
	}

	if terminalErr == nil {
		s.state.UpdateStatus(domain.ExecutionStatusCompleted, nil)
	}

	snap := s.state.Snapshot()
	if terminalErr != nil {
		s.observer.OnExecutionError(s.state.ExecutionID(), terminalErr)
	}
	s.observer.OnExecutionComplete(s.state.ExecutionID(), snap.Status)
	return Result{Snapshot: snap, Err: terminalErr}
}

// computeReady implements spec §4.7.1: join policy, iteration cap, and
// branch gate, ordered per §4.7.2's determinism rule.
func (s *Scheduler) computeReady() []diagram.ExecutableNode {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []diagram.ExecutableNode
	for _, n := range s.diag.Nodes {
		status := s.currentStatus(n.ID)
		if status == domain.NodeStatusFailed {
			continue
		}
		if status.IsTerminal() && !s.loopMembers[n.ID] {
			continue
		}
		if s.gated[n.ID] {
			continue
		}
		if skipped, reason := s.checkIterationCap(n); skipped {
			// The node's prior completion already left its output in
			// NodeState; MarkNodeSkipped only flips status, so downstream
			// GetNodeOutput reads keep serving that last value as the
			// passthrough spec §4.7.1 calls for.
			s.state.MarkNodeSkipped(n.ID, reason)
			continue
		}
		if !s.joinSatisfied(n) {
			continue
		}
		s.markEdgesConsumed(n)
		ready = append(ready, n)
	}

	sort.Slice(ready, func(i, j int) bool {
		pi, pj := s.parallelPriority(ready[i].ID), s.parallelPriority(ready[j].ID)
		if pi != pj {
			return pi < pj
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

func (s *Scheduler) currentStatus(nodeID string) domain.NodeStatus {
	st, ok := s.state.GetNodeState(nodeID)
	if !ok {
		return domain.NodeStatusPending
	}
	return st.Status
}

// checkIterationCap enforces the person_job/person_batch_job max_iteration
// ceiling (spec §4.7.1).
func (s *Scheduler) checkIterationCap(n diagram.ExecutableNode) (bool, domain.SkipReason) {
	if n.Type != domain.NodeTypePersonJob && n.Type != domain.NodeTypePersonBatchJob {
		return false, ""
	}
	maxIter, ok := intProp(n.Props, "max_iteration")
	if !ok {
		return false, ""
	}
	if s.iterationCount[n.ID] >= maxIter {
		return true, domain.SkipReasonMaxIterations
	}
	return false, ""
}

func intProp(props map[string]any, key string) (int, bool) {
	v, ok := props[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

// joinSatisfied implements the all/any join policy. Edges internal to a
// loop (both endpoints are loop members) use per-edge freshness instead of
// a plain status check: a loop-member node is exempt from the terminal
// "never re-ready" rule, so without freshness tracking it would re-satisfy
// its join every tick off the same stale upstream completion forever.
func (s *Scheduler) joinSatisfied(n diagram.ExecutableNode) bool {
	incoming := s.diag.IncomingIndex[n.ID]
	if len(incoming) == 0 {
		return s.currentStatus(n.ID) == domain.NodeStatusPending
	}

	policy := joinPolicyOf(n)
	targetRunCount := s.iterationCount[n.ID]

	satisfiedCount := 0
	for _, e := range incoming {
		satisfied := s.edgeSatisfied(e, targetRunCount)
		if satisfied {
			satisfiedCount++
			if policy == domain.JoinStrategyAny {
				return true
			}
		} else if policy == domain.JoinStrategyAll {
			return false
		}
	}

	if policy == domain.JoinStrategyAny {
		return satisfiedCount > 0
	}
	return true
}

// edgeSatisfied decides whether one incoming edge currently feeds n. For a
// loop-internal edge, n's very first execution (targetRunCount == 0) never
// waits on it — that's how the cycle bootstraps — and every execution after
// that requires the source to have completed strictly more times than this
// edge has already delivered, per markEdgesConsumed. Every other edge uses
// the plain completed-or-skipped check.
func (s *Scheduler) edgeSatisfied(e diagram.ExecutableEdge, targetRunCount int) bool {
	if s.loopMembers[e.SourceNodeID] && s.loopMembers[e.TargetNodeID] {
		if targetRunCount == 0 {
			return true
		}
		return s.completedAtIteration[e.SourceNodeID] > s.edgeConsumed[edgeKey(e.SourceNodeID, e.TargetNodeID)]
	}
	srcStatus := s.currentStatus(e.SourceNodeID)
	return srcStatus == domain.NodeStatusCompleted || srcStatus == domain.NodeStatusSkipped
}

// markEdgesConsumed records, for every loop-internal incoming edge of a node
// just admitted to the ready set, the source iteration this dispatch is
// about to consume — so a later tick's edgeSatisfied call can tell a fresh
// upstream completion from the one already used. Caller must hold s.mu.
func (s *Scheduler) markEdgesConsumed(n diagram.ExecutableNode) {
	for _, e := range s.diag.IncomingIndex[n.ID] {
		if s.loopMembers[e.SourceNodeID] && s.loopMembers[e.TargetNodeID] {
			s.edgeConsumed[edgeKey(e.SourceNodeID, e.TargetNodeID)] = s.completedAtIteration[e.SourceNodeID]
		}
	}
}

func joinPolicyOf(n diagram.ExecutableNode) domain.JoinStrategy {
	if v, ok := n.Props["join_policy"]; ok {
		if js, ok := v.(domain.JoinStrategy); ok {
			return js
		}
		if s, ok := v.(string); ok && domain.JoinStrategy(s).IsValid() {
			return domain.JoinStrategy(s)
		}
	}
	if n.Type == domain.NodeTypeCondition {
		return domain.JoinStrategyAny
	}
	return domain.JoinStrategyAll
}

func (s *Scheduler) parallelPriority(nodeID string) int {
	for i, group := range s.diag.Metadata.ParallelGroups {
		for _, id := range group {
			if id == nodeID {
				return i
			}
		}
	}
	return len(s.diag.Metadata.ParallelGroups)
}

type outcome struct {
	node      diagram.ExecutableNode
	output    Output
	err       error
	iteration int
}

// dispatchBatch runs every ready node concurrently, bounded by
// cfg.MaxParallel, and waits for the whole batch to settle — the "await a
// batch of ready nodes together" model spec §4.7.2 calls for.
func (s *Scheduler) dispatchBatch(ctx context.Context, ready []diagram.ExecutableNode) []outcome {
	maxParallel := s.cfg.MaxParallel
	if maxParallel <= 0 || maxParallel > len(ready) {
		maxParallel = len(ready)
	}
	sem := make(chan struct{}, maxParallel)

	outcomes := make([]outcome, len(ready))
	var wg sync.WaitGroup
	for i, n := range ready {
		wg.Add(1)
		go func(i int, n diagram.ExecutableNode) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			out, iter, err := s.dispatchOne(ctx, n)
			outcomes[i] = outcome{node: n, output: out, err: err, iteration: iter}
		}(i, n)
	}
	wg.Wait()
	return outcomes
}

// dispatchOne resolves inputs, invokes the handler with retry-on-transient,
// and applies the circuit breaker when enabled.
func (s *Scheduler) dispatchOne(ctx context.Context, n diagram.ExecutableNode) (Output, int, error) {
	if s.cfg.EnableCircuitBreaker && !s.breakers.Allow(n.Type) {
		return Output{}, 0, engineerrors.NewPolicyError(n.ID, "circuit_open", fmt.Sprintf("circuit open for node type %s", n.Type))
	}

	handler, ok := s.handlers[n.Type]
	if !ok {
		return Output{}, 0, engineerrors.NewConfigurationError("scheduler", fmt.Sprintf("no handler registered for node type %s", n.Type))
	}

	s.mu.Lock()
	s.iterationCount[n.ID]++
	iter := s.iterationCount[n.ID]
	s.mu.Unlock()

	s.state.SetCurrentNode(n.ID)
	inputs := s.resolveInputs(n, iter)
	execCtx := &ExecutionContext{
		ExecutionID:        s.state.ExecutionID(),
		CurrentNodeID:      n.ID,
		IterationCount:     iter,
		Services:           s.services,
		ConversationMemory: s.memory,
	}

	var out Output
	var err error
	attempts := 1 + s.cfg.Retry.MaxAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.NodeTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, s.cfg.NodeTimeout)
		}
		out, err = s.dispatchWithSpan(callCtx, handler, &n, execCtx, inputs, attempt)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			break
		}
		if !engineerrors.IsRetryable(err) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			attempt = attempts
		case <-time.After(s.cfg.Retry.delay(attempt)):
		}
	}

	if s.cfg.EnableCircuitBreaker {
		if err != nil {
			s.breakers.RecordFailure(n.Type)
		} else {
			s.breakers.RecordSuccess(n.Type)
		}
	}

	return out, iter, err
}

// dispatchWithSpan invokes handler.Execute, wrapped in a span when a tracer
// is configured.
func (s *Scheduler) dispatchWithSpan(ctx context.Context, handler NodeHandler, n *diagram.ExecutableNode, execCtx *ExecutionContext, inputs map[string]any, attempt int) (Output, error) {
	if s.cfg.Tracer == nil {
		return handler.Execute(ctx, n, execCtx, inputs)
	}
	ctx, span := s.cfg.Tracer.Start(ctx, "node.dispatch",
		trace.WithAttributes(
			attribute.String("node.id", n.ID),
			attribute.String("node.type", string(n.Type)),
			attribute.Int("attempt", attempt),
		),
	)
	defer span.End()
	out, err := handler.Execute(ctx, n, execCtx, inputs)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

// resolveInputs implements spec §4.7.3: one map entry per incoming edge,
// keyed by target_input, value merged from the source's last output and the
// edge's precomputed transform rules. person_job reads the `first` input on
// iteration 1 only, falling back to `default` when no `first` edge exists.
func (s *Scheduler) resolveInputs(n diagram.ExecutableNode, iteration int) map[string]any {
	incoming := s.diag.IncomingIndex[n.ID]
	inputs := make(map[string]any, len(incoming))

	usesFirstDefault := n.Type == domain.NodeTypePersonJob || n.Type == domain.NodeTypePersonBatchJob
	hasFirstEdge := false
	if usesFirstDefault {
		for _, e := range incoming {
			if e.TargetInput == domain.HandleLabelFirst {
				hasFirstEdge = true
				break
			}
		}
	}

	for _, e := range incoming {
		if usesFirstDefault && !selectsEdge(e.TargetInput, iteration, hasFirstEdge) {
			continue
		}

		value := map[string]any{}
		if out, ok := s.state.GetNodeOutput(e.SourceNodeID); ok {
			if m, ok := out.(map[string]any); ok {
				for k, v := range m {
					value[k] = v
				}
			} else {
				value["value"] = out
			}
		}
		for k, v := range e.TransformRules {
			value[k] = v
		}
		inputs[string(e.TargetInput)] = value
	}
	return inputs
}

// selectsEdge decides whether a person_job/person_batch_job's incoming edge
// labeled input feeds the current iteration, per spec §4.7.3: the `first`
// input on iteration 1, the `default` input otherwise, with absence of a
// `first` edge on iteration 1 falling back to `default`.
func selectsEdge(input domain.HandleLabel, iteration int, hasFirstEdge bool) bool {
	if iteration == 1 && hasFirstEdge {
		return input == domain.HandleLabelFirst
	}
	return input != domain.HandleLabelFirst
}

// commit applies one dispatched node's outcome to execution state,
// notifying observers and running the branch gate / error-policy
// consequences.
func (s *Scheduler) commit(oc outcome) {
	n := oc.node
	now := time.Now()

	if oc.err != nil {
		s.state.MarkNodeFailed(n.ID, oc.err)
		s.observer.OnNodeError(s.state.ExecutionID(), n.ID, oc.err, now)
		s.observer.OnNodeUpdate(s.state.ExecutionID(), n.ID, domain.NodeStatusFailed, nil, nil, &now, nil)

		if s.cfg.ErrorPolicy == domain.ErrorPolicyContinueOnError {
			s.gateDescendantsOf(n.ID, domain.SkipReasonUpstreamFailed)
		}
		return
	}

	if oc.output.Skipped {
		s.state.MarkNodeSkipped(n.ID, domain.SkipReasonHandlerRequest)
		s.observer.OnNodeUpdate(s.state.ExecutionID(), n.ID, domain.NodeStatusSkipped, oc.output.Data, nil, &now, nil)
		return
	}

	s.state.MarkNodeComplete(n.ID, oc.output.Data)
	if oc.output.TokenUsage != nil {
		s.state.UpdateTokenUsage(*oc.output.TokenUsage)
	}
	s.observer.OnNodeUpdate(s.state.ExecutionID(), n.ID, domain.NodeStatusCompleted, oc.output.Data, nil, &now, oc.output.TokenUsage)

	s.mu.Lock()
	if oc.iteration > s.completedAtIteration[n.ID] {
		s.completedAtIteration[n.ID] = oc.iteration
	}
	s.mu.Unlock()

	if n.Type == domain.NodeTypeCondition && oc.output.ConditionResult != nil {
		s.applyBranchGate(n, *oc.output.ConditionResult)
	}
}

// applyBranchGate implements spec §4.7.1: the non-taken output edge's
// target subtree is gated unless reachable by another live path. A
// condition node lying on a loop re-decides its branch on every
// iteration, so its own branch targets are un-gated first — "edges are
// un-gated at the start of each fresh iteration of the enclosing loop".
func (s *Scheduler) applyBranchGate(n diagram.ExecutableNode, result bool) {
	if s.loopMembers[n.ID] {
		for _, e := range s.diag.OutgoingIndex[n.ID] {
			s.resetGateSubtree(e.TargetNodeID)
		}
	}

	nonTaken := domain.HandleLabelCondFalse
	if !result {
		nonTaken = domain.HandleLabelCondTrue
	}

	for _, e := range s.diag.OutgoingIndex[n.ID] {
		if e.SourceOutput != nonTaken {
			continue
		}
		s.gateDescendantsOf(e.TargetNodeID, domain.SkipReasonBranchNotTaken)
	}
}

// gateDescendantsOf marks root and every node reachable only through it
// (no alternate live incoming edge) as skipped with reason, recursively.
// A node that already completed keeps its real result — gating only stops
// its future re-dispatch (relevant for a loop member whose cycle just
// ended) and the cascade doesn't continue past it: its own descendants
// were reached through its completed run, not through this gate.
func (s *Scheduler) gateDescendantsOf(root string, reason domain.SkipReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var visit func(nodeID string)
	visit = func(nodeID string) {
		if s.gated[nodeID] {
			return
		}
		s.gated[nodeID] = true
		status := s.currentStatus(nodeID)
		if status == domain.NodeStatusCompleted || status == domain.NodeStatusFailed {
			return
		}
		s.state.MarkNodeSkipped(nodeID, reason)
		for _, e := range s.diag.OutgoingIndex[nodeID] {
			if s.hasAlternateLivePath(e.TargetNodeID, nodeID) {
				continue
			}
			visit(e.TargetNodeID)
		}
	}
	visit(root)
}

// resetGateSubtree clears the gate on root and every node gated only
// through it, mirroring gateDescendantsOf's traversal in reverse.
func (s *Scheduler) resetGateSubtree(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var visit func(nodeID string)
	visit = func(nodeID string) {
		if !s.gated[nodeID] {
			return
		}
		delete(s.gated, nodeID)
		for _, e := range s.diag.OutgoingIndex[nodeID] {
			visit(e.TargetNodeID)
		}
	}
	visit(root)
}

// hasAlternateLivePath reports whether target has an incoming edge from a
// source other than excludeSource that is not itself gated — if so, target
// survives even though one of its parents was gated.
func (s *Scheduler) hasAlternateLivePath(target, excludeSource string) bool {
	for _, e := range s.diag.IncomingIndex[target] {
		if e.SourceNodeID == excludeSource {
			continue
		}
		if !s.gated[e.SourceNodeID] {
			return true
		}
	}
	return false
}

// ResetIterationGates clears branch gates at the start of a fresh loop
// iteration, per spec §4.7.1 ("edges are un-gated at the start of each
// fresh iteration of the enclosing loop"), for the given gated subtree
// entry nodes. Nothing in the scheduler or the node handlers calls it;
// handlers have no *Scheduler through ExecutionContext, so only code
// holding the Scheduler can invoke it.
func (s *Scheduler) ResetIterationGates(nodeIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range nodeIDs {
		delete(s.gated, id)
	}
}
