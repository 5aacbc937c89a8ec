package domain

import (
	"fmt"
)

// NodeType enumerates the closed set of diagram node kinds.
type NodeType string

const (
	NodeTypeStart          NodeType = "start"
	NodeTypeEndpoint       NodeType = "endpoint"
	NodeTypeCondition      NodeType = "condition"
	NodeTypePersonJob      NodeType = "person_job"
	NodeTypePersonBatchJob NodeType = "person_batch_job"
	NodeTypeCodeJob        NodeType = "code_job"
	NodeTypeAPIJob         NodeType = "api_job"
	NodeTypeDB             NodeType = "db"
	NodeTypeNotion         NodeType = "notion"
	NodeTypeUserResponse   NodeType = "user_response"
	NodeTypeHook           NodeType = "hook"
)

// IsValid reports whether nt is a recognized node type.
func (nt NodeType) IsValid() bool {
	switch nt {
	case NodeTypeStart, NodeTypeEndpoint, NodeTypeCondition, NodeTypePersonJob,
		NodeTypePersonBatchJob, NodeTypeCodeJob, NodeTypeAPIJob, NodeTypeDB,
		NodeTypeNotion, NodeTypeUserResponse, NodeTypeHook:
		return true
	default:
		return false
	}
}

func (nt NodeType) String() string { return string(nt) }

// HandleDirection is the direction of a handle: input or output.
type HandleDirection string

const (
	HandleDirectionInput  HandleDirection = "input"
	HandleDirectionOutput HandleDirection = "output"
)

func (hd HandleDirection) IsValid() bool {
	return hd == HandleDirectionInput || hd == HandleDirectionOutput
}

func (hd HandleDirection) String() string { return string(hd) }

// HandleLabel is a connection-point name. The closed set covers every
// built-in label; node types may also mint custom labels, so validity is
// checked against an allow-list rather than this const set alone.
type HandleLabel string

const (
	HandleLabelDefault   HandleLabel = "default"
	HandleLabelInput     HandleLabel = "input"
	HandleLabelOutput    HandleLabel = "output"
	HandleLabelCondTrue  HandleLabel = "condtrue"
	HandleLabelCondFalse HandleLabel = "condfalse"
	HandleLabelFirst     HandleLabel = "first"
)

func (hl HandleLabel) String() string { return string(hl) }

// NodeStatus is the lifecycle status of a node within one execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

func (ns NodeStatus) IsValid() bool {
	switch ns {
	case NodeStatusPending, NodeStatusRunning, NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped:
		return true
	default:
		return false
	}
}

func (ns NodeStatus) IsTerminal() bool {
	return ns == NodeStatusCompleted || ns == NodeStatusFailed || ns == NodeStatusSkipped
}

func (ns NodeStatus) String() string { return string(ns) }

// ExecutionStatus is the lifecycle status of an execution as a whole.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

func (es ExecutionStatus) IsValid() bool {
	switch es {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

func (es ExecutionStatus) IsTerminal() bool {
	return es == ExecutionStatusCompleted || es == ExecutionStatusFailed || es == ExecutionStatusCancelled
}

func (es ExecutionStatus) String() string { return string(es) }

// JoinStrategy decides when a node with multiple inbound edges becomes ready.
type JoinStrategy string

const (
	JoinStrategyAll JoinStrategy = "all"
	JoinStrategyAny JoinStrategy = "any"
)

func (js JoinStrategy) IsValid() bool {
	return js == JoinStrategyAll || js == JoinStrategyAny
}

func (js JoinStrategy) String() string { return string(js) }

// SkipReason names why a node was marked skipped instead of executed.
type SkipReason string

const (
	SkipReasonMaxIterations  SkipReason = "max_iterations"
	SkipReasonBranchNotTaken SkipReason = "branch_not_taken"
	SkipReasonUpstreamFailed SkipReason = "upstream_failed"
	SkipReasonHandlerRequest SkipReason = "handler_requested"
	SkipReasonCircuitOpen    SkipReason = "circuit_open"
)

func (sr SkipReason) String() string { return string(sr) }

// ContextCleaningRule is the conversation-memory retention policy consulted
// before a person_job node builds its LLM message array.
type ContextCleaningRule string

const (
	ContextCleaningNoForget  ContextCleaningRule = "no_forget"
	ContextCleaningEveryTurn ContextCleaningRule = "on_every_turn"
	ContextCleaningForgetOwn ContextCleaningRule = "forget_own"
)

func (r ContextCleaningRule) IsValid() bool {
	switch r {
	case ContextCleaningNoForget, ContextCleaningEveryTurn, ContextCleaningForgetOwn:
		return true
	default:
		return false
	}
}

// ErrorKind classifies an error per the error-handling taxonomy (§7). It
// governs retry eligibility and propagation, not merely presentation.
type ErrorKind string

const (
	ErrorKindValidation    ErrorKind = "validation"
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindTransient     ErrorKind = "transient"
	ErrorKindHandler       ErrorKind = "handler"
	ErrorKindPolicy        ErrorKind = "policy"
	ErrorKindInternal      ErrorKind = "internal"
)

func (k ErrorKind) String() string { return string(k) }

// EngineErrorPolicy controls how the scheduler reacts to a failed node.
type EngineErrorPolicy string

const (
	ErrorPolicyFailFast        EngineErrorPolicy = "fail_fast"
	ErrorPolicyContinueOnError EngineErrorPolicy = "continue_on_error"
)

func (p EngineErrorPolicy) IsValid() bool {
	return p == ErrorPolicyFailFast || p == ErrorPolicyContinueOnError
}

// DomainError is a structured domain/compiler-invariant error.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Err }

// Common domain error codes
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeInvariantViolated = "INVARIANT_VIOLATED"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodeCyclicDependency  = "CYCLIC_DEPENDENCY"
	ErrCodeInvalidType       = "INVALID_TYPE"
)

// NewDomainError creates a new domain error.
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}
