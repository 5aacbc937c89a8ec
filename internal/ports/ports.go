// Package ports defines the boundary interfaces the engine core consumes
// (spec §6 External Interfaces): LLM access, file I/O, API key lookup,
// execution-state persistence, event fanout, diagram storage, and condition
// evaluation. Concrete adapters live under internal/adapters and
// internal/storage; the core depends only on these interfaces so it can be
// driven by fakes in tests.
//
// Grounded on the teacher's context-plus-error method signatures
// (internal/infrastructure/storage.MemoryStore, internal/domain.Storage),
// generalized from workflow/execution persistence to the diagram-engine's
// port surface.
package ports

import (
	"context"

	"github.com/dipeo/engine/internal/diagram"
	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/execstate"
)

// TokenUsage mirrors execstate.TokenUsage at the port boundary so adapters
// don't need to import the engine's internal accounting package.
type TokenUsage = execstate.TokenUsage

// LLMCompletion is one LLM call's result.
type LLMCompletion struct {
	Text        string
	TokenUsage  TokenUsage
	ToolOutputs []map[string]any
}

// LLMServicePort dispatches a chat completion against a configured person's
// backend.
type LLMServicePort interface {
	Complete(ctx context.Context, messages []LLMMessage, model, apiKeyID string, options map[string]any) (LLMCompletion, error)
}

// LLMMessage is one entry of the message array sent to an LLM.
type LLMMessage struct {
	Role    string
	Content string
}

// FileServicePort abstracts file access for node handlers that read/write
// artifacts (e.g. code_job, db nodes).
type FileServicePort interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, dir string) ([]string, error)
}

// APIKey is a stored credential for an external service.
type APIKey struct {
	ID      string
	Label   string
	Service string
	Key     string
}

// APIKeyServicePort resolves api_key_id references used by person LLM
// configs.
type APIKeyServicePort interface {
	Get(ctx context.Context, id string) (APIKey, error)
	List(ctx context.Context) ([]APIKey, error)
}

// StateStorePort persists execution-state snapshots. The engine core writes
// through it on terminal transitions and optionally on every node
// completion; observers may read the latest snapshot for a running
// execution.
type StateStorePort interface {
	SaveSnapshot(ctx context.Context, snapshot execstate.Snapshot) error
	LoadSnapshot(ctx context.Context, executionID string) (execstate.Snapshot, error)
	ListExecutions(ctx context.Context, diagramID string) ([]string, error)
}

// MessageRouterPort fans observer-bus events out to external subscribers
// (e.g. a websocket hub) and supports generic pub/sub channels.
type MessageRouterPort interface {
	BroadcastToExecution(ctx context.Context, executionID string, event any) error
	Publish(ctx context.Context, channel string, message any) error
}

// DiagramFileInfo describes one stored diagram for listing.
type DiagramFileInfo struct {
	ID       string
	Name     string
	Format   string
	Modified string
}

// DiagramStoragePort loads and persists DomainDiagrams in any of the
// supported file formats.
type DiagramStoragePort interface {
	Load(ctx context.Context, id string) (domain.DomainDiagram, error)
	Save(ctx context.Context, id string, d domain.DomainDiagram) error
	List(ctx context.Context) ([]DiagramFileInfo, error)
	Delete(ctx context.Context, id string) error
}

// ConditionEvaluationPort evaluates a non-detect_max_iterations condition
// expression against the current execution context.
type ConditionEvaluationPort interface {
	Evaluate(ctx context.Context, expression string, evalContext map[string]any) (bool, error)
}

// ExecutableDiagramLoader is a narrow convenience composed from
// DiagramStoragePort plus the compiler, used by the CLI entrypoint to go
// straight from a stored diagram id to an ExecutableDiagram.
type ExecutableDiagramLoader interface {
	LoadExecutable(ctx context.Context, id string) (*diagram.ExecutableDiagram, []string, error)
}
