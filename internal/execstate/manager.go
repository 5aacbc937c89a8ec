package execstate

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Manager owns one ExecutionState per execution_id. Grounded on the
// teacher's internal/node.Registry keyed-lookup-under-RWMutex pattern,
// generalized from a register-once node registry to an idempotent
// create-or-reuse execution store.
type Manager struct {
	mu         sync.RWMutex
	executions map[string]*ExecutionState
	logger     zerolog.Logger
}

// NewManager constructs an empty execution-state manager. A nil logger
// falls back to the global zerolog logger.
func NewManager(logger *zerolog.Logger) *Manager {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &Manager{executions: make(map[string]*ExecutionState), logger: l}
}

// Create returns the ExecutionState for executionID, creating it with the
// given diagramID if absent. If the execution already exists (e.g. a replay
// request), the call is a no-op that logs and returns the existing state.
func (m *Manager) Create(executionID, diagramID string) *ExecutionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.executions[executionID]; ok {
		m.logger.Info().Str("execution_id", executionID).Msg("execution already exists; create is a no-op")
		return existing
	}

	state := newExecutionState(executionID, diagramID)
	m.executions[executionID] = state
	return state
}

// Get returns the ExecutionState for executionID, if it exists.
func (m *Manager) Get(executionID string) (*ExecutionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.executions[executionID]
	return s, ok
}

// Delete discards the in-memory state for executionID. Callers that need to
// retain history should snapshot and persist through the StateStore port
// before calling this.
func (m *Manager) Delete(executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.executions, executionID)
}
