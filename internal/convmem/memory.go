// Package convmem implements per-execution, per-person conversation memory
// (spec component C6): an ordered message log consulted and pruned by the
// engine before each person_job node builds its LLM message array.
//
// Grounded on the teacher's internal/domain.VariableSet (RWMutex-guarded,
// typed accessor store with Clone/Clear/Merge operations) for the
// concurrency and mutation idiom, generalized from a flat key-value store
// to an ordered per-person append log, since conversation history is
// sequential rather than keyed.
package convmem

import (
	"sync"
	"time"

	"github.com/dipeo/engine/internal/domain"
)

// Message is one entry in a person's conversation history.
type Message struct {
	Role      string // "system", "user", "assistant"
	Content   string
	Timestamp time.Time
	NodeID    string
	TokenCount int
	Sender     string // person_id of the message's author, for forget_own
}

// Summary is the aggregate view Summary() returns: cheap enough to compute
// on every call rather than maintained incrementally.
type Summary struct {
	MessageCount     int
	ApproxTokenCount int
}

// Memory is the conversation log for one execution, scoped per person_id.
type Memory struct {
	mu          sync.RWMutex
	executionID string
	history     map[string][]Message // person_id -> ordered messages
}

// New constructs an empty conversation memory for one execution.
func New(executionID string) *Memory {
	return &Memory{executionID: executionID, history: make(map[string][]Message)}
}

// Append adds a message to personID's history.
func (m *Memory) Append(personID string, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[personID] = append(m.history[personID], msg)
}

// GetHistory returns a copy of personID's message log, in append order.
func (m *Memory) GetHistory(personID string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.history[personID]
	out := make([]Message, len(src))
	copy(out, src)
	return out
}

// ForgetForPerson clears the entire history for personID.
func (m *Memory) ForgetForPerson(personID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, personID)
}

// ForgetOwnMessages drops messages authored by personID (Sender == personID)
// within the current execution, keeping messages from other senders (e.g.
// upstream nodes or other persons) intact.
func (m *Memory) ForgetOwnMessages(personID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.history[personID]
	kept := src[:0:0]
	for _, msg := range src {
		if msg.Sender != personID {
			kept = append(kept, msg)
		}
	}
	m.history[personID] = kept
}

// Summary reports personID's message count and an approximate token count
// (sum of recorded TokenCount; entries without one contribute zero).
func (m *Memory) Summary(personID string) Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.history[personID]
	tokens := 0
	for _, msg := range src {
		tokens += msg.TokenCount
	}
	return Summary{MessageCount: len(src), ApproxTokenCount: tokens}
}

// ApplyRetentionRule runs the configured context_cleaning_rule for personID
// before the engine builds that person's next LLM message array. Must be
// invoked exactly once per node dispatch, before message-array assembly.
func (m *Memory) ApplyRetentionRule(personID string, rule domain.ContextCleaningRule) {
	switch rule {
	case domain.ContextCleaningNoForget:
		// no-op: full history carries forward
	case domain.ContextCleaningEveryTurn:
		m.ForgetForPerson(personID)
	case domain.ContextCleaningForgetOwn:
		m.ForgetOwnMessages(personID)
	}
}
