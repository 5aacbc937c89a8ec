package observerbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/execstate"
)

type fakeStore struct {
	mu   sync.Mutex
	last map[string]execstate.Snapshot
	n    int
}

func newFakeStore() *fakeStore { return &fakeStore{last: make(map[string]execstate.Snapshot)} }

func (f *fakeStore) SaveSnapshot(ctx context.Context, snap execstate.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last[snap.ExecutionID] = snap
	f.n++
	return nil
}

func (f *fakeStore) LoadSnapshot(ctx context.Context, executionID string) (execstate.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.last[executionID]
	if !ok {
		return execstate.Snapshot{}, errors.New("not found")
	}
	return snap, nil
}

func (f *fakeStore) ListExecutions(ctx context.Context, diagramID string) ([]string, error) {
	return nil, nil
}

func TestStateStoreObserverPersistsLifecycle(t *testing.T) {
	store := newFakeStore()
	obs := NewStateStoreObserver(store, zerolog.Nop())

	now := time.Now()
	obs.OnExecutionStart("exec-1", "diagram-1", now)
	obs.OnNodeUpdate("exec-1", "start", domain.NodeStatusCompleted, map[string]any{"v": 1}, &now, &now, nil)
	obs.OnExecutionComplete("exec-1", domain.ExecutionStatusCompleted)

	snap, err := store.LoadSnapshot(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, snap.Status)
	assert.Equal(t, domain.NodeStatusCompleted, snap.NodeStates["start"].Status)
	assert.NotNil(t, snap.CompletedAt)
}

func TestStateStoreObserverCreateExecutionIdempotent(t *testing.T) {
	store := newFakeStore()
	obs := NewStateStoreObserver(store, zerolog.Nop())

	now := time.Now()
	obs.OnExecutionStart("exec-1", "diagram-1", now)
	obs.OnNodeUpdate("exec-1", "start", domain.NodeStatusCompleted, nil, nil, nil, nil)
	obs.OnExecutionStart("exec-1", "diagram-1", now.Add(time.Minute))

	snap, err := store.LoadSnapshot(context.Background(), "exec-1")
	require.NoError(t, err)
	// The second OnExecutionStart must not have reset node_states back to empty.
	assert.Equal(t, domain.NodeStatusCompleted, snap.NodeStates["start"].Status)
}

func TestStreamingObserverDeliversInOrder(t *testing.T) {
	obs := NewStreamingObserver(8, zerolog.Nop())
	ch, unsubscribe := obs.Subscribe("exec-1")
	defer unsubscribe()

	now := time.Now()
	obs.OnExecutionStart("exec-1", "diagram-1", now)
	obs.OnNodeUpdate("exec-1", "start", domain.NodeStatusCompleted, nil, nil, nil, nil)
	obs.OnExecutionComplete("exec-1", domain.ExecutionStatusCompleted)

	first := <-ch
	second := <-ch
	third := <-ch
	assert.Equal(t, EventExecutionStart, first.Kind)
	assert.Equal(t, EventNodeUpdate, second.Kind)
	assert.Equal(t, EventExecutionComplete, third.Kind)
}

func TestStreamingObserverDropsOldestOnOverflow(t *testing.T) {
	obs := NewStreamingObserver(2, zerolog.Nop())
	ch, unsubscribe := obs.Subscribe("exec-1")
	defer unsubscribe()

	for i := 0; i < 5; i++ {
		obs.OnNodeUpdate("exec-1", "n", domain.NodeStatusRunning, nil, nil, nil, nil)
	}

	var kinds []EventKind
	draining := true
	for draining {
		select {
		case ev := <-ch:
			kinds = append(kinds, ev.Kind)
		default:
			draining = false
		}
	}

	require.NotEmpty(t, kinds)
	found := false
	for _, k := range kinds {
		if k == EventQueueOverflow {
			found = true
		}
	}
	assert.True(t, found, "expected a queue_overflow marker among delivered events")
}

func TestStreamingObserverIsolatesSubscribersByExecution(t *testing.T) {
	obs := NewStreamingObserver(8, zerolog.Nop())
	chA, unsubA := obs.Subscribe("exec-a")
	defer unsubA()
	chB, unsubB := obs.Subscribe("exec-b")
	defer unsubB()

	obs.OnExecutionStart("exec-a", "diagram-1", time.Now())

	select {
	case ev := <-chA:
		assert.Equal(t, "exec-a", ev.ExecutionID)
	case <-time.After(time.Second):
		t.Fatal("expected event on exec-a's channel")
	}

	select {
	case ev := <-chB:
		t.Fatalf("exec-b should not have received exec-a's event, got %+v", ev)
	default:
	}
}
