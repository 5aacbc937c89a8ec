package wsobserver

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/observerbus"
)

func TestToWireEventMapsKindAndFields(t *testing.T) {
	now := time.Now()
	ev := observerbus.Event{
		Kind:        observerbus.EventNodeUpdate,
		ExecutionID: "exec-1",
		NodeID:      "n1",
		Status:      domain.NodeStatusRunning,
		Timestamp:   now,
	}

	w := toWireEvent(ev)
	assert.Equal(t, wireNodeUpdate, w.Type)
	assert.Equal(t, "exec-1", w.ExecutionID)
	assert.Equal(t, "n1", w.NodeID)
	assert.Equal(t, domain.NodeStatusRunning, w.Status)
	assert.Empty(t, w.Error)
}

func TestToWireEventFlattensErrToString(t *testing.T) {
	ev := observerbus.Event{
		Kind:        observerbus.EventExecutionError,
		ExecutionID: "exec-1",
		Err:         errors.New("node n1 exceeded retry budget"),
	}

	w := toWireEvent(ev)
	assert.Equal(t, wireExecutionError, w.Type)
	assert.Equal(t, "node n1 exceeded retry budget", w.Error)
}

func TestToWireEventQueueOverflowCarriesDroppedCount(t *testing.T) {
	ev := observerbus.Event{Kind: observerbus.EventQueueOverflow, ExecutionID: "exec-1", Dropped: 3}
	w := toWireEvent(ev)
	assert.Equal(t, wireQueueOverflow, w.Type)
	assert.Equal(t, 3, w.Dropped)
}
