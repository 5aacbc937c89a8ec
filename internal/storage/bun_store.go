package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/execstate"
)

// executionSnapshotModel is the bun row shape for one execution's latest
// persisted snapshot. Grounded on the teacher's ExecutionStateModel
// (internal/infrastructure/storage/bun_store.go): a jsonb column holding
// the node-state map rather than a normalized child table, since the
// scheduler only ever reads a snapshot back whole (never queries into
// individual node states at the SQL level).
type executionSnapshotModel struct {
	bun.BaseModel `bun:"table:execution_snapshots,alias:es"`

	ExecutionID string                          `bun:"execution_id,pk"`
	DiagramID   string                          `bun:"diagram_id"`
	Status      string                          `bun:"status"`
	NodeStates  map[string]execstate.NodeState `bun:"node_states,type:jsonb"`
	TokenInput  int                             `bun:"token_input"`
	TokenOutput int                             `bun:"token_output"`
	TokenCached int                             `bun:"token_cached"`
	CurrentNode string                          `bun:"current_node"`
	StartedAt   time.Time                       `bun:"started_at"`
	CompletedAt *time.Time                      `bun:"completed_at"`
	ErrorMsg    string                          `bun:"error_msg"`
}

func newExecutionSnapshotModel(snap execstate.Snapshot) *executionSnapshotModel {
	m := &executionSnapshotModel{
		ExecutionID: snap.ExecutionID,
		DiagramID:   snap.DiagramID,
		Status:      string(snap.Status),
		NodeStates:  snap.NodeStates,
		TokenInput:  snap.TokenTotals.Input,
		TokenOutput: snap.TokenTotals.Output,
		TokenCached: snap.TokenTotals.Cached,
		CurrentNode: snap.CurrentNode,
		StartedAt:   snap.StartedAt,
		CompletedAt: snap.CompletedAt,
	}
	if snap.Err != nil {
		m.ErrorMsg = snap.Err.Error()
	}
	return m
}

func (m *executionSnapshotModel) toSnapshot() execstate.Snapshot {
	var err error
	if m.ErrorMsg != "" {
		err = fmt.Errorf("%s", m.ErrorMsg)
	}
	return execstate.Snapshot{
		ExecutionID: m.ExecutionID,
		DiagramID:   m.DiagramID,
		Status:      snapshotStatus(m.Status),
		NodeStates:  m.NodeStates,
		TokenTotals: execstate.TokenUsage{Input: m.TokenInput, Output: m.TokenOutput, Cached: m.TokenCached},
		CurrentNode: m.CurrentNode,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		Err:         err,
	}
}

// BunStateStore implements ports.StateStorePort against Postgres via bun,
// grounded on the teacher's BunStore (internal/infrastructure/storage/bun_store.go):
// sql.OpenDB over pgdriver, bun.NewDB with pgdialect, upsert via
// "ON CONFLICT ... DO UPDATE".
type BunStateStore struct {
	db *bun.DB
}

// NewBunStateStore opens a connection pool against dsn. Call InitSchema once
// before first use.
func NewBunStateStore(dsn string) *BunStateStore {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return &BunStateStore{db: bun.NewDB(sqldb, pgdialect.New())}
}

// InitSchema creates the execution_snapshots table if it doesn't exist.
func (s *BunStateStore) InitSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*executionSnapshotModel)(nil)).IfNotExists().Exec(ctx)
	return err
}

// SaveSnapshot upserts the row for snapshot.ExecutionID.
func (s *BunStateStore) SaveSnapshot(ctx context.Context, snapshot execstate.Snapshot) error {
	model := newExecutionSnapshotModel(snapshot)
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (execution_id) DO UPDATE").Exec(ctx)
	return err
}

// LoadSnapshot fetches the row for executionID.
func (s *BunStateStore) LoadSnapshot(ctx context.Context, executionID string) (execstate.Snapshot, error) {
	model := new(executionSnapshotModel)
	err := s.db.NewSelect().Model(model).Where("execution_id = ?", executionID).Scan(ctx)
	if err != nil {
		return execstate.Snapshot{}, fmt.Errorf("loading snapshot %q: %w", executionID, err)
	}
	return model.toSnapshot(), nil
}

// ListExecutions returns every execution id stored for diagramID, most
// recently started first.
func (s *BunStateStore) ListExecutions(ctx context.Context, diagramID string) ([]string, error) {
	var models []executionSnapshotModel
	err := s.db.NewSelect().Model(&models).
		Column("execution_id").
		Where("diagram_id = ?", diagramID).
		OrderExpr("started_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing executions for diagram %q: %w", diagramID, err)
	}
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ExecutionID
	}
	return ids, nil
}

func snapshotStatus(s string) domain.ExecutionStatus {
	return domain.ExecutionStatus(s)
}
