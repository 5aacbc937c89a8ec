package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/execstate"
	"github.com/dipeo/engine/internal/refhandlers"
	"github.com/dipeo/engine/internal/ruleregistry"
	"github.com/dipeo/engine/internal/scheduler"
	"github.com/dipeo/engine/internal/services"
	"github.com/dipeo/engine/internal/storage"
)

func simpleDiagram() domain.DomainDiagram {
	return domain.DomainDiagram{
		Nodes: []domain.DomainNode{
			{ID: "n1", Type: domain.NodeTypeStart, Data: map[string]any{}},
			{ID: "n2", Type: domain.NodeTypeCodeJob, Data: map[string]any{"code": "1 + 1"}},
			{ID: "n3", Type: domain.NodeTypeEndpoint, Data: map[string]any{}},
		},
		Arrows: []domain.DomainArrow{
			{ID: "a1", Source: "n1:output", Target: "n2:input"},
			{ID: "a2", Source: "n2:output", Target: "n3:input"},
		},
		Metadata: domain.DiagramMetadata{ID: "d1", Name: "simple"},
	}
}

func testServer(t *testing.T) *Server {
	t.Helper()
	diagrams := storage.NewFileDiagramStore(t.TempDir())
	require.NoError(t, diagrams.Save(context.Background(), "d1", simpleDiagram()))

	reg := ruleregistry.New(ruleregistry.EnvTesting, ruleregistry.WithAllowOverride(true))
	ruleregistry.RegisterDefaultRules(reg)

	return New(Deps{
		Diagrams:        diagrams,
		States:          storage.NewMemoryStateStore(),
		Executions:      execstate.NewManager(nil),
		Registry:        reg,
		Handlers:        refhandlers.Handlers(),
		Services:        services.New(false),
		SchedulerConfig: scheduler.DefaultConfig(),
		Logger:          zerolog.Nop(),
	})
}

func TestHandleListDiagrams(t *testing.T) {
	s := testServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/diagrams")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleGetDiagramNotFound(t *testing.T) {
	s := testServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/diagrams/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleSaveAndGetDiagram(t *testing.T) {
	s := testServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	body, err := json.Marshal(simpleDiagram())
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/diagrams/d2", bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/api/v1/diagrams/d2")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestHandleExecuteDiagramRunsToCompletion(t *testing.T) {
	s := testServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/diagrams/d1/execute", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	executionID := body["execution_id"]
	require.NotEmpty(t, executionID)

	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/api/v1/executions/" + executionID)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK {
			return false
		}
		var snap map[string]any
		_ = json.NewDecoder(r.Body).Decode(&snap)
		return snap["Status"] == string(domain.ExecutionStatusCompleted)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleExecuteDiagramMissingDiagram(t *testing.T) {
	s := testServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/diagrams/missing/execute", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleInteractiveRespondWithoutResolver(t *testing.T) {
	s := testServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	body, _ := json.Marshal(interactiveResponseRequest{NodeID: "n1", Response: "yes"})
	resp, err := http.Post(srv.URL+"/api/v1/executions/exec1/respond", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
