package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/dipeo/engine/internal/compiler"
	"github.com/dipeo/engine/internal/convmem"
	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/refhandlers"
	"github.com/dipeo/engine/internal/scheduler"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleListDiagrams(w http.ResponseWriter, r *http.Request) {
	list, err := s.diagrams.List(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list diagrams")
		s.writeError(w, http.StatusInternalServerError, "failed to list diagrams")
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetDiagram(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, err := s.diagrams.Load(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "diagram not found")
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleSaveDiagram(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var d domain.DomainDiagram
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid diagram payload")
		return
	}
	if err := s.diagrams.Save(r.Context(), id, d); err != nil {
		s.logger.Error().Err(err).Str("diagram_id", id).Msg("failed to save diagram")
		s.writeError(w, http.StatusInternalServerError, "failed to save diagram")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleDeleteDiagram(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.diagrams.Delete(r.Context(), id); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to delete diagram")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExecuteDiagram loads and compiles the named diagram, creates a
// fresh execution, and hands it to the scheduler on a detached goroutine —
// the response returns as soon as the run is accepted, and callers watch
// progress via the stream endpoint or by polling handleGetExecution.
func (s *Server) handleExecuteDiagram(w http.ResponseWriter, r *http.Request) {
	diagramID := r.PathValue("id")
	domainDiagram, err := s.diagrams.Load(r.Context(), diagramID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "diagram not found")
		return
	}

	execDiagram, err := compiler.Compile(domainDiagram, s.registry)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "diagram failed to compile: "+err.Error())
		return
	}

	executionID := uuid.NewString()
	state := s.execs.Create(executionID, diagramID)
	memory := convmem.New(executionID)

	services := &perExecutionServices{
		primary: s.services,
		local: map[string]any{
			string(refhandlers.PersonIndexKey): execDiagram.Metadata.PersonIndex,
		},
	}

	bus := scheduler.NewBus(s.observers...)
	sched := scheduler.New(execDiagram, s.handlers, state, memory, services, bus, s.schedCfg)

	go func() {
		result := sched.Run(context.Background())
		if s.states != nil {
			if err := s.states.SaveSnapshot(context.Background(), result.Snapshot); err != nil {
				s.logger.Error().Err(err).Str("execution_id", executionID).Msg("failed to persist execution snapshot")
			}
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": executionID, "status": "queued"})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	diagramID := r.URL.Query().Get("diagram_id")
	if s.states == nil {
		s.writeJSON(w, http.StatusOK, []string{})
		return
	}
	ids, err := s.states.ListExecutions(r.Context(), diagramID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	s.writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if live, ok := s.execs.Get(id); ok {
		s.writeJSON(w, http.StatusOK, live.Snapshot())
		return
	}

	if s.states != nil {
		snap, err := s.states.LoadSnapshot(r.Context(), id)
		if err == nil {
			s.writeJSON(w, http.StatusOK, snap)
			return
		}
	}

	s.writeError(w, http.StatusNotFound, "execution not found")
}

type interactiveResponseRequest struct {
	NodeID   string `json:"node_id"`
	Response string `json:"response"`
}

// handleInteractiveRespond lets an operator answer a pending user_response
// node outside the websocket stream (e.g. from a plain HTTP client). It
// requires the server's PromptResolver, wired the same way wsobserver's
// connection forwards a client's interactive_response command.
func (s *Server) handleInteractiveRespond(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("executionID")
	var req interactiveResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.resolver == nil {
		s.writeError(w, http.StatusServiceUnavailable, "interactive prompts are not enabled")
		return
	}
	if err := s.resolver.Answer(executionID, req.NodeID, req.Response); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// perExecutionServices overlays execution-scoped services (the compiled
// diagram's person index) on top of the server's shared, process-lifetime
// registry, without mutating it. services.Key's own documentation treats
// keys as opaque, so this overlay is just another Require/Has
// implementation — scheduler.ServiceLookup never needed to be a concrete
// *services.Registry.
type perExecutionServices struct {
	primary scheduler.ServiceLookup
	local   map[string]any
}

func (p *perExecutionServices) Require(key string) (any, error) {
	if v, ok := p.local[key]; ok {
		return v, nil
	}
	if p.primary != nil {
		return p.primary.Require(key)
	}
	return nil, errors.New("service not found: " + key)
}

func (p *perExecutionServices) Has(key string) bool {
	if _, ok := p.local[key]; ok {
		return true
	}
	return p.primary != nil && p.primary.Has(key)
}
