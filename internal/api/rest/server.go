// Package rest is the HTTP front door for the engine: diagram CRUD,
// execution start/list/status, and the websocket event stream. Grounded on
// the teacher's internal/infrastructure/api/rest.Server (net/http.ServeMux
// with Go 1.22 method-pattern routes, layered middleware), generalized from
// the teacher's workflow/store model to the compiler/scheduler pipeline and
// rebased from log/slog onto zerolog per the module's ambient logging
// decision.
package rest

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/execstate"
	"github.com/dipeo/engine/internal/ports"
	"github.com/dipeo/engine/internal/ruleregistry"
	"github.com/dipeo/engine/internal/scheduler"
	"github.com/dipeo/engine/internal/wsobserver"
)

// Server wires diagram storage, compiled-execution state, and the
// scheduler's dependencies behind a single http.Handler.
type Server struct {
	diagrams   ports.DiagramStoragePort
	states     ports.StateStorePort
	execs      *execstate.Manager
	registry   *ruleregistry.Registry
	handlers   map[domain.NodeType]scheduler.NodeHandler
	services   scheduler.ServiceLookup
	schedCfg   scheduler.Config
	stream     *wsobserver.Handler
	resolver   *wsobserver.PromptResolver
	observers  []scheduler.Observer
	mux        *http.ServeMux
	logger     zerolog.Logger
	apiKeys    []string
	rateLimit  *rateLimiter
}

// Deps bundles Server's constructor arguments so New's signature stays
// stable as the engine grows more collaborators.
type Deps struct {
	Diagrams        ports.DiagramStoragePort
	States          ports.StateStorePort
	Executions      *execstate.Manager
	Registry        *ruleregistry.Registry
	Handlers        map[domain.NodeType]scheduler.NodeHandler
	Services        scheduler.ServiceLookup
	SchedulerConfig scheduler.Config
	Stream          *wsobserver.Handler
	Resolver        *wsobserver.PromptResolver
	Observers       []scheduler.Observer
	Logger          zerolog.Logger
	APIKeys         []string
}

// New builds a Server and registers its routes.
func New(d Deps) *Server {
	s := &Server{
		diagrams:  d.Diagrams,
		states:    d.States,
		execs:     d.Executions,
		registry:  d.Registry,
		handlers:  d.Handlers,
		services:  d.Services,
		schedCfg:  d.SchedulerConfig,
		stream:    d.Stream,
		resolver:  d.Resolver,
		observers: d.Observers,
		mux:       http.NewServeMux(),
		logger:    d.Logger,
		apiKeys:   d.APIKeys,
		rateLimit: newRateLimiter(120, time.Minute),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/v1/diagrams", s.handleListDiagrams)
	s.mux.HandleFunc("GET /api/v1/diagrams/{id}", s.handleGetDiagram)
	s.mux.HandleFunc("PUT /api/v1/diagrams/{id}", s.handleSaveDiagram)
	s.mux.HandleFunc("DELETE /api/v1/diagrams/{id}", s.handleDeleteDiagram)
	s.mux.HandleFunc("POST /api/v1/diagrams/{id}/execute", s.handleExecuteDiagram)

	s.mux.HandleFunc("GET /api/v1/executions", s.handleListExecutions)
	s.mux.HandleFunc("GET /api/v1/executions/{id}", s.handleGetExecution)
	s.mux.HandleFunc("POST /api/v1/executions/{executionID}/respond", s.handleInteractiveRespond)

	if s.stream != nil {
		s.mux.HandleFunc("GET /api/v1/executions/{id}/stream", s.handleStream)
	}
}

// ServeHTTP applies the teacher's layered middleware (recovery, logging,
// CORS, rate limiting, API-key auth) around the route mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var h http.Handler = s.mux
	h = contentTypeMiddleware(h)
	h = newAuthMiddleware(s.apiKeys).middleware(h)
	h = s.rateLimit.middleware(h)
	h = corsMiddleware(h)
	h = loggingMiddleware(s.logger, h)
	h = recoveryMiddleware(s.logger, h)
	h.ServeHTTP(w, r)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")
	s.stream.StreamHandler(executionID)(w, r)
}
