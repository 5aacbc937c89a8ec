// Package wsobserver is the websocket transport for the execution observer
// bus's StreamingObserver (spec §4.8): it upgrades an authenticated HTTP
// request into a connection that streams one execution's events to a
// browser or CLI client, and relays interactive_response commands back to
// a PromptResolver.
//
// Grounded on the teacher's internal/infrastructure/websocket package
// (Handler.ServeHTTP's authenticate-then-upgrade-then-pump flow, Client's
// readPump/writePump goroutine pair and ping/pong keepalive constants),
// generalized from the teacher's Hub-wide client registry and
// workflow/execution subscription indexes to direct per-connection
// delivery, since StreamingObserver already owns per-execution fan-out and
// bounded queueing.
package wsobserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dipeo/engine/internal/observerbus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests at a path like /executions/{id}/stream
// into a live event feed for that execution.
type Handler struct {
	observer *observerbus.StreamingObserver
	resolver *PromptResolver
	auth     Authenticator
	logger   zerolog.Logger
}

// NewHandler builds a Handler streaming observer's events to authenticated
// subscribers and forwarding their interactive_response commands to
// resolver. resolver may be nil if the diagrams served never use
// interactive prompts.
func NewHandler(observer *observerbus.StreamingObserver, resolver *PromptResolver, auth Authenticator, logger zerolog.Logger) *Handler {
	return &Handler{
		observer: observer,
		resolver: resolver,
		auth:     auth,
		logger:   logger.With().Str("component", "wsobserver").Logger(),
	}
}

// StreamHandler returns an http.HandlerFunc that authenticates the caller,
// upgrades the connection, subscribes to executionID's events, and pumps
// them to the client until it disconnects or the subscription is torn
// down. Callers route it under a path that embeds the execution id, e.g.
// mux.HandleFunc("/executions/"+id+"/stream", h.StreamHandler(id)).
func (h *Handler) StreamHandler(executionID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.auth.Authenticate(r)
		if err != nil {
			h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket authentication failed")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error().Err(err).Msg("websocket upgrade failed")
			return
		}

		events, unsubscribe := h.observer.Subscribe(executionID)
		conn2 := &connection{
			conn:        conn,
			events:      events,
			unsubscribe: unsubscribe,
			executionID: executionID,
			resolver:    h.resolver,
			logger:      h.logger.With().Str("execution_id", executionID).Str("user_id", userID).Logger(),
		}

		h.logger.Info().Str("execution_id", executionID).Str("user_id", userID).Msg("websocket subscriber connected")

		go conn2.writePump()
		conn2.readPump()
	}
}

// connection pairs one websocket with one StreamingObserver subscription.
type connection struct {
	conn        *websocket.Conn
	events      <-chan observerbus.Event
	unsubscribe func()
	executionID string
	resolver    *PromptResolver
	logger      zerolog.Logger
}

// readPump drains client commands (currently only interactive_response)
// until the connection closes, then tears down the subscription.
func (c *connection) readPump() {
	defer func() {
		c.unsubscribe()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket unexpected close")
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}
		if cmd.Action != cmdInteractiveResponse || c.resolver == nil {
			continue
		}

		executionID := cmd.ExecutionID
		if executionID == "" {
			executionID = c.executionID
		}
		if err := c.resolver.Answer(executionID, cmd.NodeID, cmd.Response); err != nil {
			c.logger.Warn().Err(err).Str("node_id", cmd.NodeID).Msg("interactive response could not be delivered")
		}
	}
}

// writePump forwards subscription events to the client and pings it on
// pingPeriod to detect a dead connection before pongWait elapses.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.events:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(toWireEvent(ev)); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
