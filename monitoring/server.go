// Package monitoring exposes the session controller over HTTP: status and
// log snapshots for polling clients, request endpoints for port control, and
// an SSE stream that fires on every visible log or catalog change.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"midimon/config"
	"midimon/midi"
	"midimon/session"
)

// SSEClient represents a connected SSE client
type SSEClient struct {
	send chan string
	done chan struct{}
}

// SSEBroker manages SSE client connections and message broadcasting
type SSEBroker struct {
	clients    map[*SSEClient]bool
	register   chan *SSEClient
	unregister chan *SSEClient
	broadcast  chan string
	mu         sync.RWMutex
}

// NewSSEBroker creates a new SSE broker
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{
		clients:    make(map[*SSEClient]bool),
		register:   make(chan *SSEClient),
		unregister: make(chan *SSEClient),
		broadcast:  make(chan string, 256),
	}
}

// Run starts the broker's main loop
func (b *SSEBroker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Close all client connections
			b.mu.Lock()
			for client := range b.clients {
				close(client.done)
				delete(b.clients, client)
			}
			b.mu.Unlock()
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				close(client.done)
				delete(b.clients, client)
			}
			b.mu.Unlock()

		case event := <-b.broadcast:
			b.mu.RLock()
			for client := range b.clients {
				select {
				case client.send <- event:
				default:
					// Client buffer full, skip this event
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Broadcast sends an event name to all connected clients
func (b *SSEBroker) Broadcast(event string) {
	select {
	case b.broadcast <- event:
	default:
		// Broadcast buffer full, drop event
	}
}

// ClientCount returns the number of connected clients
func (b *SSEBroker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Server provides HTTP monitoring endpoints over a session controller
type Server struct {
	config     *config.MonitoringConfig
	controller *session.Controller
	logger     *slog.Logger
	server     *http.Server
	broker     *SSEBroker
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewServer creates a new monitoring server
func NewServer(cfg *config.MonitoringConfig, controller *session.Controller, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	broker := NewSSEBroker()

	s := &Server{
		config:     cfg,
		controller: controller,
		logger:     logger,
		broker:     broker,
		ctx:        ctx,
		cancel:     cancel,
	}

	go broker.Run(ctx)

	return s
}

// Notify pushes an update event to all SSE clients. It is safe to call from
// the controller goroutine and is wired as its repaint signal.
func (s *Server) Notify() {
	s.broker.Broadcast("update")
}

// Start starts the monitoring HTTP server
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/log", s.handleLog)
	mux.HandleFunc("/api/log/export", s.handleLogExport)
	mux.HandleFunc("/api/connect", s.handleConnect)
	mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	mux.HandleFunc("/api/refresh", s.handleRefresh)
	mux.HandleFunc("/api/stream", s.handleSSE)

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("Starting monitoring server", "port", s.config.Port)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Monitoring server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the monitoring server
func (s *Server) Stop(ctx context.Context) error {
	// Cancel broker first - this closes SSE client connections
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		s.logger.Info("Stopping monitoring server")
		return s.server.Shutdown(shutdownCtx)
	}
	return nil
}

// handleHealth returns health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"sse_clients": s.broker.ClientCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleStatus returns the catalog snapshot and message counters
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.controller.Ports()

	response := map[string]interface{}{
		"ports": snap.Ports,
		"slots": snap.Slots,
		"stats": s.controller.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleLog serves the coalesced message log. GET returns a snapshot,
// DELETE clears it.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries := s.controller.Log().Snapshot()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"entries": entries,
			"count":   len(entries),
		})

	case http.MethodDelete:
		s.controller.Log().Clear()
		s.Notify()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleLogExport downloads the log as an indented JSON document
func (s *Server) handleLogExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="midi-log.json"`)

	if err := s.controller.Log().WriteJSON(w); err != nil {
		s.logger.Warn("Log export failed", "error", err)
	}
}

// handleConnect queues a connect request for a slot.
// Query params: slot (1 or 2), port (catalog name)
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	slot, err := midi.ParseSlot(r.URL.Query().Get("slot"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	port := r.URL.Query().Get("port")
	if port == "" {
		http.Error(w, "port parameter required", http.StatusBadRequest)
		return
	}

	s.controller.Connect(slot, port)
	w.WriteHeader(http.StatusAccepted)
}

// handleDisconnect queues a disconnect request for a slot
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	slot, err := midi.ParseSlot(r.URL.Query().Get("slot"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.controller.Disconnect(slot)
	w.WriteHeader(http.StatusAccepted)
}

// handleRefresh queues a catalog refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.controller.RefreshPorts()
	w.WriteHeader(http.StatusAccepted)
}

// handleSSE handles Server-Sent Events connections for change notification
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	client := &SSEClient{
		send: make(chan string, 64),
		done: make(chan struct{}),
	}

	s.broker.register <- client

	defer func() {
		s.broker.unregister <- client
	}()

	// Send initial connection event
	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	// Start keepalive ticker (every 15s)
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			// Client disconnected
			return

		case <-client.done:
			// Server shutting down
			return

		case event := <-client.send:
			fmt.Fprintf(w, "event: %s\ndata: {}\n\n", event)
			flusher.Flush()

		case <-keepalive.C:
			// Send keepalive comment to prevent connection timeout
			fmt.Fprintf(w, ": keepalive %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}
