// Package server exposes the sync protocol over HTTP: pull and push
// endpoints for the data layer, a websocket channel that pokes clients
// when their space changes, and a health endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	lsync "github.com/liteboard/liteboard/internal/sync"
)

// Poke tells connected clients that a space has new data and they should
// pull. It carries no data itself.
type Poke struct {
	SpaceID string `json:"spaceID"`
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8080)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// Server serves the sync endpoints and manages poke websocket clients.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	reconciler *lsync.Reconciler
	pusher     *lsync.Pusher

	// Websocket client management. Each connection subscribes to one space.
	clients   map[*websocket.Conn]string
	clientsMu sync.RWMutex

	broadcast chan Poke

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a sync server over the given reconciler and pusher.
func NewServer(reconciler *lsync.Reconciler, pusher *lsync.Pusher, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:       fmt.Sprintf(":%d", config.Port),
		reconciler: reconciler,
		pusher:     pusher,
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan Poke, 100),
		ctx:        ctx,
		cancel:     cancel,
		logger:     config.Logger,
	}
}

// Start begins listening and serving. Returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	r := chi.NewRouter()
	r.Post("/api/sync/pull", s.handlePull)
	r.Post("/api/sync/push", s.handlePush)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Sync server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server and closes all websocket clients.
func (s *Server) Stop() error {
	s.logger.Println("Stopping sync server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Sync server stopped")
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// PokeSpace queues a poke for all clients subscribed to a space.
func (s *Server) PokeSpace(spaceID string) {
	select {
	case s.broadcast <- Poke{SpaceID: spaceID}:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping poke")
	}
}

// broadcastLoop fans pokes out to the subscribed clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case poke := <-s.broadcast:
			data, err := json.Marshal(poke)
			if err != nil {
				s.logger.Printf("Failed to marshal poke: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn, spaceID := range s.clients {
				if spaceID == poke.SpaceID {
					conns = append(conns, conn)
				}
			}
			s.clientsMu.RUnlock()

			// Write outside the lock so a slow client cannot block
			// registration, with bounded fan-out.
			g := new(errgroup.Group)
			g.SetLimit(8)
			for _, conn := range conns {
				conn := conn
				g.Go(func() error {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
						s.logger.Printf("Failed to poke client: %v", err)
						s.removeClient(conn)
					}
					return nil
				})
			}
			_ = g.Wait()
		}
	}
}

// handleWebSocket upgrades the connection and registers it against the
// requested space.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	spaceID := r.URL.Query().Get("spaceID")
	if spaceID == "" {
		http.Error(w, "spaceID query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = spaceID
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected to space %s (total: %d)", spaceID, clientCount)

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and detects client disconnects.
// Clients don't send anything meaningful over the poke channel.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handlePull answers a pull request for the space in the spaceID query
// parameter. Malformed requests are rejected before any storage access.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	spaceID := r.URL.Query().Get("spaceID")
	if spaceID == "" {
		http.Error(w, "spaceID query parameter is required", http.StatusBadRequest)
		return
	}

	var req lsync.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid pull request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.reconciler.Pull(r.Context(), spaceID, &req)
	if err != nil {
		s.logger.Printf("Pull failed for space %s: %v", spaceID, err)
		http.Error(w, "pull failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Printf("Failed to encode pull response: %v", err)
	}
}

// handlePush applies a mutation batch and pokes the space's subscribers.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	spaceID := r.URL.Query().Get("spaceID")
	if spaceID == "" {
		http.Error(w, "spaceID query parameter is required", http.StatusBadRequest)
		return
	}

	var req lsync.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid push request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.pusher.Push(r.Context(), spaceID, &req); err != nil {
		if errors.Is(err, lsync.ErrMutationFromFuture) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.logger.Printf("Push failed for space %s: %v", spaceID, err)
		http.Error(w, "push failed", http.StatusInternalServerError)
		return
	}

	s.PokeSpace(spaceID)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{}"))
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}
