// Package bus provides the local server connecting foreground clients
// to the background worker.
//
// The bus broadcasts sync outcomes to every connected websocket client,
// accepts client messages (identity writes, manual sync requests), and
// takes push events in over HTTP. All non-bus paths are delegated to
// the shell cache handler so one listener serves both the app shell and
// the worker protocol.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/taplok/taplok/internal/engine"
)

// Config holds server configuration.
type Config struct {
	// Addr to listen on, e.g. ":8971".
	Addr string

	// Shell serves requests outside the bus endpoints. May be nil.
	Shell http.Handler

	// OnMessage receives decoded client messages.
	OnMessage func(ClientMessage)

	// OnPush receives push payloads delivered to /push.
	OnPush func(PushPayload)

	// Logger for server activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// Server manages websocket connections and outcome broadcasts.
type Server struct {
	addr     string
	shell    http.Handler
	onMsg    func(ClientMessage)
	onPush   func(PushPayload)
	logger   *log.Logger
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan SyncedMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a bus server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[bus] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      cfg.Addr,
		shell:     cfg.Shell,
		onMsg:     cfg.OnMessage,
		onPush:    cfg.OnPush,
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan SyncedMessage, 100),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins listening and serving.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/push", s.handlePush)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.shell != nil {
		mux.Handle("/", s.shell)
	}

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Client bus listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping client bus")

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
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// BroadcastSynced implements engine.Broadcaster: every connected client
// receives the same outcome message. Delivery is best effort; a client
// that disconnects mid-broadcast is simply dropped.
func (s *Server) BroadcastSynced(o engine.Outcome) {
	msg := newSyncedMessage(o.Timestamp, o.Latitude, o.Longitude)
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop delivers queued messages to all clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			// Write outside the read lock to avoid blocking broadcasts
			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections and tracks the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", count)

	go s.readLoop(conn)
}

// readLoop decodes inbound client messages and forwards them.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Printf("Ignoring malformed client message: %v", err)
			continue
		}

		if s.onMsg != nil {
			s.onMsg(msg)
		}
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		count := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", count)
	} else {
		s.clientsMu.Unlock()
	}
}

// handlePush accepts a push event. A missing or malformed body is
// treated as an empty payload, never as an error.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload PushPayload
	body, err := io.ReadAll(r.Body)
	if err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			s.logger.Printf("Ignoring malformed push payload: %v", err)
			payload = PushPayload{}
		}
	}

	if s.onPush != nil {
		s.onPush(payload)
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}
