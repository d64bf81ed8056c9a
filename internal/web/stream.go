package web

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// streamEvent is one turn lifecycle event on the websocket stream.
type streamEvent struct {
	Type      string `json:"type"` // turn_started, turn_completed, turn_failed
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Duration  string `json:"duration,omitempty"`
	Error     string `json:"error,omitempty"`
}

// hub fans turn events out to the connected websocket clients. A slow
// or dead client is dropped rather than blocking the rest.
type hub struct {
	logger *slog.Logger
	mu     sync.Mutex
	conns  map[*websocket.Conn]bool
}

func newHub(logger *slog.Logger) *hub {
	return &hub{logger: logger, conns: make(map[*websocket.Conn]bool)}
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = true
	h.mu.Unlock()
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *hub) broadcast(ev streamEvent) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Debug("dropping stream client", "error", err)
			h.remove(conn)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[*websocket.Conn]bool)
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth already ran; the stream carries no user input.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.hub.add(conn)
	s.logger.Debug("stream client connected", "remote", conn.RemoteAddr())

	// Reads only service control frames; any client message or error
	// ends the subscription.
	go func() {
		defer s.hub.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
