package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChatRequest is the POST /api/chat body.
type ChatRequest struct {
	// SessionID groups turns into one conversation. Empty starts a new
	// session; the generated id comes back in the response.
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Prompt    string `json:"prompt"`
}

// ChatResponse is the POST /api/chat reply.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required", s.logger)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", s.logger)
		return
	}
	if req.SessionID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create session", s.logger)
			return
		}
		req.SessionID = id.String()
	}

	// Turns within one session run strictly in order; concurrent
	// requests for the same session queue here.
	unlock := s.sessions.lock(req.SessionID)
	defer unlock()

	s.hub.broadcast(streamEvent{
		Type:      "turn_started",
		SessionID: req.SessionID,
		UserID:    req.UserID,
	})

	start := time.Now()
	answer, err := s.runner.Run(r.Context(), req.SessionID, req.UserID, req.Prompt)
	if err != nil {
		s.logger.Error("chat turn failed", "session_id", req.SessionID, "error", err)
		s.hub.broadcast(streamEvent{
			Type:      "turn_failed",
			SessionID: req.SessionID,
			UserID:    req.UserID,
			Error:     err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "turn failed", s.logger)
		return
	}

	s.hub.broadcast(streamEvent{
		Type:      "turn_completed",
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Duration:  time.Since(start).String(),
	})

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{SessionID: req.SessionID, Response: answer}, s.logger)
}

// DeleteUserDataRequest is the DELETE /api/user-data body.
type DeleteUserDataRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleDeleteUserData(w http.ResponseWriter, r *http.Request) {
	var req DeleteUserDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", s.logger)
		return
	}

	deleted, err := s.cleaner.ClearUserData(r.Context(), req.UserID)
	if err != nil {
		s.logger.Error("user data removal failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "removal failed", s.logger)
		return
	}

	s.logger.Info("user data removed", "user_id", req.UserID, "messages", deleted)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"status": "deleted", "messages_deleted": deleted}, s.logger)
}

// sessionLocks serializes turns per session id.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

func (sl *sessionLocks) lock(sessionID string) (unlock func()) {
	sl.mu.Lock()
	m, ok := sl.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		sl.locks[sessionID] = m
	}
	sl.mu.Unlock()

	m.Lock()
	return m.Unlock
}
