// Package web implements the HTTP API: a chat endpoint, a websocket
// stream of turn lifecycle events, and user data removal.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ashdown/steward-ai-agent/internal/buildinfo"
	"github.com/ashdown/steward-ai-agent/internal/config"
)

// Runner executes one conversation turn.
type Runner interface {
	Run(ctx context.Context, sessionID, identity, userQuery string) (string, error)
}

// Cleaner removes all stored data for a user and reports how many
// history messages were deleted.
type Cleaner interface {
	ClearUserData(ctx context.Context, userID string) (int, error)
}

// Server is the HTTP API server.
type Server struct {
	cfg      config.ListenConfig
	runner   Runner
	cleaner  Cleaner
	logger   *slog.Logger
	server   *http.Server
	sessions *sessionLocks
	hub      *hub
}

// NewServer creates the API server. Authentication is enabled when the
// config carries a token hash.
func NewServer(cfg config.ListenConfig, runner Runner, cleaner Cleaner, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		runner:   runner,
		cleaner:  cleaner,
		logger:   logger,
		sessions: newSessionLocks(),
		hub:      newHub(logger),
	}
}

// Handler builds the route table. Split from Start so tests can drive
// the server through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.requireAuth(s.handleChat))
	mux.HandleFunc("GET /api/chat/stream", s.requireAuth(s.handleStream))
	mux.HandleFunc("DELETE /api/user-data", s.requireAuth(s.handleDeleteUserData))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // turns can run several model calls
	}

	s.logger.Info("starting API server", "address", s.cfg.Address, "port", s.cfg.Port,
		"auth", s.cfg.TokenHash != "")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// requireAuth checks the bearer token against the configured bcrypt
// hash. An empty hash disables authentication.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.TokenHash == "" {
			next(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token", s.logger)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.TokenHash), []byte(token)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token", s.logger)
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Steward",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": msg}, logger)
}
