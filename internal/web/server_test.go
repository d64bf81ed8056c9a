package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/ashdown/steward-ai-agent/internal/config"
)

type stubRunner struct {
	mu      sync.Mutex
	running int
	overlap bool
	answer  string
	err     error
	delay   time.Duration
}

func (r *stubRunner) Run(_ context.Context, sessionID, identity, query string) (string, error) {
	r.mu.Lock()
	r.running++
	if r.running > 1 {
		r.overlap = true
	}
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.running--
	r.mu.Unlock()

	if r.err != nil {
		return "", r.err
	}
	if r.answer != "" {
		return r.answer, nil
	}
	return fmt.Sprintf("echo %s", query), nil
}

type stubCleaner struct {
	deleted map[string]int
	err     error
}

func (c *stubCleaner) ClearUserData(_ context.Context, userID string) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.deleted[userID], nil
}

func newTestServer(t *testing.T, cfg config.ListenConfig, runner Runner, cleaner Cleaner) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(cfg, runner, cleaner, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postChat(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/chat", "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("POST /api/chat: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestChatTurn(t *testing.T) {
	ts := newTestServer(t, config.ListenConfig{}, &stubRunner{}, &stubCleaner{})

	resp := postChat(t, ts, `{"session_id": "s1", "user_id": "alice@example.com", "prompt": "hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SessionID != "s1" {
		t.Errorf("session_id = %q, want s1", out.SessionID)
	}
	if out.Response != "echo hi" {
		t.Errorf("response = %q", out.Response)
	}
}

func TestChatGeneratesSessionID(t *testing.T) {
	ts := newTestServer(t, config.ListenConfig{}, &stubRunner{}, &stubCleaner{})

	resp := postChat(t, ts, `{"user_id": "alice@example.com", "prompt": "hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SessionID == "" {
		t.Error("expected a generated session_id")
	}
}

func TestChatValidation(t *testing.T) {
	ts := newTestServer(t, config.ListenConfig{}, &stubRunner{}, &stubCleaner{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{`},
		{"missing prompt", `{"user_id": "alice@example.com"}`},
		{"blank prompt", `{"user_id": "alice@example.com", "prompt": "  "}`},
		{"missing user_id", `{"prompt": "hi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postChat(t, ts, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestChatRunnerFailure(t *testing.T) {
	ts := newTestServer(t, config.ListenConfig{}, &stubRunner{err: fmt.Errorf("model exploded")}, &stubCleaner{})

	resp := postChat(t, ts, `{"session_id": "s1", "user_id": "alice@example.com", "prompt": "hi"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestChatSerializesSessions(t *testing.T) {
	runner := &stubRunner{delay: 20 * time.Millisecond}
	ts := newTestServer(t, config.ListenConfig{}, runner, &stubCleaner{})

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := postChat(t, ts, `{"session_id": "shared", "user_id": "alice@example.com", "prompt": "hi"}`)
			io.Copy(io.Discard, resp.Body)
		}()
	}
	wg.Wait()

	if runner.overlap {
		t.Error("turns for the same session ran concurrently")
	}
}

func TestBearerAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	ts := newTestServer(t, config.ListenConfig{TokenHash: string(hash)}, &stubRunner{}, &stubCleaner{})

	body := `{"session_id": "s1", "user_id": "alice@example.com", "prompt": "hi"}`

	do := func(token string) int {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/chat", strings.NewReader(body))
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode
	}

	if got := do(""); got != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", got)
	}
	if got := do("wrong"); got != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", got)
	}
	if got := do("sesame"); got != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", got)
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	ts := newTestServer(t, config.ListenConfig{TokenHash: string(hash)}, &stubRunner{}, &stubCleaner{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestDeleteUserData(t *testing.T) {
	cleaner := &stubCleaner{deleted: map[string]int{"alice@example.com": 12}}
	ts := newTestServer(t, config.ListenConfig{}, &stubRunner{}, cleaner)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/user-data",
		strings.NewReader(`{"user_id": "alice@example.com"}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "deleted" {
		t.Errorf("status field = %v", out["status"])
	}
	if n, _ := out["messages_deleted"].(float64); int(n) != 12 {
		t.Errorf("messages_deleted = %v, want 12", out["messages_deleted"])
	}
}

func TestDeleteUserDataRequiresUserID(t *testing.T) {
	ts := newTestServer(t, config.ListenConfig{}, &stubRunner{}, &stubCleaner{})

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/user-data", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamReceivesTurnEvents(t *testing.T) {
	ts := newTestServer(t, config.ListenConfig{}, &stubRunner{}, &stubCleaner{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/chat/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Give the handler a moment to register the subscription.
	time.Sleep(50 * time.Millisecond)

	postChat(t, ts, `{"session_id": "s1", "user_id": "alice@example.com", "prompt": "hi"}`)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var started, completed streamEvent
	if err := conn.ReadJSON(&started); err != nil {
		t.Fatalf("read turn_started: %v", err)
	}
	if err := conn.ReadJSON(&completed); err != nil {
		t.Fatalf("read turn_completed: %v", err)
	}

	if started.Type != "turn_started" || started.SessionID != "s1" {
		t.Errorf("first event = %+v", started)
	}
	if completed.Type != "turn_completed" || completed.Duration == "" {
		t.Errorf("second event = %+v", completed)
	}
}
