package history

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/ashdown/steward-ai-agent/internal/llm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestAppendAndTail(t *testing.T) {
	s := newTestStore(t)

	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "first"},
		{Role: llm.RoleAssistant, Content: "second"},
		{Role: llm.RoleUser, Content: "third"},
	}
	if err := s.Append("s1", "u1", msgs); err != nil {
		t.Fatalf("append: %v", err)
	}

	tail, err := s.Tail("s1", 2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("got %d messages, want 2", len(tail))
	}
	if tail[0].Content != "second" || tail[1].Content != "third" {
		t.Errorf("tail out of order: %q, %q", tail[0].Content, tail[1].Content)
	}
}

func TestTailLargerThanLog(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("s1", "u1", []llm.Message{{Role: llm.RoleUser, Content: "only"}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	tail, err := s.Tail("s1", 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(tail) != 1 {
		t.Errorf("got %d messages, want 1", len(tail))
	}
}

func TestTailPreservesToolCalls(t *testing.T) {
	s := newTestStore(t)

	asst := llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{llm.NewToolCall("call_1", "get_next_task", map[string]any{"user_id": "u1"})},
	}
	toolResp := llm.Message{Role: llm.RoleTool, Content: "Next task: Pay invoice", ToolCallID: "call_1", Name: "get_next_task"}

	if err := s.Append("s1", "u1", []llm.Message{asst, toolResp}); err != nil {
		t.Fatalf("append: %v", err)
	}

	tail, err := s.Tail("s1", 2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(tail[0].ToolCalls) != 1 || tail[0].ToolCalls[0].ID != "call_1" {
		t.Errorf("tool calls not preserved: %+v", tail[0])
	}
	if tail[1].ToolCallID != "call_1" {
		t.Errorf("tool_call_id not preserved: %+v", tail[1])
	}
}

func TestCount(t *testing.T) {
	s := newTestStore(t)

	count, err := s.Count("s1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("got %d, want 0", count)
	}

	for range 3 {
		if err := s.Append("s1", "u1", []llm.Message{{Role: llm.RoleUser, Content: "x"}}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	count, err = s.Count("s1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("got %d, want 3", count)
	}
}

func TestSummary(t *testing.T) {
	s := newTestStore(t)

	summary, err := s.Summary("s1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary != "" {
		t.Errorf("expected empty summary, got %q", summary)
	}

	if err := s.SetSummary("s1", "talked about invoices"); err != nil {
		t.Fatalf("set summary: %v", err)
	}
	if err := s.SetSummary("s1", "talked about invoices and travel"); err != nil {
		t.Fatalf("overwrite summary: %v", err)
	}

	summary, err = s.Summary("s1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary != "talked about invoices and travel" {
		t.Errorf("got %q", summary)
	}
}

func TestWatermark(t *testing.T) {
	s := newTestStore(t)

	cursor, err := s.Watermark("u1")
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if cursor != "" {
		t.Errorf("expected empty cursor, got %q", cursor)
	}

	if err := s.SetWatermark("u1", "hist-4711"); err != nil {
		t.Fatalf("set watermark: %v", err)
	}

	cursor, err = s.Watermark("u1")
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if cursor != "hist-4711" {
		t.Errorf("got %q, want hist-4711", cursor)
	}
}

func TestDeleteUserData(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("s1", "u1", []llm.Message{{Role: llm.RoleUser, Content: "a"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append("s2", "u1", []llm.Message{{Role: llm.RoleUser, Content: "b"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append("s3", "u2", []llm.Message{{Role: llm.RoleUser, Content: "c"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.SetSummary("s1", "sum"); err != nil {
		t.Fatalf("set summary: %v", err)
	}
	if err := s.SetWatermark("u1", "w"); err != nil {
		t.Fatalf("set watermark: %v", err)
	}

	deleted, err := s.DeleteUserData("u1")
	if err != nil {
		t.Fatalf("delete user data: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted %d sessions, want 2", deleted)
	}

	if tail, _ := s.Tail("s1", 10); len(tail) != 0 {
		t.Errorf("s1 messages survived deletion")
	}
	if summary, _ := s.Summary("s1"); summary != "" {
		t.Errorf("s1 summary survived deletion")
	}
	if cursor, _ := s.Watermark("u1"); cursor != "" {
		t.Errorf("watermark survived deletion")
	}

	// Other users are untouched.
	if tail, _ := s.Tail("s3", 10); len(tail) != 1 {
		t.Errorf("u2 data was deleted")
	}
}
