package agent

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ashdown/steward-ai-agent/internal/llm"
	"github.com/ashdown/steward-ai-agent/internal/tools"
)

// scriptedClient replays canned responses, optionally erroring first.
type scriptedClient struct {
	responses []*llm.ChatResponse
	errs      []error
	calls     int
	lastMsgs  []llm.Message
	lastTools []map[string]any
}

func (c *scriptedClient) Chat(_ context.Context, _ string, messages []llm.Message, toolDefs []map[string]any) (*llm.ChatResponse, error) {
	c.calls++
	c.lastMsgs = messages
	c.lastTools = toolDefs

	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(c.responses) == 0 {
		return nil, io.EOF
	}
	resp := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return resp, nil
}

func (c *scriptedClient) Ping(context.Context) error { return nil }

type recordedSave struct {
	sessionID string
	msgs      []llm.Message
}

type fakeMemory struct {
	context []llm.Message
	saves   []recordedSave
}

func (m *fakeMemory) GetContext(_ context.Context, _, _ string) ([]llm.Message, error) {
	return append([]llm.Message(nil), m.context...), nil
}

func (m *fakeMemory) SaveNewMessages(_ context.Context, sessionID string, msgs []llm.Message) error {
	m.saves = append(m.saves, recordedSave{sessionID: sessionID, msgs: msgs})
	return nil
}

func assistantReply(content string) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: content}}
}

func toolCallReply(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: calls}}
}

func newTestAgent(client llm.Client, registry *tools.Registry, mem *fakeMemory) *Agent {
	return New(Config{
		Client:   client,
		Model:    "mistral-small-latest",
		Registry: registry,
		Memory:   func(string) (Memory, error) { return mem, nil },
		Retry: llm.RetryPolicy{
			MaxAttempts: 3,
			BaseWait:    time.Millisecond,
			Retryable:   llm.IsTransient,
		},
		MaxSteps: 5,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func taskRegistry(t *testing.T, gotIdentity *string) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	r.Register(&tools.Tool{
		Name:        "get_next_task",
		Description: "Returns the user's highest priority task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				tools.IdentityParam: map[string]any{"type": "string"},
			},
			"required": []string{tools.IdentityParam},
		},
		Handler: func(_ context.Context, args map[string]any) (tools.Result, error) {
			*gotIdentity, _ = args[tools.IdentityParam].(string)
			return tools.TextResult("Pay the invoice (due Friday)"), nil
		},
	})
	return r
}

func TestRunSimpleTurn(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{assistantReply("Hello! How can I help?")}}
	mem := &fakeMemory{context: []llm.Message{{Role: llm.RoleSystem, Content: "base"}}}
	a := newTestAgent(client, tools.NewRegistry(), mem)

	answer, err := a.Run(t.Context(), "s1", "alice@example.com", "hi")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if answer != "Hello! How can I help?" {
		t.Errorf("answer = %q", answer)
	}
	if client.calls != 1 {
		t.Errorf("model called %d times", client.calls)
	}

	if len(mem.saves) != 1 {
		t.Fatalf("saves = %d, want 1", len(mem.saves))
	}
	saved := mem.saves[0].msgs
	if len(saved) != 2 || saved[0].Role != llm.RoleUser || saved[1].Role != llm.RoleAssistant {
		t.Errorf("saved buffer wrong: %+v", saved)
	}

	// Only new-turn messages are persisted, never the reloaded context.
	for _, msg := range saved {
		if msg.Role == llm.RoleSystem {
			t.Error("assembled context leaked into persistence")
		}
	}
}

func TestRunToolCallTurn(t *testing.T) {
	var gotIdentity string
	registry := taskRegistry(t, &gotIdentity)

	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolCallReply(llm.NewToolCall("call_1", "get_next_task", map[string]any{})),
		assistantReply("Your next task is to pay the invoice."),
	}}
	mem := &fakeMemory{}
	a := newTestAgent(client, registry, mem)

	answer, err := a.Run(t.Context(), "s1", "alice@example.com", "what's next?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if answer != "Your next task is to pay the invoice." {
		t.Errorf("answer = %q", answer)
	}
	if gotIdentity != "alice@example.com" {
		t.Errorf("tool saw identity %q", gotIdentity)
	}

	if len(mem.saves) != 1 {
		t.Fatalf("saves = %d, want 1", len(mem.saves))
	}
	saved := mem.saves[0].msgs
	wantRoles := []string{llm.RoleUser, llm.RoleAssistant, llm.RoleTool, llm.RoleAssistant}
	if len(saved) != len(wantRoles) {
		t.Fatalf("buffer has %d messages, want %d: %+v", len(saved), len(wantRoles), saved)
	}
	for i, role := range wantRoles {
		if saved[i].Role != role {
			t.Errorf("buffer[%d].Role = %q, want %q", i, saved[i].Role, role)
		}
	}
	if saved[2].ToolCallID != "call_1" {
		t.Errorf("tool response ID = %q", saved[2].ToolCallID)
	}
	if saved[2].Content != "Pay the invoice (due Friday)" {
		t.Errorf("tool response content = %q", saved[2].Content)
	}

	// The model never sees the identity parameter.
	for _, schema := range client.lastTools {
		fn := schema["function"].(map[string]any)
		props := fn["parameters"].(map[string]any)["properties"].(map[string]any)
		if _, leaked := props[tools.IdentityParam]; leaked {
			t.Error("identity parameter advertised to the model")
		}
	}
}

func TestRunToolFailureSynthesizesResponse(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolCallReply(llm.NewToolCall("call_9", "no_such_tool", nil)),
		assistantReply("Sorry, that tool is not available."),
	}}
	mem := &fakeMemory{}
	a := newTestAgent(client, tools.NewRegistry(), mem)

	answer, err := a.Run(t.Context(), "s1", "alice@example.com", "do the thing")
	if err != nil {
		t.Fatalf("turn must survive a tool failure: %v", err)
	}
	if answer != "Sorry, that tool is not available." {
		t.Errorf("answer = %q", answer)
	}

	saved := mem.saves[0].msgs
	if len(saved) != 4 {
		t.Fatalf("buffer has %d messages: %+v", len(saved), saved)
	}
	failure := saved[2]
	if failure.Role != llm.RoleTool || failure.ToolCallID != "call_9" {
		t.Errorf("synthesized response mispaired: %+v", failure)
	}
	if !strings.Contains(failure.Content, "Error executing tool no_such_tool") {
		t.Errorf("failure message missing: %q", failure.Content)
	}
	if !strings.Contains(failure.Content, "recover gracefully") {
		t.Errorf("recovery guidance missing: %q", failure.Content)
	}
}

func TestRunStepBudgetExhaustion(t *testing.T) {
	// The model asks for a tool on every step and never answers.
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolCallReply(llm.NewToolCall("call_x", "no_such_tool", nil)),
	}}
	mem := &fakeMemory{}
	a := newTestAgent(client, tools.NewRegistry(), mem)

	answer, err := a.Run(t.Context(), "s1", "alice@example.com", "loop forever")
	if err != nil {
		t.Fatalf("exhaustion must not error: %v", err)
	}
	if client.calls != 5 {
		t.Errorf("model called %d times, want exactly the step budget", client.calls)
	}
	if answer == "" {
		t.Error("expected degraded answer, got empty string")
	}
	if len(mem.saves) != 1 {
		t.Errorf("turn buffer not persisted on exhaustion")
	}
	// 1 user + 5 * (assistant + tool response)
	if got := len(mem.saves[0].msgs); got != 11 {
		t.Errorf("buffer has %d messages, want 11", got)
	}
}

func TestRunRetriesTransientModelError(t *testing.T) {
	client := &scriptedClient{
		errs:      []error{&llm.APIError{StatusCode: 429, Body: "slow down"}},
		responses: []*llm.ChatResponse{assistantReply("recovered")},
	}
	mem := &fakeMemory{}
	a := newTestAgent(client, tools.NewRegistry(), mem)

	answer, err := a.Run(t.Context(), "s1", "alice@example.com", "hi")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if answer != "recovered" {
		t.Errorf("answer = %q", answer)
	}
	if client.calls != 2 {
		t.Errorf("model called %d times, want retry then success", client.calls)
	}
}

func TestRunReportsTurnInfo(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{assistantReply("Done.")}}
	mem := &fakeMemory{}

	var got TurnInfo
	a := New(Config{
		Client:   client,
		Model:    "mistral-small-latest",
		Registry: tools.NewRegistry(),
		Memory:   func(string) (Memory, error) { return mem, nil },
		Retry:    llm.RetryPolicy{MaxAttempts: 1, BaseWait: time.Millisecond},
		MaxSteps: 5,
		OnTurn:   func(_ context.Context, info TurnInfo) { got = info },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := a.Run(t.Context(), "s9", "alice@example.com", "hi"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.SessionID != "s9" || got.Identity != "alice@example.com" {
		t.Errorf("turn info = %+v", got)
	}
	if got.Steps != 1 {
		t.Errorf("steps = %d, want 1", got.Steps)
	}
}
