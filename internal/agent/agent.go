// Package agent drives the conversation turn: it assembles context,
// calls the model, dispatches requested tool calls, and persists the
// finished turn back into memory.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashdown/steward-ai-agent/internal/instructions"
	"github.com/ashdown/steward-ai-agent/internal/llm"
	"github.com/ashdown/steward-ai-agent/internal/tools"
)

const defaultMaxSteps = 5

// TurnInfo describes a finished turn for observers.
type TurnInfo struct {
	SessionID string
	Identity  string
	Steps     int
	Duration  time.Duration
}

// Memory is the per-user context assembly surface the agent needs.
type Memory interface {
	GetContext(ctx context.Context, sessionID, userQuery string) ([]llm.Message, error)
	SaveNewMessages(ctx context.Context, sessionID string, msgs []llm.Message) error
}

// MemoryFunc resolves the memory tier set for a user.
type MemoryFunc func(userID string) (Memory, error)

// Agent runs conversation turns against one model with one tool
// registry. It is safe for concurrent use across sessions; callers
// serialize turns within a session.
type Agent struct {
	logger   *slog.Logger
	client   llm.Client
	model    string
	registry *tools.Registry
	memory   MemoryFunc
	retry    llm.RetryPolicy
	maxSteps int
	onTurn   func(context.Context, TurnInfo)
}

// Config wires an Agent.
type Config struct {
	Client   llm.Client
	Model    string
	Registry *tools.Registry
	Memory   MemoryFunc
	Retry    llm.RetryPolicy
	MaxSteps int
	// OnTurn, when set, is invoked after every completed turn. It runs
	// on the request goroutine, so observers should return quickly.
	OnTurn func(context.Context, TurnInfo)
}

func New(cfg Config, logger *slog.Logger) *Agent {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	return &Agent{
		logger:   logger,
		client:   cfg.Client,
		model:    cfg.Model,
		registry: cfg.Registry,
		memory:   cfg.Memory,
		retry:    cfg.Retry,
		maxSteps: maxSteps,
		onTurn:   cfg.OnTurn,
	}
}

// Run executes one conversation turn for the given session and user.
// The turn loops between model calls and tool dispatch until the model
// answers without tool calls or the step budget runs out. On budget
// exhaustion the last assistant content is returned rather than an
// error, so the user always gets something back.
func (a *Agent) Run(ctx context.Context, sessionID, identity, userQuery string) (string, error) {
	mem, err := a.memory(identity)
	if err != nil {
		return "", fmt.Errorf("resolving memory for %s: %w", identity, err)
	}

	live, err := mem.GetContext(ctx, sessionID, userQuery)
	if err != nil {
		return "", fmt.Errorf("assembling context: %w", err)
	}

	start := time.Now()
	userMsg := llm.Message{Role: llm.RoleUser, Content: userQuery}
	live = append(live, userMsg)

	// The turn buffer holds only messages produced this turn; it is
	// what gets persisted, so reloaded context is never re-saved.
	buffer := []llm.Message{userMsg}

	schemas := a.registry.Schemas()

	for step := range a.maxSteps {
		resp, err := llm.WithRetry(ctx, a.logger, a.retry, func(ctx context.Context) (*llm.ChatResponse, error) {
			return a.client.Chat(ctx, a.model, live, schemas)
		})
		if err != nil {
			return "", fmt.Errorf("model call failed (step %d): %w", step, err)
		}

		live = append(live, resp.Message)
		buffer = append(buffer, resp.Message)

		if len(resp.Message.ToolCalls) == 0 {
			a.persist(ctx, mem, sessionID, buffer)
			a.logger.Debug("turn complete",
				"session_id", sessionID, "steps", step+1)
			a.notifyTurn(ctx, sessionID, identity, step+1, start)
			return Postprocess(resp.Message.Content), nil
		}

		for _, tc := range resp.Message.ToolCalls {
			response := a.executeToolCall(ctx, tc, identity)
			live = append(live, response)
			buffer = append(buffer, response)
		}
	}

	a.logger.Warn("step budget exhausted",
		"session_id", sessionID, "max_steps", a.maxSteps)
	a.persist(ctx, mem, sessionID, buffer)
	a.notifyTurn(ctx, sessionID, identity, a.maxSteps, start)
	return Postprocess(lastAssistantContent(live)), nil
}

func (a *Agent) notifyTurn(ctx context.Context, sessionID, identity string, steps int, start time.Time) {
	if a.onTurn == nil {
		return
	}
	a.onTurn(ctx, TurnInfo{
		SessionID: sessionID,
		Identity:  identity,
		Steps:     steps,
		Duration:  time.Since(start),
	})
}

// executeToolCall dispatches one call and always produces a tool
// response carrying the call's ID, so the call/response pairing holds
// even when the tool fails.
func (a *Agent) executeToolCall(ctx context.Context, tc llm.ToolCall, identity string) llm.Message {
	a.logger.Info("tool call", "tool", tc.Function.Name)

	result, err := a.registry.Dispatch(ctx, tc.Function.Name, tc.Function.Arguments, identity)
	content := result.Flatten()
	if err != nil {
		a.logger.Error("tool call failed", "tool", tc.Function.Name, "error", err)
		content = fmt.Sprintf("Error executing tool %s: %v", tc.Function.Name, err)
		if f, ok := instructions.Get(instructions.ErrorHandlingFragment); ok {
			content += "\n\n" + f.Body
		}
	}

	return llm.Message{
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: tc.ID,
		Name:       tc.Function.Name,
	}
}

// persist saves the turn buffer. A storage failure costs memory of the
// turn but not the answer already in hand.
func (a *Agent) persist(ctx context.Context, mem Memory, sessionID string, buffer []llm.Message) {
	if err := mem.SaveNewMessages(ctx, sessionID, buffer); err != nil {
		a.logger.Error("persisting turn", "session_id", sessionID, "error", err)
	}
}

func lastAssistantContent(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleAssistant && msgs[i].Content != "" {
			return msgs[i].Content
		}
	}
	return "I could not complete the request within the allowed number of steps."
}
