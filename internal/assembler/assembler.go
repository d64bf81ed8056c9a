// Package assembler builds the prompt context for each model call from
// the memory tiers (recent transcript, semantic recall, rolling
// summary, instruction fragments) and persists finished turns back
// into them.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashdown/steward-ai-agent/internal/instructions"
	"github.com/ashdown/steward-ai-agent/internal/llm"
)

// HistoryStore is the short-term transcript tier.
type HistoryStore interface {
	Append(sessionID, userID string, msgs []llm.Message) error
	Tail(sessionID string, n int) ([]llm.Message, error)
	Count(sessionID string) (int, error)
	Summary(sessionID string) (string, error)
	SetSummary(sessionID, content string) error
	DeleteUserData(userID string) (int, error)
}

// VectorStore is the semantic recall tier.
type VectorStore interface {
	AddDocuments(ctx context.Context, documents []string) error
	Search(ctx context.Context, query string, k int, maxDistance float64) ([]string, error)
	Clear() error
}

// Summarizer folds transcript chunks into the rolling summary.
type Summarizer interface {
	Summarize(ctx context.Context, previous string, recent []llm.Message) (string, error)
}

// FragmentSelector picks instruction fragments for a query.
type FragmentSelector interface {
	Select(ctx context.Context, query string) []string
}

// Config holds the assembler tunables.
type Config struct {
	// WindowSize is how many recent messages go into the prompt verbatim.
	WindowSize int
	// RetrievalK is how many semantic recall snippets to fetch.
	RetrievalK int
	// RetrievalMaxDistance drops recall results farther than this.
	RetrievalMaxDistance float64
	// SummaryInterval is the message count between summary rewrites.
	SummaryInterval int
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		WindowSize:           10,
		RetrievalK:           3,
		RetrievalMaxDistance: 0.9,
		SummaryInterval:      20,
	}
}

// Assembler serves one user. Sessions belong to that user; the vector
// store underneath is already scoped to them.
type Assembler struct {
	history    HistoryStore
	vectors    VectorStore
	selector   FragmentSelector
	summarizer Summarizer
	userID     string
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

func New(history HistoryStore, vectors VectorStore, selector FragmentSelector, summarizer Summarizer, userID string, cfg Config, logger *slog.Logger) *Assembler {
	return &Assembler{
		history:    history,
		vectors:    vectors,
		selector:   selector,
		summarizer: summarizer,
		userID:     userID,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// GetContext builds the full ordered prompt for a model call: system
// instructions, an informational user message wrapping the summary and
// recall snippets, then the recent transcript window. The result is
// rebuilt from the stores on every call.
func (a *Assembler) GetContext(ctx context.Context, sessionID, userQuery string) ([]llm.Message, error) {
	var messages []llm.Message

	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: a.systemPrompt(ctx, userQuery),
	})

	summary, err := a.history.Summary(sessionID)
	if err != nil {
		a.logger.Warn("reading summary", "session_id", sessionID, "error", err)
	}
	if summary == "" {
		summary = "No summary yet."
	}

	snippets, err := a.vectors.Search(ctx, userQuery, a.cfg.RetrievalK, a.cfg.RetrievalMaxDistance)
	if err != nil {
		a.logger.Warn("semantic recall failed", "session_id", sessionID, "error", err)
	}

	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: informationalContext(summary, snippets),
	})

	// The window is cut from a larger superset so a leading tool
	// response can be re-paired with the assistant call that produced it.
	superset, err := a.history.Tail(sessionID, a.cfg.WindowSize*3)
	if err != nil {
		return nil, fmt.Errorf("reading recent history: %w", err)
	}
	window := superset
	if len(window) > a.cfg.WindowSize {
		window = window[len(window)-a.cfg.WindowSize:]
	}
	window = fixToolAlignment(window, superset)
	a.logger.Debug("assembled transcript window", "session_id", sessionID, "messages", len(window))

	messages = append(messages, window...)
	return a.validateIntegrity(messages), nil
}

func (a *Assembler) systemPrompt(ctx context.Context, userQuery string) string {
	sections := []string{
		instructions.BasePrompt +
			"\n\n**CURRENT DATETIME:** " + a.now().UTC().Format("2006-01-02 15:04:05") + " UTC",
	}
	if strings.TrimSpace(userQuery) != "" {
		for _, name := range a.selector.Select(ctx, userQuery) {
			if f, ok := instructions.Get(name); ok {
				sections = append(sections, f.Body)
			}
		}
	}
	return strings.Join(sections, "\n\n")
}

func informationalContext(summary string, snippets []string) string {
	var sb strings.Builder
	sb.WriteString("Please use the following context to inform your response:\n")
	sb.WriteString("--- Conversation Summary ---\n")
	sb.WriteString(summary)
	sb.WriteString("\n\n--- Relevant Historical Messages (from long-term memory) ---\n")
	if len(snippets) == 0 {
		sb.WriteString("No specific relevant information found in long-term memory.")
	} else {
		for i, s := range snippets {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString("- ")
			sb.WriteString(s)
		}
	}
	return sb.String()
}

// fixToolAlignment repairs a window whose cut landed between an
// assistant tool call and its responses. When the window opens on a
// tool message, the originating assistant message is pulled in from the
// superset; if it cannot be found the orphan is dropped.
func fixToolAlignment(window, superset []llm.Message) []llm.Message {
	if len(window) == 0 || window[0].Role != llm.RoleTool {
		return window
	}

	wantID := window[0].ToolCallID
	for _, msg := range superset {
		if msg.Role != llm.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}
		for _, tc := range msg.ToolCalls {
			if tc.ID == wantID {
				return append([]llm.Message{msg}, window...)
			}
		}
	}
	return window[1:]
}

// validateIntegrity drops any message that would break the 1:1 tool
// call/response pairing: an assistant tool-call message missing some of
// its responses goes, along with the partial responses that follow it,
// and tool responses with no preceding call go too.
func (a *Assembler) validateIntegrity(msgs []llm.Message) []llm.Message {
	var out []llm.Message
	i := 0
	for i < len(msgs) {
		msg := msgs[i]

		switch {
		case msg.Role == llm.RoleAssistant && len(msg.ToolCalls) > 0:
			wanted := make(map[string]bool, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				wanted[tc.ID] = true
			}

			found := make(map[string]bool, len(wanted))
			j := i + 1
			for j < len(msgs) && msgs[j].Role == llm.RoleTool {
				if wanted[msgs[j].ToolCallID] {
					found[msgs[j].ToolCallID] = true
				}
				j++
			}

			if len(found) == len(wanted) {
				out = append(out, msgs[i:j]...)
			} else {
				a.logger.Warn("dropping assistant message with incomplete tool responses",
					"expected", len(wanted), "found", len(found))
			}
			i = j

		case msg.Role == llm.RoleTool:
			a.logger.Warn("dropping orphaned tool response", "tool_call_id", msg.ToolCallID)
			i++

		default:
			out = append(out, msg)
			i++
		}
	}
	return out
}

// SaveNewMessages persists a finished turn. The transcript append is
// the one operation that must succeed; embedding and summarization
// degrade to warnings so a flaky model or embedder never loses history.
func (a *Assembler) SaveNewMessages(ctx context.Context, sessionID string, msgs []llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	if err := a.history.Append(sessionID, a.userID, msgs); err != nil {
		return fmt.Errorf("appending history: %w", err)
	}

	var docs []string
	for _, msg := range msgs {
		if msg.Content == "" {
			continue
		}
		if msg.Role != llm.RoleUser && msg.Role != llm.RoleAssistant {
			continue
		}
		docs = append(docs, msg.Role+": "+msg.Content)
	}
	if len(docs) > 0 {
		if err := a.vectors.AddDocuments(ctx, docs); err != nil {
			a.logger.Warn("indexing messages for recall", "session_id", sessionID, "error", err)
		}
	}

	count, err := a.history.Count(sessionID)
	if err != nil {
		a.logger.Warn("counting messages", "session_id", sessionID, "error", err)
		return nil
	}
	if count > 0 && count%a.cfg.SummaryInterval == 0 {
		a.updateSummary(ctx, sessionID)
	}
	return nil
}

func (a *Assembler) updateSummary(ctx context.Context, sessionID string) {
	previous, err := a.history.Summary(sessionID)
	if err != nil {
		a.logger.Warn("reading summary before update", "session_id", sessionID, "error", err)
		return
	}
	recent, err := a.history.Tail(sessionID, a.cfg.SummaryInterval)
	if err != nil {
		a.logger.Warn("reading chunk to summarize", "session_id", sessionID, "error", err)
		return
	}

	summary, err := a.summarizer.Summarize(ctx, previous, recent)
	if err != nil {
		// Keep the old summary rather than storing a failure message.
		a.logger.Warn("summarization failed, keeping previous summary",
			"session_id", sessionID, "error", err)
		return
	}
	if err := a.history.SetSummary(sessionID, summary); err != nil {
		a.logger.Warn("storing summary", "session_id", sessionID, "error", err)
		return
	}
	a.logger.Info("conversation summary updated", "session_id", sessionID)
}

// ClearUserData purges the user's memory tiers: semantic recall index
// and all transcript sessions, summaries, and metadata. It reports the
// number of history rows removed.
func (a *Assembler) ClearUserData(ctx context.Context) (int, error) {
	if err := a.vectors.Clear(); err != nil {
		return 0, fmt.Errorf("clearing vector store: %w", err)
	}
	deleted, err := a.history.DeleteUserData(a.userID)
	if err != nil {
		return 0, fmt.Errorf("deleting history: %w", err)
	}
	a.logger.Info("user memory cleared", "user_id", a.userID, "history_rows", deleted)
	return deleted, nil
}
