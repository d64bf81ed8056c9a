// Package summarizer folds chunks of transcript into a rolling
// conversation summary via the chat model.
package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashdown/steward-ai-agent/internal/llm"
)

const summaryPrompt = `Please provide a concise summary of the following conversation.
The summary should capture the key points, decisions, and action items.
Do not add any preamble like "Here is the summary". Just provide the summary directly.

Conversation:
---
%s
---`

type Manager struct {
	client llm.Client
	model  string
}

func New(client llm.Client, model string) *Manager {
	return &Manager{client: client, model: model}
}

// Summarize folds the previous summary and a chunk of new transcript
// into a fresh summary. Callers keep the old summary when this fails.
func (m *Manager) Summarize(ctx context.Context, previous string, recent []llm.Message) (string, error) {
	if len(recent) == 0 {
		return previous, nil
	}

	var sb strings.Builder
	sb.WriteString("Previous summary:\n")
	sb.WriteString(previous)
	sb.WriteString("\n\nNew conversation turns:\n")
	for _, msg := range recent {
		if msg.Content == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
	}

	resp, err := m.client.Chat(ctx, m.model, []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(summaryPrompt, sb.String())},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("summarizing conversation: %w", err)
	}
	return strings.TrimSpace(resp.Message.Content), nil
}
