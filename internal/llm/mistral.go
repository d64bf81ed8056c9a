package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashdown/steward-ai-agent/internal/httpkit"
)

// MistralClient talks to Mistral's OpenAI-compatible chat completions API.
type MistralClient struct {
	baseURL    string
	apiKey     string
	logger     *slog.Logger
	httpClient *http.Client
}

// NewMistralClient creates a Mistral client. baseURL defaults to the
// public API root when empty.
func NewMistralClient(baseURL, apiKey string, logger *slog.Logger) *MistralClient {
	if baseURL == "" {
		baseURL = "https://api.mistral.ai"
	}
	return &MistralClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		logger:  logger,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(5 * time.Minute), // tool-heavy completions take time
		),
	}
}

// APIError is a non-2xx response from the provider. Callers inspect
// StatusCode to decide whether the failure is retryable.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether the error is a 404-class APIError. Callers
// configured to treat missing sub-resources as "no data" branch on this
// instead of failing the turn.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return asAPIError(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Wire types for the OpenAI-compatible chat endpoint. Arguments travel
// as a JSON-encoded string on the wire; the neutral ToolCall carries a
// decoded map.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []wireMessage    `json:"messages"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

type chatCompletion struct {
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends a chat completion request.
func (c *MistralClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	req := chatRequest{
		Model:    model,
		Messages: toWire(messages),
		Tools:    tools,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if c.logger != nil {
		c.logger.Log(ctx, slog.Level(-8), "chat request payload", "bytes", len(body))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, 512),
		}
	}

	var completion chatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices")
	}

	msg, err := fromWire(completion.Choices[0].Message)
	if err != nil {
		return nil, err
	}

	return &ChatResponse{
		Model:        completion.Model,
		CreatedAt:    time.Unix(completion.Created, 0),
		Message:      msg,
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
	}, nil
}

// Ping checks reachability by listing models.
func (c *MistralClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping: status %d", resp.StatusCode)
	}
	return nil
}

func toWire(messages []Message) []wireMessage {
	out := make([]wireMessage, len(messages))
	for i, m := range messages {
		w := wireMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			var wtc wireToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Function.Name
			args := "{}"
			if tc.Function.Arguments != nil {
				if b, err := json.Marshal(tc.Function.Arguments); err == nil {
					args = string(b)
				}
			}
			wtc.Function.Arguments = args
			w.ToolCalls = append(w.ToolCalls, wtc)
		}
		out[i] = w
	}
	return out
}

func fromWire(w wireMessage) (Message, error) {
	m := Message{
		Role:       w.Role,
		Content:    w.Content,
		ToolCallID: w.ToolCallID,
		Name:       w.Name,
	}
	for _, wtc := range w.ToolCalls {
		args := map[string]any{}
		if wtc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(wtc.Function.Arguments), &args); err != nil {
				return Message{}, fmt.Errorf("decode tool call arguments for %s: %w", wtc.Function.Name, err)
			}
		}
		m.ToolCalls = append(m.ToolCalls, NewToolCall(wtc.ID, wtc.Function.Name, args))
	}
	return m, nil
}
