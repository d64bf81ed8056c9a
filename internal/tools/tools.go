// Package tools defines the tools available to the agent and the
// registry that dispatches model-requested calls to them.
package tools

import (
	"context"
	"fmt"
	"strings"
)

// IdentityParam is the argument carrying the acting user's identity.
// It is injected by the dispatcher at call time and stripped from the
// schemas advertised to the model, so the model can neither see nor
// spoof it.
const IdentityParam = "user_id"

// Part is one piece of a structured tool result.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is what a tool handler returns. Simple tools set Text;
// backends that produce structured content set Parts instead.
type Result struct {
	Text  string
	Parts []Part
}

// Flatten renders a result as the single text block that goes into the
// tool response message. Non-text parts are skipped.
func (r Result) Flatten() string {
	if len(r.Parts) == 0 {
		return r.Text
	}
	var texts []string
	for _, p := range r.Parts {
		if p.Type != "" && p.Type != "text" {
			continue
		}
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// TextResult wraps plain text as a Result.
func TextResult(text string) Result {
	return Result{Text: text}
}

// Handler executes one tool call. The args map includes IdentityParam
// when the tool declares it.
type Handler func(ctx context.Context, args map[string]any) (Result, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// ErrToolUnavailable is returned when a call targets a tool that no
// configured backend provides. This is a capability mismatch, not a
// transient failure; callers should not retry.
type ErrToolUnavailable struct {
	ToolName string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// Registry holds available tools. Secondary backends (a content-fetch
// server, for instance) are mounted as further registries consulted in
// order when a name is not found locally.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	mounts []*Registry
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Mount attaches a secondary backend. Lookups fall through to mounts
// in attachment order.
func (r *Registry) Mount(backend *Registry) {
	r.mounts = append(r.mounts, backend)
}

// Get retrieves a tool by name across this registry and its mounts.
func (r *Registry) Get(name string) *Tool {
	if t, ok := r.tools[name]; ok {
		return t
	}
	for _, m := range r.mounts {
		if t := m.Get(name); t != nil {
			return t
		}
	}
	return nil
}

// Schemas returns every tool in OpenAI function format, with the
// identity parameter stripped so it never reaches the model.
func (r *Registry) Schemas() []map[string]any {
	var result []map[string]any
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  stripIdentity(t.Parameters),
			},
		})
	}
	for _, m := range r.mounts {
		result = append(result, m.Schemas()...)
	}
	return result
}

// Dispatch runs the named tool. The caller's args map is never
// mutated; identity is injected into a copy when the tool declares the
// identity parameter.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any, identity string) (Result, error) {
	tool := r.Get(name)
	if tool == nil {
		return Result{}, &ErrToolUnavailable{ToolName: name}
	}

	callArgs := make(map[string]any, len(args)+1)
	for k, v := range args {
		callArgs[k] = v
	}
	if identity != "" && declaresIdentity(tool.Parameters) {
		callArgs[IdentityParam] = identity
	}

	return tool.Handler(ctx, callArgs)
}

func declaresIdentity(params map[string]any) bool {
	props, ok := params["properties"].(map[string]any)
	if !ok {
		return false
	}
	_, ok = props[IdentityParam]
	return ok
}

// stripIdentity deep-copies a parameter schema with the identity
// property and its required entry removed.
func stripIdentity(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}

	if props, ok := params["properties"].(map[string]any); ok {
		cleaned := make(map[string]any, len(props))
		for k, v := range props {
			if k == IdentityParam {
				continue
			}
			cleaned[k] = v
		}
		out["properties"] = cleaned
	}

	if required, ok := params["required"].([]string); ok {
		var cleaned []string
		for _, k := range required {
			if k != IdentityParam {
				cleaned = append(cleaned, k)
			}
		}
		out["required"] = cleaned
	}

	return out
}
