package tools

import (
	"context"
	"errors"
	"testing"
)

func echoTool(name string, withIdentity bool) *Tool {
	props := map[string]any{
		"query": map[string]any{"type": "string"},
	}
	required := []string{"query"}
	if withIdentity {
		props[IdentityParam] = map[string]any{"type": "string"}
		required = append(required, IdentityParam)
	}
	return &Tool{
		Name:        name,
		Description: "echoes its arguments",
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
		Handler: func(_ context.Context, args map[string]any) (Result, error) {
			id, _ := args[IdentityParam].(string)
			q, _ := args["query"].(string)
			return TextResult(q + "|" + id), nil
		},
	}
}

func TestDispatchInjectsIdentity(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo", true))

	args := map[string]any{"query": "hello"}
	res, err := r.Dispatch(t.Context(), "echo", args, "alice@example.com")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Text != "hello|alice@example.com" {
		t.Errorf("got %q, want identity injected", res.Text)
	}
	if _, leaked := args[IdentityParam]; leaked {
		t.Error("caller's args map was mutated")
	}
}

func TestDispatchSkipsIdentityWhenUndeclared(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo", false))

	res, err := r.Dispatch(t.Context(), "echo", map[string]any{"query": "hi"}, "alice@example.com")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Text != "hi|" {
		t.Errorf("got %q, want no identity for undeclared param", res.Text)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(t.Context(), "missing", nil, "alice@example.com")

	var unavailable *ErrToolUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("got %v, want ErrToolUnavailable", err)
	}
	if unavailable.ToolName != "missing" {
		t.Errorf("got tool name %q", unavailable.ToolName)
	}
}

func TestSchemasStripIdentity(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo", true))

	schemas := r.Schemas()
	if len(schemas) != 1 {
		t.Fatalf("got %d schemas, want 1", len(schemas))
	}
	fn := schemas[0]["function"].(map[string]any)
	params := fn["parameters"].(map[string]any)
	props := params["properties"].(map[string]any)
	if _, present := props[IdentityParam]; present {
		t.Error("identity parameter advertised to the model")
	}
	for _, req := range params["required"].([]string) {
		if req == IdentityParam {
			t.Error("identity parameter still required")
		}
	}

	// The registered tool keeps its full schema.
	origProps := r.Get("echo").Parameters["properties"].(map[string]any)
	if _, present := origProps[IdentityParam]; !present {
		t.Error("stripping mutated the registered tool's schema")
	}
}

func TestMountFallthrough(t *testing.T) {
	primary := NewRegistry()
	primary.Register(echoTool("echo", false))

	fetch := NewRegistry()
	fetch.Register(&Tool{
		Name:        "fetch",
		Description: "fetches a page",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(context.Context, map[string]any) (Result, error) {
			return Result{Parts: []Part{
				{Type: "text", Text: "first part"},
				{Type: "image", Text: "ignored"},
				{Type: "text", Text: "second part"},
			}}, nil
		},
	})
	primary.Mount(fetch)

	res, err := primary.Dispatch(t.Context(), "fetch", nil, "")
	if err != nil {
		t.Fatalf("dispatch via mount: %v", err)
	}
	if got := res.Flatten(); got != "first part\nsecond part" {
		t.Errorf("Flatten() = %q", got)
	}

	if len(primary.Schemas()) != 2 {
		t.Errorf("mounted tools missing from schemas")
	}
}

func TestFlattenPlainText(t *testing.T) {
	if got := TextResult("just text").Flatten(); got != "just text" {
		t.Errorf("Flatten() = %q", got)
	}
}
