package fetch

import (
	"context"
	"fmt"

	"github.com/ashdown/steward-ai-agent/internal/tools"
)

// Registry returns the content-fetch backend as a standalone tool
// registry, meant to be mounted behind the primary one.
func Registry(f *Fetcher) *tools.Registry {
	r := tools.NewRegistry()
	r.Register(&tools.Tool{
		Name:        "fetch",
		Description: "Fetch a web page and return its readable text content. Use for research, news, and looking up current information.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "URL to fetch and extract content from",
				},
				"max_chars": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Maximum characters to return (default %d)", DefaultMaxChars),
				},
			},
			"required": []string{"url"},
		},
		Handler: handler(f),
	})
	return r
}

func handler(f *Fetcher) tools.Handler {
	return func(ctx context.Context, args map[string]any) (tools.Result, error) {
		url, _ := args["url"].(string)
		if url == "" {
			return tools.Result{}, fmt.Errorf("fetch: url is required")
		}

		maxChars := 0
		if mc, ok := args["max_chars"].(float64); ok && mc > 0 {
			maxChars = int(mc)
		}

		page, err := f.Fetch(ctx, url, maxChars)
		if err != nil {
			return tools.Result{}, err
		}

		parts := []tools.Part{
			{Type: "text", Text: fmt.Sprintf("Source: %s\nTitle: %s", page.URL, page.Title)},
			{Type: "text", Text: page.Content},
		}
		if page.Truncated {
			parts = append(parts, tools.Part{Type: "text", Text: "(content truncated)"})
		}
		return tools.Result{Parts: parts}, nil
	}
}
