package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashdown/steward-ai-agent/internal/tools"
)

// identityProp is the schema stanza shared by every task tool.
func identityProp() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Acting user, injected by the runtime",
	}
}

// RegisterTools adds the task tools to a registry.
func RegisterTools(r *tools.Registry, store *Store) {
	r.Register(&tools.Tool{
		Name:        "add_task",
		Description: "Create a new task for the user. Use when the user asks to remember, track, or schedule something to do.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Short description of the task",
				},
				"notes": map[string]any{
					"type":        "string",
					"description": "Optional longer details",
				},
				"priority": map[string]any{
					"type":        "string",
					"description": "low, normal, or high (default normal)",
				},
				"due": map[string]any{
					"type":        "string",
					"description": "Optional due date in RFC 3339 or YYYY-MM-DD form",
				},
				tools.IdentityParam: identityProp(),
			},
			"required": []string{"title", tools.IdentityParam},
		},
		Handler: func(_ context.Context, args map[string]any) (tools.Result, error) {
			userID, _ := args[tools.IdentityParam].(string)
			title, _ := args["title"].(string)
			notes, _ := args["notes"].(string)

			priority := parsePriority(args["priority"])
			due, err := parseDue(args["due"])
			if err != nil {
				return tools.Result{}, err
			}

			id, err := store.Add(userID, title, notes, priority, due)
			if err != nil {
				return tools.Result{}, err
			}
			return tools.TextResult(fmt.Sprintf("Created task %d: %s", id, title)), nil
		},
	})

	r.Register(&tools.Tool{
		Name:        "list_tasks",
		Description: "List the user's tasks, most pressing first.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"include_done": map[string]any{
					"type":        "boolean",
					"description": "Include completed tasks (default false)",
				},
				tools.IdentityParam: identityProp(),
			},
			"required": []string{tools.IdentityParam},
		},
		Handler: func(_ context.Context, args map[string]any) (tools.Result, error) {
			userID, _ := args[tools.IdentityParam].(string)
			includeDone, _ := args["include_done"].(bool)

			list, err := store.List(userID, includeDone)
			if err != nil {
				return tools.Result{}, err
			}
			if len(list) == 0 {
				return tools.TextResult("No tasks found."), nil
			}

			var sb strings.Builder
			for _, t := range list {
				sb.WriteString(formatTask(t))
				sb.WriteString("\n")
			}
			return tools.TextResult(strings.TrimRight(sb.String(), "\n")), nil
		},
	})

	r.Register(&tools.Tool{
		Name:        "get_next_task",
		Description: "Get the user's single most pressing pending task, by priority and due date.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				tools.IdentityParam: identityProp(),
			},
			"required": []string{tools.IdentityParam},
		},
		Handler: func(_ context.Context, args map[string]any) (tools.Result, error) {
			userID, _ := args[tools.IdentityParam].(string)
			t, err := store.Next(userID)
			if err != nil {
				return tools.Result{}, err
			}
			if t == nil {
				return tools.TextResult("No pending tasks."), nil
			}
			return tools.TextResult(formatTask(*t)), nil
		},
	})

	r.Register(&tools.Tool{
		Name:        "complete_task",
		Description: "Mark a task as done by its ID.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{
					"type":        "integer",
					"description": "The task ID",
				},
				tools.IdentityParam: identityProp(),
			},
			"required": []string{"id", tools.IdentityParam},
		},
		Handler: func(_ context.Context, args map[string]any) (tools.Result, error) {
			userID, _ := args[tools.IdentityParam].(string)
			id, ok := taskID(args["id"])
			if !ok {
				return tools.Result{}, errors.New("id is required")
			}
			if err := store.Complete(userID, id); err != nil {
				return tools.Result{}, err
			}
			return tools.TextResult(fmt.Sprintf("Task %d completed.", id)), nil
		},
	})

	r.Register(&tools.Tool{
		Name:        "delete_task",
		Description: "Delete a task by its ID.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{
					"type":        "integer",
					"description": "The task ID",
				},
				tools.IdentityParam: identityProp(),
			},
			"required": []string{"id", tools.IdentityParam},
		},
		Handler: func(_ context.Context, args map[string]any) (tools.Result, error) {
			userID, _ := args[tools.IdentityParam].(string)
			id, ok := taskID(args["id"])
			if !ok {
				return tools.Result{}, errors.New("id is required")
			}
			if err := store.Delete(userID, id); err != nil {
				return tools.Result{}, err
			}
			return tools.TextResult(fmt.Sprintf("Task %d deleted.", id)), nil
		},
	})
}

func formatTask(t Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d] %s (priority: %s", t.ID, t.Title, priorityName(t.Priority))
	if t.Due != nil {
		fmt.Fprintf(&sb, ", due: %s", t.Due.Format("2006-01-02"))
	}
	sb.WriteString(")")
	if t.Done {
		sb.WriteString(" [done]")
	}
	if t.Notes != "" {
		sb.WriteString(" - ")
		sb.WriteString(t.Notes)
	}
	return sb.String()
}

func priorityName(p int) string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

func parsePriority(v any) int {
	switch s := v.(type) {
	case string:
		switch strings.ToLower(s) {
		case "low":
			return PriorityLow
		case "high":
			return PriorityHigh
		}
	case float64:
		return int(s)
	}
	return PriorityNormal
}

func parseDue(v any) (*time.Time, error) {
	s, _ := v.(string)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("could not parse due date %q", s)
}

// taskID tolerates the number forms JSON decoding produces.
func taskID(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}
