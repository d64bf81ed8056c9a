package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashdown/steward-ai-agent/internal/tools"
)

const defaultListWindow = 7 * 24 * time.Hour

// RegisterTools adds the calendar tools to the registry.
func RegisterTools(r *tools.Registry, client *Client) {
	r.Register(&tools.Tool{
		Name:        "list_events",
		Description: "List calendar events in a date range. Without arguments, lists the next 7 days.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start": map[string]any{
					"type":        "string",
					"description": "Range start (YYYY-MM-DD or RFC3339), defaults to now",
				},
				"end": map[string]any{
					"type":        "string",
					"description": "Range end (YYYY-MM-DD or RFC3339), defaults to 7 days after start",
				},
				tools.IdentityParam: map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			from := time.Now().UTC()
			if s, _ := args["start"].(string); s != "" {
				t, err := parseWhen(s)
				if err != nil {
					return tools.Result{}, err
				}
				from = t
			}
			to := from.Add(defaultListWindow)
			if s, _ := args["end"].(string); s != "" {
				t, err := parseWhen(s)
				if err != nil {
					return tools.Result{}, err
				}
				to = t
			}
			if !to.After(from) {
				return tools.Result{}, fmt.Errorf("end must be after start")
			}

			events, err := client.ListEvents(ctx, from, to)
			if err != nil {
				return tools.Result{}, err
			}
			if len(events) == 0 {
				return tools.TextResult(fmt.Sprintf("No events between %s and %s.",
					from.Format("2006-01-02"), to.Format("2006-01-02"))), nil
			}
			return tools.TextResult(formatEventList(events)), nil
		},
	})

	r.Register(&tools.Tool{
		Name:        "create_event",
		Description: "Create a calendar event. Times without an end default to a one hour duration.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{
					"type":        "string",
					"description": "Event title",
				},
				"start": map[string]any{
					"type":        "string",
					"description": "Start time (RFC3339 or YYYY-MM-DD)",
				},
				"end": map[string]any{
					"type":        "string",
					"description": "End time (RFC3339 or YYYY-MM-DD)",
				},
				"location": map[string]any{
					"type":        "string",
					"description": "Where the event takes place",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Longer free-form notes",
				},
				tools.IdentityParam: map[string]any{"type": "string"},
			},
			"required": []string{"summary", "start"},
		},
		Handler: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			summary, _ := args["summary"].(string)
			if summary == "" {
				return tools.Result{}, fmt.Errorf("summary is required")
			}
			startStr, _ := args["start"].(string)
			if startStr == "" {
				return tools.Result{}, fmt.Errorf("start is required")
			}
			start, err := parseWhen(startStr)
			if err != nil {
				return tools.Result{}, err
			}

			ev := Event{
				Summary:     summary,
				Start:       start,
				Location:    stringOr(args, "location"),
				Description: stringOr(args, "description"),
			}
			if s := stringOr(args, "end"); s != "" {
				end, err := parseWhen(s)
				if err != nil {
					return tools.Result{}, err
				}
				ev.End = end
			}

			created, err := client.CreateEvent(ctx, ev)
			if err != nil {
				return tools.Result{}, err
			}
			return tools.TextResult(fmt.Sprintf("Event %q created for %s (UID %s).",
				created.Summary, created.Start.Format("2006-01-02 15:04"), created.UID)), nil
		},
	})
}

// parseWhen accepts RFC3339 timestamps and bare dates.
func parseWhen(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q, expected RFC3339 or YYYY-MM-DD", s)
}

func stringOr(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func formatEventList(events []Event) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d event(s):\n", len(events)))
	for _, ev := range events {
		sb.WriteString(fmt.Sprintf("\n- %s\n  %s", ev.Summary, ev.Start.Format("2006-01-02 15:04")))
		if !ev.End.IsZero() {
			sb.WriteString(" to " + ev.End.Format("15:04"))
		}
		if ev.Location != "" {
			sb.WriteString("\n  Location: " + ev.Location)
		}
	}
	return sb.String()
}
