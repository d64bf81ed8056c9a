package contacts

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashdown/steward-ai-agent/internal/tools"
)

// RegisterTools adds the contact lookup tool to the registry.
func RegisterTools(r *tools.Registry, client *Client) {
	r.Register(&tools.Tool{
		Name:        "find_contact",
		Description: "Look up a person in the address book by name and return their email addresses and phone numbers.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Full or partial name to search for",
				},
				tools.IdentityParam: map[string]any{"type": "string"},
			},
			"required": []string{"name"},
		},
		Handler: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			name, _ := args["name"].(string)
			if strings.TrimSpace(name) == "" {
				return tools.Result{}, fmt.Errorf("name is required")
			}

			contacts, err := client.Find(ctx, name)
			if err != nil {
				return tools.Result{}, err
			}
			if len(contacts) == 0 {
				return tools.TextResult(fmt.Sprintf("No contacts found matching %q.", name)), nil
			}
			return tools.TextResult(formatContactList(contacts)), nil
		},
	})
}

func formatContactList(contacts []Contact) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d contact(s):\n", len(contacts)))
	for _, c := range contacts {
		sb.WriteString("\n- " + c.Name)
		if len(c.Emails) > 0 {
			sb.WriteString("\n  Email: " + strings.Join(c.Emails, ", "))
		}
		if len(c.Phones) > 0 {
			sb.WriteString("\n  Phone: " + strings.Join(c.Phones, ", "))
		}
	}
	return sb.String()
}
