package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashdown/steward-ai-agent/internal/tools"
)

// RegisterTools adds the mail tools to the registry. The client covers
// the IMAP side; smtpCfg and from cover outbound delivery.
func RegisterTools(r *tools.Registry, client *Client, smtpCfg SMTPConfig, from string) {
	r.Register(&tools.Tool{
		Name:        "search_mail",
		Description: "Search the mailbox for messages. All filters are optional; with none set, returns the most recent messages.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Free-text search across message contents",
				},
				"from": map[string]any{
					"type":        "string",
					"description": "Sender address or name to match",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "Only messages on or after this date (YYYY-MM-DD)",
				},
				"unseen": map[string]any{
					"type":        "boolean",
					"description": "Only unread messages",
				},
				"folder": map[string]any{
					"type":        "string",
					"description": "Mailbox folder, defaults to INBOX",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results, defaults to 20",
				},
				tools.IdentityParam: map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			opts := SearchOptions{
				Folder: stringArg(args, "folder"),
				Query:  stringArg(args, "query"),
				From:   stringArg(args, "from"),
				Unseen: boolArg(args, "unseen"),
				Limit:  intArg(args, "limit"),
			}
			if s := stringArg(args, "since"); s != "" {
				t, err := time.Parse("2006-01-02", s)
				if err != nil {
					return tools.Result{}, fmt.Errorf("invalid since date %q, expected YYYY-MM-DD", s)
				}
				opts.Since = t
			}

			envelopes, err := client.Search(ctx, opts)
			if err != nil {
				return tools.Result{}, err
			}
			if len(envelopes) == 0 {
				return tools.TextResult("No messages match the search criteria."), nil
			}
			return tools.TextResult(formatEnvelopeList(envelopes)), nil
		},
	})

	r.Register(&tools.Tool{
		Name:        "read_mail",
		Description: "Read a single email message by its UID, as returned by search_mail.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"uid": map[string]any{
					"type":        "integer",
					"description": "Message UID from a previous search",
				},
				"folder": map[string]any{
					"type":        "string",
					"description": "Mailbox folder, defaults to INBOX",
				},
				tools.IdentityParam: map[string]any{"type": "string"},
			},
			"required": []string{"uid"},
		},
		Handler: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			uid := uint32(intArg(args, "uid"))
			if uid == 0 {
				return tools.Result{}, fmt.Errorf("uid is required")
			}
			msg, err := client.Read(ctx, stringArg(args, "folder"), uid)
			if err != nil {
				return tools.Result{}, err
			}
			return tools.TextResult(formatMessage(msg)), nil
		},
	})

	r.Register(&tools.Tool{
		Name:        "send_mail",
		Description: "Compose and send an email. The body is markdown and is delivered as both plain text and HTML.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Recipient addresses",
				},
				"cc": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Carbon-copy addresses",
				},
				"subject": map[string]any{
					"type":        "string",
					"description": "Message subject",
				},
				"body": map[string]any{
					"type":        "string",
					"description": "Message body in markdown",
				},
				"in_reply_to": map[string]any{
					"type":        "string",
					"description": "Message-ID of the message being replied to",
				},
				tools.IdentityParam: map[string]any{"type": "string"},
			},
			"required": []string{"to", "subject", "body"},
		},
		Handler: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			to := stringSliceArg(args, "to")
			if len(to) == 0 {
				return tools.Result{}, fmt.Errorf("at least one recipient is required")
			}
			subject := stringArg(args, "subject")
			if subject == "" {
				return tools.Result{}, fmt.Errorf("subject is required")
			}

			opts := ComposeOptions{
				From:      from,
				To:        to,
				Cc:        stringSliceArg(args, "cc"),
				Subject:   subject,
				Body:      stringArg(args, "body"),
				InReplyTo: stringArg(args, "in_reply_to"),
			}
			msg, err := Compose(opts)
			if err != nil {
				return tools.Result{}, err
			}

			recipients := collectRecipients(opts.To, opts.Cc)
			if err := Send(ctx, smtpCfg, from, recipients, msg); err != nil {
				return tools.Result{}, err
			}
			return tools.TextResult(fmt.Sprintf("Email sent to %s.", strings.Join(to, ", "))), nil
		},
	})
}

func formatEnvelopeList(envelopes []Envelope) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d message(s):\n\n", len(envelopes)))
	for _, env := range envelopes {
		sb.WriteString(fmt.Sprintf("UID: %d\n", env.UID))
		sb.WriteString(fmt.Sprintf("From: %s\n", env.From))
		sb.WriteString(fmt.Sprintf("Subject: %s\n", env.Subject))
		sb.WriteString(fmt.Sprintf("Date: %s\n", env.Date.Format("2006-01-02 15:04")))
		if len(env.Flags) > 0 {
			sb.WriteString(fmt.Sprintf("Flags: %s\n", strings.Join(env.Flags, ", ")))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatMessage(msg *Message) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("From: %s\n", msg.From))
	sb.WriteString(fmt.Sprintf("To: %s\n", strings.Join(msg.To, ", ")))
	sb.WriteString(fmt.Sprintf("Subject: %s\n", msg.Subject))
	sb.WriteString(fmt.Sprintf("Date: %s\n", msg.Date.Format("2006-01-02 15:04 MST")))
	sb.WriteString("\n---\n\n")
	if msg.Body != "" {
		sb.WriteString(msg.Body)
	} else {
		sb.WriteString("[No text content available]")
	}
	if msg.Truncated {
		sb.WriteString("\n\n(message truncated)")
	}
	return sb.String()
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return 0
}

func boolArg(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
