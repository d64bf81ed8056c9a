package mail

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ashdown/steward-ai-agent/internal/tools"
)

func newMailRegistry() *tools.Registry {
	r := tools.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Client is never dialed in these tests; only argument handling
	// and formatting paths run.
	RegisterTools(r, NewClient(IMAPConfig{Host: "imap.example.com", Port: 993}, logger),
		SMTPConfig{Host: "smtp.example.com", Port: 587, StartTLS: true},
		"steward@example.com")
	return r
}

func TestMailToolsRegistered(t *testing.T) {
	r := newMailRegistry()
	for _, name := range []string{"search_mail", "read_mail", "send_mail"} {
		if r.Get(name) == nil {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestSearchMailRejectsBadSinceDate(t *testing.T) {
	r := newMailRegistry()
	_, err := r.Dispatch(t.Context(), "search_mail", map[string]any{
		"since": "next tuesday",
	}, "alice@example.com")
	if err == nil {
		t.Fatal("expected error for unparseable since date")
	}
	if !strings.Contains(err.Error(), "YYYY-MM-DD") {
		t.Errorf("error should mention expected format, got: %v", err)
	}
}

func TestReadMailRequiresUID(t *testing.T) {
	r := newMailRegistry()
	_, err := r.Dispatch(t.Context(), "read_mail", map[string]any{}, "alice@example.com")
	if err == nil || !strings.Contains(err.Error(), "uid is required") {
		t.Fatalf("expected uid is required error, got: %v", err)
	}
}

func TestSendMailRequiresRecipientAndSubject(t *testing.T) {
	r := newMailRegistry()

	_, err := r.Dispatch(t.Context(), "send_mail", map[string]any{
		"subject": "Hi",
		"body":    "Hello",
	}, "alice@example.com")
	if err == nil || !strings.Contains(err.Error(), "recipient") {
		t.Fatalf("expected recipient error, got: %v", err)
	}

	_, err = r.Dispatch(t.Context(), "send_mail", map[string]any{
		"to":   []any{"bob@example.com"},
		"body": "Hello",
	}, "alice@example.com")
	if err == nil || !strings.Contains(err.Error(), "subject") {
		t.Fatalf("expected subject error, got: %v", err)
	}
}

func TestFormatEnvelopeList(t *testing.T) {
	got := formatEnvelopeList([]Envelope{
		{
			UID:     42,
			Subject: "Invoice overdue",
			From:    "billing@example.com",
			Date:    time.Date(2026, 8, 30, 9, 15, 0, 0, time.UTC),
			Flags:   []string{"\\Seen"},
		},
	})

	for _, want := range []string{
		"Found 1 message(s):",
		"UID: 42",
		"From: billing@example.com",
		"Subject: Invoice overdue",
		"Date: 2026-08-30 09:15",
		"Flags: \\Seen",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("formatEnvelopeList missing %q in:\n%s", want, got)
		}
	}
}

func TestFormatMessage(t *testing.T) {
	msg := &Message{
		Envelope: Envelope{
			UID:     7,
			Subject: "Hello",
			From:    "alice@example.com",
			To:      []string{"steward@example.com"},
			Date:    time.Date(2026, 8, 30, 9, 15, 0, 0, time.UTC),
		},
		Body:      "Body text here.",
		Truncated: true,
	}

	got := formatMessage(msg)
	for _, want := range []string{
		"From: alice@example.com",
		"To: steward@example.com",
		"Subject: Hello",
		"Body text here.",
		"(message truncated)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("formatMessage missing %q in:\n%s", want, got)
		}
	}

	empty := formatMessage(&Message{Envelope: Envelope{From: "a@b.c"}})
	if !strings.Contains(empty, "[No text content available]") {
		t.Error("empty body should produce placeholder text")
	}
}
