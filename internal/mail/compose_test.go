package mail

import (
	"strings"
	"testing"
)

func TestMarkdownToPlain(t *testing.T) {
	tests := []struct {
		name string
		md   string
		want string
	}{
		{
			name: "bold",
			md:   "This is **bold** text",
			want: "This is bold text",
		},
		{
			name: "italic",
			md:   "This is *italic* text",
			want: "This is italic text",
		},
		{
			name: "link",
			md:   "Visit [Example](https://example.com) now",
			want: "Visit Example (https://example.com) now",
		},
		{
			name: "heading",
			md:   "## Section Title\n\nSome text",
			want: "Section Title\n\nSome text",
		},
		{
			name: "inline code",
			md:   "Use the `json.Marshal` function",
			want: "Use the json.Marshal function",
		},
		{
			name: "image",
			md:   "See ![alt text](https://example.com/img.png) here",
			want: "See alt text here",
		},
		{
			name: "list items preserved",
			md:   "- item one\n- item two",
			want: "- item one\n- item two",
		},
		{
			name: "plain text unchanged",
			md:   "Just some regular text.",
			want: "Just some regular text.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := markdownToPlain(tt.md)
			if got != tt.want {
				t.Errorf("markdownToPlain(%q) =\n  %q\nwant\n  %q", tt.md, got, tt.want)
			}
		})
	}
}

func TestMarkdownToHTML(t *testing.T) {
	html, err := markdownToHTML("Hello **world**")
	if err != nil {
		t.Fatalf("markdownToHTML() error: %v", err)
	}

	if !strings.Contains(html, "<strong>world</strong>") {
		t.Error("HTML should contain <strong> tag for bold")
	}
	if !strings.Contains(html, "<!DOCTYPE html>") {
		t.Error("HTML should have DOCTYPE wrapper")
	}
	if !strings.Contains(html, `charset="utf-8"`) {
		t.Error("HTML should declare utf-8 charset")
	}
}

func TestCompose(t *testing.T) {
	msg, err := Compose(ComposeOptions{
		From:    "Steward <steward@example.com>",
		To:      []string{"recipient@example.com"},
		Subject: "Weekly summary",
		Body:    "Hello **world**",
	})
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	s := string(msg)

	// go-message quotes display names: From: "Steward" <steward@example.com>.
	if !strings.Contains(s, "From:") || !strings.Contains(s, "steward@example.com") {
		t.Errorf("message should contain From header with address, got headers:\n%s", s[:min(len(s), 500)])
	}
	if !strings.Contains(s, "To:") || !strings.Contains(s, "recipient@example.com") {
		t.Errorf("message should contain To header with address, got headers:\n%s", s[:min(len(s), 500)])
	}
	if !strings.Contains(s, "Subject: Weekly summary") {
		t.Error("message should contain Subject header")
	}
	if !strings.Contains(s, "Message-Id:") {
		t.Error("message should contain Message-Id header")
	}
	if !strings.Contains(s, "Date:") {
		t.Error("message should contain Date header")
	}

	if !strings.Contains(s, "multipart/alternative") {
		t.Error("message should be multipart/alternative")
	}
	if !strings.Contains(s, "text/plain") {
		t.Error("message should contain text/plain part")
	}
	if !strings.Contains(s, "text/html") {
		t.Error("message should contain text/html part")
	}
}

func TestComposeReplyThreading(t *testing.T) {
	msg, err := Compose(ComposeOptions{
		From:      "steward@example.com",
		To:        []string{"recipient@example.com"},
		Subject:   "Re: Original Subject",
		Body:      "Reply body",
		InReplyTo: "abc123@example.com",
	})
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	s := string(msg)
	if !strings.Contains(s, "In-Reply-To:") {
		t.Error("reply message should contain In-Reply-To header")
	}
	if !strings.Contains(s, "References:") {
		t.Error("reply message should contain References header")
	}
}

func TestComposeWithCc(t *testing.T) {
	msg, err := Compose(ComposeOptions{
		From:    "steward@example.com",
		To:      []string{"to@example.com"},
		Cc:      []string{"cc@example.com"},
		Subject: "Test",
		Body:    "Body",
	})
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	if !strings.Contains(string(msg), "Cc:") {
		t.Error("message should contain Cc header")
	}
}

func TestComposeInvalidAddress(t *testing.T) {
	_, err := Compose(ComposeOptions{
		From:    "steward@example.com",
		To:      []string{"not an address"},
		Subject: "Test",
		Body:    "Body",
	})
	if err == nil {
		t.Fatal("Compose() should reject an unparseable recipient")
	}
}
