package agent

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	refPattern = regexp.MustCompile(`\[REF\].*?\[/REF\]`)
	urlPattern = regexp.MustCompile(`https?://[^\s<>()\[\]"']+`)
)

// Postprocess cleans a final answer before it reaches the user:
// internal [REF] citation markers are stripped, and when the answer
// contains bare URLs without a sources section, one is appended naming
// each URL by its host.
func Postprocess(content string) string {
	content = refPattern.ReplaceAllString(content, "")
	content = strings.TrimSpace(content)

	if strings.Contains(content, "**Sources:**") {
		return content
	}

	urls := urlPattern.FindAllString(content, -1)
	if len(urls) == 0 {
		return content
	}

	var sb strings.Builder
	sb.WriteString(content)
	sb.WriteString("\n\n**Sources:**\n")
	seen := make(map[string]bool, len(urls))
	for _, raw := range urls {
		raw = strings.TrimRight(raw, ".,;:")
		if seen[raw] {
			continue
		}
		seen[raw] = true
		fmt.Fprintf(&sb, "- [%s](%s)\n", displayName(raw), raw)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// displayName derives a readable label from a URL's host: the
// registrable part of "www.example.com" becomes "Example".
func displayName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if i := strings.Index(host, "."); i > 0 {
		host = host[:i]
	}
	if host == "" {
		return raw
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
