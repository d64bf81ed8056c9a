// Package contacts provides CardDAV address book lookup so the agent
// can resolve names to email addresses.
package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/carddav"
)

// Contact is a single address book entry.
type Contact struct {
	Name   string
	Emails []string
	Phones []string
}

// Client talks to one CardDAV address book collection.
type Client struct {
	dav    *carddav.Client
	path   string
	logger *slog.Logger
}

// New creates a client for the address book at rawURL. Basic auth is
// used when username is non-empty.
func New(rawURL, username, password string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse contacts URL: %w", err)
	}

	var hc webdav.HTTPClient = http.DefaultClient
	if username != "" {
		hc = webdav.HTTPClientWithBasicAuth(http.DefaultClient, username, password)
	}

	dav, err := carddav.NewClient(hc, rawURL)
	if err != nil {
		return nil, fmt.Errorf("create CardDAV client: %w", err)
	}

	return &Client{dav: dav, path: u.Path, logger: logger}, nil
}

// Find returns contacts whose formatted name contains query, sorted by
// name.
func (c *Client) Find(ctx context.Context, query string) ([]Contact, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	q := &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{
			Props: []string{
				vcard.FieldFormattedName,
				vcard.FieldEmail,
				vcard.FieldTelephone,
			},
		},
		PropFilters: []carddav.PropFilter{{
			Name:        vcard.FieldFormattedName,
			TextMatches: []carddav.TextMatch{{Text: query}},
		}},
	}

	objects, err := c.dav.QueryAddressBook(ctx, c.path, q)
	if err != nil {
		return nil, fmt.Errorf("query address book: %w", err)
	}

	var contacts []Contact
	for _, obj := range objects {
		contact := contactFromCard(obj.Card)
		if contact.Name == "" && len(contact.Emails) == 0 {
			continue
		}
		contacts = append(contacts, contact)
	}

	sort.Slice(contacts, func(i, j int) bool { return contacts[i].Name < contacts[j].Name })
	return contacts, nil
}

func contactFromCard(card vcard.Card) Contact {
	contact := Contact{
		Name:   card.PreferredValue(vcard.FieldFormattedName),
		Emails: dedupe(card.Values(vcard.FieldEmail)),
		Phones: dedupe(card.Values(vcard.FieldTelephone)),
	}
	return contact
}

func dedupe(values []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
