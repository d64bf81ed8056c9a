// Package calendar provides CalDAV access to a single calendar
// collection: listing events in a window and creating new ones.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

// Event is a single calendar entry.
type Event struct {
	UID         string
	Summary     string
	Location    string
	Description string
	Start       time.Time
	End         time.Time
}

// Client talks to one CalDAV calendar collection.
type Client struct {
	dav    *caldav.Client
	path   string // collection path on the server
	logger *slog.Logger
}

// New creates a client for the calendar collection at rawURL. Basic
// auth is used when username is non-empty.
func New(rawURL, username, password string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse calendar URL: %w", err)
	}

	var hc webdav.HTTPClient = http.DefaultClient
	if username != "" {
		hc = webdav.HTTPClientWithBasicAuth(http.DefaultClient, username, password)
	}

	dav, err := caldav.NewClient(hc, rawURL)
	if err != nil {
		return nil, fmt.Errorf("create CalDAV client: %w", err)
	}

	return &Client{dav: dav, path: u.Path, logger: logger}, nil
}

// ListEvents returns events overlapping [from, to), sorted by start
// time.
func (c *Client) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{
				Name:     "VEVENT",
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: from,
				End:   to,
			}},
		},
	}

	objects, err := c.dav.QueryCalendar(ctx, c.path, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	var events []Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		parsed, err := eventsFromCalendar(obj.Data)
		if err != nil {
			c.logger.Warn("skipping unparseable calendar object", "path", obj.Path, "error", err)
			continue
		}
		events = append(events, parsed...)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}

// CreateEvent stores a new event in the collection and returns it with
// the generated UID filled in.
func (c *Client) CreateEvent(ctx context.Context, ev Event) (Event, error) {
	if ev.Summary == "" {
		return Event{}, fmt.Errorf("event summary is required")
	}
	if ev.Start.IsZero() {
		return Event{}, fmt.Errorf("event start time is required")
	}
	if ev.End.IsZero() {
		ev.End = ev.Start.Add(time.Hour)
	}
	if !ev.End.After(ev.Start) {
		return Event{}, fmt.Errorf("event end must be after start")
	}
	if ev.UID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Event{}, fmt.Errorf("generate event UID: %w", err)
		}
		ev.UID = id.String()
	}

	cal := calendarFromEvent(ev)
	objPath := strings.TrimSuffix(c.path, "/") + "/" + ev.UID + ".ics"
	if _, err := c.dav.PutCalendarObject(ctx, objPath, cal); err != nil {
		return Event{}, fmt.Errorf("store event: %w", err)
	}

	c.logger.Info("calendar event created", "uid", ev.UID, "summary", ev.Summary, "start", ev.Start)
	return ev, nil
}

// calendarFromEvent builds a standalone VCALENDAR wrapping one VEVENT.
func calendarFromEvent(ev Event) *ical.Calendar {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, ev.UID)
	event.Props.SetText(ical.PropSummary, ev.Summary)
	if ev.Location != "" {
		event.Props.SetText(ical.PropLocation, ev.Location)
	}
	if ev.Description != "" {
		event.Props.SetText(ical.PropDescription, ev.Description)
	}
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, ev.End.UTC())

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//steward//NONSGML steward-ai-agent//EN")
	cal.Children = append(cal.Children, event.Component)
	return cal
}

// eventsFromCalendar extracts the VEVENT entries of a parsed calendar.
func eventsFromCalendar(cal *ical.Calendar) ([]Event, error) {
	var events []Event
	for _, raw := range cal.Events() {
		ev := Event{}
		if prop := raw.Props.Get(ical.PropUID); prop != nil {
			ev.UID = prop.Value
		}
		if prop := raw.Props.Get(ical.PropSummary); prop != nil {
			ev.Summary = prop.Value
		}
		if prop := raw.Props.Get(ical.PropLocation); prop != nil {
			ev.Location = prop.Value
		}
		if prop := raw.Props.Get(ical.PropDescription); prop != nil {
			ev.Description = prop.Value
		}

		start, err := raw.DateTimeStart(time.UTC)
		if err != nil {
			return nil, fmt.Errorf("event %s: invalid start: %w", ev.UID, err)
		}
		ev.Start = start
		if end, err := raw.DateTimeEnd(time.UTC); err == nil && !end.IsZero() {
			ev.End = end
		}

		events = append(events, ev)
	}
	return events, nil
}
