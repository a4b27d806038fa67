package google

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Far3/financial-advisor-ai/internal/adapters"
	"github.com/Far3/financial-advisor-ai/internal/task"
)

const maxBusyEvents = 250

// ListEvents returns events on the primary calendar between start and end,
// ordered by start time.
func (c *Client) ListEvents(ctx context.Context, cred task.Credential, start, end time.Time, max int) ([]task.CalendarEvent, error) {
	items, err := c.listEventItems(ctx, cred, start, end, max)
	if err != nil {
		return nil, err
	}
	events := make([]task.CalendarEvent, 0, len(items))
	for _, item := range items {
		if ev, ok := c.parseEvent(item); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// ListBusy returns the intervals blocked by events between start and end.
// Cancelled and "free" (transparent) events do not block time.
func (c *Client) ListBusy(ctx context.Context, cred task.Credential, start, end time.Time) ([]task.TimeSlot, error) {
	items, err := c.listEventItems(ctx, cred, start, end, maxBusyEvents)
	if err != nil {
		return nil, err
	}
	var busy []task.TimeSlot
	for _, item := range items {
		if item.Get("status").String() == "cancelled" || item.Get("transparency").String() == "transparent" {
			continue
		}
		if ev, ok := c.parseEvent(item); ok {
			busy = append(busy, task.TimeSlot{Start: ev.Start, End: ev.End})
		}
	}
	return busy, nil
}

func (c *Client) listEventItems(ctx context.Context, cred task.Credential, start, end time.Time, max int) ([]gjson.Result, error) {
	q := url.Values{}
	q.Set("timeMin", start.UTC().Format(time.RFC3339))
	q.Set("timeMax", end.UTC().Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	if max > 0 {
		q.Set("maxResults", strconv.Itoa(max))
	}
	body, err := c.do(ctx, cred, adapters.Request{
		Method: http.MethodGet,
		URL:    c.calendarBase + "/calendars/primary/events?" + q.Encode(),
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return gjson.GetBytes(body, "items").Array(), nil
}

// parseEvent reads start/end as dateTime, or as a date for all-day events.
func (c *Client) parseEvent(item gjson.Result) (task.CalendarEvent, bool) {
	start, allDay, ok := c.eventTime(item.Get("start"))
	if !ok {
		return task.CalendarEvent{}, false
	}
	end, _, ok := c.eventTime(item.Get("end"))
	if !ok {
		return task.CalendarEvent{}, false
	}

	summary := item.Get("summary").String()
	if summary == "" {
		summary = "No title"
	}
	ev := task.CalendarEvent{
		ID:       item.Get("id").String(),
		Summary:  summary,
		Start:    start,
		End:      end,
		AllDay:   allDay,
		Location: item.Get("location").String(),
	}
	for _, a := range item.Get("attendees.#.email").Array() {
		ev.Attendees = append(ev.Attendees, a.String())
	}
	return ev, true
}

func (c *Client) eventTime(r gjson.Result) (time.Time, bool, bool) {
	if dt := r.Get("dateTime").String(); dt != "" {
		t, err := time.Parse(time.RFC3339, dt)
		return t, false, err == nil
	}
	if d := r.Get("date").String(); d != "" {
		t, err := time.ParseInLocation(time.DateOnly, d, c.location)
		return t, true, err == nil
	}
	return time.Time{}, false, false
}

// CreateEvent inserts an event on the primary calendar and notifies attendees.
func (c *Client) CreateEvent(ctx context.Context, cred task.Credential, req task.EventRequest) (task.EventRef, error) {
	if !req.End.After(req.Start) {
		return task.EventRef{}, fmt.Errorf("%w: event must end after it starts", task.ErrValidation)
	}

	zone := c.location.String()
	event := map[string]any{
		"summary":     req.Title,
		"description": req.Description,
		"start":       map[string]string{"dateTime": req.Start.Format(time.RFC3339), "timeZone": zone},
		"end":         map[string]string{"dateTime": req.End.Format(time.RFC3339), "timeZone": zone},
		"reminders":   map[string]bool{"useDefault": true},
	}
	if req.Location != "" {
		event["location"] = req.Location
	}
	if len(req.Attendees) > 0 {
		attendees := make([]map[string]string, len(req.Attendees))
		for i, a := range req.Attendees {
			attendees[i] = map[string]string{"email": a}
		}
		event["attendees"] = attendees
	}

	body, err := c.do(ctx, cred, adapters.Request{
		Method: http.MethodPost,
		URL:    c.calendarBase + "/calendars/primary/events?sendUpdates=all",
		JSON:   event,
	})
	if err != nil {
		return task.EventRef{}, fmt.Errorf("create event: %w", err)
	}
	ref := task.EventRef{
		ID:       gjson.GetBytes(body, "id").String(),
		HTMLLink: gjson.GetBytes(body, "htmlLink").String(),
	}
	if ref.ID == "" {
		return ref, fmt.Errorf("%w: calendar returned no event id", task.ErrExternalService)
	}
	return ref, nil
}
