package task

import "time"

// EventRequest describes a calendar event to create.
type EventRequest struct {
	Title       string
	Start       time.Time
	End         time.Time
	Description string
	Attendees   []string
	Location    string
}

// EventRef identifies a created calendar event.
type EventRef struct {
	ID       string `json:"id"`
	HTMLLink string `json:"html_link,omitempty"`
}

// CalendarEvent is an existing event as shown to the assistant.
type CalendarEvent struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	AllDay    bool      `json:"all_day,omitempty"`
	Attendees []string  `json:"attendees,omitempty"`
	Location  string    `json:"location,omitempty"`
}
