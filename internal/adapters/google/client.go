// Package google is a thin client for the Gmail and Calendar REST APIs.
package google

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Far3/financial-advisor-ai/internal/adapters"
	"github.com/Far3/financial-advisor-ai/internal/task"
)

const (
	DefaultGmailBase    = "https://gmail.googleapis.com/gmail/v1"
	DefaultCalendarBase = "https://www.googleapis.com/calendar/v3"
	DefaultProbeTimeout = 5 * time.Second
)

// Config configures the client. Credentials are never stored here; every
// call receives the owner's task.Credential.
type Config struct {
	GmailBase    string
	CalendarBase string
	Timeout      time.Duration
	ProbeTimeout time.Duration
	// Location is the zone written on created events and used for all-day events.
	Location   *time.Location
	HTTPClient *http.Client
}

// Client talks to Gmail and Calendar.
type Client struct {
	gmailBase    string
	calendarBase string
	probeTimeout time.Duration
	location     *time.Location
	http         *adapters.HTTP
}

// New creates a Client.
func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.GmailBase) == "" {
		cfg.GmailBase = DefaultGmailBase
	}
	if strings.TrimSpace(cfg.CalendarBase) == "" {
		cfg.CalendarBase = DefaultCalendarBase
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Client{
		gmailBase:    strings.TrimRight(cfg.GmailBase, "/"),
		calendarBase: strings.TrimRight(cfg.CalendarBase, "/"),
		probeTimeout: cfg.ProbeTimeout,
		location:     cfg.Location,
		http:         adapters.NewHTTP("google", cfg.HTTPClient, cfg.Timeout),
	}
}

func (c *Client) do(ctx context.Context, cred task.Credential, req adapters.Request) ([]byte, error) {
	if err := adapters.RequireCredential("google", cred); err != nil {
		return nil, err
	}
	req.Token = cred.AccessToken
	return c.http.Do(ctx, req)
}

// Probe checks that the credential still works.
func (c *Client) Probe(ctx context.Context, cred task.Credential) error {
	_, err := c.do(ctx, cred, adapters.Request{
		Method:  http.MethodGet,
		URL:     c.calendarBase + "/users/me/calendarList?maxResults=1",
		Timeout: c.probeTimeout,
	})
	return err
}
