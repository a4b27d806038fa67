// Package hubspot is a thin client for the HubSpot CRM contacts and notes API.
package hubspot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Far3/financial-advisor-ai/internal/adapters"
	"github.com/Far3/financial-advisor-ai/internal/task"
)

const (
	DefaultAPIBase      = "https://api.hubapi.com"
	DefaultProbeTimeout = 5 * time.Second
)

var contactProperties = []string{"email", "firstname", "lastname", "phone", "notes"}

// Config configures the client.
type Config struct {
	APIBase      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	ProbeTimeout time.Duration
	HTTPClient   *http.Client
}

// Contact is a HubSpot contact.
type Contact struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstname,omitempty"`
	LastName  string `json:"lastname,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Name joins first and last name.
func (c Contact) Name() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// NewContact holds the fields for Create.
type NewContact struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// Client talks to HubSpot.
type Client struct {
	base         string
	clientID     string
	clientSecret string
	probeTimeout time.Duration
	http         *adapters.HTTP
	now          func() time.Time
}

// New creates a Client.
func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &Client{
		base:         strings.TrimRight(cfg.APIBase, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		probeTimeout: cfg.ProbeTimeout,
		http:         adapters.NewHTTP("hubspot", cfg.HTTPClient, cfg.Timeout),
		now:          time.Now,
	}
}

func (c *Client) do(ctx context.Context, cred task.Credential, req adapters.Request) ([]byte, error) {
	if err := adapters.RequireCredential("hubspot", cred); err != nil {
		return nil, err
	}
	req.Token = cred.AccessToken
	return c.http.Do(ctx, req)
}

func parseContact(r gjson.Result) Contact {
	p := r.Get("properties")
	return Contact{
		ID:        r.Get("id").String(),
		Email:     task.NormalizeEmail(p.Get("email").String()),
		FirstName: p.Get("firstname").String(),
		LastName:  p.Get("lastname").String(),
		Phone:     p.Get("phone").String(),
		Notes:     p.Get("notes").String(),
	}
}

// Probe checks that the credential still works.
func (c *Client) Probe(ctx context.Context, cred task.Credential) error {
	_, err := c.do(ctx, cred, adapters.Request{
		Method:  http.MethodGet,
		URL:     c.base + "/crm/v3/objects/contacts?limit=1",
		Timeout: c.probeTimeout,
	})
	return err
}

// List returns up to limit contacts.
func (c *Client) List(ctx context.Context, cred task.Credential, limit int) ([]Contact, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("properties", strings.Join(contactProperties, ","))
	body, err := c.do(ctx, cred, adapters.Request{
		Method: http.MethodGet,
		URL:    c.base + "/crm/v3/objects/contacts?" + q.Encode(),
	})
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}

	var out []Contact
	for _, r := range gjson.GetBytes(body, "results").Array() {
		out = append(out, parseContact(r))
	}
	return out, nil
}

// FindByEmail returns the contact with email, or task.ErrNotFound.
func (c *Client) FindByEmail(ctx context.Context, cred task.Credential, email string) (*Contact, error) {
	email = task.NormalizeEmail(email)
	body, err := c.do(ctx, cred, adapters.Request{
		Method: http.MethodPost,
		URL:    c.base + "/crm/v3/objects/contacts/search",
		JSON: map[string]any{
			"filterGroups": []any{map[string]any{
				"filters": []any{map[string]string{
					"propertyName": "email",
					"operator":     "EQ",
					"value":        email,
				}},
			}},
			"properties": contactProperties,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search contact: %w", err)
	}

	first := gjson.GetBytes(body, "results.0")
	if !first.Exists() {
		return nil, fmt.Errorf("%w: no hubspot contact with email %s", task.ErrNotFound, email)
	}
	contact := parseContact(first)
	return &contact, nil
}

// Create adds a contact.
func (c *Client) Create(ctx context.Context, cred task.Credential, nc NewContact) (*Contact, error) {
	if strings.TrimSpace(nc.Email) == "" {
		return nil, fmt.Errorf("%w: contact email required", task.ErrValidation)
	}
	body, err := c.do(ctx, cred, adapters.Request{
		Method: http.MethodPost,
		URL:    c.base + "/crm/v3/objects/contacts",
		JSON: map[string]any{"properties": map[string]string{
			"email":     task.NormalizeEmail(nc.Email),
			"firstname": nc.FirstName,
			"lastname":  nc.LastName,
			"phone":     nc.Phone,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	contact := parseContact(gjson.ParseBytes(body))
	if contact.ID == "" {
		return nil, fmt.Errorf("%w: hubspot returned no contact id", task.ErrExternalService)
	}
	return &contact, nil
}

// AddNote creates a note and associates it with the contact. It returns the note id.
func (c *Client) AddNote(ctx context.Context, cred task.Credential, contactID, note string) (string, error) {
	if strings.TrimSpace(note) == "" {
		return "", fmt.Errorf("%w: note text required", task.ErrValidation)
	}
	body, err := c.do(ctx, cred, adapters.Request{
		Method: http.MethodPost,
		URL:    c.base + "/crm/v3/objects/notes",
		JSON: map[string]any{"properties": map[string]string{
			"hs_note_body": note,
			"hs_timestamp": c.now().UTC().Format(time.RFC3339),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("create note: %w", err)
	}
	noteID := gjson.GetBytes(body, "id").String()
	if noteID == "" {
		return "", fmt.Errorf("%w: hubspot returned no note id", task.ErrExternalService)
	}

	_, err = c.do(ctx, cred, adapters.Request{
		Method: http.MethodPut,
		URL: fmt.Sprintf("%s/crm/v3/objects/notes/%s/associations/contacts/%s/note_to_contact",
			c.base, url.PathEscape(noteID), url.PathEscape(contactID)),
	})
	if err != nil {
		return noteID, fmt.Errorf("associate note: %w", err)
	}
	return noteID, nil
}

// RefreshToken exchanges a refresh token for a new access token. HubSpot may
// rotate the refresh token; the returned credential carries whichever applies.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (task.Credential, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return task.Credential{}, fmt.Errorf("%w: no hubspot refresh token", task.ErrAuthExpired)
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", refreshToken)

	body, err := c.http.Do(ctx, adapters.Request{
		Method: http.MethodPost,
		URL:    c.base + "/oauth/v1/token",
		Form:   form.Encode(),
	})
	if err != nil {
		return task.Credential{}, fmt.Errorf("refresh hubspot token: %w", err)
	}

	cred := task.Credential{
		AccessToken:  gjson.GetBytes(body, "access_token").String(),
		RefreshToken: gjson.GetBytes(body, "refresh_token").String(),
	}
	if cred.AccessToken == "" {
		return task.Credential{}, fmt.Errorf("%w: token response had no access_token", task.ErrExternalService)
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}
	return cred, nil
}
