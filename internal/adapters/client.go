// Package adapters holds the HTTP plumbing shared by the Google and HubSpot
// clients: bounded requests, bearer auth and error classification.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Far3/financial-advisor-ai/internal/task"
	"github.com/Far3/financial-advisor-ai/internal/utils"
)

// DefaultTimeout bounds every upstream call unless configured otherwise.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// Request is one upstream call.
type Request struct {
	Method string
	URL    string
	// Token is sent as a bearer token when non-empty.
	Token string
	// JSON is marshalled as the request body; Form takes precedence when set.
	JSON any
	Form string
	// Timeout overrides the client default.
	Timeout time.Duration
}

// HTTP performs requests for one named service.
type HTTP struct {
	Service string
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTP returns an HTTP for service. A nil client uses a fresh http.Client.
func NewHTTP(service string, client *http.Client, timeout time.Duration) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{Service: service, Client: client, Timeout: timeout}
}

// Do runs req and returns the response body for 2xx responses. Other outcomes
// are classified into the task error taxonomy.
func (h *HTTP) Do(ctx context.Context, req Request) ([]byte, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = h.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	contentType := ""
	switch {
	case req.Form != "":
		body = strings.NewReader(req.Form)
		contentType = "application/x-www-form-urlencoded"
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal %s request: %v", task.ErrValidation, h.Service, err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build %s request: %v", task.ErrValidation, h.Service, err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	resp, err := h.Client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s after %s", task.ErrTimeout, h.Service, req.Method, timeout)
		}
		return nil, fmt.Errorf("%w: %s request: %v", task.ErrExternalService, h.Service, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s after %s", task.ErrTimeout, h.Service, req.Method, timeout)
		}
		return nil, fmt.Errorf("%w: read %s response: %v", task.ErrExternalService, h.Service, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}
	return nil, Classify(h.Service, resp.StatusCode, respBody)
}

// Classify maps a non-2xx response to the error taxonomy.
func Classify(service string, status int, body []byte) error {
	msg := errorMessage(body)
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s: %s", task.ErrAuthExpired, service, msg)
	case (status == http.StatusForbidden || status == http.StatusBadRequest) && invalidCredentials(body):
		return fmt.Errorf("%w: %s: %s", task.ErrAuthExpired, service, msg)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s: %s", task.ErrNotFound, service, msg)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s conflict: %s", task.ErrValidation, service, msg)
	default:
		return fmt.Errorf("%w: %s returned %d: %s", task.ErrExternalService, service, status, msg)
	}
}

// errorMessage pulls a readable message out of Google or HubSpot error bodies.
func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "error_description", "error"} {
			if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String && r.String() != "" {
				return r.String()
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "(empty response)"
	}
	return utils.Truncate(text, 200)
}

func invalidCredentials(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "invalid credentials") ||
		strings.Contains(lower, "invalid_grant") ||
		strings.Contains(lower, "unauthenticated") ||
		strings.Contains(lower, "expired_authentication") ||
		strings.Contains(lower, "bad_refresh_token")
}

// RequireCredential returns task.ErrNotConnected when cred has no access token.
func RequireCredential(service string, cred task.Credential) error {
	if !cred.Connected() {
		return fmt.Errorf("%w: %s", task.ErrNotConnected, service)
	}
	return nil
}
