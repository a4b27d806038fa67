package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Far3/financial-advisor-ai/internal/adapters"
	"github.com/Far3/financial-advisor-ai/internal/task"
	"github.com/Far3/financial-advisor-ai/internal/utils"
)

// MaxBodyRunes caps stored message bodies.
const MaxBodyRunes = 2000

// ListMessageIDs returns ids of messages matching a Gmail search query.
func (c *Client) ListMessageIDs(ctx context.Context, cred task.Credential, query string, max int) ([]string, error) {
	q := url.Values{}
	q.Set("q", query)
	if max > 0 {
		q.Set("maxResults", strconv.Itoa(max))
	}
	body, err := c.do(ctx, cred, adapters.Request{
		Method: http.MethodGet,
		URL:    c.gmailBase + "/users/me/messages?" + q.Encode(),
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	var ids []string
	for _, r := range gjson.GetBytes(body, "messages.#.id").Array() {
		ids = append(ids, r.String())
	}
	return ids, nil
}

// GetMessage fetches one message and converts it to an InboundMessage. The
// caller sets OwnerID.
func (c *Client) GetMessage(ctx context.Context, cred task.Credential, id string) (task.InboundMessage, error) {
	body, err := c.do(ctx, cred, adapters.Request{
		Method: http.MethodGet,
		URL:    c.gmailBase + "/users/me/messages/" + url.PathEscape(id) + "?format=full",
	})
	if err != nil {
		return task.InboundMessage{}, fmt.Errorf("get message %s: %w", id, err)
	}
	return ParseMessage(body)
}

// ParseMessage converts a Gmail users.messages resource (format=full).
func ParseMessage(raw []byte) (task.InboundMessage, error) {
	if !gjson.ValidBytes(raw) {
		return task.InboundMessage{}, fmt.Errorf("%w: gmail message is not JSON", task.ErrExternalService)
	}
	doc := gjson.ParseBytes(raw)
	payload := doc.Get("payload")

	headers := map[string]string{}
	payload.Get("headers").ForEach(func(_, h gjson.Result) bool {
		name := strings.ToLower(h.Get("name").String())
		if _, seen := headers[name]; !seen {
			headers[name] = h.Get("value").String()
		}
		return true
	})

	fromName, fromEmail := parseFrom(headers["from"])
	msg := task.InboundMessage{
		ExternalID: doc.Get("id").String(),
		FromEmail:  fromEmail,
		FromName:   fromName,
		ToEmail:    headers["to"],
		Subject:    headers["subject"],
		Body:       utils.NormalizeBody(plainText(payload), MaxBodyRunes),
	}
	if msg.Subject == "" {
		msg.Subject = "(no subject)"
	}

	if d, err := mail.ParseDate(headers["date"]); err == nil {
		msg.ReceivedAt = d.UTC()
	} else if ms := doc.Get("internalDate").Int(); ms > 0 {
		msg.ReceivedAt = time.UnixMilli(ms).UTC()
	}
	if msg.ExternalID == "" {
		return msg, fmt.Errorf("%w: gmail message has no id", task.ErrExternalService)
	}
	return msg, nil
}

// parseFrom splits a From header into display name and lowercased address.
func parseFrom(header string) (string, string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ""
	}
	if addr, err := mail.ParseAddress(header); err == nil {
		return addr.Name, task.NormalizeEmail(addr.Address)
	}
	if open := strings.LastIndex(header, "<"); open >= 0 {
		if end := strings.Index(header[open:], ">"); end > 0 {
			name := strings.Trim(strings.TrimSpace(header[:open]), `"`)
			return name, task.NormalizeEmail(header[open+1 : open+end])
		}
	}
	return "", task.NormalizeEmail(header)
}

// plainText returns the first text/plain part, searching nested multiparts.
func plainText(part gjson.Result) string {
	mimeType := part.Get("mimeType").String()
	if mimeType == "text/plain" || (mimeType == "" && !part.Get("parts").Exists()) {
		if text, ok := decodeBody(part.Get("body.data").String()); ok {
			return text
		}
	}
	for _, child := range part.Get("parts").Array() {
		if text := plainText(child); text != "" {
			return text
		}
	}
	return ""
}

func decodeBody(data string) (string, bool) {
	if data == "" {
		return "", false
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", false
	}
	return string(b), true
}

// Send sends a plain-text email and returns the Gmail message id.
func (c *Client) Send(ctx context.Context, cred task.Credential, to, subject, body string) (string, error) {
	if _, err := mail.ParseAddress(to); err != nil {
		return "", fmt.Errorf("%w: invalid recipient %q", task.ErrValidation, to)
	}

	raw := strings.Join([]string{
		"To: " + to,
		"Subject: " + mime.QEncoding.Encode("utf-8", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	resp, err := c.do(ctx, cred, adapters.Request{
		Method: http.MethodPost,
		URL:    c.gmailBase + "/users/me/messages/send",
		JSON:   map[string]string{"raw": base64.RawURLEncoding.EncodeToString([]byte(raw))},
	})
	if err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	return gjson.GetBytes(resp, "id").String(), nil
}
