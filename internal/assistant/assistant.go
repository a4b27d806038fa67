// Package assistant is the conversational front-end. It answers from the
// owner's synced mail and contacts and routes action requests to tools.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"

	"github.com/Far3/financial-advisor-ai/internal/adapters/hubspot"
	"github.com/Far3/financial-advisor-ai/internal/engine"
	"github.com/Far3/financial-advisor-ai/internal/llm"
	"github.com/Far3/financial-advisor-ai/internal/policy"
	"github.com/Far3/financial-advisor-ai/internal/task"
	"github.com/Far3/financial-advisor-ai/internal/utils"
	"github.com/Far3/financial-advisor-ai/prompts"
)

const (
	contextLimit   = 5
	promptBodyMax  = 500
	maxHistoryMsgs = 20
)

// Store supplies retrieval context.
type Store interface {
	SearchEmails(ownerID, query string, limit int) ([]task.InboundMessage, error)
	SearchContacts(ownerID, query string, limit int) ([]task.Contact, error)
}

// Mailer sends mail as the owner.
type Mailer interface {
	Send(ctx context.Context, cred task.Credential, to, subject, body string) (string, error)
}

// Calendar lists the owner's events.
type Calendar interface {
	ListEvents(ctx context.Context, cred task.Credential, start, end time.Time, max int) ([]task.CalendarEvent, error)
}

// CRM is the HubSpot surface used by the contact tools.
type CRM interface {
	FindByEmail(ctx context.Context, cred task.Credential, email string) (*hubspot.Contact, error)
	Create(ctx context.Context, cred task.Credential, nc hubspot.NewContact) (*hubspot.Contact, error)
	AddNote(ctx context.Context, cred task.Credential, contactID, note string) (string, error)
}

// Scheduler starts the durable meeting workflow.
type Scheduler interface {
	ScheduleMeeting(ctx context.Context, owner *task.Owner, req engine.ScheduleRequest) (*task.Task, error)
}

// Deps are the collaborators. Gate may be nil.
type Deps struct {
	Store     Store
	Completer llm.Completer
	Mailer    Mailer
	Calendar  Calendar
	CRM       CRM
	Scheduler Scheduler
	Gate      engine.OutboundGate
}

// Reply is one assistant turn.
type Reply struct {
	Response      string `json:"response"`
	EmailsFound   int    `json:"emails_found"`
	ContactsFound int    `json:"contacts_found"`
	ActionTaken   string `json:"action_taken,omitempty"`
	TaskID        string `json:"task_id,omitempty"`
}

// Assistant answers chat messages for an owner.
type Assistant struct {
	deps       Deps
	validate   *validator.Validate
	location   *time.Location
	promptsDir string
	now        func() time.Time
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithLocation sets the zone used for times shown to the owner.
func WithLocation(loc *time.Location) Option {
	return func(a *Assistant) { a.location = loc }
}

// WithPromptsDir enables prompt overrides from dir.
func WithPromptsDir(dir string) Option {
	return func(a *Assistant) { a.promptsDir = dir }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Assistant) { a.now = now }
}

// New creates an Assistant.
func New(deps Deps, opts ...Option) *Assistant {
	a := &Assistant{
		deps:     deps,
		validate: validator.New(),
		location: time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Chat answers message. Tool failures become the reply text; the returned
// error is reserved for the retrieval and model steps.
func (a *Assistant) Chat(ctx context.Context, owner *task.Owner, message string, history []task.Message) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, fmt.Errorf("%w: message is required", task.ErrValidation)
	}

	emails, err := a.relevantEmails(owner.ID, message)
	if err != nil {
		return Reply{}, err
	}
	contacts, err := a.relevantContacts(owner.ID, message)
	if err != nil {
		return Reply{}, err
	}
	reply := Reply{EmailsFound: len(emails), ContactsFound: len(contacts)}

	system, err := prompts.Render(prompts.KeyAssistant, a.promptsDir, map[string]string{
		"Owner":    owner.Email,
		"Now":      a.now().In(a.location).Format("Monday, January 2, 2006 3:04 PM MST"),
		"Emails":   formatEmails(emails),
		"Contacts": formatContacts(contacts),
	})
	if err != nil {
		return Reply{}, err
	}

	msgs := []*schema.Message{schema.SystemMessage(system)}
	if len(history) > maxHistoryMsgs {
		history = history[len(history)-maxHistoryMsgs:]
	}
	for _, h := range history {
		switch h.Role {
		case task.RoleUser:
			msgs = append(msgs, schema.UserMessage(h.Content))
		case task.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(h.Content, nil))
		}
	}
	msgs = append(msgs, schema.UserMessage(message))

	turn := &turn{owner: owner}
	tools := a.tools(turn)
	infos := make([]*schema.ToolInfo, 0, len(tools))
	byName := make(map[string]tool.InvokableTool, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return Reply{}, fmt.Errorf("tool info: %w", err)
		}
		infos = append(infos, info)
		byName[info.Name] = t
	}

	res, err := a.deps.Completer.Complete(ctx, msgs, infos)
	if err != nil {
		return Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	if res.Kind != llm.ResultToolCall {
		reply.Response = strings.TrimSpace(res.Content)
		return reply, nil
	}

	name := res.ToolCall.Name
	t, ok := byName[name]
	if !ok {
		slog.Warn("model asked for an unknown tool", "tool", name, "owner_id", owner.ID)
		reply.Response = fmt.Sprintf("I don't know how to %q. Could you rephrase the request?", name)
		return reply, nil
	}

	out, err := t.InvokableRun(ctx, res.ToolCall.Arguments)
	if err != nil {
		slog.Warn("tool failed", "tool", name, "owner_id", owner.ID, "error_kind", task.Kind(err), "error", err)
		reply.Response = describeFailure(name, err)
		return reply, nil
	}
	slog.Info("tool executed", "tool", name, "owner_id", owner.ID, "task_id", turn.taskID)
	reply.Response = out
	reply.ActionTaken = name
	reply.TaskID = turn.taskID
	return reply, nil
}

// relevantEmails searches for the message, then for its keywords, then falls
// back to the most recent mail.
func (a *Assistant) relevantEmails(ownerID, message string) ([]task.InboundMessage, error) {
	found, err := a.deps.Store.SearchEmails(ownerID, message, contextLimit)
	if err != nil || len(found) > 0 {
		return found, err
	}
	seen := map[string]bool{}
	for _, kw := range keywords(message) {
		hits, err := a.deps.Store.SearchEmails(ownerID, kw, contextLimit)
		if err != nil {
			return nil, err
		}
		for _, m := range hits {
			if !seen[m.ID] && len(found) < contextLimit {
				seen[m.ID] = true
				found = append(found, m)
			}
		}
	}
	if len(found) > 0 {
		return found, nil
	}
	return a.deps.Store.SearchEmails(ownerID, "", contextLimit)
}

func (a *Assistant) relevantContacts(ownerID, message string) ([]task.Contact, error) {
	found, err := a.deps.Store.SearchContacts(ownerID, message, contextLimit)
	if err != nil || len(found) > 0 {
		return found, err
	}
	seen := map[string]bool{}
	for _, kw := range keywords(message) {
		hits, err := a.deps.Store.SearchContacts(ownerID, kw, contextLimit)
		if err != nil {
			return nil, err
		}
		for _, c := range hits {
			if !seen[c.ID] && len(found) < contextLimit {
				seen[c.ID] = true
				found = append(found, c)
			}
		}
	}
	if len(found) > 0 {
		return found, nil
	}
	return a.deps.Store.SearchContacts(ownerID, "", contextLimit)
}

var stopWords = map[string]bool{
	"about": true, "after": true, "before": true, "could": true, "email": true, "emails": true,
	"from": true, "have": true, "meeting": true, "please": true, "schedule": true, "send": true,
	"should": true, "that": true, "their": true, "there": true, "they": true, "this": true,
	"what": true, "when": true, "where": true, "which": true, "with": true, "would": true,
}

// keywords returns the distinct words of message worth searching for.
func keywords(message string) []string {
	var out []string
	seen := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '@' || r == '.' || r == '-' || r == '_')
	}) {
		w = strings.Trim(w, ".-_")
		if len([]rune(w)) < 4 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func formatEmails(emails []task.InboundMessage) string {
	if len(emails) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for i, m := range emails {
		fmt.Fprintf(&sb, "%d. From: %s\n   Subject: %s\n   Date: %s\n   Body: %s\n",
			i+1, m.FromEmail, m.Subject, m.ReceivedAt.Format(time.RFC3339),
			utils.Truncate(strings.ReplaceAll(m.Body, "\n", " "), promptBodyMax))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatContacts(contacts []task.Contact) string {
	if len(contacts) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for i, c := range contacts {
		fmt.Fprintf(&sb, "%d. %s <%s>", i+1, c.Name, c.Email)
		if c.Notes != "" {
			fmt.Fprintf(&sb, " - %s", utils.Truncate(c.Notes, promptBodyMax))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// checkOutbound runs the compliance gate for assistant-sent mail.
func (a *Assistant) checkOutbound(ctx context.Context, owner *task.Owner, to, subject, body string) error {
	if a.deps.Gate == nil {
		return nil
	}
	return a.deps.Gate.CheckOutbound(ctx, policy.OutboundMessage{
		OwnerID: owner.ID,
		Kind:    "assistant",
		To:      to,
		Subject: subject,
		Body:    body,
	})
}
