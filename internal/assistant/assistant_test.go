package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Far3/financial-advisor-ai/internal/adapters/hubspot"
	"github.com/Far3/financial-advisor-ai/internal/engine"
	"github.com/Far3/financial-advisor-ai/internal/llm"
	"github.com/Far3/financial-advisor-ai/internal/memory"
	"github.com/Far3/financial-advisor-ai/internal/policy"
	"github.com/Far3/financial-advisor-ai/internal/task"
)

var chatNow = time.Date(2025, 7, 14, 9, 0, 0, 0, time.UTC)

type fakeCompleter struct {
	result llm.Result
	err    error
	msgs   []*schema.Message
	tools  []*schema.ToolInfo
}

func (f *fakeCompleter) Complete(_ context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (llm.Result, error) {
	f.msgs = msgs
	f.tools = tools
	return f.result, f.err
}

func toolCall(name, args string) llm.Result {
	return llm.Result{Kind: llm.ResultToolCall, ToolCall: llm.ToolCall{Name: name, Arguments: args}}
}

type sent struct{ To, Subject, Body string }

type fakeMailer struct {
	sent []sent
	err  error
}

func (m *fakeMailer) Send(_ context.Context, cred task.Credential, to, subject, body string) (string, error) {
	if !cred.Connected() {
		return "", fmt.Errorf("%w: google", task.ErrNotConnected)
	}
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, sent{to, subject, body})
	return "gmail-1", nil
}

type fakeCalendar struct {
	events     []task.CalendarEvent
	start, end time.Time
}

func (c *fakeCalendar) ListEvents(_ context.Context, _ task.Credential, start, end time.Time, _ int) ([]task.CalendarEvent, error) {
	c.start, c.end = start, end
	return c.events, nil
}

type fakeCRM struct {
	contacts map[string]*hubspot.Contact
	created  []hubspot.NewContact
	notes    map[string][]string
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{contacts: map[string]*hubspot.Contact{}, notes: map[string][]string{}}
}

func (c *fakeCRM) FindByEmail(_ context.Context, cred task.Credential, email string) (*hubspot.Contact, error) {
	if !cred.Connected() {
		return nil, fmt.Errorf("%w: hubspot", task.ErrNotConnected)
	}
	if ct, ok := c.contacts[task.NormalizeEmail(email)]; ok {
		return ct, nil
	}
	return nil, fmt.Errorf("%w: no contact", task.ErrNotFound)
}

func (c *fakeCRM) Create(_ context.Context, _ task.Credential, nc hubspot.NewContact) (*hubspot.Contact, error) {
	c.created = append(c.created, nc)
	ct := &hubspot.Contact{ID: fmt.Sprintf("c-%d", len(c.created)), Email: task.NormalizeEmail(nc.Email), FirstName: nc.FirstName, LastName: nc.LastName}
	c.contacts[ct.Email] = ct
	return ct, nil
}

func (c *fakeCRM) AddNote(_ context.Context, _ task.Credential, contactID, note string) (string, error) {
	c.notes[contactID] = append(c.notes[contactID], note)
	return "n-1", nil
}

type fakeScheduler struct {
	req engine.ScheduleRequest
	err error
}

func (s *fakeScheduler) ScheduleMeeting(_ context.Context, owner *task.Owner, req engine.ScheduleRequest) (*task.Task, error) {
	s.req = req
	if s.err != nil {
		return nil, s.err
	}
	slot := task.TimeSlot{Start: chatNow.Add(time.Hour), End: chatNow.Add(2 * time.Hour)}
	raw, _ := json.Marshal(engine.ScheduleContext{
		ContactName:   "sara lee",
		ContactEmail:  "sara@x.com",
		ProposedTimes: []task.TimeSlot{slot},
	})
	return &task.Task{ID: "task-abc", OwnerID: owner.ID, Context: raw}, nil
}

type denyAll struct{}

func (denyAll) CheckOutbound(context.Context, policy.OutboundMessage) error {
	return fmt.Errorf("%w: recipient is blocked", task.ErrPolicyDenied)
}

type fixture struct {
	store     *memory.SQLiteStore
	completer *fakeCompleter
	mailer    *fakeMailer
	calendar  *fakeCalendar
	crm       *fakeCRM
	scheduler *fakeScheduler
	owner     *task.Owner
	deps      Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := memory.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	store.SetClock(func() time.Time { return chatNow })

	owner, err := store.CreateOwner(task.Owner{
		ID:      "owner-1",
		Email:   "advisor@firm.com",
		Google:  task.Credential{AccessToken: "g"},
		HubSpot: task.Credential{AccessToken: "h"},
	})
	require.NoError(t, err)

	f := &fixture{
		store:     store,
		completer: &fakeCompleter{result: llm.Result{Kind: llm.ResultContent, Content: " Hello! "}},
		mailer:    &fakeMailer{},
		calendar:  &fakeCalendar{},
		crm:       newFakeCRM(),
		scheduler: &fakeScheduler{},
		owner:     owner,
	}
	f.deps = Deps{
		Store:     store,
		Completer: f.completer,
		Mailer:    f.mailer,
		Calendar:  f.calendar,
		CRM:       f.crm,
		Scheduler: f.scheduler,
	}
	return f
}

func (f *fixture) assistant() *Assistant {
	return New(f.deps, WithClock(func() time.Time { return chatNow }))
}

func (f *fixture) chat(t *testing.T, message string) Reply {
	t.Helper()
	reply, err := f.assistant().Chat(context.Background(), f.owner, message, nil)
	require.NoError(t, err)
	return reply
}

func TestChat_PlainAnswerWithContext(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.SaveInbound(task.InboundMessage{
		OwnerID: f.owner.ID, ExternalID: "g1", FromEmail: "sara@x.com",
		Subject: "Portfolio review", Body: "Can we talk about my portfolio?", ReceivedAt: chatNow.Add(-time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertContact(task.Contact{OwnerID: f.owner.ID, HubSpotID: "101", Email: "sara@x.com", Name: "Sara Lee"}))

	history := []task.Message{
		{Role: task.RoleUser, Content: "hi"},
		{Role: task.RoleAssistant, Content: "hello"},
		{Role: task.RoleSystem, Content: "ignored"},
	}
	reply, err := f.assistant().Chat(context.Background(), f.owner, "What did Sara say about her portfolio?", history)
	require.NoError(t, err)

	assert.Equal(t, "Hello!", reply.Response)
	assert.Equal(t, 1, reply.EmailsFound)
	assert.Equal(t, 1, reply.ContactsFound)
	assert.Empty(t, reply.ActionTaken)

	require.Len(t, f.completer.msgs, 4)
	assert.Equal(t, schema.System, f.completer.msgs[0].Role)
	assert.Contains(t, f.completer.msgs[0].Content, "Portfolio review")
	assert.Contains(t, f.completer.msgs[0].Content, "Sara Lee <sara@x.com>")
	assert.Equal(t, "What did Sara say about her portfolio?", f.completer.msgs[3].Content)

	var names []string
	for _, ti := range f.completer.tools {
		names = append(names, ti.Name)
	}
	assert.ElementsMatch(t, []string{ToolSendEmail, ToolCreateContact, ToolAddNote, ToolListCalendarEvents, ToolScheduleMeeting}, names)
}

func TestChat_FallsBackToRecentContext(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.SaveInbound(task.InboundMessage{OwnerID: f.owner.ID, ExternalID: "g1", FromEmail: "bob@x.com", Subject: "Hi", Body: "x"})
	require.NoError(t, err)

	reply := f.chat(t, "anything new?")
	assert.Equal(t, 1, reply.EmailsFound)
	assert.Equal(t, 0, reply.ContactsFound)
}

func TestChat_EmptyMessage(t *testing.T) {
	f := newFixture(t)
	_, err := f.assistant().Chat(context.Background(), f.owner, "   ", nil)
	assert.ErrorIs(t, err, task.ErrValidation)
}

func TestChat_CompleterFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	f.completer.err = fmt.Errorf("%w: model down", task.ErrExternalService)
	_, err := f.assistant().Chat(context.Background(), f.owner, "hello", nil)
	assert.ErrorIs(t, err, task.ErrExternalService)
}

func TestChat_SendEmail(t *testing.T) {
	f := newFixture(t)
	f.completer.result = toolCall(ToolSendEmail, `{"to":"sara@x.com","subject":"Hello","body":"See you soon"}`)

	reply := f.chat(t, "email sara")
	assert.Equal(t, ToolSendEmail, reply.ActionTaken)
	assert.Contains(t, reply.Response, "Email sent to sara@x.com")
	assert.Equal(t, []sent{{"sara@x.com", "Hello", "See you soon"}}, f.mailer.sent)
}

func TestChat_SendEmailBlockedByPolicy(t *testing.T) {
	f := newFixture(t)
	f.deps.Gate = denyAll{}
	f.completer.result = toolCall(ToolSendEmail, `{"to":"sara@x.com","subject":"Hello","body":"x"}`)

	reply := f.chat(t, "email sara")
	assert.Empty(t, reply.ActionTaken)
	assert.Contains(t, reply.Response, "blocked by the outbound policy")
	assert.Empty(t, f.mailer.sent)
}

func TestChat_SendEmailNotConnected(t *testing.T) {
	f := newFixture(t)
	f.owner.Google = task.Credential{}
	f.completer.result = toolCall(ToolSendEmail, `{"to":"sara@x.com","subject":"Hello","body":"x"}`)

	reply := f.chat(t, "email sara")
	assert.Equal(t, "Your Google account is not connected. Connect it and try again.", reply.Response)
}

func TestChat_BadToolArguments(t *testing.T) {
	f := newFixture(t)
	f.completer.result = toolCall(ToolSendEmail, `{"to":"not-an-email","subject":"","body":"x"}`)

	reply := f.chat(t, "email someone")
	assert.True(t, strings.HasPrefix(reply.Response, "I couldn't do that"), reply.Response)
	assert.Empty(t, f.mailer.sent)
}

func TestChat_UnknownTool(t *testing.T) {
	f := newFixture(t)
	f.completer.result = toolCall("delete_everything", `{}`)
	reply := f.chat(t, "do it")
	assert.Contains(t, reply.Response, "delete_everything")
	assert.Empty(t, reply.ActionTaken)
}

func TestChat_CreateContact(t *testing.T) {
	f := newFixture(t)
	f.completer.result = toolCall(ToolCreateContact, `{"email":"nina@x.com","firstname":"Nina","note":"Met at conference"}`)

	reply := f.chat(t, "add nina")
	assert.Equal(t, ToolCreateContact, reply.ActionTaken)
	assert.Equal(t, "Created HubSpot contact Nina (nina@x.com). Note added.", reply.Response)
	assert.Equal(t, []string{"Met at conference"}, f.crm.notes["c-1"])
}

func TestChat_CreateContactExisting(t *testing.T) {
	f := newFixture(t)
	f.crm.contacts["sara@x.com"] = &hubspot.Contact{ID: "101", Email: "sara@x.com", FirstName: "Sara", LastName: "Lee"}
	f.completer.result = toolCall(ToolCreateContact, `{"email":"Sara@x.com"}`)

	reply := f.chat(t, "add sara")
	assert.Equal(t, "sara@x.com is already in HubSpot as Sara Lee.", reply.Response)
	assert.Empty(t, f.crm.created)
}

func TestChat_AddNote(t *testing.T) {
	f := newFixture(t)
	f.crm.contacts["sara@x.com"] = &hubspot.Contact{ID: "101", Email: "sara@x.com", FirstName: "Sara"}
	f.completer.result = toolCall(ToolAddNote, `{"email":"sara@x.com","note":"Wants to rebalance"}`)

	reply := f.chat(t, "note for sara")
	assert.Equal(t, "Added a note to Sara.", reply.Response)
	assert.Equal(t, []string{"Wants to rebalance"}, f.crm.notes["101"])

	f.completer.result = toolCall(ToolAddNote, `{"email":"ghost@x.com","note":"hi"}`)
	reply = f.chat(t, "note for ghost")
	assert.Contains(t, reply.Response, "No HubSpot contact found for ghost@x.com")
}

func TestChat_HubSpotNotConnected(t *testing.T) {
	f := newFixture(t)
	f.owner.HubSpot = task.Credential{}
	f.completer.result = toolCall(ToolAddNote, `{"email":"sara@x.com","note":"x"}`)

	reply := f.chat(t, "note")
	assert.Equal(t, "Your HubSpot account is not connected. Connect it and try again.", reply.Response)
}

func TestChat_ListCalendarEvents(t *testing.T) {
	f := newFixture(t)
	f.calendar.events = []task.CalendarEvent{
		{Summary: "Client call", Start: chatNow.Add(2 * time.Hour), End: chatNow.Add(3 * time.Hour), Location: "Zoom"},
		{Summary: "Holiday", Start: time.Date(2025, 7, 16, 0, 0, 0, 0, time.UTC), AllDay: true},
	}
	f.completer.result = toolCall(ToolListCalendarEvents, `{"days":3}`)

	reply := f.chat(t, "what's on my calendar")
	assert.Equal(t, ToolListCalendarEvents, reply.ActionTaken)
	assert.Equal(t, "Upcoming events (next 3 days):\n- Mon, Jul 14 at 11:00 AM: Client call @ Zoom\n- Wed, Jul 16 (all day): Holiday", reply.Response)
	assert.Equal(t, chatNow.AddDate(0, 0, 3), f.calendar.end)

	f.calendar.events = nil
	f.completer.result = toolCall(ToolListCalendarEvents, ``)
	reply = f.chat(t, "calendar")
	assert.Equal(t, "You have no events in the next 7 days.", reply.Response)
}

func TestChat_ScheduleMeeting(t *testing.T) {
	f := newFixture(t)
	f.completer.result = toolCall(ToolScheduleMeeting, `{"contact_name":"Sara Lee","duration_minutes":30}`)

	reply := f.chat(t, "schedule a meeting with Sara")
	assert.Equal(t, ToolScheduleMeeting, reply.ActionTaken)
	assert.Equal(t, "task-abc", reply.TaskID)
	assert.Equal(t, engine.ScheduleRequest{ContactName: "Sara Lee", DurationMinutes: 30}, f.scheduler.req)
	assert.Contains(t, reply.Response, "I've emailed Sara Lee (sara@x.com)")
	assert.Contains(t, reply.Response, "1. Mon, Jul 14 at 10:00 AM UTC")
}

func TestChat_ScheduleMeetingNoAvailability(t *testing.T) {
	f := newFixture(t)
	f.scheduler.err = fmt.Errorf("%w: next 7 days", task.ErrNoAvailability)
	f.completer.result = toolCall(ToolScheduleMeeting, `{"contact_name":"Sara"}`)

	reply := f.chat(t, "schedule sara")
	assert.Contains(t, reply.Response, "couldn't find any open time slots")
	assert.Empty(t, reply.TaskID)
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"sara", "portfolio"}, keywords("What did Sara say about her portfolio? Sara!"))
	assert.Equal(t, []string{"bob@x.com"}, keywords("email bob@x.com"))
	assert.Empty(t, keywords("hi"))
}

func TestDescribeFailure(t *testing.T) {
	assert.Contains(t, describeFailure(ToolSendEmail, fmt.Errorf("%w: 401", task.ErrAuthExpired)), "Google connection has expired")
	assert.Contains(t, describeFailure(ToolAddNote, task.ErrTimeout), "HubSpot took too long")
	assert.Equal(t, "Something went wrong while running send_email. Please try again.", describeFailure(ToolSendEmail, fmt.Errorf("boom")))
}
