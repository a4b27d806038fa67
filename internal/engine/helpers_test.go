package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Far3/financial-advisor-ai/internal/interpreter"
	"github.com/Far3/financial-advisor-ai/internal/memory"
	"github.com/Far3/financial-advisor-ai/internal/policy"
	"github.com/Far3/financial-advisor-ai/internal/task"
)

// Monday 2025-07-14 08:30 UTC.
var testNow = time.Date(2025, 7, 14, 8, 30, 0, 0, time.UTC)

type sentMail struct {
	To, Subject, Body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, cred task.Credential, to, subject, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if !cred.Connected() {
		return "", task.ErrNotConnected
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return "gmail-1", nil
}

func (m *fakeMailer) withSubject(subject string) []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMail
	for _, s := range m.sent {
		if s.Subject == subject {
			out = append(out, s)
		}
	}
	return out
}

type fakeCalendar struct {
	mu        sync.Mutex
	busy      []task.TimeSlot
	created   []task.EventRequest
	createErr error
}

func (c *fakeCalendar) ListBusy(_ context.Context, _ task.Credential, _, _ time.Time) ([]task.TimeSlot, error) {
	return c.busy, nil
}

func (c *fakeCalendar) CreateEvent(_ context.Context, _ task.Credential, req task.EventRequest) (task.EventRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return task.EventRef{}, c.createErr
	}
	c.created = append(c.created, req)
	return task.EventRef{ID: "evt-1", HTMLLink: "https://calendar.example/evt-1"}, nil
}

type fakeInterpreter struct {
	decision interpreter.Decision
	err      error
	calls    int
}

func (f *fakeInterpreter) Interpret(context.Context, []task.TimeSlot, task.InboundMessage) (interpreter.Decision, error) {
	f.calls++
	return f.decision, f.err
}

type denyGate struct{}

func (denyGate) CheckOutbound(context.Context, policy.OutboundMessage) error {
	return fmt.Errorf("%w: test gate", task.ErrPolicyDenied)
}

type fixture struct {
	store    *memory.SQLiteStore
	mailer   *fakeMailer
	calendar *fakeCalendar
	interp   *fakeInterpreter
	engine   *Engine
	owner    *task.Owner
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store, err := memory.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	owner, err := store.CreateOwner(task.Owner{
		ID:     "owner-1",
		Email:  "advisor@example.com",
		Google: task.Credential{AccessToken: "g-token"},
	})
	require.NoError(t, err)

	f := &fixture{
		store:    store,
		mailer:   &fakeMailer{},
		calendar: &fakeCalendar{},
		interp:   &fakeInterpreter{},
		owner:    owner,
	}
	f.engine = New(Deps{
		Store:       store,
		Mailer:      f.mailer,
		Calendar:    f.calendar,
		Interpreter: f.interp,
	}, cfg)
	f.engine.SetClock(func() time.Time { return testNow })
	return f
}

// scheduleSara starts a waiting task for sara@x.com with three options.
func (f *fixture) scheduleSara(t *testing.T) *task.Task {
	t.Helper()
	created, err := f.engine.ScheduleMeeting(context.Background(), f.owner, ScheduleRequest{
		ContactName:  "sara",
		ContactEmail: "Sara@X.com",
	})
	require.NoError(t, err)
	return created
}

func (f *fixture) reply(body string) task.InboundMessage {
	return task.InboundMessage{
		ID:         "msg-1",
		OwnerID:    f.owner.ID,
		ExternalID: "gmail-abc",
		FromEmail:  "sara@x.com",
		Subject:    "Re: Meeting Request",
		Body:       body,
		ReceivedAt: testNow.Add(time.Hour),
	}
}

func decodeSchedule(t *testing.T, tk *task.Task) ScheduleContext {
	t.Helper()
	var sc ScheduleContext
	require.NoError(t, tk.DecodeContext(&sc))
	return sc
}

func intPtr(i int) *int { return &i }
