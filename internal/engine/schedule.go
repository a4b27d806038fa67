package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Far3/financial-advisor-ai/internal/policy"
	"github.com/Far3/financial-advisor-ai/internal/slots"
	"github.com/Far3/financial-advisor-ai/internal/task"
	"github.com/Far3/financial-advisor-ai/internal/telemetry"
	"github.com/Far3/financial-advisor-ai/internal/utils"
	"github.com/Far3/financial-advisor-ai/prompts"
)

// Completion marker stored in the final context.
const CompletedActionMeetingScheduled = "meeting_scheduled"

const defaultEventDescription = "Scheduled via AI assistant"

// ScheduleRequest starts a schedule_meeting task.
type ScheduleRequest struct {
	ContactName     string `json:"contact_name" validate:"required_without=ContactEmail,max=200"`
	ContactEmail    string `json:"contact_email,omitempty" validate:"omitempty,email"`
	DurationMinutes int    `json:"duration_minutes,omitempty" validate:"omitempty,min=15,max=480"`
	Notes           string `json:"notes,omitempty" validate:"max=2000"`
}

// ScheduleContext is the schedule_meeting task payload.
type ScheduleContext struct {
	ContactName      string          `json:"contact_name"`
	ContactEmail     string          `json:"contact_email"`
	Duration         int             `json:"duration"`
	Notes            string          `json:"notes,omitempty"`
	Subject          string          `json:"subject,omitempty"`
	ProposedTimes    []task.TimeSlot `json:"proposed_times"`
	Clarifications   int             `json:"clarifications,omitempty"`
	EventID          string          `json:"event_id,omitempty"`
	FinalMeetingTime string          `json:"final_meeting_time,omitempty"`
	CompletedAction  string          `json:"completed_action,omitempty"`
}

var validate = validator.New()

// ScheduleMeeting resolves the contact, proposes free times by email and
// leaves the task waiting for the contact's reply.
//
// When no slot is free it returns task.ErrNoAvailability and creates nothing.
// When the outreach email cannot be sent the task is marked failed and
// returned together with the error.
func (e *Engine) ScheduleMeeting(ctx context.Context, owner *task.Owner, req ScheduleRequest) (*task.Task, error) {
	req.ContactName = strings.TrimSpace(req.ContactName)
	req.ContactEmail = task.NormalizeEmail(req.ContactEmail)
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: schedule request: %v", task.ErrValidation, err)
	}
	if !owner.Google.Connected() {
		return nil, fmt.Errorf("%w: google", task.ErrNotConnected)
	}

	name, email, err := e.resolveContact(owner.ID, req.ContactName, req.ContactEmail)
	if err != nil {
		return nil, err
	}

	duration := e.cfg.DefaultDuration
	if req.DurationMinutes > 0 {
		duration = time.Duration(req.DurationMinutes) * time.Minute
	}

	proposed, err := e.proposeTimes(ctx, owner, duration)
	if err != nil {
		return nil, err
	}

	sc := ScheduleContext{
		ContactName:   name,
		ContactEmail:  email,
		Duration:      int(duration / time.Minute),
		Notes:         req.Notes,
		ProposedTimes: proposed,
	}
	options := slots.NumberedList(proposed, e.cfg.Location)
	subject, body, err := prompts.RenderEmail(prompts.EmailMeetingRequest, prompts.EmailData{
		Name:    utils.TitleName(name),
		Options: options,
	})
	if err != nil {
		return nil, err
	}
	sc.Subject = subject

	raw, err := task.EncodeContext(sc)
	if err != nil {
		return nil, err
	}
	t, err := e.deps.Store.CreateTask(owner.ID, task.TypeScheduleMeeting, raw, []task.Message{
		{Role: task.RoleUser, Content: "Schedule a meeting with " + name},
	})
	if err != nil {
		return nil, fmt.Errorf("could not start workflow: %w", err)
	}
	slog.Info("task created", "task_id", t.ID, "owner_id", t.OwnerID, "type", t.Type, "options", len(proposed))
	telemetry.TrackTask(e.deps.Telemetry, telemetry.EventTaskCreated, t, nil)

	err = e.send(ctx, owner, policy.OutboundMessage{
		OwnerID: owner.ID, TaskID: t.ID, Kind: "outreach",
		To: email, Subject: subject, Body: body,
	})
	if err != nil {
		e.failTask(t, err, "")
		failed, gerr := e.deps.Store.GetTask(t.ID)
		if gerr != nil {
			failed = t
		}
		return failed, err
	}

	waiting, err := e.deps.Store.UpdateTask(t.ID, task.Update{
		Status:     task.StatusPtr(task.StatusWaitingResponse),
		WaitingFor: task.StringPtr(task.WaitingForReplyFrom(email)),
		LastAction: task.StringPtr("sent_meeting_request"),
		AppendHistory: []task.Message{
			{Role: task.RoleAssistant, Content: fmt.Sprintf("Sent meeting request to %s with %d proposed times", email, len(proposed))},
		},
	})
	if err != nil {
		e.failTask(t, err, "")
		return nil, err
	}
	logTransition(t, task.StatusPending, task.StatusWaitingResponse)
	telemetry.TrackTask(e.deps.Telemetry, telemetry.EventTaskWaiting, waiting, nil)
	return waiting, nil
}

// resolveContact returns the display name and address to schedule with.
// Names are matched case-insensitively as a substring; the most recently
// updated contact wins.
func (e *Engine) resolveContact(ownerID, name, email string) (string, string, error) {
	if email != "" {
		if name == "" {
			name, _, _ = strings.Cut(email, "@")
		}
		return name, email, nil
	}

	contacts, err := e.deps.Store.FindContactsByName(ownerID, name)
	if err != nil {
		return "", "", err
	}
	for _, c := range contacts {
		if c.Email != "" {
			resolved := c.Name
			if resolved == "" {
				resolved = name
			}
			return resolved, task.NormalizeEmail(c.Email), nil
		}
	}
	if len(contacts) > 0 {
		return "", "", fmt.Errorf("%w: contact %q has no email address", task.ErrValidation, name)
	}
	return "", "", fmt.Errorf("%w: no contact matching %q", task.ErrNotFound, name)
}

// proposeTimes fetches busy intervals and returns the first Presented free slots.
func (e *Engine) proposeTimes(ctx context.Context, owner *task.Owner, duration time.Duration) ([]task.TimeSlot, error) {
	start := e.now().In(e.cfg.Location)
	end := start.AddDate(0, 0, e.cfg.RangeDays)

	busy, err := e.deps.Calendar.ListBusy(ctx, owner.Google, start, end)
	if err != nil {
		return nil, fmt.Errorf("list busy times: %w", err)
	}

	candidates := slots.Generate(busy, start, end, slots.Options{
		Duration:      duration,
		Location:      e.cfg.Location,
		MaxCandidates: e.cfg.MaxCandidates,
	})
	if len(candidates) == 0 {
		slog.Info("no availability", "owner_id", owner.ID, "range_days", e.cfg.RangeDays, "busy", len(busy))
		return nil, task.ErrNoAvailability
	}
	if len(candidates) > e.cfg.Presented {
		candidates = candidates[:e.cfg.Presented]
	}
	return candidates, nil
}

type scheduleWorkflow struct {
	e *Engine
}

func (w *scheduleWorkflow) HandleReply(ctx context.Context, owner *task.Owner, t *task.Task, msg task.InboundMessage) (Outcome, error) {
	e := w.e

	var sc ScheduleContext
	if err := t.DecodeContext(&sc); err != nil {
		return "", err
	}
	if len(sc.ProposedTimes) == 0 {
		return "", fmt.Errorf("%w: task has no proposed times", task.ErrValidation)
	}

	decision, err := e.deps.Interpreter.Interpret(ctx, sc.ProposedTimes, msg)
	if err != nil {
		if errors.Is(err, task.ErrExternalService) {
			return "", fmt.Errorf("%w: %w", ErrReplyNotConsumed, err)
		}
		return "", err
	}
	received := task.Message{Role: task.RoleUser, Content: "Received reply: " + decision.Summary}

	if decision.NeedsClarification {
		return w.clarify(ctx, owner, t, sc, received)
	}

	var start, end time.Time
	switch {
	case decision.SelectedIndex != nil:
		idx := *decision.SelectedIndex
		if idx < 0 || idx >= len(sc.ProposedTimes) {
			return "", fmt.Errorf("%w: selected option %d out of range", task.ErrValidation, idx)
		}
		start, end = sc.ProposedTimes[idx].Start, sc.ProposedTimes[idx].End
	case decision.CustomTime != nil:
		start = *decision.CustomTime
		end = start.Add(time.Duration(sc.Duration) * time.Minute)
	default:
		return "", fmt.Errorf("%w: reply resolved to no time", task.ErrValidation)
	}

	description := sc.Notes
	if strings.TrimSpace(description) == "" {
		description = defaultEventDescription
	}
	ref, err := e.deps.Calendar.CreateEvent(ctx, owner.Google, task.EventRequest{
		Title:       "Meeting with " + utils.TitleName(sc.ContactName),
		Start:       start,
		End:         end,
		Description: description,
		Attendees:   []string{sc.ContactEmail},
	})
	if err != nil {
		return "", fmt.Errorf("create calendar event: %w", err)
	}
	created := task.Message{Role: task.RoleAssistant, Content: "Created calendar event for " + start.Format(time.RFC3339)}

	local := start.In(e.cfg.Location)
	subject, body, err := prompts.RenderEmail(prompts.EmailConfirmation, prompts.EmailData{
		Name: utils.TitleName(sc.ContactName),
		Date: local.Format("Mon, Jan 2, 2006"),
		Time: local.Format("3:04 PM MST"),
	})
	if err != nil {
		return "", err
	}
	if err := e.send(ctx, owner, policy.OutboundMessage{
		OwnerID: owner.ID, TaskID: t.ID, Kind: "confirmation",
		To: sc.ContactEmail, Subject: subject, Body: body,
	}); err != nil {
		return "", err
	}

	if _, err := e.deps.Store.UpdateTask(t.ID, task.Update{
		LastAction: task.StringPtr("sent_confirmation"),
		AppendHistory: []task.Message{
			received,
			created,
			{Role: task.RoleAssistant, Content: "Sent confirmation email"},
		},
	}); err != nil {
		return "", err
	}

	sc.EventID = ref.ID
	sc.FinalMeetingTime = start.Format(time.RFC3339)
	sc.CompletedAction = CompletedActionMeetingScheduled
	final, err := task.EncodeContext(sc)
	if err != nil {
		return "", err
	}
	if _, err := e.deps.Store.CompleteTask(t.ID, final); err != nil {
		return "", err
	}
	logTransition(t, task.StatusWaitingResponse, task.StatusCompleted)
	if done, err := e.deps.Store.GetTask(t.ID); err == nil {
		telemetry.TrackTask(e.deps.Telemetry, telemetry.EventTaskCompleted, done, nil)
	}
	return OutcomeCompleted, nil
}

// clarify re-sends the original options and keeps the task waiting on the
// same key, or fails the task once the clarification budget is spent.
func (w *scheduleWorkflow) clarify(ctx context.Context, owner *task.Owner, t *task.Task, sc ScheduleContext, received task.Message) (Outcome, error) {
	e := w.e
	if sc.Clarifications >= e.cfg.MaxClarifications {
		return "", fmt.Errorf("%w: no clear answer after %d clarification requests", task.ErrValidation, sc.Clarifications)
	}

	subject := sc.Subject
	if subject == "" {
		subject = "Meeting Request"
	}
	subject, body, err := prompts.RenderEmail(prompts.EmailClarification, prompts.EmailData{
		Name:    utils.TitleName(sc.ContactName),
		Subject: subject,
		Options: slots.NumberedList(sc.ProposedTimes, e.cfg.Location),
	})
	if err != nil {
		return "", err
	}
	if err := e.send(ctx, owner, policy.OutboundMessage{
		OwnerID: owner.ID, TaskID: t.ID, Kind: "clarification",
		To: sc.ContactEmail, Subject: subject, Body: body,
	}); err != nil {
		return "", err
	}

	sc.Clarifications++
	raw, err := task.EncodeContext(sc)
	if err != nil {
		return "", err
	}
	updated, err := e.deps.Store.UpdateTask(t.ID, task.Update{
		Status:     task.StatusPtr(task.StatusWaitingResponse),
		Context:    raw,
		WaitingFor: task.StringPtr(t.WaitingFor),
		LastAction: task.StringPtr("sent_clarification"),
		AppendHistory: []task.Message{
			received,
			{Role: task.RoleAssistant, Content: "Sent clarification request"},
		},
	})
	if err != nil {
		return "", err
	}
	logTransition(t, task.StatusWaitingResponse, task.StatusWaitingResponse)
	telemetry.TrackTask(e.deps.Telemetry, telemetry.EventTaskClarification, updated,
		telemetry.Properties{"round": sc.Clarifications})
	return OutcomeClarified, nil
}
