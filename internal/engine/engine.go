// Package engine drives durable task workflows: it performs their side effects,
// advances their status and converts step failures into failed tasks.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Far3/financial-advisor-ai/internal/interpreter"
	"github.com/Far3/financial-advisor-ai/internal/policy"
	"github.com/Far3/financial-advisor-ai/internal/task"
	"github.com/Far3/financial-advisor-ai/internal/telemetry"
)

// Store is the task persistence the engine needs.
type Store interface {
	CreateTask(ownerID string, typ task.Type, context json.RawMessage, history []task.Message) (*task.Task, error)
	GetTask(id string) (*task.Task, error)
	UpdateTask(id string, upd task.Update) (*task.Task, error)
	CompleteTask(id string, finalContext json.RawMessage) (bool, error)
	FindContactsByName(ownerID, name string) ([]task.Contact, error)
}

// Mailer sends email from the owner's mailbox.
type Mailer interface {
	Send(ctx context.Context, cred task.Credential, to, subject, body string) (string, error)
}

// Calendar reads and writes the owner's calendar.
type Calendar interface {
	ListBusy(ctx context.Context, cred task.Credential, start, end time.Time) ([]task.TimeSlot, error)
	CreateEvent(ctx context.Context, cred task.Credential, req task.EventRequest) (task.EventRef, error)
}

// Interpreter classifies a reply against the options a task proposed.
type Interpreter interface {
	Interpret(ctx context.Context, options []task.TimeSlot, msg task.InboundMessage) (interpreter.Decision, error)
}

// OutboundGate approves or denies an outbound message.
type OutboundGate interface {
	CheckOutbound(ctx context.Context, msg policy.OutboundMessage) error
}

// Workflow is the per-type logic that resumes a waiting task.
type Workflow interface {
	HandleReply(ctx context.Context, owner *task.Owner, t *task.Task, msg task.InboundMessage) (Outcome, error)
}

// Outcome says what happened to a task after a reply was handled.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeClarified Outcome = "clarified"
	OutcomeFailed    Outcome = "failed"
)

// ErrReplyNotConsumed means the reply could not be interpreted because a
// dependency failed; the task is untouched and the reply may be retried.
var ErrReplyNotConsumed = errors.New("reply not consumed")

// Deps are the collaborators the engine calls.
type Deps struct {
	Store       Store
	Mailer      Mailer
	Calendar    Calendar
	Interpreter Interpreter
	// Gate and Telemetry are optional.
	Gate      OutboundGate
	Telemetry telemetry.Client
}

// Config holds the scheduling policy.
type Config struct {
	Location          *time.Location
	RangeDays         int
	MaxCandidates     int
	Presented         int
	DefaultDuration   time.Duration
	MaxClarifications int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Location:          time.UTC,
		RangeDays:         7,
		MaxCandidates:     5,
		Presented:         3,
		DefaultDuration:   60 * time.Minute,
		MaxClarifications: 3,
	}
}

// Engine owns the workflow registry.
type Engine struct {
	deps      Deps
	cfg       Config
	workflows map[task.Type]Workflow
	now       func() time.Time
}

// New creates an Engine with the schedule_meeting workflow registered.
func New(deps Deps, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.RangeDays <= 0 {
		cfg.RangeDays = def.RangeDays
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.Presented <= 0 {
		cfg.Presented = def.Presented
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = def.DefaultDuration
	}
	if cfg.MaxClarifications <= 0 {
		cfg.MaxClarifications = def.MaxClarifications
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.NewNoopClient()
	}

	e := &Engine{
		deps:      deps,
		cfg:       cfg,
		workflows: make(map[task.Type]Workflow),
		now:       time.Now,
	}
	e.Register(task.TypeScheduleMeeting, &scheduleWorkflow{e: e})
	return e
}

// SetClock overrides the time source (tests).
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Register installs wf for typ, replacing any previous registration.
func (e *Engine) Register(typ task.Type, wf Workflow) {
	e.workflows[typ] = wf
}

// HandleReply resumes t with msg. Step failures and panics become a failed
// task and a nil error; only ErrReplyNotConsumed is returned to the caller.
func (e *Engine) HandleReply(ctx context.Context, owner *task.Owner, t *task.Task, msg task.InboundMessage) (outcome Outcome, err error) {
	if t.OwnerID != owner.ID {
		return "", fmt.Errorf("%w: task %s does not belong to owner %s", task.ErrValidation, t.ID, owner.ID)
	}
	if t.Status != task.StatusWaitingResponse {
		return "", fmt.Errorf("%w: task %s is %s, not waiting", task.ErrInvalidTransition, t.ID, t.Status)
	}

	wf, ok := e.workflows[t.Type]
	if !ok {
		e.failTask(t, fmt.Errorf("%w: no workflow for task type %q", task.ErrValidation, t.Type), msg.Body)
		return OutcomeFailed, nil
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("workflow panicked", "task_id", t.ID, "owner_id", t.OwnerID, "panic", r)
			e.failTask(t, fmt.Errorf("workflow panic: %v", r), msg.Body)
			outcome, err = OutcomeFailed, nil
		}
	}()

	outcome, err = wf.HandleReply(ctx, owner, t, msg)
	if err != nil && !errors.Is(err, ErrReplyNotConsumed) {
		e.failTask(t, err, msg.Body)
		return OutcomeFailed, nil
	}
	return outcome, err
}

// Fail marks a task failed on an operator's request.
func (e *Engine) Fail(taskID, reason string) (*task.Task, error) {
	t, err := e.deps.Store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: task %s is already %s", task.ErrInvalidTransition, t.ID, t.Status)
	}
	if reason == "" {
		reason = "marked failed by operator"
	}
	updated, err := e.deps.Store.UpdateTask(t.ID, task.Update{
		Status:     task.StatusPtr(task.StatusFailed),
		LastAction: task.StringPtr("operator_failed"),
		Metadata: map[string]any{
			"error":      reason,
			"error_kind": "operator",
			"failed_at":  e.now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}
	logTransition(t, t.Status, task.StatusFailed)
	telemetry.TrackTask(e.deps.Telemetry, telemetry.EventTaskFailed, updated, telemetry.Properties{"error_kind": "operator"})
	return updated, nil
}

// failTask records cause on t and moves it to failed. A task that is already
// terminal keeps its status; the error is only logged.
func (e *Engine) failTask(t *task.Task, cause error, rawBody string) {
	kind := task.Kind(cause)
	meta := map[string]any{
		"error":      cause.Error(),
		"error_kind": kind,
		"failed_at":  e.now().UTC().Format(time.RFC3339),
	}
	if rawBody != "" {
		meta["raw_body"] = rawBody
	}

	updated, err := e.deps.Store.UpdateTask(t.ID, task.Update{
		Status:     task.StatusPtr(task.StatusFailed),
		LastAction: task.StringPtr("failed"),
		Metadata:   meta,
		AppendHistory: []task.Message{
			{Role: task.RoleSystem, Content: "Task failed: " + cause.Error()},
		},
	})
	if err != nil {
		slog.Error("could not mark task failed", "task_id", t.ID, "owner_id", t.OwnerID, "cause", cause, "error", err)
		return
	}
	slog.Warn("task failed", "task_id", t.ID, "owner_id", t.OwnerID, "error_kind", kind, "error", cause)
	logTransition(t, t.Status, task.StatusFailed)
	telemetry.TrackTask(e.deps.Telemetry, telemetry.EventTaskFailed, updated, telemetry.Properties{"error_kind": kind})
}

// send runs msg through the gate and then the mailer.
func (e *Engine) send(ctx context.Context, owner *task.Owner, msg policy.OutboundMessage) error {
	if e.deps.Gate != nil {
		if err := e.deps.Gate.CheckOutbound(ctx, msg); err != nil {
			return err
		}
	}
	if _, err := e.deps.Mailer.Send(ctx, owner.Google, msg.To, msg.Subject, msg.Body); err != nil {
		return fmt.Errorf("send %s email: %w", msg.Kind, err)
	}
	return nil
}

func logTransition(t *task.Task, from, to task.TaskStatus) {
	slog.Info("task transition", "task_id", t.ID, "owner_id", t.OwnerID, "from", from, "to", to)
}
