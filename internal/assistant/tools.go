package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/Far3/financial-advisor-ai/internal/adapters/hubspot"
	"github.com/Far3/financial-advisor-ai/internal/engine"
	"github.com/Far3/financial-advisor-ai/internal/slots"
	"github.com/Far3/financial-advisor-ai/internal/task"
	"github.com/Far3/financial-advisor-ai/internal/utils"
)

const (
	ToolSendEmail          = "send_email"
	ToolCreateContact      = "create_hubspot_contact"
	ToolAddNote            = "add_hubspot_note"
	ToolListCalendarEvents = "list_calendar_events"
	ToolScheduleMeeting    = "schedule_meeting"

	defaultEventDays = 7
	maxEventDays     = 31
	maxListedEvents  = 20
)

// turn carries per-request state into the tools.
type turn struct {
	owner  *task.Owner
	taskID string
}

// funcTool adapts a closure to tool.InvokableTool.
type funcTool struct {
	info *schema.ToolInfo
	run  func(ctx context.Context, args string) (string, error)
}

func (t *funcTool) Info(context.Context) (*schema.ToolInfo, error) { return t.info, nil }

func (t *funcTool) InvokableRun(ctx context.Context, argsJSON string, _ ...tool.Option) (string, error) {
	return t.run(ctx, argsJSON)
}

var _ tool.InvokableTool = (*funcTool)(nil)

// decodeArgs unmarshals and validates tool arguments.
func (a *Assistant) decodeArgs(raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: tool arguments: %v", task.ErrValidation, err)
	}
	if err := a.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", task.ErrValidation, err)
	}
	return nil
}

func (a *Assistant) tools(tn *turn) []tool.InvokableTool {
	return []tool.InvokableTool{
		&funcTool{
			info: &schema.ToolInfo{
				Name: ToolSendEmail,
				Desc: "Send an email from the advisor's Gmail account.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"to":      {Type: schema.String, Desc: "Recipient email address", Required: true},
					"subject": {Type: schema.String, Desc: "Subject line", Required: true},
					"body":    {Type: schema.String, Desc: "Plain-text body", Required: true},
				}),
			},
			run: func(ctx context.Context, args string) (string, error) { return a.sendEmail(ctx, tn, args) },
		},
		&funcTool{
			info: &schema.ToolInfo{
				Name: ToolCreateContact,
				Desc: "Create a HubSpot contact, optionally with a first note.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"email":     {Type: schema.String, Desc: "Contact email address", Required: true},
					"firstname": {Type: schema.String, Desc: "First name"},
					"lastname":  {Type: schema.String, Desc: "Last name"},
					"note":      {Type: schema.String, Desc: "Note to attach after creation"},
				}),
			},
			run: func(ctx context.Context, args string) (string, error) { return a.createContact(ctx, tn, args) },
		},
		&funcTool{
			info: &schema.ToolInfo{
				Name: ToolAddNote,
				Desc: "Add a note to an existing HubSpot contact.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"email": {Type: schema.String, Desc: "Contact email address", Required: true},
					"note":  {Type: schema.String, Desc: "Note text", Required: true},
				}),
			},
			run: func(ctx context.Context, args string) (string, error) { return a.addNote(ctx, tn, args) },
		},
		&funcTool{
			info: &schema.ToolInfo{
				Name: ToolListCalendarEvents,
				Desc: "List upcoming events on the advisor's calendar.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"days": {Type: schema.Integer, Desc: "How many days ahead to look (default 7)"},
				}),
			},
			run: func(ctx context.Context, args string) (string, error) { return a.listEvents(ctx, tn, args) },
		},
		&funcTool{
			info: &schema.ToolInfo{
				Name: ToolScheduleMeeting,
				Desc: "Email a client proposed meeting times and book the one they pick. Follow-up happens automatically.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"contact_name":     {Type: schema.String, Desc: "Client name as it appears in the CRM", Required: true},
					"contact_email":    {Type: schema.String, Desc: "Client email when known"},
					"duration_minutes": {Type: schema.Integer, Desc: "Meeting length in minutes (default 60)"},
					"notes":            {Type: schema.String, Desc: "Agenda or notes for the invite"},
				}),
			},
			run: func(ctx context.Context, args string) (string, error) { return a.scheduleMeeting(ctx, tn, args) },
		},
	}
}

func (a *Assistant) sendEmail(ctx context.Context, tn *turn, raw string) (string, error) {
	var args struct {
		To      string `json:"to" validate:"required,email"`
		Subject string `json:"subject" validate:"required,max=300"`
		Body    string `json:"body" validate:"required,max=20000"`
	}
	if err := a.decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if err := a.checkOutbound(ctx, tn.owner, args.To, args.Subject, args.Body); err != nil {
		return "", err
	}
	if _, err := a.deps.Mailer.Send(ctx, tn.owner.Google, args.To, args.Subject, args.Body); err != nil {
		return "", err
	}
	return fmt.Sprintf("Email sent to %s with subject %q.", args.To, args.Subject), nil
}

func (a *Assistant) createContact(ctx context.Context, tn *turn, raw string) (string, error) {
	var args struct {
		Email     string `json:"email" validate:"required,email"`
		FirstName string `json:"firstname" validate:"max=100"`
		LastName  string `json:"lastname" validate:"max=100"`
		Note      string `json:"note" validate:"max=5000"`
	}
	if err := a.decodeArgs(raw, &args); err != nil {
		return "", err
	}
	cred := tn.owner.HubSpot

	existing, err := a.deps.CRM.FindByEmail(ctx, cred, args.Email)
	switch {
	case err == nil:
		return fmt.Sprintf("%s is already in HubSpot as %s.", existing.Email, displayName(existing)), nil
	case !errors.Is(err, task.ErrNotFound):
		return "", err
	}

	created, err := a.deps.CRM.Create(ctx, cred, hubspot.NewContact{
		Email:     args.Email,
		FirstName: args.FirstName,
		LastName:  args.LastName,
	})
	if err != nil {
		return "", err
	}
	msg := fmt.Sprintf("Created HubSpot contact %s (%s).", displayName(created), created.Email)
	if strings.TrimSpace(args.Note) == "" {
		return msg, nil
	}
	if _, err := a.deps.CRM.AddNote(ctx, cred, created.ID, args.Note); err != nil {
		return msg + " The note could not be added: " + describeFailure(ToolAddNote, err), nil
	}
	return msg + " Note added.", nil
}

func (a *Assistant) addNote(ctx context.Context, tn *turn, raw string) (string, error) {
	var args struct {
		Email string `json:"email" validate:"required,email"`
		Note  string `json:"note" validate:"required,max=5000"`
	}
	if err := a.decodeArgs(raw, &args); err != nil {
		return "", err
	}
	cred := tn.owner.HubSpot

	contact, err := a.deps.CRM.FindByEmail(ctx, cred, args.Email)
	if errors.Is(err, task.ErrNotFound) {
		return fmt.Sprintf("No HubSpot contact found for %s. Would you like me to create one first?", args.Email), nil
	}
	if err != nil {
		return "", err
	}
	if _, err := a.deps.CRM.AddNote(ctx, cred, contact.ID, args.Note); err != nil {
		return "", err
	}
	return fmt.Sprintf("Added a note to %s.", displayName(contact)), nil
}

func (a *Assistant) listEvents(ctx context.Context, tn *turn, raw string) (string, error) {
	var args struct {
		Days int `json:"days" validate:"omitempty,min=1"`
	}
	if err := a.decodeArgs(raw, &args); err != nil {
		return "", err
	}
	days := args.Days
	if days == 0 {
		days = defaultEventDays
	}
	if days > maxEventDays {
		days = maxEventDays
	}

	start := a.now()
	events, err := a.deps.Calendar.ListEvents(ctx, tn.owner.Google, start, start.AddDate(0, 0, days), maxListedEvents)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return fmt.Sprintf("You have no events in the next %d days.", days), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Upcoming events (next %d days):\n", days)
	for _, ev := range events {
		when := ev.Start.In(a.location).Format("Mon, Jan 2 at 3:04 PM")
		if ev.AllDay {
			when = ev.Start.Format("Mon, Jan 2") + " (all day)"
		}
		fmt.Fprintf(&sb, "- %s: %s", when, ev.Summary)
		if ev.Location != "" {
			fmt.Fprintf(&sb, " @ %s", ev.Location)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (a *Assistant) scheduleMeeting(ctx context.Context, tn *turn, raw string) (string, error) {
	var req engine.ScheduleRequest
	if err := a.decodeArgs(raw, &req); err != nil {
		return "", err
	}
	t, err := a.deps.Scheduler.ScheduleMeeting(ctx, tn.owner, req)
	if t != nil {
		tn.taskID = t.ID
	}
	if err != nil {
		return "", err
	}

	var sc engine.ScheduleContext
	if err := t.DecodeContext(&sc); err != nil {
		return "", err
	}
	return fmt.Sprintf("I've emailed %s (%s) with these options:\n%s\nI'll book the meeting once they reply.",
		utils.TitleName(sc.ContactName), sc.ContactEmail, slots.NumberedList(sc.ProposedTimes, a.location)), nil
}

func displayName(c *hubspot.Contact) string {
	if n := c.Name(); n != "" {
		return n
	}
	return c.Email
}

// describeFailure turns a tool error into text for the owner.
func describeFailure(toolName string, err error) string {
	service := "Google"
	if toolName == ToolCreateContact || toolName == ToolAddNote {
		service = "HubSpot"
	}
	switch {
	case errors.Is(err, task.ErrNotConnected):
		return fmt.Sprintf("Your %s account is not connected. Connect it and try again.", service)
	case errors.Is(err, task.ErrAuthExpired):
		return fmt.Sprintf("Your %s connection has expired. Please reconnect your account and try again.", service)
	case errors.Is(err, task.ErrNoAvailability):
		return "I couldn't find any open time slots in the scheduling window. Try a shorter meeting or a later week."
	case errors.Is(err, task.ErrPolicyDenied):
		return "I can't send that message because it was blocked by the outbound policy: " + err.Error()
	case errors.Is(err, task.ErrNotFound):
		return "I couldn't find that: " + err.Error()
	case errors.Is(err, task.ErrValidation):
		return "I couldn't do that because the request was incomplete: " + err.Error()
	case errors.Is(err, task.ErrTimeout):
		return fmt.Sprintf("%s took too long to respond. Please try again in a moment.", service)
	default:
		return fmt.Sprintf("Something went wrong while running %s. Please try again.", toolName)
	}
}
