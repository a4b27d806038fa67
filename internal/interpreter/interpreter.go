// Package interpreter classifies a counterparty's reply to a set of proposed
// meeting times.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"

	"github.com/Far3/financial-advisor-ai/internal/llm"
	"github.com/Far3/financial-advisor-ai/internal/slots"
	"github.com/Far3/financial-advisor-ai/internal/task"
	"github.com/Far3/financial-advisor-ai/internal/utils"
	"github.com/Far3/financial-advisor-ai/prompts"
)

// Decision is what the engine acts on. Exactly one of SelectedIndex,
// CustomTime or NeedsClarification is meaningful.
type Decision struct {
	SelectedIndex      *int
	CustomTime         *time.Time
	NeedsClarification bool
	Summary            string
}

// rawDecision mirrors the JSON the model is asked for.
type rawDecision struct {
	SelectedSlotIndex  *int    `json:"selected_slot_index" validate:"omitempty,min=0"`
	CustomTime         *string `json:"custom_time" validate:"omitempty,max=64"`
	NeedsClarification bool    `json:"needs_clarification"`
	ResponseSummary    string  `json:"response_summary" validate:"max=1000"`
}

const fallbackSummary = "Reply could not be interpreted"

// Interpreter delegates language understanding to a Completer and validates
// what comes back.
type Interpreter struct {
	completer  llm.Completer
	validate   *validator.Validate
	location   *time.Location
	promptsDir string
	now        func() time.Time
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLocation sets the zone used to show options and to read zone-less times.
func WithLocation(loc *time.Location) Option {
	return func(i *Interpreter) { i.location = loc }
}

// WithPromptsDir enables prompt overrides from dir.
func WithPromptsDir(dir string) Option {
	return func(i *Interpreter) { i.promptsDir = dir }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Interpreter) { i.now = now }
}

// New creates an Interpreter backed by c.
func New(c llm.Completer, opts ...Option) *Interpreter {
	i := &Interpreter{
		completer: c,
		validate:  validator.New(),
		location:  time.UTC,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Interpret classifies msg against options. Malformed or unusable model output
// yields NeedsClarification; only an unreachable or timed-out model returns an error.
func (i *Interpreter) Interpret(ctx context.Context, options []task.TimeSlot, msg task.InboundMessage) (Decision, error) {
	prompt, err := prompts.Render(prompts.KeyInterpretReply, i.promptsDir, map[string]string{
		"Now":     i.now().In(i.location).Format(time.RFC3339),
		"Options": slots.NumberedList(options, i.location),
		"From":    msg.FromEmail,
		"Subject": msg.Subject,
		"Body":    msg.Body,
	})
	if err != nil {
		return Decision{}, err
	}

	res, err := i.completer.Complete(ctx, []*schema.Message{schema.SystemMessage(prompt)}, nil)
	if errors.Is(err, task.ErrValidation) {
		slog.Warn("interpreter got malformed model output", "error", err)
		return clarify(fallbackSummary), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("interpret reply: %w", err)
	}
	if res.Kind != llm.ResultContent {
		slog.Warn("interpreter got a tool call instead of content", "tool", res.ToolCall.Name)
		return clarify(fallbackSummary), nil
	}
	return i.Parse(res.Content, len(options)), nil
}

// Parse validates raw model output against a list of optionCount proposals.
func (i *Interpreter) Parse(content string, optionCount int) Decision {
	raw, err := utils.ExtractAndParseJSON[rawDecision](content)
	if err != nil {
		slog.Debug("interpreter output is not JSON", "error", err)
		return clarify(fallbackSummary)
	}
	if err := i.validate.Struct(raw); err != nil {
		slog.Debug("interpreter output failed validation", "error", err)
		return clarify(summaryOr(raw.ResponseSummary))
	}

	summary := summaryOr(raw.ResponseSummary)
	if raw.NeedsClarification {
		return clarify(summary)
	}

	if raw.SelectedSlotIndex != nil {
		idx := *raw.SelectedSlotIndex
		if idx >= optionCount {
			slog.Debug("interpreter index out of range", "index", idx, "options", optionCount)
			return clarify(summary)
		}
		return Decision{SelectedIndex: &idx, Summary: summary}
	}

	if raw.CustomTime != nil && strings.TrimSpace(*raw.CustomTime) != "" {
		t, ok := parseTime(*raw.CustomTime, i.location)
		if !ok {
			slog.Debug("interpreter custom time unparseable", "value", *raw.CustomTime)
			return clarify(summary)
		}
		return Decision{CustomTime: &t, Summary: summary}
	}

	return clarify(summary)
}

func clarify(summary string) Decision {
	return Decision{NeedsClarification: true, Summary: summary}
}

func summaryOr(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallbackSummary
	}
	return s
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parseTime accepts RFC 3339, or a zone-less timestamp read in loc.
func parseTime(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
