package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

// ResultKind tags what a completion produced.
type ResultKind string

const (
	ResultContent  ResultKind = "content"
	ResultToolCall ResultKind = "tool_call"
)

// ToolCall is the first tool invocation requested by the model.
type ToolCall struct {
	Name      string
	Arguments string // raw JSON
}

// Result is either plain content or a tool call, never both.
type Result struct {
	Kind     ResultKind
	Content  string
	ToolCall ToolCall
}

// Completer turns a prompt (and optional tool schemas) into a Result.
type Completer interface {
	Complete(ctx context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (Result, error)
}

// ModelCompleter adapts an Eino chat model to Completer.
type ModelCompleter struct {
	model   model.BaseChatModel
	timeout time.Duration
}

// NewCompleter wraps m. A zero timeout leaves the caller's deadline in charge.
func NewCompleter(m model.BaseChatModel, timeout time.Duration) *ModelCompleter {
	return &ModelCompleter{model: m, timeout: timeout}
}

// Complete calls the model once. Timeouts surface as task.ErrTimeout and all
// other failures as task.ErrExternalService; no retry is attempted.
func (c *ModelCompleter) Complete(ctx context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var opts []model.Option
	if len(tools) > 0 {
		opts = append(opts, model.WithTools(tools))
	}

	resp, err := c.model.Generate(ctx, msgs, opts...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: model completion: %v", task.ErrTimeout, err)
		}
		return Result{}, fmt.Errorf("%w: model completion: %v", task.ErrExternalService, err)
	}
	return ResultFromMessage(resp)
}

// ResultFromMessage converts a model response into a Result.
func ResultFromMessage(msg *schema.Message) (Result, error) {
	if msg == nil {
		return Result{}, fmt.Errorf("%w: empty model response", task.ErrExternalService)
	}
	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0]
		if call.Function.Name == "" {
			return Result{}, fmt.Errorf("%w: tool call without a name", task.ErrValidation)
		}
		return Result{
			Kind:     ResultToolCall,
			ToolCall: ToolCall{Name: call.Function.Name, Arguments: call.Function.Arguments},
		}, nil
	}
	return Result{Kind: ResultContent, Content: msg.Content}, nil
}
