package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

type stubModel struct {
	resp  *schema.Message
	err   error
	delay time.Duration
	opts  int
}

func (m *stubModel) Generate(ctx context.Context, _ []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.opts = len(opts)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.resp, m.err
}

func (m *stubModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestModelCompleter_Content(t *testing.T) {
	c := NewCompleter(&stubModel{resp: schema.AssistantMessage("hello", nil)}, time.Second)
	res, err := c.Complete(context.Background(), []*schema.Message{schema.UserMessage("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, ResultContent, res.Kind)
	assert.Equal(t, "hello", res.Content)
}

func TestModelCompleter_ToolCall(t *testing.T) {
	stub := &stubModel{resp: schema.AssistantMessage("", []schema.ToolCall{{
		ID:       "call-1",
		Function: schema.FunctionCall{Name: "send_email", Arguments: `{"to":"a@b.com"}`},
	}})}
	c := NewCompleter(stub, 0)
	tools := []*schema.ToolInfo{{Name: "send_email", Desc: "Send an email"}}

	res, err := c.Complete(context.Background(), nil, tools)
	require.NoError(t, err)
	assert.Equal(t, 1, stub.opts)
	assert.Equal(t, ResultToolCall, res.Kind)
	assert.Equal(t, "send_email", res.ToolCall.Name)
	assert.JSONEq(t, `{"to":"a@b.com"}`, res.ToolCall.Arguments)
}

func TestModelCompleter_Errors(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		c := NewCompleter(&stubModel{delay: time.Second}, 10*time.Millisecond)
		_, err := c.Complete(context.Background(), nil, nil)
		assert.ErrorIs(t, err, task.ErrTimeout)
		assert.ErrorIs(t, err, task.ErrExternalService)
	})

	t.Run("upstream failure", func(t *testing.T) {
		c := NewCompleter(&stubModel{err: errors.New("502 bad gateway")}, time.Second)
		_, err := c.Complete(context.Background(), nil, nil)
		assert.ErrorIs(t, err, task.ErrExternalService)
		assert.NotErrorIs(t, err, task.ErrTimeout)
	})

	t.Run("nil response", func(t *testing.T) {
		c := NewCompleter(&stubModel{}, time.Second)
		_, err := c.Complete(context.Background(), nil, nil)
		assert.ErrorIs(t, err, task.ErrExternalService)
	})
}
