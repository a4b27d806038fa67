package ui

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

var uiNow = time.Date(2025, 7, 14, 12, 0, 0, 0, time.UTC)

func TestRenderTaskTable(t *testing.T) {
	var buf bytes.Buffer
	RenderTaskTable(&buf, []task.Task{
		{
			ID:         "a1b2c3d4e5f6",
			Type:       task.TypeScheduleMeeting,
			Status:     task.StatusWaitingResponse,
			WaitingFor: task.WaitingForReplyFrom("Sara@Example.com"),
			UpdatedAt:  uiNow.Add(-5 * time.Minute),
		},
		{
			ID:        "ffff0000",
			Type:      task.TypeScheduleMeeting,
			Status:    task.StatusCompleted,
			UpdatedAt: uiNow.Add(-50 * time.Hour),
		},
	}, uiNow)

	out := buf.String()
	assert.Contains(t, out, "a1b2c3d4")
	assert.NotContains(t, out, "a1b2c3d4e5")
	assert.Contains(t, out, "waiting_response")
	assert.Contains(t, out, "sara@example.com")
	assert.Contains(t, out, "5m ago")
	assert.Contains(t, out, "2d ago")
}

func TestRenderTaskTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	RenderTaskTable(&buf, nil, uiNow)
	assert.Contains(t, buf.String(), "No tasks.")
}

func TestRenderTaskDetail(t *testing.T) {
	var buf bytes.Buffer
	RenderTaskDetail(&buf, &task.Task{
		ID:        "t-1",
		OwnerID:   "owner-1",
		Type:      task.TypeScheduleMeeting,
		Status:    task.StatusFailed,
		Context:   json.RawMessage(`{"contact_email":"sara@example.com"}`),
		Metadata:  map[string]any{"error": "no slot matched"},
		CreatedAt: uiNow,
		UpdatedAt: uiNow,
		ConversationHistory: []task.Message{
			{Role: task.RoleUser, Content: "book Sara"},
			{Role: task.RoleAssistant, Content: "emailed Sara"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Task t-1")
	assert.Contains(t, out, "owner-1")
	assert.Contains(t, out, "no slot matched")
	assert.Contains(t, out, "sara@example.com")
	assert.Contains(t, out, "user>")
	assert.Contains(t, out, "emailed Sara")
	assert.NotContains(t, out, "waiting for")
}

func TestAgo(t *testing.T) {
	assert.Equal(t, "-", Ago(uiNow, time.Time{}))
	assert.Equal(t, "just now", Ago(uiNow, uiNow.Add(-10*time.Second)))
	assert.Equal(t, "3h ago", Ago(uiNow, uiNow.Add(-3*time.Hour)))
}
