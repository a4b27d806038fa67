package memory

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

func TestCreateTask(t *testing.T) {
	s := newTestStore(t)
	mustOwner(t, s, "owner-1", "advisor@example.com")

	history := []task.Message{{Role: task.RoleUser, Content: "Schedule a meeting with Sara"}}
	created, err := s.CreateTask("owner-1", task.TypeScheduleMeeting, []byte(`{"contact_name":"Sara"}`), history)
	require.NoError(t, err)

	assert.Regexp(t, `^task-[0-9a-f]{8}$`, created.ID)
	assert.Equal(t, task.StatusPending, created.Status)
	assert.Empty(t, created.WaitingFor)

	got, err := s.GetTask(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Equal(t, task.TypeScheduleMeeting, got.Type)
	assert.JSONEq(t, `{"contact_name":"Sara"}`, string(got.Context))
	assert.Equal(t, history, got.ConversationHistory)
	assert.True(t, got.CompletedAt.IsZero())
	assert.Equal(t, created.CreatedAt, got.CreatedAt)
}

func TestCreateTask_Validation(t *testing.T) {
	s := newTestStore(t)
	mustOwner(t, s, "owner-1", "advisor@example.com")

	tests := []struct {
		name    string
		owner   string
		typ     task.Type
		context string
		history []task.Message
		kind    error
	}{
		{name: "missing owner", owner: "", typ: task.TypeScheduleMeeting, kind: task.ErrValidation},
		{name: "missing type", owner: "owner-1", typ: "", kind: task.ErrValidation},
		{name: "bad context", owner: "owner-1", typ: task.TypeScheduleMeeting, context: `{nope`, kind: task.ErrValidation},
		{name: "bad role", owner: "owner-1", typ: task.TypeScheduleMeeting, history: []task.Message{{Role: "robot", Content: "x"}}, kind: task.ErrValidation},
		{name: "unknown owner", owner: "owner-404", typ: task.TypeScheduleMeeting, kind: task.ErrStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateTask(tt.owner, tt.typ, []byte(tt.context), tt.history)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestGetTask_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask("task-missing")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestUpdateTask_WaitingForInvariant(t *testing.T) {
	s := newTestStore(t)
	mustOwner(t, s, "owner-1", "advisor@example.com")
	created, err := s.CreateTask("owner-1", task.TypeScheduleMeeting, nil, nil)
	require.NoError(t, err)

	// Entering waiting_response without a key is rejected.
	_, err = s.UpdateTask(created.ID, task.Update{Status: task.StatusPtr(task.StatusWaitingResponse)})
	assert.ErrorIs(t, err, task.ErrValidation)

	// Setting a key outside waiting_response is rejected.
	_, err = s.UpdateTask(created.ID, task.Update{WaitingFor: task.StringPtr("awaiting email reply from: x@y.com")})
	assert.ErrorIs(t, err, task.ErrValidation)

	waiting, err := s.UpdateTask(created.ID, task.Update{
		Status:     task.StatusPtr(task.StatusWaitingResponse),
		WaitingFor: task.StringPtr(task.WaitingForReplyFrom("Sara@Example.com")),
		LastAction: task.StringPtr("Sent email proposing times"),
	})
	require.NoError(t, err)
	assert.Equal(t, "awaiting email reply from: sara@example.com", waiting.WaitingFor)
	assert.Equal(t, "Sent email proposing times", waiting.LastAction)

	// Staying in waiting_response keeps the key.
	again, err := s.UpdateTask(created.ID, task.Update{
		Status:        task.StatusPtr(task.StatusWaitingResponse),
		AppendHistory: []task.Message{{Role: task.RoleAssistant, Content: "Sent clarification request"}},
	})
	require.NoError(t, err)
	assert.Equal(t, waiting.WaitingFor, again.WaitingFor)

	failed, err := s.UpdateTask(created.ID, task.Update{
		Status:   task.StatusPtr(task.StatusFailed),
		Metadata: map[string]any{"error": "boom"},
	})
	require.NoError(t, err)
	assert.Empty(t, failed.WaitingFor)

	stored, err := s.GetTask(created.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.WaitingFor)
	assert.Equal(t, task.StatusFailed, stored.Status)
}

func TestUpdateTask_WaitingSince(t *testing.T) {
	s := newTestStore(t)
	mustOwner(t, s, "owner-1", "advisor@example.com")

	created, err := s.CreateTask("owner-1", task.TypeScheduleMeeting, nil, nil)
	require.NoError(t, err)
	assert.True(t, created.WaitingSince.IsZero())

	waiting := mustWaitingTask(t, s, "owner-1", "sara@example.com")
	require.False(t, waiting.WaitingSince.IsZero())
	assert.True(t, waiting.WaitingSince.Equal(waiting.UpdatedAt))

	// A clarification round stays in waiting_response and keeps the original mark.
	again, err := s.UpdateTask(waiting.ID, task.Update{
		Status:     task.StatusPtr(task.StatusWaitingResponse),
		LastAction: task.StringPtr("Sent clarification request"),
	})
	require.NoError(t, err)
	assert.True(t, again.WaitingSince.Equal(waiting.WaitingSince))
	assert.True(t, again.UpdatedAt.After(waiting.WaitingSince))

	stored, err := s.GetTask(waiting.ID)
	require.NoError(t, err)
	assert.True(t, stored.WaitingSince.Equal(waiting.WaitingSince))

	_, err = s.CompleteTask(waiting.ID, []byte(`{"event_id":"evt-1"}`))
	require.NoError(t, err)
	done, err := s.GetTask(waiting.ID)
	require.NoError(t, err)
	assert.True(t, done.WaitingSince.IsZero())
}

func TestUpdateTask_TerminalIsFrozen(t *testing.T) {
	s := newTestStore(t)
	mustOwner(t, s, "owner-1", "advisor@example.com")
	tsk := mustWaitingTask(t, s, "owner-1", "sara@example.com")

	done, err := s.CompleteTask(tsk.ID, nil)
	require.NoError(t, err)
	require.True(t, done)

	for _, to := range []task.TaskStatus{task.StatusPending, task.StatusInProgress, task.StatusWaitingResponse, task.StatusFailed, task.StatusCompleted} {
		_, err := s.UpdateTask(tsk.ID, task.Update{Status: task.StatusPtr(to), WaitingFor: task.StringPtr("x")})
		assert.ErrorIs(t, err, task.ErrInvalidTransition, "completed -> %s", to)
	}

	// Audit data may still be appended.
	require.NoError(t, s.AppendMessage(tsk.ID, task.RoleSystem, "operator note"))
	_, err = s.UpdateTask(tsk.ID, task.Update{Metadata: map[string]any{"audited": true}})
	require.NoError(t, err)

	got, err := s.GetTask(tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, true, got.Metadata["audited"])
	require.NotEmpty(t, got.ConversationHistory)
	assert.Equal(t, "operator note", got.ConversationHistory[len(got.ConversationHistory)-1].Content)
}

func TestUpdateTask_MergesMetadataAndAppendsHistory(t *testing.T) {
	s := newTestStore(t)
	mustOwner(t, s, "owner-1", "advisor@example.com")
	created, err := s.CreateTask("owner-1", task.TypeScheduleMeeting, nil,
		[]task.Message{{Role: task.RoleUser, Content: "first"}})
	require.NoError(t, err)

	_, err = s.UpdateTask(created.ID, task.Update{Metadata: map[string]any{"a": "1", "b": "2"}})
	require.NoError(t, err)
	_, err = s.UpdateTask(created.ID, task.Update{
		Metadata:      map[string]any{"b": "3"},
		AppendHistory: []task.Message{{Role: task.RoleAssistant, Content: "second"}},
	})
	require.NoError(t, err)

	got, err := s.GetTask(created.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1", "b": "3"}, got.Metadata)
	assert.Equal(t, []task.Message{
		{Role: task.RoleUser, Content: "first"},
		{Role: task.RoleAssistant, Content: "second"},
	}, got.ConversationHistory)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
}

func TestCompleteTask_Idempotent(t *testing.T) {
	s := newTestStore(t)
	mustOwner(t, s, "owner-1", "advisor@example.com")
	tsk := mustWaitingTask(t, s, "owner-1", "sara@example.com")

	final, err := task.EncodeContext(map[string]any{"final_meeting_time": "2025-07-15T14:00:00Z"})
	require.NoError(t, err)

	ok, err := s.CompleteTask(tsk.ID, final)
	require.NoError(t, err)
	require.True(t, ok)

	first, err := s.GetTask(tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, first.Status)
	assert.False(t, first.CompletedAt.IsZero())
	assert.Empty(t, first.WaitingFor)
	assert.JSONEq(t, string(final), string(first.Context))

	ok, err = s.CompleteTask(tsk.ID, json.RawMessage(`{"other":true}`))
	require.NoError(t, err)
	assert.True(t, ok)

	second, err := s.GetTask(tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, first.CompletedAt, second.CompletedAt)
	assert.JSONEq(t, string(final), string(second.Context))
}

func TestCompleteTask_FromPendingRejected(t *testing.T) {
	s := newTestStore(t)
	mustOwner(t, s, "owner-1", "advisor@example.com")
	created, err := s.CreateTask("owner-1", task.TypeScheduleMeeting, nil, nil)
	require.NoError(t, err)

	ok, err := s.CompleteTask(created.ID, nil)
	assert.False(t, ok)
	assert.ErrorIs(t, err, task.ErrInvalidTransition)

	ok, err = s.CompleteTask("task-missing", nil)
	assert.False(t, ok)
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestCompleteTask_ConcurrentCallsAgree(t *testing.T) {
	s := newTestStore(t)
	mustOwner(t, s, "owner-1", "advisor@example.com")
	tsk := mustWaitingTask(t, s, "owner-1", "sara@example.com")

	var wg sync.WaitGroup
	results := make([]bool, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.CompleteTask(tsk.ID, nil)
		}(i)
	}
	wg.Wait()

	for i := range results {
		assert.NoError(t, errs[i])
		assert.True(t, results[i])
	}
	got, err := s.GetTask(tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
}

func TestFindWaitingForSender(t *testing.T) {
	s := newTestStore(t)
	mustOwner(t, s, "owner-1", "advisor@example.com")
	mustOwner(t, s, "owner-2", "other@example.com")

	older := mustWaitingTask(t, s, "owner-1", "sara@example.com")
	newer := mustWaitingTask(t, s, "owner-1", "sara@example.com")
	mustWaitingTask(t, s, "owner-2", "sara@example.com")
	mustWaitingTask(t, s, "owner-1", "bob_smith@example.com")

	t.Run("newest wins", func(t *testing.T) {
		got, err := s.FindWaitingForSender("owner-1", "Sara@Example.COM")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, newer.ID, got.ID)
	})

	t.Run("owner scoped", func(t *testing.T) {
		got, err := s.FindWaitingForSender("owner-2", "sara@example.com")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "owner-2", got.OwnerID)
	})

	t.Run("underscore is literal", func(t *testing.T) {
		got, err := s.FindWaitingForSender("owner-1", "bobXsmith@example.com")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("no match", func(t *testing.T) {
		got, err := s.FindWaitingForSender("owner-1", "nobody@example.com")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("completed tasks are not matched", func(t *testing.T) {
		_, err := s.CompleteTask(newer.ID, nil)
		require.NoError(t, err)
		got, err := s.FindWaitingForSender("owner-1", "sara@example.com")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, older.ID, got.ID)
	})
}

func TestListTasksByStatus_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	mustOwner(t, s, "owner-1", "advisor@example.com")

	var ids []string
	for range 3 {
		created, err := s.CreateTask("owner-1", task.TypeScheduleMeeting, nil, nil)
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}

	got, err := s.ListTasksByStatus("owner-1", task.StatusPending)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{got[0].ID, got[1].ID, got[2].ID})

	none, err := s.ListTasksByStatus("owner-1", task.StatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.ListTasksByStatus("", task.StatusPending)
	assert.ErrorIs(t, err, task.ErrValidation)
}

func TestOwnersWithWaitingTasks(t *testing.T) {
	s := newTestStore(t)
	mustOwner(t, s, "owner-1", "a@example.com")
	mustOwner(t, s, "owner-2", "b@example.com")
	mustOwner(t, s, "owner-3", "c@example.com")

	mustWaitingTask(t, s, "owner-2", "x@example.com")
	mustWaitingTask(t, s, "owner-2", "y@example.com")
	mustWaitingTask(t, s, "owner-1", "x@example.com")
	_, err := s.CreateTask("owner-3", task.TypeScheduleMeeting, nil, nil)
	require.NoError(t, err)

	owners, err := s.OwnersWithWaitingTasks()
	require.NoError(t, err)
	assert.Equal(t, []string{"owner-1", "owner-2"}, owners)
}

func TestClaimReply(t *testing.T) {
	s := newTestStore(t)
	mustOwner(t, s, "owner-1", "advisor@example.com")
	tsk := mustWaitingTask(t, s, "owner-1", "sara@example.com")

	first, err := s.ClaimReply(tsk.ID, "msg-1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.ClaimReply(tsk.ID, "msg-1")
	require.NoError(t, err)
	assert.False(t, second)

	other, err := s.ClaimReply(tsk.ID, "msg-2")
	require.NoError(t, err)
	assert.True(t, other)

	require.NoError(t, s.ReleaseReply(tsk.ID, "msg-1"))
	again, err := s.ClaimReply(tsk.ID, "msg-1")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestFindTaskIDsByPrefix(t *testing.T) {
	s := newTestStore(t)
	mustOwner(t, s, "owner-1", "advisor@example.com")
	created, err := s.CreateTask("owner-1", task.TypeScheduleMeeting, nil, nil)
	require.NoError(t, err)

	ids, err := s.FindTaskIDsByPrefix(created.ID[:7])
	require.NoError(t, err)
	assert.Contains(t, ids, created.ID)
}
