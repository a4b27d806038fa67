package memory

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

// newTestStore opens a file-backed store in a temp dir with a ticking clock,
// so consecutive writes get strictly increasing timestamps.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "advisor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var mu sync.Mutex
	clock := time.Date(2025, 7, 14, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	})
	return store
}

func mustOwner(t *testing.T, s *SQLiteStore, id, email string) *task.Owner {
	t.Helper()
	o, err := s.CreateOwner(task.Owner{
		ID:     id,
		Email:  email,
		Google: task.Credential{AccessToken: "g-token", RefreshToken: "g-refresh"},
	})
	require.NoError(t, err)
	return o
}

func mustWaitingTask(t *testing.T, s *SQLiteStore, ownerID, sender string) *task.Task {
	t.Helper()
	created, err := s.CreateTask(ownerID, task.TypeScheduleMeeting, []byte(`{"contact_email":"`+sender+`"}`), nil)
	require.NoError(t, err)
	updated, err := s.UpdateTask(created.ID, task.Update{
		Status:     task.StatusPtr(task.StatusWaitingResponse),
		WaitingFor: task.StringPtr(task.WaitingForReplyFrom(sender)),
	})
	require.NoError(t, err)
	return updated
}
