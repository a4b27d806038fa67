package memory

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	o, err := store.CreateOwner(task.Owner{Email: "a@example.com"})
	require.NoError(t, err)
	got, err := store.GetOwner(o.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)
	assert.Equal(t, ":memory:", store.Path())
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "advisor.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	o := mustOwner(t, store, "owner-1", "a@example.com")
	created := mustWaitingTask(t, store, o.ID, "client@example.com")
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	got, err := store.GetTask(created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusWaitingResponse, got.Status)
	assert.Equal(t, task.WaitingForReplyFrom("client@example.com"), got.WaitingFor)
}

func TestNewSQLiteStore_MigratesOldColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE tasks (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		context TEXT NOT NULL DEFAULT '{}',
		conversation_history TEXT NOT NULL DEFAULT '[]',
		waiting_for TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT
	)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	has, err := store.hasColumn("tasks", "last_action")
	require.NoError(t, err)
	assert.True(t, has)
}
