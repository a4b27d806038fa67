package memory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

const taskSelectColumns = `id, owner_id, type, status, context, conversation_history,
       waiting_for, waiting_since, last_action, metadata, created_at, updated_at, completed_at`

// taskRowScanner is satisfied by *sql.Row and *sql.Rows.
type taskRowScanner interface {
	Scan(dest ...any) error
}

// queryRower is satisfied by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func scanTaskRow(row taskRowScanner) (task.Task, error) {
	var t task.Task
	var contextJSON, historyJSON, metadataJSON string
	var waitingFor, waitingSince, lastAction, completedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&t.ID, &t.OwnerID, &t.Type, &t.Status, &contextJSON, &historyJSON,
		&waitingFor, &waitingSince, &lastAction, &metadataJSON, &createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return t, err
	}

	t.Context = json.RawMessage(contextJSON)
	t.WaitingFor = waitingFor.String
	t.WaitingSince = parseNullTime(waitingSince)
	t.LastAction = lastAction.String
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.CompletedAt = parseNullTime(completedAt)

	if historyJSON != "" {
		if err := json.Unmarshal([]byte(historyJSON), &t.ConversationHistory); err != nil {
			return t, fmt.Errorf("decode history of %s: %w", t.ID, err)
		}
	}
	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &t.Metadata); err != nil {
			return t, fmt.Errorf("decode metadata of %s: %w", t.ID, err)
		}
	}
	return t, nil
}

func getTaskWith(q queryRower, id string) (*task.Task, error) {
	t, err := scanTaskRow(q.QueryRow(`SELECT `+taskSelectColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", task.ErrNotFound, id)
	}
	if err != nil {
		return nil, storageErr("query task", err)
	}
	return &t, nil
}

// CreateTask persists a new task in status pending and returns it.
func (s *SQLiteStore) CreateTask(ownerID string, typ task.Type, context json.RawMessage, history []task.Message) (*task.Task, error) {
	now := s.now()
	t := &task.Task{
		ID:                  "task-" + uuid.New().String()[:8],
		OwnerID:             ownerID,
		Type:                typ,
		Status:              task.StatusPending,
		Context:             context,
		ConversationHistory: history,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if len(t.Context) == 0 {
		t.Context = json.RawMessage(`{}`)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if !json.Valid(t.Context) {
		return nil, fmt.Errorf("%w: context is not valid JSON", task.ErrValidation)
	}

	historyJSON, err := marshalJSON(t.ConversationHistory, "[]")
	if err != nil {
		return nil, fmt.Errorf("%w: encode history: %v", task.ErrValidation, err)
	}

	err = withRetry(defaultRetryConfig, func() error {
		_, err := s.db.Exec(`
			INSERT INTO tasks (id, owner_id, type, status, context, conversation_history, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, '{}', ?, ?)
		`, t.ID, t.OwnerID, t.Type, t.Status, string(t.Context), historyJSON, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
		return err
	})
	if err != nil {
		return nil, storageErr("insert task", err)
	}
	return t, nil
}

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(id string) (*task.Task, error) {
	return getTaskWith(s.db, id)
}

// UpdateTask merges upd into the stored task and returns the result.
// Status changes are checked against the transition table and applied with
// compare-and-set, so a concurrent writer makes this call fail instead of
// overwriting. Terminal tasks accept only metadata, history and last_action.
func (s *SQLiteStore) UpdateTask(id string, upd task.Update) (*task.Task, error) {
	var out *task.Task
	err := withRetry(defaultRetryConfig, func() error {
		var err error
		out, err = s.updateTaskOnce(id, upd)
		return err
	})
	return out, err
}

func (s *SQLiteStore) updateTaskOnce(id string, upd task.Update) (*task.Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, storageErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := getTaskWith(tx, id)
	if err != nil {
		return nil, err
	}

	next, err := applyUpdate(*cur, upd)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()
	switch {
	case next.Status != task.StatusWaitingResponse:
		next.WaitingSince = time.Time{}
	case cur.Status != task.StatusWaitingResponse:
		next.WaitingSince = next.UpdatedAt
	}
	if next.Status == task.StatusCompleted && cur.Status != task.StatusCompleted {
		next.CompletedAt = next.UpdatedAt
	}

	historyJSON, err := marshalJSON(next.ConversationHistory, "[]")
	if err != nil {
		return nil, fmt.Errorf("%w: encode history: %v", task.ErrValidation, err)
	}
	metadataJSON, err := marshalJSON(next.Metadata, "{}")
	if err != nil {
		return nil, fmt.Errorf("%w: encode metadata: %v", task.ErrValidation, err)
	}

	res, err := tx.Exec(`
		UPDATE tasks
		SET status = ?, context = ?, conversation_history = ?, waiting_for = ?, waiting_since = ?, last_action = ?,
		    metadata = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, next.Status, string(next.Context), historyJSON, nullString(next.WaitingFor), nullTimeString(next.WaitingSince), nullString(next.LastAction),
		metadataJSON, formatTime(next.UpdatedAt), nullTimeString(next.CompletedAt),
		id, cur.Status)
	if err != nil {
		return nil, storageErr("update task", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storageErr("update task rows affected", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: task %s changed status concurrently", task.ErrInvalidTransition, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit update", err)
	}
	return &next, nil
}

// applyUpdate computes the merged task and enforces the status and waiting_for invariants.
func applyUpdate(cur task.Task, upd task.Update) (task.Task, error) {
	next := cur
	terminal := cur.Status.IsTerminal()

	if upd.Status != nil {
		if err := task.ValidateTransition(cur.Status, *upd.Status); err != nil {
			return next, fmt.Errorf("task %s: %w", cur.ID, err)
		}
		next.Status = *upd.Status
	}
	if terminal && (len(upd.Context) > 0 || upd.WaitingFor != nil) {
		return next, fmt.Errorf("%w: task %s is %s; only metadata and history may change", task.ErrInvalidTransition, cur.ID, cur.Status)
	}

	if len(upd.Context) > 0 {
		if !json.Valid(upd.Context) {
			return next, fmt.Errorf("%w: context is not valid JSON", task.ErrValidation)
		}
		next.Context = upd.Context
	}
	if upd.LastAction != nil {
		next.LastAction = *upd.LastAction
	}

	if next.Status == task.StatusWaitingResponse {
		if upd.WaitingFor != nil {
			next.WaitingFor = strings.TrimSpace(*upd.WaitingFor)
		}
		if next.WaitingFor == "" {
			return next, fmt.Errorf("%w: waiting_for is required while %s", task.ErrValidation, task.StatusWaitingResponse)
		}
	} else {
		if upd.WaitingFor != nil && strings.TrimSpace(*upd.WaitingFor) != "" {
			return next, fmt.Errorf("%w: waiting_for may only be set while %s", task.ErrValidation, task.StatusWaitingResponse)
		}
		next.WaitingFor = ""
	}

	if len(upd.Metadata) > 0 {
		merged := make(map[string]any, len(cur.Metadata)+len(upd.Metadata))
		maps.Copy(merged, cur.Metadata)
		maps.Copy(merged, upd.Metadata)
		next.Metadata = merged
	}
	if len(upd.AppendHistory) > 0 {
		for i, m := range upd.AppendHistory {
			if !m.Role.Valid() {
				return next, fmt.Errorf("%w: history entry %d has invalid role %q", task.ErrValidation, i, m.Role)
			}
		}
		history := make([]task.Message, 0, len(cur.ConversationHistory)+len(upd.AppendHistory))
		history = append(history, cur.ConversationHistory...)
		next.ConversationHistory = append(history, upd.AppendHistory...)
	}
	return next, nil
}

// CompleteTask marks the task completed and replaces its context with finalContext.
// Completing an already-completed task is a successful no-op that leaves
// completed_at untouched, so racing scans can call it safely.
func (s *SQLiteStore) CompleteTask(id string, finalContext json.RawMessage) (bool, error) {
	if len(finalContext) > 0 && !json.Valid(finalContext) {
		return false, fmt.Errorf("%w: final context is not valid JSON", task.ErrValidation)
	}

	cur, err := s.GetTask(id)
	if err != nil {
		return false, err
	}
	if cur.Status == task.StatusCompleted {
		return true, nil
	}

	_, err = s.UpdateTask(id, task.Update{
		Status:  task.StatusPtr(task.StatusCompleted),
		Context: finalContext,
	})
	if err != nil {
		if errors.Is(err, task.ErrInvalidTransition) {
			// Lost a race against another completion.
			if again, gerr := s.GetTask(id); gerr == nil && again.Status == task.StatusCompleted {
				return true, nil
			}
		}
		return false, err
	}
	return true, nil
}

// AppendMessage appends one history entry without touching the rest of the task.
func (s *SQLiteStore) AppendMessage(id string, role task.Role, content string) error {
	_, err := s.UpdateTask(id, task.Update{
		AppendHistory: []task.Message{{Role: role, Content: content}},
	})
	return err
}

// TaskFilter narrows ListTasks. Empty fields match everything.
type TaskFilter struct {
	OwnerID string
	Status  task.TaskStatus
	Limit   int
}

// ListTasks returns tasks matching the filter, newest first.
func (s *SQLiteStore) ListTasks(f TaskFilter) ([]task.Task, error) {
	q := `SELECT ` + taskSelectColumns + ` FROM tasks WHERE 1=1`
	var args []any
	if f.OwnerID != "" {
		q += " AND owner_id = ?"
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	q += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, storageErr("query tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, storageErr("scan task", err)
		}
		tasks = append(tasks, t)
	}
	if err := checkRowsErr(rows); err != nil {
		return nil, storageErr("list tasks", err)
	}
	return tasks, nil
}

// ListTasksByStatus returns an owner's tasks in one status, newest first.
func (s *SQLiteStore) ListTasksByStatus(ownerID string, status task.TaskStatus) ([]task.Task, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", task.ErrValidation)
	}
	return s.ListTasks(TaskFilter{OwnerID: ownerID, Status: status})
}

// FindWaitingForSender returns the most recently created waiting task of
// ownerID whose correlation key references sender, or nil when none matches.
// instr is used instead of LIKE so '_' and '%' in addresses stay literal.
func (s *SQLiteStore) FindWaitingForSender(ownerID, sender string) (*task.Task, error) {
	sender = task.NormalizeEmail(sender)
	if ownerID == "" || sender == "" {
		return nil, nil
	}
	row := s.db.QueryRow(`
		SELECT `+taskSelectColumns+` FROM tasks
		WHERE owner_id = ? AND status = ? AND instr(lower(waiting_for), ?) > 0
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, ownerID, task.StatusWaitingResponse, sender)

	t, err := scanTaskRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find waiting task", err)
	}
	return &t, nil
}

// OwnersWithWaitingTasks returns the distinct owners that have at least one waiting task.
func (s *SQLiteStore) OwnersWithWaitingTasks() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT owner_id FROM tasks WHERE status = ? ORDER BY owner_id`, task.StatusWaitingResponse)
	if err != nil {
		return nil, storageErr("query waiting owners", err)
	}
	defer func() { _ = rows.Close() }()

	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan owner id", err)
		}
		owners = append(owners, id)
	}
	if err := checkRowsErr(rows); err != nil {
		return nil, storageErr("waiting owners", err)
	}
	return owners, nil
}

// ClaimReply records that messageID has been handed to taskID's workflow.
// It returns false when the pair was already claimed.
func (s *SQLiteStore) ClaimReply(taskID, messageID string) (bool, error) {
	var affected int64
	err := withRetry(defaultRetryConfig, func() error {
		res, err := s.db.Exec(`
			INSERT OR IGNORE INTO processed_replies (task_id, message_id, processed_at) VALUES (?, ?, ?)
		`, taskID, messageID, formatTime(s.now()))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, storageErr("claim reply", err)
	}
	return affected == 1, nil
}

// ReleaseReply drops a claim so the pair is retried on the next scan.
func (s *SQLiteStore) ReleaseReply(taskID, messageID string) error {
	err := withRetry(defaultRetryConfig, func() error {
		_, err := s.db.Exec(`DELETE FROM processed_replies WHERE task_id = ? AND message_id = ?`, taskID, messageID)
		return err
	})
	if err != nil {
		return storageErr("release reply", err)
	}
	return nil
}

// FindTaskIDsByPrefix supports short ids on the command line.
func (s *SQLiteStore) FindTaskIDsByPrefix(prefix string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM tasks WHERE id LIKE ? ORDER BY created_at DESC LIMIT 10`, prefix+"%")
	if err != nil {
		return nil, storageErr("find task ids", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan task id", err)
		}
		ids = append(ids, id)
	}
	if err := checkRowsErr(rows); err != nil {
		return nil, storageErr("find task ids", err)
	}
	return ids, nil
}
