package task

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	StatusPending         TaskStatus = "pending"          // Created, no side effect performed yet
	StatusWaitingResponse TaskStatus = "waiting_response" // Outbound action taken, suspended until a correlated reply
	StatusInProgress      TaskStatus = "in_progress"      // Intermediate non-waiting step
	StatusCompleted       TaskStatus = "completed"        // Terminal success
	StatusFailed          TaskStatus = "failed"           // Terminal error
)

// IsTerminal reports whether no further status change is permitted.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusWaitingResponse, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ParseStatus converts user input (CLI flags, query params) to a TaskStatus.
func ParseStatus(s string) (TaskStatus, error) {
	st := TaskStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
	return st, nil
}

// Type selects the workflow that drives a task.
type Type string

const (
	TypeScheduleMeeting Type = "schedule_meeting"
)

// Role tags an entry in a task's conversation history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Message is one entry of the append-only task history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Task is a durable record of a suspendable, multi-step workflow.
type Task struct {
	ID                  string          `json:"id"`
	OwnerID             string          `json:"owner_id"`
	Type                Type            `json:"type"`
	Status              TaskStatus      `json:"status"`
	Context             json.RawMessage `json:"context"`
	ConversationHistory []Message       `json:"conversation_history"`
	WaitingFor          string          `json:"waiting_for,omitempty"`
	// WaitingSince is when the task last entered waiting_response from another status.
	WaitingSince        time.Time       `json:"waiting_since,omitempty"`
	LastAction          string          `json:"last_action,omitempty"`
	Metadata            map[string]any  `json:"metadata,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	CompletedAt         time.Time       `json:"completed_at,omitempty"`
}

// Validate checks the fields required before a task is persisted.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.OwnerID) == "" {
		return fmt.Errorf("%w: owner id required", ErrValidation)
	}
	if strings.TrimSpace(string(t.Type)) == "" {
		return fmt.Errorf("%w: task type required", ErrValidation)
	}
	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, t.Status)
	}
	if (t.Status == StatusWaitingResponse) != (t.WaitingFor != "") {
		return fmt.Errorf("%w: waiting_for must be set exactly when status is %s", ErrValidation, StatusWaitingResponse)
	}
	for i, m := range t.ConversationHistory {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: history[%d] has invalid role %q", ErrValidation, i, m.Role)
		}
	}
	return nil
}

// DecodeContext unmarshals the workflow payload into v.
func (t *Task) DecodeContext(v any) error {
	if len(t.Context) == 0 {
		return fmt.Errorf("%w: task %s has no context", ErrValidation, t.ID)
	}
	if err := json.Unmarshal(t.Context, v); err != nil {
		return fmt.Errorf("%w: decode context of task %s: %v", ErrValidation, t.ID, err)
	}
	return nil
}

// EncodeContext marshals a workflow payload for storage.
func EncodeContext(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	return b, nil
}

// Update names the fields to merge into a stored task. Nil fields are left alone.
// UpdatedAt is always refreshed by the store.
type Update struct {
	Status     *TaskStatus
	Context    json.RawMessage
	WaitingFor *string
	LastAction *string
	// Metadata keys are merged over the existing bag.
	Metadata map[string]any
	// AppendHistory entries are appended after the stored history.
	AppendHistory []Message
}

// StatusPtr and StringPtr keep Update literals short at call sites.
func StatusPtr(s TaskStatus) *TaskStatus { return &s }
func StringPtr(s string) *string         { return &s }

// InboundMessage is a read-only reply observed in an owner's mailbox.
type InboundMessage struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	ExternalID string    `json:"external_id"`
	FromEmail  string    `json:"from_email"`
	FromName   string    `json:"from_name,omitempty"`
	ToEmail    string    `json:"to_email,omitempty"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Contact is a CRM contact mirrored into the local store.
type Contact struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	HubSpotID string    `json:"hubspot_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Notes     string    `json:"notes,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
