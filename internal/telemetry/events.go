// Package telemetry sends anonymous task lifecycle events to PostHog.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

// Lifecycle event names.
const (
	EventTaskCreated       = "task_created"
	EventTaskWaiting       = "task_waiting"
	EventTaskClarification = "task_clarification"
	EventTaskCompleted     = "task_completed"
	EventTaskFailed        = "task_failed"
	EventScanCompleted     = "scan_completed"
)

// OwnerHash returns a stable, non-reversible label for an owner id.
func OwnerHash(ownerID string) string {
	sum := sha256.Sum256([]byte(ownerID))
	return hex.EncodeToString(sum[:8])
}

// TrackTask records a lifecycle event for t. extra may be nil.
func TrackTask(c Client, event string, t *task.Task, extra Properties) {
	if c == nil || t == nil {
		return
	}
	props := Properties{
		"task_type":  string(t.Type),
		"owner_hash": OwnerHash(t.OwnerID),
		"status":     string(t.Status),
	}
	for k, v := range extra {
		props[k] = v
	}
	c.Track(event, props)
}
