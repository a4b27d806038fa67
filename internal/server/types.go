package server

import (
	"github.com/Far3/financial-advisor-ai/internal/mailsync"
	"github.com/Far3/financial-advisor-ai/internal/monitor"
	"github.com/Far3/financial-advisor-ai/internal/scheduler"
	"github.com/Far3/financial-advisor-ai/internal/task"
)

// HealthResponse is the body of GET /api/health. Jobs is empty when the
// background scheduler is not running.
type HealthResponse struct {
	Status string                `json:"status"`
	Jobs   []scheduler.JobStatus `json:"jobs,omitempty"`
}

// ChatRequest is the payload for POST /api/chat.
type ChatRequest struct {
	Message string         `json:"message"`
	History []task.Message `json:"history,omitempty"`
}

// FailRequest is the payload for POST /api/tasks/{id}/fail.
type FailRequest struct {
	Reason string `json:"reason"`
}

// CronResponse reports one cron tick.
type CronResponse struct {
	Synced     int                `json:"synced"`
	SyncErrors int                `json:"sync_errors,omitempty"`
	Scan       monitor.ScanResult `json:"scan"`
}

// SyncResponse wraps a single-owner sync.
type SyncResponse struct {
	Success bool `json:"success"`
	mailsync.SyncResult
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
