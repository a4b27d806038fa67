// Package monitor runs the reply scan: it matches recently received messages
// to tasks waiting on their sender and hands each match to the engine.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Far3/financial-advisor-ai/internal/engine"
	"github.com/Far3/financial-advisor-ai/internal/mailsync"
	"github.com/Far3/financial-advisor-ai/internal/task"
	"github.com/Far3/financial-advisor-ai/internal/telemetry"
)

// Store is what a scan reads and claims.
type Store interface {
	OwnersWithWaitingTasks() ([]string, error)
	GetOwner(id string) (*task.Owner, error)
	ListInbound(ownerID string, since time.Time) ([]task.InboundMessage, error)
	FindWaitingForSender(ownerID, sender string) (*task.Task, error)
	ClaimReply(taskID, messageID string) (bool, error)
	ReleaseReply(taskID, messageID string) error
}

// Resumer advances a waiting task with a reply.
type Resumer interface {
	HandleReply(ctx context.Context, owner *task.Owner, t *task.Task, msg task.InboundMessage) (engine.Outcome, error)
}

// InboxSyncer pulls new mail into the store before matching.
type InboxSyncer interface {
	Sync(ctx context.Context, owner *task.Owner) (mailsync.SyncResult, error)
}

// Config tunes a scan.
type Config struct {
	// Lookback bounds how far back received messages are considered.
	Lookback    time.Duration
	Concurrency int
	SyncFirst   bool
}

const (
	DefaultLookback    = time.Hour
	DefaultConcurrency = 4

	// sentSkew tolerates a sender clock slightly behind ours in the Date header.
	sentSkew = 2 * time.Minute
)

// ScanResult summarises one scan.
type ScanResult struct {
	ProcessedCount int `json:"processed_count"`
	Owners         int `json:"owners"`
	OwnerErrors    int `json:"owner_errors,omitempty"`
}

// Monitor runs scans. It keeps no state between scans, so overlapping
// invocations are safe.
type Monitor struct {
	store     Store
	resumer   Resumer
	syncer    InboxSyncer
	telemetry telemetry.Client
	now       func() time.Time

	mu  sync.RWMutex
	cfg Config
}

// New creates a Monitor. syncer and tel may be nil.
func New(store Store, resumer Resumer, syncer InboxSyncer, tel telemetry.Client, cfg Config) *Monitor {
	if tel == nil {
		tel = telemetry.NewNoopClient()
	}
	m := &Monitor{
		store:     store,
		resumer:   resumer,
		syncer:    syncer,
		telemetry: tel,
		now:       time.Now,
	}
	m.SetConfig(cfg)
	return m
}

// SetConfig replaces the scan settings; used on config reload.
func (m *Monitor) SetConfig(cfg Config) {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Config returns the current scan settings.
func (m *Monitor) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// SetClock overrides the time source (tests).
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// RunScan matches recent inbound messages to waiting tasks for every owner
// that has one. A failing owner is logged and does not stop the others.
func (m *Monitor) RunScan(ctx context.Context) (ScanResult, error) {
	cfg := m.Config()
	started := m.now()
	since := started.Add(-cfg.Lookback)

	owners, err := m.store.OwnersWithWaitingTasks()
	if err != nil {
		return ScanResult{}, err
	}

	var processed, ownerErrors atomic.Int64
	var g errgroup.Group
	g.SetLimit(cfg.Concurrency)
	for _, ownerID := range owners {
		g.Go(func() error {
			n, err := m.scanOwner(ctx, ownerID, since, cfg.SyncFirst)
			processed.Add(int64(n))
			if err != nil {
				ownerErrors.Add(1)
				slog.Warn("scan owner failed", "owner_id", ownerID, "error_kind", task.Kind(err), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := ScanResult{
		ProcessedCount: int(processed.Load()),
		Owners:         len(owners),
		OwnerErrors:    int(ownerErrors.Load()),
	}
	slog.Info("scan complete", "owners", res.Owners, "processed", res.ProcessedCount,
		"owner_errors", res.OwnerErrors, "duration", time.Since(started))
	m.telemetry.Track(telemetry.EventScanCompleted, telemetry.Properties{
		"owners":    res.Owners,
		"processed": res.ProcessedCount,
	})
	return res, ctx.Err()
}

// scanOwner handles one owner's messages in order. Messages are processed
// sequentially so two replies never race to advance the same task.
func (m *Monitor) scanOwner(ctx context.Context, ownerID string, since time.Time, syncFirst bool) (int, error) {
	owner, err := m.store.GetOwner(ownerID)
	if err != nil {
		return 0, err
	}

	if syncFirst && m.syncer != nil && owner.Google.Connected() {
		if res, err := m.syncer.Sync(ctx, owner); err != nil {
			slog.Warn("inbox sync before scan failed; using stored messages", "owner_id", owner.ID,
				"error_kind", task.Kind(err), "error", err)
		} else {
			slog.Debug("inbox synced", "owner_id", owner.ID, "new", res.Saved)
		}
	}

	msgs, err := m.store.ListInbound(owner.ID, since)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		t, err := m.store.FindWaitingForSender(owner.ID, msg.FromEmail)
		if err != nil {
			return processed, err
		}
		if t == nil {
			slog.Debug("no waiting task for sender", "owner_id", owner.ID, "from", msg.FromEmail, "message_id", msg.ID)
			continue
		}

		if !t.WaitingSince.IsZero() && msg.ReceivedAt.Before(t.WaitingSince.Add(-sentSkew)) {
			slog.Debug("message predates the request", "task_id", t.ID, "message_id", msg.ID,
				"received_at", msg.ReceivedAt, "waiting_since", t.WaitingSince)
			continue
		}

		claimed, err := m.store.ClaimReply(t.ID, msg.ID)
		if err != nil {
			return processed, err
		}
		if !claimed {
			slog.Debug("reply already handled", "task_id", t.ID, "message_id", msg.ID)
			continue
		}

		outcome, err := m.resumer.HandleReply(ctx, owner, t, msg)
		if err != nil {
			if errors.Is(err, engine.ErrReplyNotConsumed) {
				slog.Warn("reply deferred to next scan", "task_id", t.ID, "owner_id", owner.ID, "error", err)
				if rerr := m.store.ReleaseReply(t.ID, msg.ID); rerr != nil {
					slog.Error("release reply claim", "task_id", t.ID, "message_id", msg.ID, "error", rerr)
				}
				continue
			}
			slog.Warn("reply not handled", "task_id", t.ID, "owner_id", owner.ID, "error", err)
			continue
		}
		slog.Info("reply processed", "task_id", t.ID, "owner_id", owner.ID, "message_id", msg.ID, "outcome", outcome)
		processed++
	}
	return processed, nil
}
