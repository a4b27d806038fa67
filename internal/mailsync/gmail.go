// Package mailsync copies an owner's recent Gmail inbox and HubSpot contacts
// into the local store.
package mailsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

const (
	// DefaultMaxMessages bounds one inbox sync.
	DefaultMaxMessages = 50
	// overlap re-reads a little before the newest stored message to cover clock skew.
	overlap = 5 * time.Minute
	// firstSyncWindow is used when nothing is stored for the owner yet.
	firstSyncWindow = time.Hour
)

// SyncResult counts what one sync did.
type SyncResult struct {
	Fetched int `json:"fetched"`
	Saved   int `json:"saved"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// MailClient lists and fetches messages from the owner's mailbox.
type MailClient interface {
	ListMessageIDs(ctx context.Context, cred task.Credential, query string, max int) ([]string, error)
	GetMessage(ctx context.Context, cred task.Credential, id string) (task.InboundMessage, error)
}

// InboxStore is where synced messages are kept.
type InboxStore interface {
	LatestReceivedAt(ownerID string) (time.Time, error)
	HasInbound(ownerID, externalID string) (bool, error)
	SaveInbound(m task.InboundMessage) (bool, error)
}

// Gmail syncs inbox messages.
type Gmail struct {
	client      MailClient
	store       InboxStore
	maxMessages int
	now         func() time.Time
}

// NewGmail creates a Gmail syncer.
func NewGmail(client MailClient, store InboxStore) *Gmail {
	return &Gmail{client: client, store: store, maxMessages: DefaultMaxMessages, now: time.Now}
}

// Sync fetches inbox messages newer than the last stored one and saves those
// not seen before. A message that fails to fetch or save is logged and skipped.
func (g *Gmail) Sync(ctx context.Context, owner *task.Owner) (SyncResult, error) {
	var res SyncResult
	if !owner.Google.Connected() {
		return res, fmt.Errorf("%w: google", task.ErrNotConnected)
	}

	since, err := g.since(owner.ID)
	if err != nil {
		return res, err
	}
	query := fmt.Sprintf("in:inbox after:%d", since.Unix())

	ids, err := g.client.ListMessageIDs(ctx, owner.Google, query, g.maxMessages)
	if err != nil {
		return res, err
	}
	res.Fetched = len(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		known, err := g.store.HasInbound(owner.ID, id)
		if err != nil {
			return res, err
		}
		if known {
			res.Skipped++
			continue
		}

		msg, err := g.client.GetMessage(ctx, owner.Google, id)
		if err != nil {
			res.Failed++
			slog.Warn("fetch message failed", "owner_id", owner.ID, "gmail_id", id, "error", err)
			continue
		}
		msg.OwnerID = owner.ID
		if msg.ExternalID == "" {
			msg.ExternalID = id
		}
		saved, err := g.store.SaveInbound(msg)
		if err != nil {
			res.Failed++
			slog.Warn("save message failed", "owner_id", owner.ID, "gmail_id", id, "error", err)
			continue
		}
		if saved {
			res.Saved++
		} else {
			res.Skipped++
		}
	}

	slog.Info("gmail sync complete", "owner_id", owner.ID, "fetched", res.Fetched, "saved", res.Saved,
		"skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

func (g *Gmail) since(ownerID string) (time.Time, error) {
	latest, err := g.store.LatestReceivedAt(ownerID)
	if err != nil {
		return time.Time{}, err
	}
	if latest.IsZero() {
		return g.now().Add(-firstSyncWindow), nil
	}
	return latest.Add(-overlap), nil
}
