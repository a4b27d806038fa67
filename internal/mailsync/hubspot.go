package mailsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Far3/financial-advisor-ai/internal/adapters/hubspot"
	"github.com/Far3/financial-advisor-ai/internal/task"
)

// CRMClient is the HubSpot surface the contact sync needs.
type CRMClient interface {
	Probe(ctx context.Context, cred task.Credential) error
	RefreshToken(ctx context.Context, refreshToken string) (task.Credential, error)
	List(ctx context.Context, cred task.Credential, limit int) ([]hubspot.Contact, error)
}

// ContactStore is where synced contacts and refreshed tokens are kept.
type ContactStore interface {
	UpsertContact(c task.Contact) error
	UpdateHubSpotToken(ownerID string, cred task.Credential) error
}

// HubSpot syncs CRM contacts.
type HubSpot struct {
	client CRMClient
	store  ContactStore
}

// NewHubSpot creates a HubSpot syncer.
func NewHubSpot(client CRMClient, store ContactStore) *HubSpot {
	return &HubSpot{client: client, store: store}
}

// Sync upserts the owner's contacts. An expired access token is refreshed once
// and persisted; owner.HubSpot is updated in place.
func (h *HubSpot) Sync(ctx context.Context, owner *task.Owner) (SyncResult, error) {
	var res SyncResult
	if err := h.EnsureToken(ctx, owner); err != nil {
		return res, err
	}

	contacts, err := h.client.List(ctx, owner.HubSpot, 100)
	if err != nil {
		return res, err
	}
	res.Fetched = len(contacts)

	for _, c := range contacts {
		if c.ID == "" {
			res.Skipped++
			continue
		}
		err := h.store.UpsertContact(task.Contact{
			OwnerID:   owner.ID,
			HubSpotID: c.ID,
			Email:     c.Email,
			Name:      c.Name(),
			Notes:     c.Notes,
		})
		if err != nil {
			res.Failed++
			slog.Warn("save contact failed", "owner_id", owner.ID, "hubspot_id", c.ID, "error", err)
			continue
		}
		res.Saved++
	}

	slog.Info("hubspot sync complete", "owner_id", owner.ID, "fetched", res.Fetched, "saved", res.Saved, "failed", res.Failed)
	return res, nil
}

// EnsureToken probes the owner's HubSpot credential and refreshes it when the
// probe reports it expired.
func (h *HubSpot) EnsureToken(ctx context.Context, owner *task.Owner) error {
	if !owner.HubSpot.Connected() {
		return fmt.Errorf("%w: hubspot", task.ErrNotConnected)
	}

	err := h.client.Probe(ctx, owner.HubSpot)
	if err == nil {
		return nil
	}
	if !errors.Is(err, task.ErrAuthExpired) || owner.HubSpot.RefreshToken == "" {
		return err
	}

	slog.Info("refreshing hubspot token", "owner_id", owner.ID)
	fresh, err := h.client.RefreshToken(ctx, owner.HubSpot.RefreshToken)
	if err != nil {
		return err
	}
	if err := h.store.UpdateHubSpotToken(owner.ID, fresh); err != nil {
		return err
	}
	owner.HubSpot = fresh
	return nil
}
