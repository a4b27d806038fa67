package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

func TestContacts(t *testing.T) {
	s := newTestStore(t)
	mustOwner(t, s, "owner-1", "advisor@example.com")
	mustOwner(t, s, "owner-2", "other@example.com")

	require.NoError(t, s.UpsertContact(task.Contact{OwnerID: "owner-1", HubSpotID: "101", Email: "Sara@Example.com", Name: "Sara Lee", Notes: "prefers mornings"}))
	require.NoError(t, s.UpsertContact(task.Contact{OwnerID: "owner-1", HubSpotID: "102", Email: "sarah@example.com", Name: "Sarah Connor"}))
	require.NoError(t, s.UpsertContact(task.Contact{OwnerID: "owner-2", HubSpotID: "101", Email: "sara@example.com", Name: "Sara Lee"}))

	t.Run("upsert refreshes by hubspot id", func(t *testing.T) {
		require.NoError(t, s.UpsertContact(task.Contact{OwnerID: "owner-1", HubSpotID: "101", Email: "sara.lee@example.com", Name: "Sara Lee"}))
		c, err := s.FindContactByEmail("owner-1", "SARA.LEE@example.com")
		require.NoError(t, err)
		assert.Equal(t, "101", c.HubSpotID)
		assert.Equal(t, "prefers mornings", c.Notes)

		_, err = s.FindContactByEmail("owner-1", "sara@example.com")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})

	t.Run("name lookup is case-insensitive substring", func(t *testing.T) {
		got, err := s.FindContactsByName("owner-1", "SARA")
		require.NoError(t, err)
		require.Len(t, got, 2)
		// Most recently updated first.
		assert.Equal(t, "Sara Lee", got[0].Name)

		got, err = s.FindContactsByName("owner-1", "connor")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "sarah@example.com", got[0].Email)

		got, err = s.FindContactsByName("owner-1", "  ")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("search", func(t *testing.T) {
		got, err := s.SearchContacts("owner-1", "mornings", 5)
		require.NoError(t, err)
		require.Len(t, got, 1)

		got, err = s.SearchContacts("owner-2", "", 5)
		require.NoError(t, err)
		require.Len(t, got, 1)
	})

	require.Error(t, s.UpsertContact(task.Contact{OwnerID: "owner-1"}))
}
