package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

const contactSelectColumns = `id, owner_id, hubspot_id, email, name, notes, updated_at`

func scanContactRow(row taskRowScanner) (task.Contact, error) {
	var c task.Contact
	var email, name, notes sql.NullString
	var updatedAt string
	if err := row.Scan(&c.ID, &c.OwnerID, &c.HubSpotID, &email, &name, &notes, &updatedAt); err != nil {
		return c, err
	}
	c.Email = email.String
	c.Name = name.String
	c.Notes = notes.String
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

// UpsertContact inserts or refreshes a CRM contact keyed by (owner, hubspot id).
func (s *SQLiteStore) UpsertContact(c task.Contact) error {
	if c.OwnerID == "" || c.HubSpotID == "" {
		return fmt.Errorf("%w: contact needs owner and hubspot id", task.ErrValidation)
	}
	if c.ID == "" {
		c.ID = "contact-" + uuid.New().String()[:8]
	}
	err := withRetry(defaultRetryConfig, func() error {
		_, err := s.db.Exec(`
			INSERT INTO contacts (id, owner_id, hubspot_id, email, name, notes, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(owner_id, hubspot_id) DO UPDATE SET
				email = excluded.email,
				name = excluded.name,
				notes = COALESCE(excluded.notes, contacts.notes),
				updated_at = excluded.updated_at
		`, c.ID, c.OwnerID, c.HubSpotID, nullString(task.NormalizeEmail(c.Email)), nullString(strings.TrimSpace(c.Name)),
			nullString(c.Notes), formatTime(s.now()))
		return err
	})
	if err != nil {
		return storageErr("upsert contact", err)
	}
	return nil
}

// FindContactsByName returns contacts whose name contains name, case-insensitively.
func (s *SQLiteStore) FindContactsByName(ownerID, name string) ([]task.Contact, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, nil
	}
	return s.queryContacts(`
		SELECT `+contactSelectColumns+` FROM contacts
		WHERE owner_id = ? AND instr(lower(IFNULL(name, '')), ?) > 0
		ORDER BY updated_at DESC, rowid DESC
	`, ownerID, name)
}

// FindContactByEmail returns the contact with the given address.
func (s *SQLiteStore) FindContactByEmail(ownerID, email string) (*task.Contact, error) {
	c, err := scanContactRow(s.db.QueryRow(`
		SELECT `+contactSelectColumns+` FROM contacts WHERE owner_id = ? AND email = ? LIMIT 1
	`, ownerID, task.NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: contact %s", task.ErrNotFound, email)
	}
	if err != nil {
		return nil, storageErr("query contact", err)
	}
	return &c, nil
}

// SearchContacts matches query against name, email and notes. An empty query
// returns the most recently updated contacts.
func (s *SQLiteStore) SearchContacts(ownerID, query string, limit int) ([]task.Contact, error) {
	if limit <= 0 {
		limit = 10
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.queryContacts(`
			SELECT `+contactSelectColumns+` FROM contacts WHERE owner_id = ?
			ORDER BY updated_at DESC LIMIT ?
		`, ownerID, limit)
	}
	return s.queryContacts(`
		SELECT `+contactSelectColumns+` FROM contacts
		WHERE owner_id = ?
		  AND (instr(lower(IFNULL(name, '')), ?) > 0 OR instr(lower(IFNULL(email, '')), ?) > 0
		       OR instr(lower(IFNULL(notes, '')), ?) > 0)
		ORDER BY updated_at DESC LIMIT ?
	`, ownerID, query, query, query, limit)
}

func (s *SQLiteStore) queryContacts(q string, args ...any) ([]task.Contact, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, storageErr("query contacts", err)
	}
	defer func() { _ = rows.Close() }()

	var contacts []task.Contact
	for rows.Next() {
		c, err := scanContactRow(rows)
		if err != nil {
			return nil, storageErr("scan contact", err)
		}
		contacts = append(contacts, c)
	}
	if err := checkRowsErr(rows); err != nil {
		return nil, storageErr("list contacts", err)
	}
	return contacts, nil
}
