package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

const ownerSelectColumns = `id, email, google_access_token, google_refresh_token,
       hubspot_access_token, hubspot_refresh_token, created_at, updated_at`

func scanOwnerRow(row taskRowScanner) (task.Owner, error) {
	var o task.Owner
	var gAccess, gRefresh, hAccess, hRefresh sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&o.ID, &o.Email, &gAccess, &gRefresh, &hAccess, &hRefresh, &createdAt, &updatedAt); err != nil {
		return o, err
	}
	o.Google = task.Credential{AccessToken: gAccess.String, RefreshToken: gRefresh.String}
	o.HubSpot = task.Credential{AccessToken: hAccess.String, RefreshToken: hRefresh.String}
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return o, nil
}

// CreateOwner registers a user with their provider credentials.
// An empty ID is filled with a generated one.
func (s *SQLiteStore) CreateOwner(o task.Owner) (*task.Owner, error) {
	o.Email = task.NormalizeEmail(o.Email)
	if o.Email == "" {
		return nil, fmt.Errorf("%w: owner email is required", task.ErrValidation)
	}
	if strings.TrimSpace(o.ID) == "" {
		o.ID = "owner-" + uuid.New().String()[:8]
	}
	now := s.now()
	o.CreatedAt, o.UpdatedAt = now, now

	err := withRetry(defaultRetryConfig, func() error {
		_, err := s.db.Exec(`
			INSERT INTO owners (id, email, google_access_token, google_refresh_token,
			                    hubspot_access_token, hubspot_refresh_token, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, o.ID, o.Email, nullString(o.Google.AccessToken), nullString(o.Google.RefreshToken),
			nullString(o.HubSpot.AccessToken), nullString(o.HubSpot.RefreshToken),
			formatTime(o.CreatedAt), formatTime(o.UpdatedAt))
		return err
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: owner %s already exists", task.ErrValidation, o.Email)
		}
		return nil, storageErr("insert owner", err)
	}
	return &o, nil
}

// GetOwner retrieves an owner by ID.
func (s *SQLiteStore) GetOwner(id string) (*task.Owner, error) {
	o, err := scanOwnerRow(s.db.QueryRow(`SELECT `+ownerSelectColumns+` FROM owners WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: owner %s", task.ErrNotFound, id)
	}
	if err != nil {
		return nil, storageErr("query owner", err)
	}
	return &o, nil
}

// GetOwnerByEmail looks an owner up by login address.
func (s *SQLiteStore) GetOwnerByEmail(email string) (*task.Owner, error) {
	o, err := scanOwnerRow(s.db.QueryRow(`SELECT `+ownerSelectColumns+` FROM owners WHERE email = ?`, task.NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: owner %s", task.ErrNotFound, email)
	}
	if err != nil {
		return nil, storageErr("query owner", err)
	}
	return &o, nil
}

// ListOwners returns all owners ordered by creation time.
func (s *SQLiteStore) ListOwners() ([]task.Owner, error) {
	rows, err := s.db.Query(`SELECT ` + ownerSelectColumns + ` FROM owners ORDER BY created_at, id`)
	if err != nil {
		return nil, storageErr("query owners", err)
	}
	defer func() { _ = rows.Close() }()

	var owners []task.Owner
	for rows.Next() {
		o, err := scanOwnerRow(rows)
		if err != nil {
			return nil, storageErr("scan owner", err)
		}
		owners = append(owners, o)
	}
	if err := checkRowsErr(rows); err != nil {
		return nil, storageErr("list owners", err)
	}
	return owners, nil
}

// UpdateGoogleToken stores a refreshed Google credential.
func (s *SQLiteStore) UpdateGoogleToken(ownerID string, cred task.Credential) error {
	return s.updateCredential(ownerID, "google", cred)
}

// UpdateHubSpotToken stores a refreshed HubSpot credential.
func (s *SQLiteStore) UpdateHubSpotToken(ownerID string, cred task.Credential) error {
	return s.updateCredential(ownerID, "hubspot", cred)
}

func (s *SQLiteStore) updateCredential(ownerID, provider string, cred task.Credential) error {
	// provider is one of two fixed column prefixes, never user input.
	q := fmt.Sprintf(`UPDATE owners SET %[1]s_access_token = ?, %[1]s_refresh_token = COALESCE(?, %[1]s_refresh_token), updated_at = ? WHERE id = ?`, provider)
	var affected int64
	err := withRetry(defaultRetryConfig, func() error {
		res, err := s.db.Exec(q, nullString(cred.AccessToken), nullString(cred.RefreshToken), formatTime(s.now()), ownerID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return storageErr("update "+provider+" credential", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: owner %s", task.ErrNotFound, ownerID)
	}
	return nil
}
