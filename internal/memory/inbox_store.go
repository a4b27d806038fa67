package memory

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

const inboundSelectColumns = `id, owner_id, external_id, from_email, from_name, to_email, subject, body, received_at`

func scanInboundRow(row taskRowScanner) (task.InboundMessage, error) {
	var m task.InboundMessage
	var fromName, toEmail, subject, body sql.NullString
	var receivedAt string
	if err := row.Scan(&m.ID, &m.OwnerID, &m.ExternalID, &m.FromEmail, &fromName, &toEmail, &subject, &body, &receivedAt); err != nil {
		return m, err
	}
	m.FromName = fromName.String
	m.ToEmail = toEmail.String
	m.Subject = subject.String
	m.Body = body.String
	m.ReceivedAt = parseTime(receivedAt)
	return m, nil
}

// SaveInbound stores a synced message. It returns false when the owner already
// has a message with the same external ID.
func (s *SQLiteStore) SaveInbound(m task.InboundMessage) (bool, error) {
	if m.OwnerID == "" || m.ExternalID == "" {
		return false, fmt.Errorf("%w: inbound message needs owner and external id", task.ErrValidation)
	}
	if m.ID == "" {
		m.ID = "msg-" + uuid.New().String()[:8]
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = s.now()
	}

	var affected int64
	err := withRetry(defaultRetryConfig, func() error {
		res, err := s.db.Exec(`
			INSERT OR IGNORE INTO emails (id, owner_id, external_id, from_email, from_name, to_email, subject, body, received_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.OwnerID, m.ExternalID, task.NormalizeEmail(m.FromEmail), nullString(m.FromName),
			nullString(task.NormalizeEmail(m.ToEmail)), m.Subject, m.Body,
			formatTime(m.ReceivedAt), formatTime(s.now()))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, storageErr("insert email", err)
	}
	return affected == 1, nil
}

// HasInbound reports whether the message was already synced.
func (s *SQLiteStore) HasInbound(ownerID, externalID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM emails WHERE owner_id = ? AND external_id = ?`, ownerID, externalID).Scan(&n)
	if err != nil {
		return false, storageErr("count emails", err)
	}
	return n > 0, nil
}

// ListInbound returns an owner's messages received at or after since, oldest first.
func (s *SQLiteStore) ListInbound(ownerID string, since time.Time) ([]task.InboundMessage, error) {
	return s.queryInbound(`
		SELECT `+inboundSelectColumns+` FROM emails
		WHERE owner_id = ? AND received_at >= ?
		ORDER BY received_at ASC, rowid ASC
	`, ownerID, formatTime(since))
}

// LatestReceivedAt returns the newest received_at for the owner, or zero time
// when nothing is synced yet.
func (s *SQLiteStore) LatestReceivedAt(ownerID string) (time.Time, error) {
	var latest sql.NullString
	err := s.db.QueryRow(`SELECT MAX(received_at) FROM emails WHERE owner_id = ?`, ownerID).Scan(&latest)
	if err != nil {
		return time.Time{}, storageErr("latest email", err)
	}
	return parseNullTime(latest), nil
}

// SearchEmails matches query against sender, subject and body. An empty query
// returns the most recent messages.
func (s *SQLiteStore) SearchEmails(ownerID, query string, limit int) ([]task.InboundMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.queryInbound(`
			SELECT `+inboundSelectColumns+` FROM emails
			WHERE owner_id = ?
			ORDER BY received_at DESC LIMIT ?
		`, ownerID, limit)
	}
	return s.queryInbound(`
		SELECT `+inboundSelectColumns+` FROM emails
		WHERE owner_id = ?
		  AND (instr(lower(from_email), ?) > 0 OR instr(lower(IFNULL(from_name, '')), ?) > 0
		       OR instr(lower(IFNULL(subject, '')), ?) > 0 OR instr(lower(IFNULL(body, '')), ?) > 0)
		ORDER BY received_at DESC LIMIT ?
	`, ownerID, query, query, query, query, limit)
}

func (s *SQLiteStore) queryInbound(q string, args ...any) ([]task.InboundMessage, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, storageErr("query emails", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []task.InboundMessage
	for rows.Next() {
		m, err := scanInboundRow(rows)
		if err != nil {
			return nil, storageErr("scan email", err)
		}
		msgs = append(msgs, m)
	}
	if err := checkRowsErr(rows); err != nil {
		return nil, storageErr("list emails", err)
	}
	return msgs, nil
}
