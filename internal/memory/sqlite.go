package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists tasks, owners, the synced inbox and CRM contacts.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath. ":memory:" gives a
// private in-memory database, used by tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	inMemory := dbPath == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	pragmas := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(10000)"}
	if !inMemory {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)", "_txlock=immediate")
	}
	db, err := sql.Open("sqlite", dbPath+"?"+strings.Join(pragmas, "&"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if inMemory {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	store := &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database location.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// SetClock overrides the time source. Tests use it to make ordering deterministic.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS owners (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		google_access_token TEXT,
		google_refresh_token TEXT,
		hubspot_access_token TEXT,
		hubspot_refresh_token TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		context TEXT NOT NULL DEFAULT '{}',
		conversation_history TEXT NOT NULL DEFAULT '[]',
		waiting_for TEXT,                   -- correlation key, set only while waiting_response
		waiting_since TEXT,
		last_action TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT,
		FOREIGN KEY (owner_id) REFERENCES owners(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS emails (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		external_id TEXT NOT NULL,          -- Gmail message id
		from_email TEXT NOT NULL,
		from_name TEXT,
		to_email TEXT,
		subject TEXT,
		body TEXT,
		received_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(owner_id, external_id),
		FOREIGN KEY (owner_id) REFERENCES owners(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		hubspot_id TEXT NOT NULL,
		email TEXT,
		name TEXT,
		notes TEXT,
		updated_at TEXT NOT NULL,
		UNIQUE(owner_id, hubspot_id),
		FOREIGN KEY (owner_id) REFERENCES owners(id) ON DELETE CASCADE
	);

	-- Claims of (task, inbound message) pairs already handed to a workflow
	CREATE TABLE IF NOT EXISTS processed_replies (
		task_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		processed_at TEXT NOT NULL,
		PRIMARY KEY (task_id, message_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_owner_status ON tasks(owner_id, status, created_at);
	CREATE INDEX IF NOT EXISTS idx_emails_owner_received ON emails(owner_id, received_at);
	CREATE INDEX IF NOT EXISTS idx_contacts_owner_email ON contacts(owner_id, email);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Column migrations for databases created by earlier versions.
	migrations := []struct{ table, column, ddl string }{
		{"tasks", "last_action", "ALTER TABLE tasks ADD COLUMN last_action TEXT"},
		{"emails", "from_name", "ALTER TABLE emails ADD COLUMN from_name TEXT"},
		{"tasks", "waiting_since", "ALTER TABLE tasks ADD COLUMN waiting_since TEXT"},
	}
	for _, m := range migrations {
		has, err := s.hasColumn(m.table, m.column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := s.db.Exec(m.ddl); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			return fmt.Errorf("migrate %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

func (s *SQLiteStore) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table info %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	found := false
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("scan table info: %w", err)
		}
		if name == column {
			found = true
		}
	}
	if err := checkRowsErr(rows); err != nil {
		return false, err
	}
	return found, nil
}
