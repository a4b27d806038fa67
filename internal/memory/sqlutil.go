package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

// timeLayout is fixed width so that text ordering in SQLite matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// nullTimeString returns nil for zero time, the stored layout otherwise.
func nullTimeString(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func parseNullTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	return parseTime(ns.String)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalJSON(v any, fallback string) (string, error) {
	if v == nil {
		return fallback, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return fallback, nil
	}
	return string(b), nil
}

// checkRowsErr reports errors raised during row iteration that rows.Next hides.
func checkRowsErr(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}
	return nil
}

// storageErr tags a persistence failure with task.ErrStorage.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", task.ErrStorage, op, err)
}
