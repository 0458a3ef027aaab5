// Package store implements the persistent task store and audit tables on
// SQLite. Expected storage failures never cross the public boundary as
// errors: they are logged and surfaced as a false/empty result, and callers
// treat an unexpected false as terminal for that call.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS users_tasks (
	event_id TEXT PRIMARY KEY NOT NULL,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL CHECK(type IN ('task', 'todo', 'reminder')),
	status TEXT NOT NULL CHECK(status IN ('pending', 'in_progress', 'completed', 'cancelled')),
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	date TEXT NOT NULL DEFAULT '',
	time TEXT NOT NULL DEFAULT '',
	estimated_duration TEXT NOT NULL DEFAULT '',
	sessions_planned INTEGER NOT NULL DEFAULT 0,
	sessions_completed INTEGER NOT NULL DEFAULT 0,
	progress_percent INTEGER NOT NULL DEFAULT 0,
	session_event_ids TEXT NOT NULL DEFAULT '[]',
	project TEXT NOT NULL DEFAULT '',
	series_id TEXT NOT NULL DEFAULT '',
	cal_start_datetime TEXT NOT NULL DEFAULT '',
	cal_end_datetime TEXT NOT NULL DEFAULT '',
	duration TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	completed_at TEXT NOT NULL DEFAULT '',
	reminder_sent TEXT NOT NULL DEFAULT '',
	original_date TEXT NOT NULL DEFAULT '',
	progress TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	logged_at TEXT NOT NULL,
	user_id TEXT NOT NULL,
	direction TEXT NOT NULL CHECK(direction IN ('inbound', 'outbound')),
	content TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS system_activity (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	logged_at TEXT NOT NULL,
	level TEXT NOT NULL,
	component TEXT NOT NULL,
	message TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT ''
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON users_tasks(user_id);
CREATE INDEX IF NOT EXISTS idx_tasks_user_id_status ON users_tasks(user_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_user_id_date ON users_tasks(user_id, date);
CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages(user_id);
CREATE INDEX IF NOT EXISTS idx_activity_logged_at ON system_activity(logged_at);
`

// taskColumns is the canonical column order shared by upsert and scan.
var taskColumns = []string{
	"event_id", "user_id", "type", "status", "title", "description",
	"date", "time", "estimated_duration", "sessions_planned",
	"sessions_completed", "progress_percent", "session_event_ids",
	"project", "series_id", "cal_start_datetime", "cal_end_datetime",
	"duration", "created_at", "completed_at", "reminder_sent",
	"original_date", "progress",
}

// Filter narrows ListTasks results. Zero values mean "no constraint".
type Filter struct {
	Statuses []domain.Status
	Types    []domain.ItemType
	DateFrom string // YYYY-MM-DD, inclusive
	DateTo   string // YYYY-MM-DD, inclusive
	Project  string
}

// Store is the SQLite-backed task store.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (creating parent dirs and schema) the database at path.
func Open(path string, logger *log.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store schema: %w", err)
	}
	if _, err := db.Exec(indexes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store indexes: %w", err)
	}
	runMigrations(db)
	return &Store{db: db, logger: logger}, nil
}

// runMigrations adds columns that may not exist in older databases.
// Errors are ignored when the column already exists.
func runMigrations(db *sql.DB) {
	_, _ = db.Exec("ALTER TABLE users_tasks ADD COLUMN series_id TEXT NOT NULL DEFAULT ''")
	_, _ = db.Exec("ALTER TABLE users_tasks ADD COLUMN reminder_sent TEXT NOT NULL DEFAULT ''")
	_, _ = db.Exec("ALTER TABLE users_tasks ADD COLUMN original_date TEXT NOT NULL DEFAULT ''")
	_, _ = db.Exec("ALTER TABLE users_tasks ADD COLUMN progress TEXT NOT NULL DEFAULT ''")
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// UpsertTask inserts or replaces a record keyed by EventID. Idempotent:
// applying the same record twice yields identical stored state.
func (s *Store) UpsertTask(rec domain.TaskRecord) bool {
	if rec.EventID == "" || rec.UserID == "" || rec.Title == "" ||
		rec.Type == "" || rec.Status == "" {
		s.logger.Printf("Store: upsert rejected, required field missing (id=%q user=%q)", rec.EventID, rec.UserID)
		return false
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	sessionIDs, err := json.Marshal(sessionIDsOrEmpty(rec.SessionEventIDs))
	if err != nil {
		sessionIDs = []byte("[]")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(taskColumns)), ", ")
	var conflict []string
	for _, col := range taskColumns[1:] {
		conflict = append(conflict, col+"=excluded."+col)
	}
	query := fmt.Sprintf(
		"INSERT INTO users_tasks (%s) VALUES (%s) ON CONFLICT(event_id) DO UPDATE SET %s",
		strings.Join(taskColumns, ", "), placeholders, strings.Join(conflict, ", "))

	_, err = s.db.Exec(query,
		rec.EventID, rec.UserID, string(rec.Type), string(rec.Status), rec.Title,
		rec.Description, rec.Date, rec.Time, rec.EstimatedDuration,
		rec.SessionsPlanned, rec.SessionsCompleted, rec.ProgressPercent,
		string(sessionIDs), rec.Project, rec.SeriesID, rec.CalStart, rec.CalEnd,
		rec.Duration, rec.CreatedAt, rec.CompletedAt, rec.ReminderSent,
		rec.OriginalDate, rec.Progress)
	if err != nil {
		s.logger.Printf("Store: upsert failed for %s: %v", rec.EventID, err)
		return false
	}
	s.LogActivity("info", "store", "upsert "+rec.EventID, rec.UserID)
	return true
}

// GetTask returns the record for id, or false when absent or on error.
func (s *Store) GetTask(id string) (domain.TaskRecord, bool) {
	row := s.db.QueryRow(
		"SELECT "+strings.Join(taskColumns, ", ")+" FROM users_tasks WHERE event_id = ?", id)
	rec, err := scanTask(row)
	if err == sql.ErrNoRows {
		return domain.TaskRecord{}, false
	}
	if err != nil {
		s.logger.Printf("Store: get failed for %s: %v", id, err)
		return domain.TaskRecord{}, false
	}
	return rec, true
}

// DeleteTask removes a record. Returns true when removed or already absent;
// false only on a storage error.
func (s *Store) DeleteTask(id string) bool {
	res, err := s.db.Exec("DELETE FROM users_tasks WHERE event_id = ?", id)
	if err != nil {
		s.logger.Printf("Store: delete failed for %s: %v", id, err)
		return false
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.LogActivity("info", "store", "delete "+id, "")
	}
	return true
}

// UpdateTaskFields applies a partial update. Only known columns are touched;
// returns false when the record is absent or the write fails.
func (s *Store) UpdateTaskFields(id string, updates map[string]any) bool {
	if id == "" || len(updates) == 0 {
		return false
	}
	var setters []string
	var params []any
	for _, col := range taskColumns[1:] { // deterministic order, event_id excluded
		v, ok := updates[col]
		if !ok {
			continue
		}
		if col == "session_event_ids" {
			if ids, ok := v.([]string); ok {
				data, err := json.Marshal(sessionIDsOrEmpty(ids))
				if err != nil {
					data = []byte("[]")
				}
				v = string(data)
			}
		}
		setters = append(setters, col+" = ?")
		params = append(params, v)
	}
	if len(setters) == 0 {
		return false
	}
	params = append(params, id)
	res, err := s.db.Exec("UPDATE users_tasks SET "+strings.Join(setters, ", ")+" WHERE event_id = ?", params...)
	if err != nil {
		s.logger.Printf("Store: field update failed for %s: %v", id, err)
		return false
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false
	}
	s.LogActivity("info", "store", "update "+id, "")
	return true
}

// ListTasks returns a user's records matching the filter, ordered by
// effective date, then time, then created_at. The second result is false on
// a storage failure so callers can tell an empty list from a failed read.
func (s *Store) ListTasks(userID string, f Filter) ([]domain.TaskRecord, bool) {
	query := "SELECT " + strings.Join(taskColumns, ", ") + " FROM users_tasks WHERE user_id = ?"
	params := []any{userID}

	if len(f.Statuses) > 0 {
		query += " AND status IN (" + placeholderList(len(f.Statuses)) + ")"
		for _, st := range f.Statuses {
			params = append(params, string(st))
		}
	}
	if len(f.Types) > 0 {
		query += " AND type IN (" + placeholderList(len(f.Types)) + ")"
		for _, tp := range f.Types {
			params = append(params, string(tp))
		}
	}
	if f.DateFrom != "" && f.DateTo != "" {
		// Effective date: the mirrored calendar start when present, else the
		// local date field.
		query += " AND COALESCE(CASE WHEN cal_start_datetime != '' THEN SUBSTR(cal_start_datetime, 1, 10) END, date) BETWEEN ? AND ?"
		params = append(params, f.DateFrom, f.DateTo)
	}
	if strings.TrimSpace(f.Project) != "" {
		query += " AND LOWER(project) = LOWER(?)"
		params = append(params, strings.TrimSpace(f.Project))
	}
	query += ` ORDER BY
		COALESCE(CASE WHEN cal_start_datetime != '' THEN SUBSTR(cal_start_datetime, 1, 10) END, date) ASC,
		COALESCE(CASE WHEN INSTR(cal_start_datetime, 'T') > 0 THEN SUBSTR(cal_start_datetime, INSTR(cal_start_datetime, 'T') + 1, 5) END, time) ASC,
		created_at ASC`

	rows, err := s.db.Query(query, params...)
	if err != nil {
		s.logger.Printf("Store: list failed for %s: %v", userID, err)
		return nil, false
	}
	defer rows.Close()

	var out []domain.TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			s.logger.Printf("Store: list scan failed for %s: %v", userID, err)
			return nil, false
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		s.logger.Printf("Store: list iteration failed for %s: %v", userID, err)
		return nil, false
	}
	return out, true
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (domain.TaskRecord, error) {
	var rec domain.TaskRecord
	var typ, status, sessionIDs string
	err := row.Scan(
		&rec.EventID, &rec.UserID, &typ, &status, &rec.Title,
		&rec.Description, &rec.Date, &rec.Time, &rec.EstimatedDuration,
		&rec.SessionsPlanned, &rec.SessionsCompleted, &rec.ProgressPercent,
		&sessionIDs, &rec.Project, &rec.SeriesID, &rec.CalStart, &rec.CalEnd,
		&rec.Duration, &rec.CreatedAt, &rec.CompletedAt, &rec.ReminderSent,
		&rec.OriginalDate, &rec.Progress)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	rec.Type = domain.ItemType(typ)
	rec.Status = domain.Status(status)
	// A malformed serialized list is replaced with an empty one, never
	// propagated.
	var ids []string
	if err := json.Unmarshal([]byte(sessionIDs), &ids); err != nil {
		ids = nil
	}
	rec.SessionEventIDs = ids
	return rec, nil
}

// LogMessage appends to the message audit table. Best effort.
func (s *Store) LogMessage(userID, direction, content string) {
	_, err := s.db.Exec(
		"INSERT INTO messages (logged_at, user_id, direction, content) VALUES (?, ?, ?, ?)",
		time.Now().UTC().Format(time.RFC3339), userID, direction, content)
	if err != nil {
		s.logger.Printf("Store: message audit failed for %s: %v", userID, err)
	}
}

// LogActivity appends to the structured activity table. Best effort.
func (s *Store) LogActivity(level, component, message, userID string) {
	_, err := s.db.Exec(
		"INSERT INTO system_activity (logged_at, level, component, message, user_id) VALUES (?, ?, ?, ?, ?)",
		time.Now().UTC().Format(time.RFC3339), level, component, message, userID)
	if err != nil {
		s.logger.Printf("Store: activity log failed: %v", err)
	}
}

func sessionIDsOrEmpty(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			out = append(out, id)
		}
	}
	return out
}

func placeholderList(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
