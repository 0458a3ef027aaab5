// Package domain holds task/reminder records and calendar entities.
// It has no dependencies on other packages.
package domain

import "time"

// ItemType classifies a managed record.
type ItemType string

const (
	TypeTask     ItemType = "task"
	TypeReminder ItemType = "reminder"
	TypeToDo     ItemType = "todo"
	// TypeExternalEvent tags calendar events with no matching record.
	// Items of this type are never persisted.
	TypeExternalEvent ItemType = "external_event"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is an absorbing state (no outgoing transitions).
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ValidStatus reports whether s is one of the known lifecycle states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a record may move from one status to another.
// Terminal states absorb: any attempted transition out of them is invalid.
func CanTransition(from, to Status) bool {
	if !ValidStatus(to) {
		return false
	}
	if from.Terminal() {
		return false
	}
	return true
}

// LocalIDPrefix marks records that exist only in the store, with no
// mirrored calendar event.
const LocalIDPrefix = "local_"

// TaskRecord is a durable task/reminder/todo record. EventID doubles as the
// external calendar event id when the record is mirrored; local-only records
// carry a "local_" prefixed id.
type TaskRecord struct {
	EventID           string   `json:"event_id"`
	UserID            string   `json:"user_id"`
	Type              ItemType `json:"type"`
	Status            Status   `json:"status"`
	Title             string   `json:"title"`
	Description       string   `json:"description,omitempty"`
	Date              string   `json:"date,omitempty"` // YYYY-MM-DD, user-local
	Time              string   `json:"time,omitempty"` // HH:MM, user-local
	EstimatedDuration string   `json:"estimated_duration,omitempty"`
	SessionsPlanned   int      `json:"sessions_planned,omitempty"`
	SessionsCompleted int      `json:"sessions_completed,omitempty"`
	ProgressPercent   int      `json:"progress_percent,omitempty"`
	SessionEventIDs   []string `json:"session_event_ids,omitempty"`
	Project           string   `json:"project,omitempty"`
	SeriesID          string   `json:"series_id,omitempty"`
	// Mirrored fields: authoritative from the external calendar once linked.
	CalStart string `json:"cal_start_datetime,omitempty"` // RFC 3339, or YYYY-MM-DD for all-day
	CalEnd   string `json:"cal_end_datetime,omitempty"`
	Duration string `json:"duration,omitempty"`

	CreatedAt    string `json:"created_at"` // RFC 3339 UTC
	CompletedAt  string `json:"completed_at,omitempty"`
	ReminderSent string `json:"reminder_sent,omitempty"` // RFC 3339 UTC, "" = not sent
	OriginalDate string `json:"original_date,omitempty"`
	Progress     string `json:"progress,omitempty"`
}

// Local reports whether the record has no mirrored calendar event.
func (t TaskRecord) Local() bool {
	return len(t.EventID) >= len(LocalIDPrefix) && t.EventID[:len(LocalIDPrefix)] == LocalIDPrefix
}

// Clone returns a deep copy of the record.
func (t TaskRecord) Clone() TaskRecord {
	out := t
	if t.SessionEventIDs != nil {
		out.SessionEventIDs = append([]string(nil), t.SessionEventIDs...)
	}
	return out
}

// ExternalEvent is a calendar event as reported by the external calendar.
// Ephemeral: only persisted indirectly, via a TaskRecord sharing its id.
type ExternalEvent struct {
	EventID     string `json:"event_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Start       string `json:"cal_start_datetime"` // RFC 3339, or YYYY-MM-DD for all-day
	End         string `json:"cal_end_datetime"`
	AllDay      bool   `json:"is_all_day"`
	Status      string `json:"external_status,omitempty"`
}

// ContextItem is one entry in a reconciled per-user snapshot: a task-only
// record, a merged record, or an external-only event tagged TypeExternalEvent.
type ContextItem struct {
	TaskRecord
	External bool `json:"external,omitempty"` // true when backed only by a calendar event
}

// EffectiveStart resolves the instant used for ordering and window checks:
// the mirrored calendar start when present, else the local date/time.
// Returns false when the item carries no usable date at all.
func (c ContextItem) EffectiveStart() (time.Time, bool) {
	return ParseEffectiveStart(c.CalStart, c.Date, c.Time)
}

// ParseEffectiveStart resolves calStart (RFC 3339 or bare date) with a
// date/time fallback. Malformed inputs are treated as absent, not errors.
func ParseEffectiveStart(calStart, date, hhmm string) (time.Time, bool) {
	if calStart != "" {
		if t, err := time.Parse(time.RFC3339, calStart); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02", calStart); err == nil {
			return t, true
		}
	}
	if date != "" {
		if hhmm != "" {
			if t, err := time.Parse("2006-01-02 15:04", date+" "+hhmm); err == nil {
				return t, true
			}
		}
		if t, err := time.Parse("2006-01-02", date); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
