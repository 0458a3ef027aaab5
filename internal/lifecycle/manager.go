// Package lifecycle orchestrates task mutations across the store, the
// external calendar, and the in-memory cache. Ordering rules keep the two
// systems consistent without a transaction spanning them: creations touch
// the calendar first, updates touch the store first, and deletions touch
// the calendar first.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
	"github.com/erezf1/WhatsTasker-sub000/internal/gateway"
	"github.com/erezf1/WhatsTasker-sub000/internal/state"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStoreWrite        = errors.New("store write failed")
)

// Store is the slice of the persistence layer the manager needs. Cancelled
// records stay in the store with a terminal status, so the manager never
// deletes rows.
type Store interface {
	UpsertTask(rec domain.TaskRecord) bool
	GetTask(id string) (domain.TaskRecord, bool)
	UpdateTaskFields(id string, updates map[string]any) bool
	LogActivity(level, component, message, userID string)
}

// Manager applies lifecycle operations.
type Manager struct {
	store  Store
	cache  *state.Cache
	logger *log.Logger
	newID  func() string
}

// NewManager wires a manager.
func NewManager(st Store, cache *state.Cache, logger *log.Logger) *Manager {
	return &Manager{
		store:  st,
		cache:  cache,
		logger: logger,
		newID:  func() string { return domain.LocalIDPrefix + uuid.NewString() },
	}
}

// Create persists a new item. When the user has an active calendar and the
// item carries a schedulable time, the calendar event is created first and
// its id becomes the record id; a calendar failure aborts the whole
// operation. Items without a calendar presence get a local_ id. A store
// failure after a successful calendar create rolls the event back.
func (m *Manager) Create(ctx context.Context, cal gateway.Calendar, rec domain.TaskRecord) (domain.TaskRecord, error) {
	if rec.CreatedAt == "" {
		rec.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if rec.Status == "" {
		rec.Status = domain.StatusPending
	}

	mirrored := false
	if cal != nil && cal.Active() && rec.CalStart != "" && rec.CalEnd != "" {
		id, err := cal.CreateEvent(ctx, domain.ExternalEvent{
			Title:       rec.Title,
			Description: rec.Description,
			Start:       rec.CalStart,
			End:         rec.CalEnd,
		})
		if err != nil {
			return domain.TaskRecord{}, fmt.Errorf("create calendar event: %w", err)
		}
		rec.EventID = id
		mirrored = true
	} else {
		rec.EventID = m.newID()
	}

	if !m.store.UpsertTask(rec) {
		if mirrored {
			// Roll back the event so the calendar does not keep an
			// entry the assistant has no record of.
			if err := cal.DeleteEvent(ctx, rec.EventID); err != nil {
				m.logger.Printf("Lifecycle: orphaned calendar event %s after failed store write: %v", rec.EventID, err)
				m.store.LogActivity("ERROR", "lifecycle", "orphaned calendar event "+rec.EventID, rec.UserID)
			}
		}
		return domain.TaskRecord{}, ErrStoreWrite
	}

	m.cache.UpsertContextItem(rec.UserID, domain.ContextItem{TaskRecord: rec})
	return rec, nil
}

// Update applies field updates to an existing item, store first. Records in
// a terminal status are immutable and reject any update. Calendar
// propagation is best effort: a calendar failure leaves the store update in
// place and is repaired by the next reconciliation pass.
func (m *Manager) Update(ctx context.Context, cal gateway.Calendar, id string, updates map[string]any) (domain.TaskRecord, error) {
	prev, ok := m.store.GetTask(id)
	if !ok {
		return domain.TaskRecord{}, ErrNotFound
	}
	if prev.Status.Terminal() {
		return domain.TaskRecord{}, fmt.Errorf("%w: record is %s", ErrInvalidTransition, prev.Status)
	}
	if !m.store.UpdateTaskFields(id, updates) {
		return domain.TaskRecord{}, ErrStoreWrite
	}
	rec, _ := m.store.GetTask(id)

	if !rec.Local() && cal != nil && cal.Active() {
		ev := domain.ExternalEvent{}
		touch := false
		if rec.Title != prev.Title {
			ev.Title, touch = rec.Title, true
		}
		if rec.Description != prev.Description {
			ev.Description, touch = rec.Description, true
		}
		if rec.CalStart != prev.CalStart {
			ev.Start, touch = rec.CalStart, true
		}
		if rec.CalEnd != prev.CalEnd {
			ev.End, touch = rec.CalEnd, true
		}
		if touch {
			if err := cal.UpdateEvent(ctx, id, ev); err != nil {
				m.logger.Printf("Lifecycle: calendar update for %s deferred to next sync: %v", id, err)
			}
		}
	}

	m.cache.UpdateContextItem(rec.UserID, domain.ContextItem{TaskRecord: rec})
	return rec, nil
}

// SetStatus moves an item through its status machine. Completed and
// cancelled are absorbing; any transition out of them is rejected. Reaching
// a terminal status stamps completed_at and drops the item from the active
// context.
func (m *Manager) SetStatus(id string, status domain.Status) (domain.TaskRecord, error) {
	rec, ok := m.store.GetTask(id)
	if !ok {
		return domain.TaskRecord{}, ErrNotFound
	}
	if !domain.ValidStatus(status) {
		return domain.TaskRecord{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	if !domain.CanTransition(rec.Status, status) {
		return domain.TaskRecord{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, status)
	}

	updates := map[string]any{"status": string(status)}
	if status.Terminal() {
		updates["completed_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	if !m.store.UpdateTaskFields(id, updates) {
		return domain.TaskRecord{}, ErrStoreWrite
	}
	rec, _ = m.store.GetTask(id)

	if status.Terminal() {
		m.cache.RemoveContextItem(rec.UserID, id)
	} else {
		m.cache.UpdateContextItem(rec.UserID, domain.ContextItem{TaskRecord: rec})
	}
	return rec, nil
}

// Cancel aborts an item, calendar first. A calendar event that is already
// gone counts as deleted; any other calendar failure aborts the cancel so
// the store never claims an event was removed while it still exists. The
// record itself is kept with status cancelled.
func (m *Manager) Cancel(ctx context.Context, cal gateway.Calendar, id string) (domain.TaskRecord, error) {
	rec, ok := m.store.GetTask(id)
	if !ok {
		return domain.TaskRecord{}, ErrNotFound
	}
	if rec.Status.Terminal() {
		return domain.TaskRecord{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, domain.StatusCancelled)
	}

	if !rec.Local() && cal != nil && cal.Active() {
		if err := cal.DeleteEvent(ctx, id); err != nil {
			if !gateway.IsNotFound(err) {
				return domain.TaskRecord{}, fmt.Errorf("delete calendar event: %w", err)
			}
		}
		for _, sess := range rec.SessionEventIDs {
			if err := cal.DeleteEvent(ctx, sess); err != nil && !gateway.IsNotFound(err) {
				m.logger.Printf("Lifecycle: session event %s for %s not removed: %v", sess, id, err)
			}
		}
	}

	updates := map[string]any{
		"status":       string(domain.StatusCancelled),
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	}
	if !m.store.UpdateTaskFields(id, updates) {
		return domain.TaskRecord{}, ErrStoreWrite
	}
	rec, _ = m.store.GetTask(id)
	m.cache.RemoveContextItem(rec.UserID, id)
	return rec, nil
}
