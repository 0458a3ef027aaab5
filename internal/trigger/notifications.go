// Package trigger holds the periodic engines: pre-event notifications,
// morning and evening routines, and the daily cleanup. Each engine exposes
// a Run method suitable as a scheduler job; one user's failure never stops
// the scan of the others.
package trigger

import (
	"context"
	"log"
	"time"

	"github.com/erezf1/WhatsTasker-sub000/internal/bridge"
	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
	"github.com/erezf1/WhatsTasker-sub000/internal/gateway"
	"github.com/erezf1/WhatsTasker-sub000/internal/query"
	"github.com/erezf1/WhatsTasker-sub000/internal/state"
	"github.com/erezf1/WhatsTasker-sub000/internal/users"
)

// TaskWriter is the slice of the store the notification engine needs to
// persist reminder markers.
type TaskWriter interface {
	UpdateTaskFields(id string, updates map[string]any) bool
	LogActivity(level, component, message, userID string)
}

// NotificationEngine sends a reminder shortly before each timed item
// starts. Every cycle reconciles the user's upcoming day with the calendar,
// so events created or moved between cycles still remind. The in-memory
// dedup set is the at-most-once guard; the persisted reminder_sent marker
// is write-only bookkeeping and never blocks a later day's reminder.
type NotificationEngine struct {
	cache     *state.Cache
	registry  *users.Registry
	store     TaskWriter
	snapshots SnapshotProvider
	calendars CalendarResolver
	sender    bridge.Sender
	logger    *log.Logger
	now       func() time.Time
}

// NewNotificationEngine wires the engine.
func NewNotificationEngine(cache *state.Cache, registry *users.Registry, store TaskWriter, snapshots SnapshotProvider, calendars CalendarResolver, sender bridge.Sender, logger *log.Logger) *NotificationEngine {
	return &NotificationEngine{
		cache:     cache,
		registry:  registry,
		store:     store,
		snapshots: snapshots,
		calendars: calendars,
		sender:    sender,
		logger:    logger,
		now:       time.Now,
	}
}

// Run scans every registered user once.
func (e *NotificationEngine) Run(ctx context.Context) {
	for _, userID := range e.cache.UserIDs() {
		if ctx.Err() != nil {
			return
		}
		e.runUser(ctx, userID)
	}
}

func (e *NotificationEngine) runUser(ctx context.Context, userID string) {
	prefs, ok := e.registry.Get(userID)
	if !ok {
		return
	}
	lead := leadDuration(prefs.NotificationLeadTime)
	now := e.now()

	var cal gateway.Calendar
	if e.calendars != nil {
		cal = e.calendars(ctx, userID)
	}
	start := now.UTC().Format(time.RFC3339)
	end := now.UTC().Add(24 * time.Hour).Format(time.RFC3339)
	items := e.snapshots.Snapshot(ctx, userID, cal, start, end)
	e.cache.ReplaceContext(userID, items)

	for _, item := range items {
		if !dueForReminder(item, now, lead) {
			continue
		}
		if !e.cache.MarkNotified(userID, item.EventID) {
			continue
		}
		msg := "Reminder: " + query.ItemLine(item)
		if err := e.sender.Send(ctx, userID, msg); err != nil {
			e.logger.Printf("Trigger: reminder to %s for %s not delivered: %v", userID, item.EventID, err)
			continue
		}
		stamp := now.UTC().Format(time.RFC3339)
		// Calendar-only items have no store row to stamp.
		if !item.External {
			if !e.store.UpdateTaskFields(item.EventID, map[string]any{"reminder_sent": stamp}) {
				e.logger.Printf("Trigger: reminder_sent marker for %s not persisted", item.EventID)
			}
		}
		e.store.LogActivity("INFO", "trigger", "reminder sent for "+item.EventID, userID)
	}
}

// dueForReminder reports whether item's start falls inside (now, now+lead].
// External events are the user's own calendar entries; they get reminders
// too. Items without a clock time never fire.
func dueForReminder(item domain.ContextItem, now time.Time, lead time.Duration) bool {
	if item.Status.Terminal() {
		return false
	}
	if !timed(item.TaskRecord) {
		return false
	}
	start, ok := item.EffectiveStart()
	if !ok {
		return false
	}
	return start.After(now) && !start.After(now.Add(lead))
}

// timed reports whether the record has an actual clock time rather than a
// bare date.
func timed(rec domain.TaskRecord) bool {
	if rec.CalStart != "" {
		_, err := time.Parse(time.RFC3339, rec.CalStart)
		return err == nil
	}
	return rec.Time != ""
}

// leadDuration converts the preference string, defaulting to 15 minutes
// when it does not parse.
func leadDuration(pref string) time.Duration {
	if minutes, ok := domain.ParseDurationMinutes(pref); ok && minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	return 15 * time.Minute
}
