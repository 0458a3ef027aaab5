package trigger

import (
	"context"
	"log"
	"time"

	"github.com/erezf1/WhatsTasker-sub000/internal/bridge"
	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
	"github.com/erezf1/WhatsTasker-sub000/internal/gateway"
	"github.com/erezf1/WhatsTasker-sub000/internal/query"
	"github.com/erezf1/WhatsTasker-sub000/internal/users"
)

// CalendarResolver returns the calendar client for a user, or nil when the
// user has none connected.
type CalendarResolver func(ctx context.Context, userID string) gateway.Calendar

// SnapshotProvider produces the merged context for a user and window.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, userID string, cal gateway.Calendar, start, end string) []domain.ContextItem
}

// RoutineEngine sends the morning and evening summaries. Each fires at most
// once per local day; the last-trigger date persists in the preference
// document so restarts inside the window do not repeat the message.
type RoutineEngine struct {
	registry  *users.Registry
	snapshots SnapshotProvider
	calendars CalendarResolver
	sender    bridge.Sender
	logger    *log.Logger
	now       func() time.Time
}

// NewRoutineEngine wires the engine.
func NewRoutineEngine(registry *users.Registry, snapshots SnapshotProvider, calendars CalendarResolver, sender bridge.Sender, logger *log.Logger) *RoutineEngine {
	return &RoutineEngine{
		registry:  registry,
		snapshots: snapshots,
		calendars: calendars,
		sender:    sender,
		logger:    logger,
		now:       time.Now,
	}
}

// Run scans every known user once.
func (e *RoutineEngine) Run(ctx context.Context) {
	for _, userID := range e.registry.UserIDs() {
		if ctx.Err() != nil {
			return
		}
		e.runUser(ctx, userID)
	}
}

func (e *RoutineEngine) runUser(ctx context.Context, userID string) {
	prefs, ok := e.registry.Get(userID)
	if !ok {
		return
	}
	loc := userLocation(prefs.TimeZone)
	now := e.now().In(loc)
	today := now.Format("2006-01-02")

	if pastWallClock(now, prefs.MorningSummaryTime) && prefs.LastMorningTriggerDate != today {
		start, end := dayWindow(now, 0)
		e.sendSummary(ctx, userID, "Good morning! Here is your day:", start, end)
		if _, err := e.registry.Update(userID, func(p *users.Preferences) {
			p.LastMorningTriggerDate = today
		}); err != nil {
			e.logger.Printf("Trigger: morning marker for %s not persisted: %v", userID, err)
		}
	}

	if pastWallClock(now, prefs.EveningSummaryTime) && prefs.LastEveningTriggerDate != today {
		start, end := dayWindow(now, 1)
		e.sendSummary(ctx, userID, "Evening check-in. Tomorrow looks like:", start, end)
		if _, err := e.registry.Update(userID, func(p *users.Preferences) {
			p.LastEveningTriggerDate = today
		}); err != nil {
			e.logger.Printf("Trigger: evening marker for %s not persisted: %v", userID, err)
		}
	}
}

func (e *RoutineEngine) sendSummary(ctx context.Context, userID, heading string, start, end string) {
	var cal gateway.Calendar
	if e.calendars != nil {
		cal = e.calendars(ctx, userID)
	}
	items := e.snapshots.Snapshot(ctx, userID, cal, start, end)
	msg := query.DaySummary(heading, items)
	if err := e.sender.Send(ctx, userID, msg); err != nil {
		e.logger.Printf("Trigger: summary to %s not delivered: %v", userID, err)
	}
}

// dayWindow returns the RFC 3339 bounds of the local day offset days from
// now.
func dayWindow(now time.Time, offset int) (string, string) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, offset)
	return day.Format(time.RFC3339), day.AddDate(0, 0, 1).Format(time.RFC3339)
}

// pastWallClock reports whether now's local clock has reached hh:mm.
func pastWallClock(now time.Time, hhmm string) bool {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return false
	}
	nowMinutes := now.Hour()*60 + now.Minute()
	return nowMinutes >= t.Hour()*60+t.Minute()
}

func userLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
