// Package tasker exposes the assistant's operations as MCP tools for the
// conversational agent: task lifecycle, context snapshots, and preference
// management. Validation problems surface as tool errors so the agent can
// correct itself; internal failures collapse to the generic user-facing
// failure text and stay detailed only in the logs.
package tasker

import (
	"context"
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
	"github.com/erezf1/WhatsTasker-sub000/internal/gateway"
	"github.com/erezf1/WhatsTasker-sub000/internal/state"
	"github.com/erezf1/WhatsTasker-sub000/internal/store"
	"github.com/erezf1/WhatsTasker-sub000/internal/users"
)

// TaskStore is the read and audit slice of the persistence layer the tools
// need.
type TaskStore interface {
	ListTasks(userID string, f store.Filter) ([]domain.TaskRecord, bool)
	GetTask(id string) (domain.TaskRecord, bool)
	LogMessage(userID, direction, content string)
	LogActivity(level, component, message, userID string)
}

// Lifecycle is implemented by lifecycle.Manager.
type Lifecycle interface {
	Create(ctx context.Context, cal gateway.Calendar, rec domain.TaskRecord) (domain.TaskRecord, error)
	Update(ctx context.Context, cal gateway.Calendar, id string, updates map[string]any) (domain.TaskRecord, error)
	SetStatus(id string, status domain.Status) (domain.TaskRecord, error)
	Cancel(ctx context.Context, cal gateway.Calendar, id string) (domain.TaskRecord, error)
}

// SnapshotProvider is implemented by sync.Reconciler.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, userID string, cal gateway.Calendar, start, end string) []domain.ContextItem
}

// CalendarResolver returns the user's calendar client, nil when none.
type CalendarResolver func(ctx context.Context, userID string) gateway.Calendar

// Deps carries everything the tool handlers close over.
type Deps struct {
	Store     TaskStore
	Cache     *state.Cache
	Registry  *users.Registry
	Lifecycle Lifecycle
	Snapshots SnapshotProvider
	Calendars CalendarResolver
	Logger    *log.Logger
}

// Register adds all tasker tools to the MCP server.
func Register(s *server.MCPServer, d Deps) {
	registerCreateTask(s, d)
	registerUpdateTask(s, d)
	registerSetTaskStatus(s, d)
	registerCancelTask(s, d)

	registerListActive(s, d)
	registerContextSnapshot(s, d)

	registerUpdatePreferences(s, d)
	registerRecordMessage(s, d)
}

// ensureUser lazily materializes a user on first contact: the preference
// document on disk and the state entry in the cache.
func (d Deps) ensureUser(userID string) (users.Preferences, error) {
	prefs, err := d.Registry.GetOrCreate(userID)
	if err != nil {
		return users.Preferences{}, err
	}
	if !d.Cache.Registered(userID) {
		d.Cache.Register(userID)
	}
	return prefs, nil
}

// calendarFor resolves the user's calendar, honoring the preference toggle.
func (d Deps) calendarFor(ctx context.Context, userID string, prefs users.Preferences) gateway.Calendar {
	if !prefs.CalendarEnabled || d.Calendars == nil {
		return nil
	}
	return d.Calendars(ctx, userID)
}
