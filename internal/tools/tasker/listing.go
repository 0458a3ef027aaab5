package tasker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/erezf1/WhatsTasker-sub000/internal/bridge"
	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
	"github.com/erezf1/WhatsTasker-sub000/internal/query"
	"github.com/erezf1/WhatsTasker-sub000/internal/store"
)

// activeListKey is the cache slot holding the number-to-id mapping of the
// user's last rendered list.
const activeListKey = "active_list_map"

// listWindowDays is how far ahead list_active looks.
const listWindowDays = 14

// listStatuses maps the status filter argument onto store statuses. A nil
// slice means no status constraint.
var listStatuses = map[string][]domain.Status{
	"active":      {domain.StatusPending, domain.StatusInProgress},
	"pending":     {domain.StatusPending},
	"in_progress": {domain.StatusInProgress},
	"completed":   {domain.StatusCompleted},
	"cancelled":   {domain.StatusCancelled},
	"all":         nil,
}

func registerListActive(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("list_active",
			mcp.WithDescription("List the user's items as a numbered list. The default shows active items for the coming two weeks merged with their calendar; status, project, and date filters narrow or widen the view. The numbers can be used as task_id in follow-up calls."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("The user to list items for")),
			mcp.WithString("status", mcp.Description("Filter: active (default), pending, in_progress, completed, cancelled, or all")),
			mcp.WithString("project", mcp.Description("Only items with this project label")),
			mcp.WithString("date_from", mcp.Description("Start date, YYYY-MM-DD (default today)")),
			mcp.WithString("date_to", mcp.Description("End date inclusive, YYYY-MM-DD (default two weeks ahead)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			userID, err := requireString(args, "user_id")
			if err != nil {
				return nil, err
			}
			status := optionalString(args, "status")
			if status == "" {
				status = "active"
			}
			statuses, known := listStatuses[status]
			if !known {
				return nil, fmt.Errorf("status must be active, pending, in_progress, completed, cancelled, or all, got %q", status)
			}
			project := optionalString(args, "project")
			dateFrom := optionalString(args, "date_from")
			if dateFrom != "" {
				if err := validDate(dateFrom); err != nil {
					return nil, err
				}
			}
			dateTo := optionalString(args, "date_to")
			if dateTo != "" {
				if err := validDate(dateTo); err != nil {
					return nil, err
				}
			}

			prefs, err := d.ensureUser(userID)
			if err != nil {
				d.Logger.Printf("Tasker: ensure user %s: %v", userID, err)
				return mcp.NewToolResultText(bridge.GenericFailure), nil
			}

			start, end := window(prefs.TimeZone, 0, listWindowDays)
			if dateFrom != "" {
				start = dateFrom + "T00:00:00Z"
			}
			if dateTo != "" {
				day, _ := time.Parse("2006-01-02", dateTo)
				end = day.AddDate(0, 0, 1).Format("2006-01-02") + "T00:00:00Z"
			}

			var items []domain.ContextItem
			if status == "active" && project == "" {
				// The default view is the calendar-merged context.
				cal := d.calendarFor(ctx, userID, prefs)
				items = d.Snapshots.Snapshot(ctx, userID, cal, start, end)
				d.Cache.ReplaceContext(userID, items)
			} else {
				// Filtered views come straight from the store; the date
				// range applies only when the caller gave one, so completed
				// history stays reachable.
				f := store.Filter{Statuses: statuses, Project: project}
				if dateFrom != "" && dateTo != "" {
					f.DateFrom, f.DateTo = dateFrom, dateTo
				}
				recs, ok := d.Store.ListTasks(userID, f)
				if !ok {
					return mcp.NewToolResultText(bridge.GenericFailure), nil
				}
				items = make([]domain.ContextItem, len(recs))
				for i, rec := range recs {
					items[i] = domain.ContextItem{TaskRecord: rec}
				}
			}

			text, ids := query.NumberedList(items)
			d.Cache.SetValue(userID, activeListKey, ids)
			return mcp.NewToolResultText(text), nil
		},
	)
}

func registerContextSnapshot(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("get_context_snapshot",
			mcp.WithDescription("Return the user's merged task and calendar context for a date range as JSON, plus their recent conversation history. Intended for grounding the agent before answering."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("The user to snapshot")),
			mcp.WithString("date_from", mcp.Description("Start date, YYYY-MM-DD (default today)")),
			mcp.WithString("date_to", mcp.Description("End date inclusive, YYYY-MM-DD (default a week ahead)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			userID, err := requireString(args, "user_id")
			if err != nil {
				return nil, err
			}
			prefs, err := d.ensureUser(userID)
			if err != nil {
				d.Logger.Printf("Tasker: ensure user %s: %v", userID, err)
				return mcp.NewToolResultText(bridge.GenericFailure), nil
			}

			start, end := window(prefs.TimeZone, 0, 7)
			if from := optionalString(args, "date_from"); from != "" {
				if err := validDate(from); err != nil {
					return nil, err
				}
				start = from + "T00:00:00Z"
			}
			if to := optionalString(args, "date_to"); to != "" {
				if err := validDate(to); err != nil {
					return nil, err
				}
				day, _ := time.Parse("2006-01-02", to)
				end = day.AddDate(0, 0, 1).Format("2006-01-02") + "T00:00:00Z"
			}

			cal := d.calendarFor(ctx, userID, prefs)
			items := d.Snapshots.Snapshot(ctx, userID, cal, start, end)
			d.Cache.ReplaceContext(userID, items)

			snapshot := map[string]any{
				"preferences": prefs,
				"items":       items,
				"history":     d.Cache.History(userID),
			}
			data, err := json.MarshalIndent(snapshot, "", "  ")
			if err != nil {
				d.Logger.Printf("Tasker: encode snapshot for %s: %v", userID, err)
				return mcp.NewToolResultText(bridge.GenericFailure), nil
			}
			return mcp.NewToolResultText(string(data)), nil
		},
	)
}

// window returns RFC 3339 bounds spanning [today+fromDays, today+toDays) in
// the user's zone.
func window(tz string, fromDays, toDays int) (string, string) {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return day.AddDate(0, 0, fromDays).Format(time.RFC3339), day.AddDate(0, 0, toDays).Format(time.RFC3339)
}
