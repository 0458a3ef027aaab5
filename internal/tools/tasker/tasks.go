package tasker

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/erezf1/WhatsTasker-sub000/internal/bridge"
	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
	"github.com/erezf1/WhatsTasker-sub000/internal/lifecycle"
)

func registerCreateTask(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a task, reminder, or todo for the user. Tasks with a date and time are mirrored to the user's calendar when one is connected."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("The user this item belongs to")),
			mcp.WithString("title", mcp.Required(), mcp.Description("Short title of the item")),
			mcp.WithString("type", mcp.Description("task, reminder, or todo (default task)")),
			mcp.WithString("description", mcp.Description("Longer free-text description")),
			mcp.WithString("date", mcp.Description("Due date, YYYY-MM-DD")),
			mcp.WithString("time", mcp.Description("Due time, HH:MM in the user's timezone")),
			mcp.WithString("duration", mcp.Description("Estimated duration, e.g. '90m', '1.5h' (default 1h when scheduled)")),
			mcp.WithString("project", mcp.Description("Optional project label")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			userID, err := requireString(args, "user_id")
			if err != nil {
				return nil, err
			}
			title, err := requireString(args, "title")
			if err != nil {
				return nil, err
			}
			itemType := domain.ItemType(optionalString(args, "type"))
			if itemType == "" {
				itemType = domain.TypeTask
			}
			switch itemType {
			case domain.TypeTask, domain.TypeReminder, domain.TypeToDo:
			default:
				return nil, fmt.Errorf("type must be task, reminder, or todo, got %q", itemType)
			}

			rec := domain.TaskRecord{
				UserID:            userID,
				Type:              itemType,
				Title:             title,
				Description:       optionalString(args, "description"),
				Date:              optionalString(args, "date"),
				Time:              optionalString(args, "time"),
				EstimatedDuration: optionalString(args, "duration"),
				Project:           optionalString(args, "project"),
			}
			if rec.Date != "" {
				if err := validDate(rec.Date); err != nil {
					return nil, err
				}
			}
			if rec.Time != "" {
				if err := validClock(rec.Time); err != nil {
					return nil, err
				}
			}

			prefs, err := d.ensureUser(userID)
			if err != nil {
				d.Logger.Printf("Tasker: ensure user %s: %v", userID, err)
				return mcp.NewToolResultText(bridge.GenericFailure), nil
			}
			if start, end, ok := calWindow(prefs.TimeZone, rec.Date, rec.Time, rec.EstimatedDuration); ok {
				rec.CalStart, rec.CalEnd = start, end
			}

			cal := d.calendarFor(ctx, userID, prefs)
			created, err := d.Lifecycle.Create(ctx, cal, rec)
			if err != nil {
				d.Logger.Printf("Tasker: create for %s failed: %v", userID, err)
				return mcp.NewToolResultText(bridge.GenericFailure), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Created %s %s: %s", created.Type, created.EventID, created.Title)), nil
		},
	)
}

func registerUpdateTask(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("update_task",
			mcp.WithDescription("Update fields of an existing item. task_id accepts either an event id or the item's number from the latest list_active output."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("The user the item belongs to")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Event id or list number")),
			mcp.WithString("title", mcp.Description("New title")),
			mcp.WithString("description", mcp.Description("New description")),
			mcp.WithString("date", mcp.Description("New due date, YYYY-MM-DD")),
			mcp.WithString("time", mcp.Description("New due time, HH:MM")),
			mcp.WithString("duration", mcp.Description("New estimated duration")),
			mcp.WithString("project", mcp.Description("New project label")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			userID, err := requireString(args, "user_id")
			if err != nil {
				return nil, err
			}
			id, err := d.resolveEventID(args, userID)
			if err != nil {
				return nil, err
			}

			updates := make(map[string]any)
			for arg, column := range map[string]string{
				"title":       "title",
				"description": "description",
				"date":        "date",
				"time":        "time",
				"duration":    "estimated_duration",
				"project":     "project",
			} {
				if v := optionalString(args, arg); v != "" {
					updates[column] = v
				}
			}
			if len(updates) == 0 {
				return nil, fmt.Errorf("nothing to update")
			}
			if v, ok := updates["date"].(string); ok {
				if err := validDate(v); err != nil {
					return nil, err
				}
			}
			if v, ok := updates["time"].(string); ok {
				if err := validClock(v); err != nil {
					return nil, err
				}
			}

			prefs, err := d.ensureUser(userID)
			if err != nil {
				d.Logger.Printf("Tasker: ensure user %s: %v", userID, err)
				return mcp.NewToolResultText(bridge.GenericFailure), nil
			}

			// A schedule change moves the calendar window too.
			if prev, ok := d.Store.GetTask(id); ok {
				date := prev.Date
				clock := prev.Time
				duration := prev.EstimatedDuration
				if v, ok := updates["date"].(string); ok {
					date = v
				}
				if v, ok := updates["time"].(string); ok {
					clock = v
				}
				if v, ok := updates["estimated_duration"].(string); ok {
					duration = v
				}
				if date != prev.Date || clock != prev.Time || duration != prev.EstimatedDuration {
					if start, end, ok := calWindow(prefs.TimeZone, date, clock, duration); ok {
						updates["cal_start_datetime"] = start
						updates["cal_end_datetime"] = end
					}
				}
			}

			cal := d.calendarFor(ctx, userID, prefs)
			rec, err := d.Lifecycle.Update(ctx, cal, id, updates)
			if err != nil {
				return d.lifecycleFailure(err, userID, "update", id)
			}
			return mcp.NewToolResultText(fmt.Sprintf("Updated %s: %s", rec.EventID, rec.Title)), nil
		},
	)
}

func registerSetTaskStatus(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("set_task_status",
			mcp.WithDescription("Move an item to a new status: pending, in_progress, or completed. Completed and cancelled items cannot change status again."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("The user the item belongs to")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Event id or list number")),
			mcp.WithString("status", mcp.Required(), mcp.Description("Target status")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			userID, err := requireString(args, "user_id")
			if err != nil {
				return nil, err
			}
			id, err := d.resolveEventID(args, userID)
			if err != nil {
				return nil, err
			}
			status, err := requireString(args, "status")
			if err != nil {
				return nil, err
			}

			if _, err := d.ensureUser(userID); err != nil {
				d.Logger.Printf("Tasker: ensure user %s: %v", userID, err)
				return mcp.NewToolResultText(bridge.GenericFailure), nil
			}
			rec, err := d.Lifecycle.SetStatus(id, domain.Status(status))
			if err != nil {
				return d.lifecycleFailure(err, userID, "set status on", id)
			}
			return mcp.NewToolResultText(fmt.Sprintf("%s is now %s", rec.Title, rec.Status)), nil
		},
	)
}

func registerCancelTask(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("cancel_task",
			mcp.WithDescription("Cancel an item, removing its calendar event when one exists. The record is kept with status cancelled."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("The user the item belongs to")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Event id or list number")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			userID, err := requireString(args, "user_id")
			if err != nil {
				return nil, err
			}
			id, err := d.resolveEventID(args, userID)
			if err != nil {
				return nil, err
			}

			prefs, err := d.ensureUser(userID)
			if err != nil {
				d.Logger.Printf("Tasker: ensure user %s: %v", userID, err)
				return mcp.NewToolResultText(bridge.GenericFailure), nil
			}
			cal := d.calendarFor(ctx, userID, prefs)
			rec, err := d.Lifecycle.Cancel(ctx, cal, id)
			if err != nil {
				return d.lifecycleFailure(err, userID, "cancel", id)
			}
			return mcp.NewToolResultText(fmt.Sprintf("Cancelled %s: %s", rec.EventID, rec.Title)), nil
		},
	)
}

// lifecycleFailure maps manager errors to tool responses: the agent can act
// on not-found and invalid-transition, anything else becomes the generic
// failure text.
func (d Deps) lifecycleFailure(err error, userID, verb, id string) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		return nil, fmt.Errorf("no item with id %s", id)
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return nil, err
	default:
		d.Logger.Printf("Tasker: %s %s for %s failed: %v", verb, id, userID, err)
		return mcp.NewToolResultText(bridge.GenericFailure), nil
	}
}

// resolveEventID turns the task_id argument into an event id, translating a
// bare list number through the mapping saved by the last list_active call.
func (d Deps) resolveEventID(args map[string]any, userID string) (string, error) {
	raw, err := requireString(args, "task_id")
	if err != nil {
		return "", err
	}
	n, convErr := strconv.Atoi(raw)
	if convErr != nil {
		return raw, nil
	}
	v, ok := d.Cache.Value(userID, activeListKey)
	if !ok {
		return "", fmt.Errorf("no active list to resolve item %d; call list_active first", n)
	}
	ids, _ := v.(map[int]string)
	id, ok := ids[n]
	if !ok {
		return "", fmt.Errorf("the last list has no item %d", n)
	}
	return id, nil
}
