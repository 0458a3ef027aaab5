package tasker

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/erezf1/WhatsTasker-sub000/internal/bridge"
	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
	"github.com/erezf1/WhatsTasker-sub000/internal/state"
	"github.com/erezf1/WhatsTasker-sub000/internal/users"
)

func registerUpdatePreferences(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("update_preferences",
			mcp.WithDescription("Change the user's settings. Only the provided fields change; times are HH:MM in the user's timezone."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("The user to update")),
			mcp.WithString("name", mcp.Description("Display name")),
			mcp.WithString("timezone", mcp.Description("IANA timezone, e.g. 'Asia/Jerusalem'")),
			mcp.WithString("work_start_time", mcp.Description("Workday start, HH:MM")),
			mcp.WithString("work_end_time", mcp.Description("Workday end, HH:MM")),
			mcp.WithString("morning_summary_time", mcp.Description("When the morning summary is sent, HH:MM")),
			mcp.WithString("evening_summary_time", mcp.Description("When the evening check-in is sent, HH:MM")),
			mcp.WithString("notification_lead_time", mcp.Description("How long before an item to remind, e.g. '15m', '1h'")),
			mcp.WithBoolean("calendar_enabled", mcp.Description("Whether calendar mirroring is on")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			userID, err := requireString(args, "user_id")
			if err != nil {
				return nil, err
			}

			for _, key := range []string{"work_start_time", "work_end_time", "morning_summary_time", "evening_summary_time"} {
				if v := optionalString(args, key); v != "" {
					if err := validClock(v); err != nil {
						return nil, fmt.Errorf("%s: %w", key, err)
					}
				}
			}
			if v := optionalString(args, "notification_lead_time"); v != "" {
				if _, ok := domain.ParseDurationMinutes(v); !ok {
					return nil, fmt.Errorf("notification_lead_time must be a duration like '15m' or '1h', got %q", v)
				}
			}

			if _, err := d.ensureUser(userID); err != nil {
				d.Logger.Printf("Tasker: ensure user %s: %v", userID, err)
				return mcp.NewToolResultText(bridge.GenericFailure), nil
			}
			prefs, err := d.Registry.Update(userID, func(p *users.Preferences) {
				if v := optionalString(args, "name"); v != "" {
					p.Name = v
				}
				if v := optionalString(args, "timezone"); v != "" {
					p.TimeZone = v
				}
				if v := optionalString(args, "work_start_time"); v != "" {
					p.WorkStartTime = v
				}
				if v := optionalString(args, "work_end_time"); v != "" {
					p.WorkEndTime = v
				}
				if v := optionalString(args, "morning_summary_time"); v != "" {
					p.MorningSummaryTime = v
				}
				if v := optionalString(args, "evening_summary_time"); v != "" {
					p.EveningSummaryTime = v
				}
				if v, ok := optionalBool(args, "calendar_enabled"); ok {
					p.CalendarEnabled = v
				}
				if v := optionalString(args, "notification_lead_time"); v != "" {
					p.NotificationLeadTime = v
				}
			})
			if err != nil {
				d.Logger.Printf("Tasker: update preferences for %s: %v", userID, err)
				return mcp.NewToolResultText(bridge.GenericFailure), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Preferences updated for %s (timezone %s)", userID, prefs.TimeZone)), nil
		},
	)
}

func registerRecordMessage(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("record_message",
			mcp.WithDescription("Record one conversation turn in the user's history and the message audit log. Call once per inbound user message and once per assistant reply."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("The user the message belongs to")),
			mcp.WithString("role", mcp.Required(), mcp.Description("'user' or 'assistant'")),
			mcp.WithString("content", mcp.Required(), mcp.Description("The message text")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			userID, err := requireString(args, "user_id")
			if err != nil {
				return nil, err
			}
			role, err := requireString(args, "role")
			if err != nil {
				return nil, err
			}
			if role != "user" && role != "assistant" {
				return nil, fmt.Errorf("role must be 'user' or 'assistant', got %q", role)
			}
			content, err := requireString(args, "content")
			if err != nil {
				return nil, err
			}

			if _, err := d.ensureUser(userID); err != nil {
				d.Logger.Printf("Tasker: ensure user %s: %v", userID, err)
				return mcp.NewToolResultText(bridge.GenericFailure), nil
			}
			d.Cache.AppendHistory(userID, state.HistoryEntry{
				Role:    role,
				Content: content,
				At:      nowRFC3339(),
			})
			direction := "inbound"
			if role == "assistant" {
				direction = "outbound"
			}
			d.Store.LogMessage(userID, direction, content)
			return mcp.NewToolResultText("Recorded"), nil
		},
	)
}
