package tasker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
	"github.com/erezf1/WhatsTasker-sub000/internal/gateway"
	"github.com/erezf1/WhatsTasker-sub000/internal/lifecycle"
	"github.com/erezf1/WhatsTasker-sub000/internal/state"
	"github.com/erezf1/WhatsTasker-sub000/internal/store"
	syncpkg "github.com/erezf1/WhatsTasker-sub000/internal/sync"
	"github.com/erezf1/WhatsTasker-sub000/internal/users"
)

// memStore is an in-memory stand-in for the sqlite store, covering the
// slices the tools, lifecycle manager, and reconciler need.
type memStore struct {
	tasks    map[string]domain.TaskRecord
	order    []string
	messages []string
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[string]domain.TaskRecord)}
}

func (m *memStore) UpsertTask(rec domain.TaskRecord) bool {
	if _, ok := m.tasks[rec.EventID]; !ok {
		m.order = append(m.order, rec.EventID)
	}
	m.tasks[rec.EventID] = rec
	return true
}

func (m *memStore) GetTask(id string) (domain.TaskRecord, bool) {
	rec, ok := m.tasks[id]
	return rec, ok
}

func (m *memStore) UpdateTaskFields(id string, updates map[string]any) bool {
	rec, ok := m.tasks[id]
	if !ok {
		return false
	}
	for k, v := range updates {
		s, _ := v.(string)
		switch k {
		case "title":
			rec.Title = s
		case "description":
			rec.Description = s
		case "status":
			rec.Status = domain.Status(s)
		case "date":
			rec.Date = s
		case "time":
			rec.Time = s
		case "estimated_duration":
			rec.EstimatedDuration = s
		case "project":
			rec.Project = s
		case "completed_at":
			rec.CompletedAt = s
		case "cal_start_datetime":
			rec.CalStart = s
		case "cal_end_datetime":
			rec.CalEnd = s
		case "reminder_sent":
			rec.ReminderSent = s
		}
	}
	m.tasks[id] = rec
	return true
}

func (m *memStore) ListTasks(userID string, f store.Filter) ([]domain.TaskRecord, bool) {
	var out []domain.TaskRecord
	for _, id := range m.order {
		rec, ok := m.tasks[id]
		if !ok || rec.UserID != userID {
			continue
		}
		if len(f.Statuses) > 0 {
			match := false
			for _, st := range f.Statuses {
				if rec.Status == st {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		if f.Project != "" && rec.Project != f.Project {
			continue
		}
		out = append(out, rec)
	}
	return out, true
}

func (m *memStore) LogMessage(userID, direction, content string) {
	m.messages = append(m.messages, direction+":"+content)
}

func (m *memStore) LogActivity(level, component, message, userID string) {}

type stubCalendar struct {
	created []domain.ExternalEvent
	deleted []string
	nextID  int
}

func (c *stubCalendar) Active() bool { return true }
func (c *stubCalendar) ListEvents(context.Context, string, string) ([]domain.ExternalEvent, error) {
	return nil, nil
}
func (c *stubCalendar) CreateEvent(_ context.Context, ev domain.ExternalEvent) (string, error) {
	c.nextID++
	c.created = append(c.created, ev)
	return fmt.Sprintf("ext-%d", c.nextID), nil
}
func (c *stubCalendar) UpdateEvent(context.Context, string, domain.ExternalEvent) error { return nil }
func (c *stubCalendar) DeleteEvent(_ context.Context, id string) error {
	c.deleted = append(c.deleted, id)
	return nil
}

type fixture struct {
	srv      *server.MCPServer
	store    *memStore
	cache    *state.Cache
	registry *users.Registry
	cal      *stubCalendar
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	st := newMemStore()
	cache := state.NewCache(logger)
	registry, err := users.NewRegistry(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	cal := &stubCalendar{}
	d := Deps{
		Store:     st,
		Cache:     cache,
		Registry:  registry,
		Lifecycle: lifecycle.NewManager(st, cache, logger),
		Snapshots: syncpkg.NewReconciler(st, logger),
		Calendars: func(context.Context, string) gateway.Calendar { return cal },
		Logger:    logger,
	}
	s := server.NewMCPServer("test", "1.0.0")
	Register(s, d)
	return &fixture{srv: s, store: st, cache: cache, registry: registry, cal: cal}
}

// callTool calls a registered tool via the MCPServer's HandleMessage.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t.Helper()

	reqJSON, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	respJSON := s.HandleMessage(context.Background(), reqJSON)
	respBytes, marshalErr := json.Marshal(respJSON)
	if marshalErr != nil {
		t.Fatalf("marshal response: %v", marshalErr)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return &result, nil
}

// resultText extracts the first text content from a CallToolResult.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("result is nil")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}
