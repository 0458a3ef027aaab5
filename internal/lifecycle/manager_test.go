package lifecycle

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
	"github.com/erezf1/WhatsTasker-sub000/internal/state"
)

type memStore struct {
	tasks     map[string]domain.TaskRecord
	failWrite bool
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[string]domain.TaskRecord)}
}

func (m *memStore) UpsertTask(rec domain.TaskRecord) bool {
	if m.failWrite {
		return false
	}
	m.tasks[rec.EventID] = rec
	return true
}

func (m *memStore) GetTask(id string) (domain.TaskRecord, bool) {
	rec, ok := m.tasks[id]
	return rec, ok
}

func (m *memStore) UpdateTaskFields(id string, updates map[string]any) bool {
	if m.failWrite {
		return false
	}
	rec, ok := m.tasks[id]
	if !ok {
		return false
	}
	for k, v := range updates {
		s, _ := v.(string)
		switch k {
		case "status":
			rec.Status = domain.Status(s)
		case "title":
			rec.Title = s
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

func (m *memStore) LogActivity(level, component, message, userID string) {}

type calRec struct {
	createErr error
	deleteErr error
	created   []domain.ExternalEvent
	updated   []string
	deleted   []string
}

func (c *calRec) Active() bool { return true }
func (c *calRec) ListEvents(context.Context, string, string) ([]domain.ExternalEvent, error) {
	return nil, nil
}
func (c *calRec) CreateEvent(_ context.Context, ev domain.ExternalEvent) (string, error) {
	if c.createErr != nil {
		return "", c.createErr
	}
	c.created = append(c.created, ev)
	return "ext-1", nil
}
func (c *calRec) UpdateEvent(_ context.Context, id string, _ domain.ExternalEvent) error {
	c.updated = append(c.updated, id)
	return nil
}
func (c *calRec) DeleteEvent(_ context.Context, id string) error {
	if c.deleteErr != nil {
		return c.deleteErr
	}
	c.deleted = append(c.deleted, id)
	return nil
}

func newManager(st Store) (*Manager, *state.Cache) {
	cache := state.NewCache(log.New(io.Discard, "", 0))
	cache.Register("u1")
	return NewManager(st, cache, log.New(io.Discard, "", 0)), cache
}

func draft(title string) domain.TaskRecord {
	return domain.TaskRecord{
		UserID:   "u1",
		Type:     domain.TypeTask,
		Title:    title,
		CalStart: "2025-06-10T09:00:00Z",
		CalEnd:   "2025-06-10T10:00:00Z",
	}
}

func TestCreateMirroredUsesCalendarID(t *testing.T) {
	st := newMemStore()
	m, cache := newManager(st)
	cal := &calRec{}

	rec, err := m.Create(context.Background(), cal, draft("Write report"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.EventID != "ext-1" {
		t.Errorf("EventID = %q, want ext-1", rec.EventID)
	}
	if _, ok := st.tasks["ext-1"]; !ok {
		t.Error("record not persisted under the calendar id")
	}
	if len(cache.ContextItems("u1")) != 1 {
		t.Error("created item not in context")
	}
}

func TestCreateCalendarFailureAborts(t *testing.T) {
	st := newMemStore()
	m, _ := newManager(st)
	cal := &calRec{createErr: errors.New("boom")}

	if _, err := m.Create(context.Background(), cal, draft("x")); err == nil {
		t.Fatal("create should fail when the calendar create fails")
	}
	if len(st.tasks) != 0 {
		t.Error("no record should be written after an aborted create")
	}
}

func TestCreateStoreFailureRollsBackEvent(t *testing.T) {
	st := newMemStore()
	st.failWrite = true
	m, _ := newManager(st)
	cal := &calRec{}

	if _, err := m.Create(context.Background(), cal, draft("x")); !errors.Is(err, ErrStoreWrite) {
		t.Fatalf("err = %v, want ErrStoreWrite", err)
	}
	if len(cal.deleted) != 1 || cal.deleted[0] != "ext-1" {
		t.Errorf("compensating delete missing: %v", cal.deleted)
	}
}

func TestCreateWithoutCalendarGetsLocalID(t *testing.T) {
	st := newMemStore()
	m, _ := newManager(st)

	rec := draft("Note to self")
	rec.CalStart, rec.CalEnd = "", ""
	got, err := m.Create(context.Background(), &calRec{}, rec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(got.EventID, domain.LocalIDPrefix) {
		t.Errorf("EventID = %q, want local_ prefix", got.EventID)
	}
	if !got.Local() {
		t.Error("record should report Local()")
	}
}

func TestUpdateStoreFirstCalendarBestEffort(t *testing.T) {
	st := newMemStore()
	m, _ := newManager(st)
	cal := &calRec{}
	rec, _ := m.Create(context.Background(), cal, draft("Write report"))

	got, err := m.Update(context.Background(), cal, rec.EventID, map[string]any{"title": "Write Q2 report"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Title != "Write Q2 report" {
		t.Errorf("title = %q", got.Title)
	}
	if len(cal.updated) != 1 {
		t.Errorf("calendar not patched: %v", cal.updated)
	}
}

func TestUpdateLocalItemSkipsCalendar(t *testing.T) {
	st := newMemStore()
	m, _ := newManager(st)
	cal := &calRec{}
	rec := draft("Note")
	rec.CalStart, rec.CalEnd = "", ""
	created, _ := m.Create(context.Background(), cal, rec)

	if _, err := m.Update(context.Background(), cal, created.EventID, map[string]any{"title": "Note 2"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(cal.updated) != 0 {
		t.Error("local item should never reach the calendar")
	}
}

func TestUpdateRejectsTerminalRecord(t *testing.T) {
	st := newMemStore()
	m, _ := newManager(st)
	rec, _ := m.Create(context.Background(), &calRec{}, draft("Write report"))
	if _, err := m.SetStatus(rec.EventID, domain.StatusCompleted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	if _, err := m.Update(context.Background(), nil, rec.EventID, map[string]any{"title": "rewritten"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("update of completed record: err = %v, want ErrInvalidTransition", err)
	}
	got, _ := st.GetTask(rec.EventID)
	if got.Title != "Write report" {
		t.Errorf("title = %q, completed record should stay untouched", got.Title)
	}
}

func TestSetStatusTerminalIsAbsorbing(t *testing.T) {
	st := newMemStore()
	m, cache := newManager(st)
	rec, _ := m.Create(context.Background(), &calRec{}, draft("Write report"))

	got, err := m.SetStatus(rec.EventID, domain.StatusCompleted)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if got.CompletedAt == "" {
		t.Error("completed_at not stamped")
	}
	if len(cache.ContextItems("u1")) != 0 {
		t.Error("terminal item should leave the context")
	}

	if _, err := m.SetStatus(rec.EventID, domain.StatusPending); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("reopening a completed task: err = %v, want ErrInvalidTransition", err)
	}
}

func TestCancelDeletesCalendarFirst(t *testing.T) {
	st := newMemStore()
	m, cache := newManager(st)
	cal := &calRec{}
	rec, _ := m.Create(context.Background(), cal, draft("Write report"))

	got, err := m.Cancel(context.Background(), cal, rec.EventID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != domain.StatusCancelled {
		t.Errorf("status = %s", got.Status)
	}
	if len(cal.deleted) != 1 || cal.deleted[0] != rec.EventID {
		t.Errorf("calendar delete missing: %v", cal.deleted)
	}
	if len(cache.ContextItems("u1")) != 0 {
		t.Error("cancelled item should leave the context")
	}
}

func TestCancelAbortsOnCalendarFailure(t *testing.T) {
	st := newMemStore()
	m, _ := newManager(st)
	cal := &calRec{}
	rec, _ := m.Create(context.Background(), cal, draft("Write report"))

	cal.deleteErr = errors.New("calendar down")
	if _, err := m.Cancel(context.Background(), cal, rec.EventID); err == nil {
		t.Fatal("cancel should fail when the calendar delete fails")
	}
	got, _ := st.GetTask(rec.EventID)
	if got.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending after aborted cancel", got.Status)
	}
}

func TestOperationsOnMissingTask(t *testing.T) {
	st := newMemStore()
	m, _ := newManager(st)
	if _, err := m.Update(context.Background(), nil, "missing", map[string]any{"title": "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update err = %v", err)
	}
	if _, err := m.SetStatus("missing", domain.StatusCompleted); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetStatus err = %v", err)
	}
	if _, err := m.Cancel(context.Background(), nil, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel err = %v", err)
	}
}
