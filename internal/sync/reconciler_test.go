package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
	"github.com/erezf1/WhatsTasker-sub000/internal/store"
)

type fakeStore struct {
	tasks    []domain.TaskRecord
	updates  map[string]map[string]any
	listFail bool
}

func (f *fakeStore) ListTasks(userID string, _ store.Filter) ([]domain.TaskRecord, bool) {
	if f.listFail {
		return nil, false
	}
	var out []domain.TaskRecord
	for _, rec := range f.tasks {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, true
}

func (f *fakeStore) UpdateTaskFields(id string, updates map[string]any) bool {
	if f.updates == nil {
		f.updates = make(map[string]map[string]any)
	}
	f.updates[id] = updates
	return true
}

type fakeCalendar struct {
	events []domain.ExternalEvent
	err    error
}

func (f *fakeCalendar) Active() bool { return true }
func (f *fakeCalendar) ListEvents(context.Context, string, string) ([]domain.ExternalEvent, error) {
	return f.events, f.err
}
func (f *fakeCalendar) CreateEvent(context.Context, domain.ExternalEvent) (string, error) {
	return "", nil
}
func (f *fakeCalendar) UpdateEvent(context.Context, string, domain.ExternalEvent) error { return nil }
func (f *fakeCalendar) DeleteEvent(context.Context, string) error                       { return nil }

func local(id, title, calStart string) domain.TaskRecord {
	return domain.TaskRecord{
		EventID:   id,
		UserID:    "u1",
		Type:      domain.TypeTask,
		Status:    domain.StatusPending,
		Title:     title,
		CalStart:  calStart,
		CreatedAt: "2025-06-01T08:00:00Z",
	}
}

func TestMergeExternalWinsStartEnd(t *testing.T) {
	locals := []domain.TaskRecord{local("ev-1", "Write report", "2025-06-10T09:00:00Z")}
	externals := []domain.ExternalEvent{{
		EventID: "ev-1",
		Title:   "Moved by user",
		Start:   "2025-06-10T11:00:00Z",
		End:     "2025-06-10T12:00:00Z",
	}}

	var wrote map[string]any
	items := Merge(locals, externals, func(id string, updates map[string]any) { wrote = updates })

	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	got := items[0]
	if got.CalStart != "2025-06-10T11:00:00Z" || got.CalEnd != "2025-06-10T12:00:00Z" {
		t.Errorf("start/end not taken from calendar: %s / %s", got.CalStart, got.CalEnd)
	}
	if got.Title != "Write report" {
		t.Errorf("non-empty local title overwritten: %q", got.Title)
	}
	if wrote["cal_start_datetime"] != "2025-06-10T11:00:00Z" {
		t.Errorf("drift not written back: %v", wrote)
	}
	if _, ok := wrote["title"]; ok {
		t.Error("title should not be written back when local value is set")
	}
}

func TestMergeFillsEmptyLocalFields(t *testing.T) {
	locals := []domain.TaskRecord{local("ev-1", "", "")}
	externals := []domain.ExternalEvent{{
		EventID:     "ev-1",
		Title:       "Dentist",
		Description: "Annual checkup",
		Start:       "2025-06-10T11:00:00Z",
	}}

	items := Merge(locals, externals, nil)
	if items[0].Title != "Dentist" || items[0].Description != "Annual checkup" {
		t.Errorf("empty local fields not filled: %+v", items[0].TaskRecord)
	}
}

func TestMergeUnmatchedExternalBecomesReadOnlyItem(t *testing.T) {
	externals := []domain.ExternalEvent{{EventID: "ext-9", Title: "Flight", Start: "2025-06-10T06:00:00Z"}}
	items := Merge(nil, externals, nil)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if !items[0].External || items[0].Type != domain.TypeExternalEvent {
		t.Errorf("unmatched event not tagged external: %+v", items[0])
	}
}

func TestMergeOrderedByEffectiveStart(t *testing.T) {
	locals := []domain.TaskRecord{
		local("ev-late", "Late", "2025-06-10T15:00:00Z"),
		local("ev-early", "Early", "2025-06-10T08:00:00Z"),
		local("ev-undated", "Undated", ""),
	}
	items := Merge(locals, nil, nil)
	if items[0].EventID != "ev-early" || items[1].EventID != "ev-late" || items[2].EventID != "ev-undated" {
		t.Errorf("order = %s, %s, %s", items[0].EventID, items[1].EventID, items[2].EventID)
	}
}

func TestSnapshotDegradesToStoreOnlyOnCalendarError(t *testing.T) {
	fs := &fakeStore{tasks: []domain.TaskRecord{local("ev-1", "Write report", "2025-06-10T09:00:00Z")}}
	r := NewReconciler(fs, log.New(io.Discard, "", 0))
	cal := &fakeCalendar{err: errors.New("boom")}

	items := r.Snapshot(context.Background(), "u1", cal, "2025-06-10T00:00:00Z", "2025-06-11T00:00:00Z")
	if len(items) != 1 || items[0].EventID != "ev-1" {
		t.Errorf("store-only fallback missing: %v", items)
	}
}

func TestSnapshotEmptyOnStoreFailure(t *testing.T) {
	fs := &fakeStore{listFail: true}
	r := NewReconciler(fs, log.New(io.Discard, "", 0))
	cal := &fakeCalendar{events: []domain.ExternalEvent{{EventID: "ext-9", Title: "Flight"}}}

	items := r.Snapshot(context.Background(), "u1", cal, "2025-06-10T00:00:00Z", "2025-06-11T00:00:00Z")
	if len(items) != 0 {
		t.Errorf("items = %v, want empty when the store read fails", items)
	}
}

func TestSnapshotWithNilCalendar(t *testing.T) {
	fs := &fakeStore{tasks: []domain.TaskRecord{local("ev-1", "Write report", "")}}
	r := NewReconciler(fs, log.New(io.Discard, "", 0))
	items := r.Snapshot(context.Background(), "u1", nil, "2025-06-10T00:00:00Z", "2025-06-11T00:00:00Z")
	if len(items) != 1 {
		t.Errorf("items = %v", items)
	}
}
