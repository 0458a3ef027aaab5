package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCancelled, StatusCompleted, false},
		{StatusPending, Status("done"), false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestLocal(t *testing.T) {
	if !(TaskRecord{EventID: "local_abc"}).Local() {
		t.Error("local_ id should be local")
	}
	if (TaskRecord{EventID: "gcal123"}).Local() {
		t.Error("calendar id should not be local")
	}
}

func TestCloneIsolatesSessionIDs(t *testing.T) {
	orig := TaskRecord{EventID: "e1", SessionEventIDs: []string{"s1", "s2"}}
	cp := orig.Clone()
	cp.SessionEventIDs[0] = "changed"
	if orig.SessionEventIDs[0] != "s1" {
		t.Error("Clone shares the session id slice")
	}
}

func TestEffectiveStart(t *testing.T) {
	cases := []struct {
		name     string
		item     ContextItem
		want     string
		wantNone bool
	}{
		{
			name: "calendar start wins over local date",
			item: ContextItem{TaskRecord: TaskRecord{CalStart: "2025-06-01T09:00:00Z", Date: "2025-06-02", Time: "10:00"}},
			want: "2025-06-01T09:00:00Z",
		},
		{
			name: "all-day calendar start",
			item: ContextItem{TaskRecord: TaskRecord{CalStart: "2025-06-01"}},
			want: "2025-06-01T00:00:00Z",
		},
		{
			name: "local date and time fallback",
			item: ContextItem{TaskRecord: TaskRecord{Date: "2025-06-02", Time: "14:30"}},
			want: "2025-06-02T14:30:00Z",
		},
		{
			name: "local date only",
			item: ContextItem{TaskRecord: TaskRecord{Date: "2025-06-02"}},
			want: "2025-06-02T00:00:00Z",
		},
		{
			name:     "no dates at all",
			item:     ContextItem{},
			wantNone: true,
		},
		{
			name:     "garbage calendar start and no fallback",
			item:     ContextItem{TaskRecord: TaskRecord{CalStart: "not-a-time"}},
			wantNone: true,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := c.item.EffectiveStart()
			if c.wantNone {
				if ok {
					t.Fatalf("expected no effective start, got %v", got)
				}
				return
			}
			if !ok {
				t.Fatal("expected an effective start")
			}
			want, _ := time.Parse(time.RFC3339, c.want)
			if !got.Equal(want) {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}
