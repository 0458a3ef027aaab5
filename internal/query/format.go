// Package query renders context snapshots into the numbered plain-text
// lists sent to users. The number-to-id mapping travels alongside the text
// so follow-up commands ("cancel 2") can resolve back to event ids.
package query

import (
	"fmt"
	"strings"

	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
)

// NumberedList renders items as a numbered list and returns the mapping
// from list position (1-based) to event id.
func NumberedList(items []domain.ContextItem) (string, map[int]string) {
	if len(items) == 0 {
		return "No active items.", map[int]string{}
	}
	ids := make(map[int]string, len(items))
	var b strings.Builder
	for i, item := range items {
		n := i + 1
		ids[n] = item.EventID
		fmt.Fprintf(&b, "%d. %s\n", n, ItemLine(item))
	}
	return strings.TrimRight(b.String(), "\n"), ids
}

// ItemLine renders one item as a single line: title, schedule, duration,
// and markers for type, status, and calendar-only origin.
func ItemLine(item domain.ContextItem) string {
	var b strings.Builder
	b.WriteString(item.Title)
	if b.Len() == 0 {
		b.WriteString("(untitled)")
	}

	if sched := scheduleLabel(item.TaskRecord); sched != "" {
		fmt.Fprintf(&b, " (%s)", sched)
	}
	if item.EstimatedDuration != "" {
		fmt.Fprintf(&b, " [%s]", item.EstimatedDuration)
	}

	switch {
	case item.External:
		b.WriteString(" [calendar]")
	case item.Type == domain.TypeReminder:
		b.WriteString(" [reminder]")
	case item.Type == domain.TypeToDo:
		b.WriteString(" [todo]")
	}
	if item.Status == domain.StatusInProgress {
		b.WriteString(" [in progress]")
	}
	if item.SessionsPlanned > 0 {
		fmt.Fprintf(&b, " [%d/%d sessions]", item.SessionsCompleted, item.SessionsPlanned)
	}
	return b.String()
}

// DaySummary renders a heading plus the numbered list, for the morning and
// evening routine messages.
func DaySummary(heading string, items []domain.ContextItem) string {
	list, _ := NumberedList(items)
	return heading + "\n" + list
}

func scheduleLabel(rec domain.TaskRecord) string {
	if t, ok := domain.ParseEffectiveStart(rec.CalStart, rec.Date, rec.Time); ok {
		if rec.Time == "" && rec.CalStart == "" || isBareDate(rec.CalStart) && rec.Time == "" {
			return t.Format("Mon Jan 2")
		}
		return t.Format("Mon Jan 2 15:04")
	}
	if rec.Date != "" {
		return rec.Date
	}
	return ""
}

func isBareDate(s string) bool {
	return len(s) == len("2006-01-02")
}
