// Package sync merges persisted tasks with external calendar events into a
// single ordered context snapshot, writing mirrored-field drift back to the
// task store.
package sync

import (
	"context"
	"log"
	"sort"

	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
	"github.com/erezf1/WhatsTasker-sub000/internal/gateway"
	"github.com/erezf1/WhatsTasker-sub000/internal/store"
)

// TaskStore is the slice of the persistence layer reconciliation needs.
type TaskStore interface {
	ListTasks(userID string, f store.Filter) ([]domain.TaskRecord, bool)
	UpdateTaskFields(id string, updates map[string]any) bool
}

// Reconciler produces context snapshots for users.
type Reconciler struct {
	store  TaskStore
	logger *log.Logger
}

// NewReconciler wires a reconciler to the task store.
func NewReconciler(ts TaskStore, logger *log.Logger) *Reconciler {
	return &Reconciler{store: ts, logger: logger}
}

// Snapshot returns the ordered context for userID over [start, end), both
// RFC 3339. Calendar failures degrade to a store-only snapshot; the calendar
// never becomes a prerequisite for seeing local data. A store read failure
// is terminal for the call: the result is empty, never calendar-only.
func (r *Reconciler) Snapshot(ctx context.Context, userID string, cal gateway.Calendar, start, end string) []domain.ContextItem {
	locals, ok := r.store.ListTasks(userID, store.Filter{
		Statuses: []domain.Status{domain.StatusPending, domain.StatusInProgress},
		DateFrom: datePart(start),
		DateTo:   datePart(end),
	})
	if !ok {
		r.logger.Printf("Sync: store list failed for %s, returning empty context", userID)
		return nil
	}

	var externals []domain.ExternalEvent
	if cal != nil && cal.Active() {
		evs, err := cal.ListEvents(ctx, start, end)
		if err != nil {
			r.logger.Printf("Sync: calendar list failed for %s, continuing store-only: %v", userID, err)
		} else {
			externals = evs
		}
	}

	items := Merge(locals, externals, func(id string, updates map[string]any) {
		if !r.store.UpdateTaskFields(id, updates) {
			r.logger.Printf("Sync: drift write-back failed for %s", id)
		}
	})
	return items
}

// Merge combines local records with external events. Matched pairs take
// start/end from the external side unconditionally and title/description
// from the external side only when the local field is empty; any resulting
// change is reported through writeBack. Unmatched external events become
// read-only external_event items. The result is ordered by effective start,
// then creation time, then title.
func Merge(locals []domain.TaskRecord, externals []domain.ExternalEvent, writeBack func(id string, updates map[string]any)) []domain.ContextItem {
	byID := make(map[string]int, len(locals))
	items := make([]domain.ContextItem, 0, len(locals)+len(externals))
	for _, rec := range locals {
		byID[rec.EventID] = len(items)
		items = append(items, domain.ContextItem{TaskRecord: rec.Clone()})
	}

	for _, ev := range externals {
		idx, ok := byID[ev.EventID]
		if !ok {
			items = append(items, externalItem(ev))
			continue
		}
		rec := &items[idx].TaskRecord
		updates := make(map[string]any)
		if ev.Start != "" && rec.CalStart != ev.Start {
			rec.CalStart = ev.Start
			updates["cal_start_datetime"] = ev.Start
		}
		if ev.End != "" && rec.CalEnd != ev.End {
			rec.CalEnd = ev.End
			updates["cal_end_datetime"] = ev.End
		}
		if rec.Title == "" && ev.Title != "" {
			rec.Title = ev.Title
			updates["title"] = ev.Title
		}
		if rec.Description == "" && ev.Description != "" {
			rec.Description = ev.Description
			updates["description"] = ev.Description
		}
		if len(updates) > 0 && writeBack != nil {
			writeBack(rec.EventID, updates)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		ti, iOK := items[i].EffectiveStart()
		tj, jOK := items[j].EffectiveStart()
		switch {
		case iOK && jOK && !ti.Equal(tj):
			return ti.Before(tj)
		case iOK != jOK:
			return iOK // undated items sort last
		}
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt < items[j].CreatedAt
		}
		return items[i].Title < items[j].Title
	})
	return items
}

func externalItem(ev domain.ExternalEvent) domain.ContextItem {
	return domain.ContextItem{
		TaskRecord: domain.TaskRecord{
			EventID:     ev.EventID,
			Type:        domain.TypeExternalEvent,
			Status:      domain.StatusPending,
			Title:       ev.Title,
			Description: ev.Description,
			CalStart:    ev.Start,
			CalEnd:      ev.End,
		},
		External: true,
	}
}

// datePart extracts the YYYY-MM-DD prefix of an RFC 3339 timestamp.
func datePart(ts string) string {
	if len(ts) >= 10 {
		return ts[:10]
	}
	return ts
}
