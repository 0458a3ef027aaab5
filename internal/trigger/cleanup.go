package trigger

import (
	"context"
	"log"

	"github.com/erezf1/WhatsTasker-sub000/internal/state"
)

// CleanupEngine is the daily reset job. Clearing the notification dedup
// sets lets recurring and rescheduled items remind again on the new day.
type CleanupEngine struct {
	cache  *state.Cache
	store  TaskWriter
	logger *log.Logger
}

// NewCleanupEngine wires the engine.
func NewCleanupEngine(cache *state.Cache, store TaskWriter, logger *log.Logger) *CleanupEngine {
	return &CleanupEngine{cache: cache, store: store, logger: logger}
}

// Run performs one cleanup pass.
func (e *CleanupEngine) Run(ctx context.Context) {
	e.cache.ClearNotified()
	e.store.LogActivity("INFO", "trigger", "daily cleanup: notification dedup cleared", "")
	e.logger.Printf("Trigger: daily cleanup done")
}
