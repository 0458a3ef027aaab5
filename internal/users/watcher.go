package users

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watcher reloads preference documents when they change on disk, so edits
// made outside the server (support tooling, manual fixes) take effect
// without a restart. Temp files from the registry's own atomic writes are
// ignored; the rename that replaces the real document still fires a Create.
type Watcher struct {
	registry *Registry
	onChange func(userID string)
	logger   *log.Logger

	mu       sync.Mutex
	debounce map[string]*time.Timer
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher creates a watcher over the registry's directory. onChange may
// be nil; when set it runs after each successful reload.
func NewWatcher(registry *Registry, onChange func(userID string), logger *log.Logger) *Watcher {
	return &Watcher{
		registry: registry,
		onChange: onChange,
		logger:   logger,
		debounce: make(map[string]*time.Timer),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start watches the users directory until ctx is cancelled or Stop is
// called. When fsnotify cannot initialize, the watcher logs and exits;
// documents then only load at startup.
func (w *Watcher) Start(ctx context.Context) {
	defer close(w.doneCh)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Printf("Users: fsnotify init failed, live reload disabled: %v", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(w.registry.Dir()); err != nil {
		w.logger.Printf("Users: watch %s failed, live reload disabled: %v", w.registry.Dir(), err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
				continue
			}
			w.scheduleReload(strings.TrimSuffix(name, ".json"))
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Stop signals the watcher to stop. Call after cancelling the Start context.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watcher) scheduleReload(userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounce[userID]; ok {
		t.Stop()
	}
	w.debounce[userID] = time.AfterFunc(watchDebounce, func() {
		if err := w.registry.Reload(userID); err != nil {
			w.logger.Printf("Users: reload %s failed: %v", userID, err)
			return
		}
		if w.onChange != nil {
			w.onChange(userID)
		}
	})
}
