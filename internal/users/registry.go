// Package users manages per-user preference documents. Each user owns one
// JSON file under the users directory; writes go through a temp file and
// rename so a crash never leaves a half-written document.
package users

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Preferences is a user's persisted settings plus the routine trigger
// markers the trigger engine needs across restarts.
type Preferences struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name,omitempty"`
	TimeZone string `json:"timezone"`

	WorkStartTime string `json:"work_start_time"`
	WorkEndTime   string `json:"work_end_time"`

	MorningSummaryTime string `json:"morning_summary_time"`
	EveningSummaryTime string `json:"evening_summary_time"`

	// NotificationLeadTime is a duration string such as "15m" or "1h".
	NotificationLeadTime string `json:"notification_lead_time"`

	CalendarEnabled bool `json:"calendar_enabled"`

	LastMorningTriggerDate string `json:"last_morning_trigger_date,omitempty"`
	LastEveningTriggerDate string `json:"last_evening_trigger_date,omitempty"`
}

func defaultPreferences(userID string) Preferences {
	return Preferences{
		UserID:               userID,
		TimeZone:             "UTC",
		WorkStartTime:        "09:00",
		WorkEndTime:          "17:00",
		MorningSummaryTime:   "08:00",
		EveningSummaryTime:   "20:00",
		NotificationLeadTime: "15m",
	}
}

// Registry caches preference documents and serializes access to them.
type Registry struct {
	mu     sync.Mutex
	dir    string
	prefs  map[string]Preferences
	logger *log.Logger
}

// NewRegistry opens the users directory, creating it when absent, and loads
// every existing preference document.
func NewRegistry(dir string, logger *log.Logger) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create users dir: %w", err)
	}
	r := &Registry{dir: dir, prefs: make(map[string]Preferences), logger: logger}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan users dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		userID := strings.TrimSuffix(e.Name(), ".json")
		if err := r.reload(userID); err != nil {
			logger.Printf("Users: skipping unreadable document %s: %v", e.Name(), err)
		}
	}
	return r, nil
}

// Dir returns the directory the registry watches.
func (r *Registry) Dir() string { return r.dir }

// UserIDs returns the ids of every known user.
func (r *Registry) UserIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.prefs))
	for id := range r.prefs {
		ids = append(ids, id)
	}
	return ids
}

// Get returns the user's preferences.
func (r *Registry) Get(userID string) (Preferences, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prefs[userID]
	return p, ok
}

// GetOrCreate returns the user's preferences, creating and persisting the
// default document for a first-time user.
func (r *Registry) GetOrCreate(userID string) (Preferences, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.prefs[userID]; ok {
		return p, nil
	}
	p := defaultPreferences(userID)
	if err := r.write(p); err != nil {
		return Preferences{}, err
	}
	r.prefs[userID] = p
	return p, nil
}

// Update applies fn to the user's preferences and persists the result. A
// first-time user starts from the defaults.
func (r *Registry) Update(userID string, fn func(*Preferences)) (Preferences, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prefs[userID]
	if !ok {
		p = defaultPreferences(userID)
	}
	fn(&p)
	p.UserID = userID
	if err := r.write(p); err != nil {
		return Preferences{}, err
	}
	r.prefs[userID] = p
	return p, nil
}

// Reload re-reads one user's document from disk, as after an external edit.
func (r *Registry) Reload(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reload(userID)
}

func (r *Registry) reload(userID string) error {
	data, err := os.ReadFile(r.path(userID))
	if err != nil {
		return fmt.Errorf("read preferences for %s: %w", userID, err)
	}
	p := defaultPreferences(userID)
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse preferences for %s: %w", userID, err)
	}
	p.UserID = userID
	r.prefs[userID] = p
	return nil
}

// write persists p via temp file and rename. Caller holds the mutex.
func (r *Registry) write(p Preferences) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preferences for %s: %w", p.UserID, err)
	}
	tmp, err := os.CreateTemp(r.dir, "."+p.UserID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", p.UserID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write preferences for %s: %w", p.UserID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close preferences for %s: %w", p.UserID, err)
	}
	if err := os.Rename(tmp.Name(), r.path(p.UserID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace preferences for %s: %w", p.UserID, err)
	}
	return nil
}

func (r *Registry) path(userID string) string {
	return filepath.Join(r.dir, userID+".json")
}
