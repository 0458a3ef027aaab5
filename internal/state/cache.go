// Package state keeps the in-memory per-user working set: active context
// items, conversation history, named values, and the notification dedup set.
// The database remains the system of record; everything here can be rebuilt
// from it on restart.
package state

import (
	"log"
	"sync"

	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
)

// historyCap bounds the conversation history kept per user. Older entries
// are dropped first.
const historyCap = 50

// HistoryEntry is one conversation turn.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	At      string `json:"at"`
}

// UserState is the cached working set for one user.
type UserState struct {
	UserID   string
	Values   map[string]any
	Context  []domain.ContextItem
	History  []HistoryEntry
	Notified map[string]struct{}
}

// Cache holds all registered user states behind one mutex. Operations on
// unregistered users are no-ops so callers do not need a registration check
// before every touch.
type Cache struct {
	mu     sync.Mutex
	users  map[string]*UserState
	logger *log.Logger
}

// NewCache returns an empty cache.
func NewCache(logger *log.Logger) *Cache {
	return &Cache{users: make(map[string]*UserState), logger: logger}
}

// Register creates the state entry for userID. Registering an existing user
// resets it to a fresh empty state.
func (c *Cache) Register(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[userID] = &UserState{
		UserID:   userID,
		Values:   make(map[string]any),
		Notified: make(map[string]struct{}),
	}
}

// Registered reports whether userID has a state entry.
func (c *Cache) Registered(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.users[userID]
	return ok
}

// UserIDs returns the ids of all registered users.
func (c *Cache) UserIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.users))
	for id := range c.users {
		ids = append(ids, id)
	}
	return ids
}

// Get returns a deep copy of the user's state. Mutating the copy does not
// affect the cache.
func (c *Cache) Get(userID string) (UserState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.users[userID]
	if !ok {
		return UserState{}, false
	}
	return copyState(st), true
}

// SetValue stores a named value on the user's state. A nil value deletes
// the key.
func (c *Cache) SetValue(userID, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.users[userID]
	if !ok {
		return
	}
	if value == nil {
		delete(st.Values, key)
		return
	}
	st.Values[key] = copyValue(value)
}

// Value returns a named value from the user's state.
func (c *Cache) Value(userID, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.users[userID]
	if !ok {
		return nil, false
	}
	v, ok := st.Values[key]
	return copyValue(v), ok
}

// ReplaceContext swaps the user's entire context item list, as after a
// reconciliation pass.
func (c *Cache) ReplaceContext(userID string, items []domain.ContextItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.users[userID]
	if !ok {
		return
	}
	st.Context = make([]domain.ContextItem, len(items))
	for i, item := range items {
		st.Context[i] = copyItem(item)
	}
}

// UpsertContextItem replaces the item with the same event id, or appends it.
func (c *Cache) UpsertContextItem(userID string, item domain.ContextItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.users[userID]
	if !ok {
		return
	}
	for i := range st.Context {
		if st.Context[i].EventID == item.EventID {
			st.Context[i] = copyItem(item)
			return
		}
	}
	st.Context = append(st.Context, copyItem(item))
}

// UpdateContextItem replaces the item in place when present. An absent item
// is inserted only while its status is still active; terminal items that
// already left the context stay out.
func (c *Cache) UpdateContextItem(userID string, item domain.ContextItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.users[userID]
	if !ok {
		return
	}
	for i := range st.Context {
		if st.Context[i].EventID == item.EventID {
			st.Context[i] = copyItem(item)
			return
		}
	}
	if !item.Status.Terminal() {
		st.Context = append(st.Context, copyItem(item))
	}
}

// RemoveContextItem drops the item with the given event id.
func (c *Cache) RemoveContextItem(userID, eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.users[userID]
	if !ok {
		return
	}
	for i := range st.Context {
		if st.Context[i].EventID == eventID {
			st.Context = append(st.Context[:i], st.Context[i+1:]...)
			return
		}
	}
}

// ContextItems returns a deep copy of the user's context item list.
func (c *Cache) ContextItems(userID string) []domain.ContextItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.users[userID]
	if !ok {
		return nil
	}
	out := make([]domain.ContextItem, len(st.Context))
	for i, item := range st.Context {
		out[i] = copyItem(item)
	}
	return out
}

// AppendHistory records a conversation turn, evicting the oldest entry once
// the cap is reached.
func (c *Cache) AppendHistory(userID string, entry HistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.users[userID]
	if !ok {
		return
	}
	st.History = append(st.History, entry)
	if len(st.History) > historyCap {
		st.History = append(st.History[:0], st.History[len(st.History)-historyCap:]...)
	}
}

// History returns a copy of the user's conversation history, oldest first.
func (c *Cache) History(userID string) []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.users[userID]
	if !ok {
		return nil
	}
	out := make([]HistoryEntry, len(st.History))
	copy(out, st.History)
	return out
}

// MarkNotified records that a reminder for eventID went out, returning false
// when it was already recorded. This is the at-most-once guard for the
// notification engine.
func (c *Cache) MarkNotified(userID, eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.users[userID]
	if !ok {
		return false
	}
	if _, seen := st.Notified[eventID]; seen {
		return false
	}
	st.Notified[eventID] = struct{}{}
	return true
}

// ClearNotified empties the dedup set for every user. The daily cleanup job
// calls this so reminders can fire again on later days.
func (c *Cache) ClearNotified() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.users {
		st.Notified = make(map[string]struct{})
	}
}

func copyState(st *UserState) UserState {
	out := UserState{
		UserID:   st.UserID,
		Values:   make(map[string]any, len(st.Values)),
		Context:  make([]domain.ContextItem, len(st.Context)),
		History:  make([]HistoryEntry, len(st.History)),
		Notified: make(map[string]struct{}, len(st.Notified)),
	}
	for k, v := range st.Values {
		out.Values[k] = copyValue(v)
	}
	for i, item := range st.Context {
		out.Context[i] = copyItem(item)
	}
	copy(out.History, st.History)
	for k := range st.Notified {
		out.Notified[k] = struct{}{}
	}
	return out
}

func copyItem(item domain.ContextItem) domain.ContextItem {
	item.TaskRecord = item.TaskRecord.Clone()
	return item
}

// copyValue guards the mutable value types the cache is known to hold, the
// number-to-id list mapping in particular, so no caller shares map storage
// with the cache.
func copyValue(v any) any {
	switch m := v.(type) {
	case map[int]string:
		cp := make(map[int]string, len(m))
		for k, s := range m {
			cp[k] = s
		}
		return cp
	case map[string]string:
		cp := make(map[string]string, len(m))
		for k, s := range m {
			cp[k] = s
		}
		return cp
	default:
		return v
	}
}
