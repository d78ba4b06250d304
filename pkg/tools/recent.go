package tools

import (
	"sync"
	"time"
)

const defaultRecencyWindow = 30 * time.Second

type recentEntry struct {
	name string
	at   time.Time
}

// RecentCalls is a process-wide, time-windowed record of the most recent tool
// invocation per session id. The executor writes it; the attribution resolver
// reads it as a last-resort strategy. Entries outside the window are ignored
// and lazily dropped.
type RecentCalls struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]recentEntry
}

func NewRecentCalls(window time.Duration) *RecentCalls {
	if window <= 0 {
		window = defaultRecencyWindow
	}
	return &RecentCalls{
		window:  window,
		entries: make(map[string]recentEntry),
	}
}

func (r *RecentCalls) Record(sessionID, toolName string) {
	if toolName == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sessionID] = recentEntry{name: toolName, at: time.Now()}
}

// Lookup returns the recorded tool name for the session if it was written
// within the window around asOf, else "".
func (r *RecentCalls) Lookup(sessionID string, asOf time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return ""
	}
	if asOf.Sub(e.at) > r.window || e.at.Sub(asOf) > r.window {
		delete(r.entries, sessionID)
		return ""
	}
	return e.name
}

// Clear drops the session's record; called at the start of each turn so a
// stale invocation never labels a fresh turn.
func (r *RecentCalls) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sessionID)
}
