package stream

import (
	"sort"
	"sync"
)

// Tracker keeps the set of live sessions for one camera. It is an Observer
// so it can be chained with metrics and the journal.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]SessionInfo
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]SessionInfo)}
}

func (t *Tracker) SessionStarted(info SessionInfo) {
	t.mu.Lock()
	t.sessions[info.ID] = info
	t.mu.Unlock()
}

// FrameSent is a no-op; counters are read from the session on exit
func (t *Tracker) FrameSent(info SessionInfo, size int, skipped uint64) {}

func (t *Tracker) SessionEnded(info SessionInfo) {
	t.mu.Lock()
	delete(t.sessions, info.ID)
	t.mu.Unlock()
}

// Active returns the number of live sessions using transport
func (t *Tracker) Active(transport string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, s := range t.sessions {
		if s.Transport == transport {
			n++
		}
	}
	return n
}

// List returns the live sessions ordered by start time
func (t *Tracker) List() []SessionInfo {
	t.mu.RLock()
	out := make([]SessionInfo, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}
