package detection

import (
	"sync"
	"time"
)

const activityWindowCap = 50

type activityKey struct {
	serverID string
	userID   string
}

type activityRecord struct {
	content string
	at      time.Time
}

// activityTracker keeps a bounded in-memory window of recent messages per
// (server,user). It feeds the frequency heuristic and the classifier's
// message history sample.
type activityTracker struct {
	mu      sync.RWMutex
	windows map[activityKey][]activityRecord
}

func newActivityTracker() *activityTracker {
	return &activityTracker{
		windows: make(map[activityKey][]activityRecord),
	}
}

func (t *activityTracker) record(serverID, userID, content string, at time.Time) {
	key := activityKey{serverID: serverID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()
	window := append(t.windows[key], activityRecord{content: content, at: at})
	if len(window) > activityWindowCap {
		window = window[len(window)-activityWindowCap:]
	}
	t.windows[key] = window
}

func (t *activityTracker) timestamps(serverID, userID string) []time.Time {
	key := activityKey{serverID: serverID, userID: userID}

	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]time.Time, 0, len(t.windows[key]))
	for _, rec := range t.windows[key] {
		out = append(out, rec.at)
	}
	return out
}

func (t *activityTracker) messages(serverID, userID string) []string {
	key := activityKey{serverID: serverID, userID: userID}

	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.windows[key]))
	for _, rec := range t.windows[key] {
		out = append(out, rec.content)
	}
	return out
}
