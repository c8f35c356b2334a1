package routing

import "sync"

// incidentLocks serializes mutating engine operations per incident id.
// Operations on different incidents proceed in parallel; there is no global
// lock. Entries are refcounted and removed when the last holder releases.
type incidentLocks struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newIncidentLocks() *incidentLocks {
	return &incidentLocks{entries: make(map[int64]*lockEntry)}
}

// Lock acquires the per-incident lock and returns the release function.
func (l *incidentLocks) Lock(incidentID int64) func() {
	l.mu.Lock()
	entry, ok := l.entries[incidentID]
	if !ok {
		entry = &lockEntry{}
		l.entries[incidentID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, incidentID)
		}
		l.mu.Unlock()
	}
}
