package menusync

import (
	"iter"
	stdSync "sync"
)

// DefaultRecentLogCapacity bounds the recent-changes log unless overridden.
const DefaultRecentLogCapacity = 50

// RecentLog is a bounded FIFO of recent change events retained for display.
// Oldest entries are evicted when capacity is exceeded. All exposure is
// copy-on-read so a reader never observes a partially-updated log.
type RecentLog struct {
	mu       stdSync.RWMutex
	capacity int
	entries  []ChangeEvent
}

// NewRecentLog creates a log bounded to capacity entries. A non-positive
// capacity falls back to DefaultRecentLogCapacity.
func NewRecentLog(capacity int) *RecentLog {
	if capacity <= 0 {
		capacity = DefaultRecentLogCapacity
	}
	return &RecentLog{capacity: capacity}
}

// Append adds an event, evicting the oldest entries when over capacity.
func (l *RecentLog) Append(event ChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, event)
	if overflow := len(l.entries) - l.capacity; overflow > 0 {
		l.entries = append([]ChangeEvent(nil), l.entries[overflow:]...)
	}
}

// Items returns a copy of the log, oldest first.
func (l *RecentLog) Items() []ChangeEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ChangeEvent(nil), l.entries...)
}

// All returns a restartable sequence over a snapshot of the log. Each range
// over the sequence re-snapshots, so it stays valid across concurrent
// appends.
func (l *RecentLog) All() iter.Seq[ChangeEvent] {
	return func(yield func(ChangeEvent) bool) {
		for _, event := range l.Items() {
			if !yield(event) {
				return
			}
		}
	}
}

// Len returns the current number of entries.
func (l *RecentLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear empties the log immediately. It is idempotent.
func (l *RecentLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
