package status

import (
	"fmt"
	"sync"
	"time"
)

// DefaultEventLogSize is the number of messages kept for the UI.
const DefaultEventLogSize = 20

// EventLog keeps the most recent human-readable lifecycle messages.
type EventLog struct {
	mu      sync.Mutex
	size    int
	entries []LogEntry
}

// LogEntry is one message in the event log.
type LogEntry struct {
	Time    time.Time
	Message string
}

// String formats the entry as "[15:04:05] message".
func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.Time.Format("15:04:05"), e.Message)
}

// NewEventLog creates a log holding at most size entries.
func NewEventLog(size int) *EventLog {
	if size <= 0 {
		size = DefaultEventLogSize
	}
	return &EventLog{size: size}
}

// Add appends a message, dropping the oldest when full.
func (l *EventLog) Add(t time.Time, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Time: t, Message: msg})
	if len(l.entries) > l.size {
		l.entries = l.entries[len(l.entries)-l.size:]
	}
}

// Recent returns the entries newest first.
func (l *EventLog) Recent() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	for i, e := range l.entries {
		out[len(out)-1-i] = e
	}
	return out
}
