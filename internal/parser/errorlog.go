package parser

import (
	"sync"
	"time"
)

const errorLogTimeFormat = "2006-01-02 15:04:05"

// ErrorLog is an append-only list of timestamped diagnostics. It is never
// cleared automatically.
type ErrorLog struct {
	mu      sync.Mutex
	entries []string
	now     func() time.Time
}

// NewErrorLog creates an empty log stamped with the local wall clock.
func NewErrorLog() *ErrorLog {
	return &ErrorLog{now: time.Now}
}

// Add appends a message as "[YYYY-MM-DD HH:MM:SS] message".
func (l *ErrorLog) Add(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, "["+l.now().Local().Format(errorLogTimeFormat)+"] "+msg)
}

// Entries returns a copy of all messages in insertion order.
func (l *ErrorLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded messages.
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}
