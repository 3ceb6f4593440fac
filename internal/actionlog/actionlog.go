// Package actionlog keeps a bounded, in-memory history of everything this
// client asked the backend to do, mirroring the backend's own action log:
// one entry per dispatched action, with the backend's correlation id when
// it returned one.
package actionlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindStart Kind = "start"
	KindStop  Kind = "stop"
	KindClick Kind = "click"
	KindType  Kind = "type"
)

type Entry struct {
	ID            string // locally generated
	Time          time.Time
	Kind          Kind
	SessionID     string
	CorrelationID string // backend action_id, empty if none was returned
	Detail        string
}

// Log is safe for concurrent use. When full, the oldest entries are
// dropped.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	max     int
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = 128
	}
	return &Log{max: capacity}
}

// Record appends an entry and returns its generated id.
func (l *Log) Record(kind Kind, sessionID, correlationID, detail string) string {
	e := Entry{
		ID:            uuid.NewString(),
		Time:          time.Now().UTC(),
		Kind:          kind,
		SessionID:     sessionID,
		CorrelationID: correlationID,
		Detail:        detail,
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	l.mu.Unlock()
	return e.ID
}

// Entries returns a copy of the history, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
