package access

import (
	"sync"
	"time"
)

const defaultEventLogCap = 1000

// AccessEvent is one immutable record of an attempted entry.
type AccessEvent struct {
	PrincipalID string    `json:"principalId"`
	TenantID    string    `json:"tenantId"`
	Timestamp   time.Time `json:"timestamp"`
	Outcome     Outcome   `json:"outcome"`
	Reason      string    `json:"reason"`
	Message     string    `json:"message,omitempty"`
	DeviceID    string    `json:"deviceId,omitempty"`
}

// EventLog is a bounded in-memory append log of access events. Once the cap
// is reached the oldest entries are pruned.
type EventLog struct {
	mu     sync.RWMutex
	cap    int
	events []AccessEvent
}

// NewEventLog constructs an EventLog with the given capacity.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = defaultEventLogCap
	}
	return &EventLog{cap: capacity}
}

// Append records one event, pruning the oldest past the cap.
func (l *EventLog) Append(event AccessEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	if overflow := len(l.events) - l.cap; overflow > 0 {
		l.events = append(l.events[:0:0], l.events[overflow:]...)
	}
}

// ListByTenant returns the tenant's events newest first.
func (l *EventLog) ListByTenant(tenantID string) []AccessEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	matches := make([]AccessEvent, 0)
	for index := len(l.events) - 1; index >= 0; index-- {
		if l.events[index].TenantID == tenantID {
			matches = append(matches, l.events[index])
		}
	}
	return matches
}

// Len reports the number of retained events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
