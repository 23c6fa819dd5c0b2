package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryLog keeps events in process. It implements Log, FailureCounter and
// Purger.
type MemoryLog struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Append(_ context.Context, event Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

// CountFailures counts failed Login and OTP events for principal at or
// after since.
func (m *MemoryLog) CountFailures(_ context.Context, tenantID, principal string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.events {
		if e.TenantID != tenantID || e.Principal != principal || e.Outcome != OutcomeFailure {
			continue
		}
		if e.Operation == OperationLogout || e.Timestamp.Before(since) {
			continue
		}
		n++
	}
	return n, nil
}

func (m *MemoryLog) PurgeBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var removed int64
	for _, e := range m.events {
		if e.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return removed, nil
}

// Events returns a copy of the recorded events in append order.
func (m *MemoryLog) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
