// Package journal records cycle and stage events of each run so operators
// can see what a cycle did without reading ledger files.
package journal

import (
	"context"
	"sync"
	"time"
)

// Event names.
const (
	EventRunStarted     = "run_started"
	EventCrashRecovered = "crash_recovered"
	EventStaleState     = "stale_state"
	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
	EventStageSkipped   = "stage_skipped"
	EventStageFailed    = "stage_failed"
	EventRunSucceeded   = "run_succeeded"
	EventRunFailed      = "run_failed"
)

// Event is one journal row.
type Event struct {
	RunID  string    `json:"run_id"`
	Cycle  string    `json:"cycle"`
	Stage  string    `json:"stage,omitempty"`
	Event  string    `json:"event"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Journal records events. Implementations must be safe to call after a
// failed Record; callers log journal errors and carry on.
type Journal interface {
	Record(ctx context.Context, e Event) error
	Recent(ctx context.Context, cycle string, limit int) ([]Event, error)
	Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

func (Nop) Recent(context.Context, string, int) ([]Event, error) { return nil, nil }

func (Nop) Close() {}

// Memory keeps events in process. Used by tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Record(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Recent returns the newest events first, optionally for one cycle.
func (m *Memory) Recent(_ context.Context, cycle string, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if cycle != "" && e.Cycle != cycle {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Close() {}

// Events returns every recorded event in order.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
