package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Operation names the audited action.
type Operation string

const (
	OperationLogin  Operation = "Login"
	OperationLogout Operation = "Logout"
	OperationOTP    Operation = "OTP"
)

// Outcome is Success or Failure.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeFailure Outcome = "Failure"
)

// ErrUnavailable wraps durable log backend failures.
var ErrUnavailable = errors.New("audit log unavailable")

// Event is one authentication record. Principal is "Unknown User" when the
// attempt could not be attributed.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	TenantID  string            `json:"tenant_id,omitempty"`
	Principal string            `json:"principal"`
	Operation Operation         `json:"operation"`
	Outcome   Outcome           `json:"outcome"`
	Reason    string            `json:"reason,omitempty"`
	IP        string            `json:"ip,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent stamps an id and a UTC timestamp.
func NewEvent(now time.Time, op Operation, outcome Outcome) Event {
	return Event{
		ID:        uuid.New(),
		Timestamp: now.UTC(),
		Operation: op,
		Outcome:   outcome,
	}
}

// Log is the durable event store.
type Log interface {
	Append(ctx context.Context, event Event) error
}

// FailureCounter is implemented by logs that can answer lockout queries.
type FailureCounter interface {
	CountFailures(ctx context.Context, tenantID, principal string, since time.Time) (int, error)
}

// Purger is implemented by logs that support age-based retention.
type Purger interface {
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
