package history

import (
	"context"
	"time"
)

// EventType defines the kind of orchestration event.
type EventType string

const (
	EventSessionUp   EventType = "session_up"
	EventSessionDown EventType = "session_down"
	EventStart       EventType = "start"
	EventReady       EventType = "ready"
	EventFailed      EventType = "failed"
	EventStopped     EventType = "stopped"
)

// Event is one recorded orchestration fact: a session boundary or a
// per-service outcome within a session.
type Event struct {
	SessionID  string    `json:"session_id"`
	Type       EventType `json:"type"`
	Service    string    `json:"service,omitempty"`
	PID        int       `json:"pid,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink receives orchestration events. Implementations must be safe for
// concurrent use. Recording is best-effort: the orchestrator never fails a
// session because history could not be written.
type Sink interface {
	EnsureSchema(ctx context.Context) error
	Record(ctx context.Context, e Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

// Nop is a Sink that discards everything; used when history is disabled.
type Nop struct{}

func (Nop) EnsureSchema(context.Context) error          { return nil }
func (Nop) Record(context.Context, Event) error         { return nil }
func (Nop) Recent(context.Context, int) ([]Event, error) { return nil, nil }
func (Nop) Close() error                                { return nil }
