package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nicolRB/LogWare/pkg/auth"
	"github.com/nicolRB/LogWare/pkg/report"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventSubmitted EventType = "report.submitted"
	EventApproved  EventType = "report.approved"
	EventRejected  EventType = "report.rejected"
	EventSigned    EventType = "report.signed"
)

// EventFor returns the event recorded after a successful transition.
func EventFor(t report.Transition) EventType {
	switch t {
	case report.TransitionApprove:
		return EventApproved
	case report.TransitionReject:
		return EventRejected
	default:
		return EventSigned
	}
}

// Event represents a structured audit record.
type Event struct {
	ID        string            `json:"id"`
	ActorID   string            `json:"actor_id"`
	Type      EventType         `json:"type"`
	ReportID  string            `json:"report_id"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Logger defines the interface for recording audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, reportID string, metadata map[string]string) error
}

// newEvent fills in the identity, actor and time of an event.
func newEvent(ctx context.Context, eventType EventType, reportID string, metadata map[string]string, now time.Time) Event {
	actorID := "system"
	if id, err := auth.GetActorID(ctx); err == nil {
		actorID = id
	}
	return Event{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Type:      eventType,
		ReportID:  reportID,
		Timestamp: now.UTC(),
		Metadata:  metadata,
	}
}

// logger implements Logger, writing structured JSON to a configurable Writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(ctx context.Context, eventType EventType, reportID string, metadata map[string]string) error {
	event := newEvent(ctx, eventType, reportID, metadata, time.Now())

	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}

// Multi records to every logger and returns the first error.
func Multi(loggers ...Logger) Logger {
	return multiLogger(loggers)
}

type multiLogger []Logger

func (m multiLogger) Record(ctx context.Context, eventType EventType, reportID string, metadata map[string]string) error {
	var first error
	for _, l := range m {
		if err := l.Record(ctx, eventType, reportID, metadata); err != nil && first == nil {
			first = err
		}
	}
	return first
}
