package pipeline

import (
	"context"

	"factoryhub/pkg/models"
)

// EventWriter exports canonical events to an external sink.
type EventWriter interface {
	WriteEvents(events []*models.CanonicalEvent) error
	Close() error
}

// ContextWriter is implemented by sinks whose writes can be bounded by a
// context. Run prefers it over WriteEvents.
type ContextWriter interface {
	WriteEventsContext(ctx context.Context, events []*models.CanonicalEvent) error
}

// RawWriter captures accepted deliveries for replay.
type RawWriter interface {
	WriteRawMessages(messages [][]byte) error
	Close() error
}

func writeEvents(ctx context.Context, w EventWriter, events []*models.CanonicalEvent) error {
	if cw, ok := w.(ContextWriter); ok {
		return cw.WriteEventsContext(ctx, events)
	}
	return w.WriteEvents(events)
}
