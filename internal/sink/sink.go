// Package sink provides tracker.Sink implementations: the logging
// reference sink, a fan-out to the observer WebSocket hub, and a
// combinator. Forwarding to a real uptime-recording service (with its own
// retry policy) would slot in here as another implementation.
package sink

import (
	"context"
	"errors"
	"log"

	"github.com/gateway-ingress/uptime/internal/tracker"
	"github.com/gateway-ingress/uptime/internal/ws"
)

// LogSink is the reference sink: it logs every event it is handed.
type LogSink struct{}

func (LogSink) Connect(ctx context.Context) error { return nil }

func (LogSink) Deliver(timestampMillis int64, event tracker.UptimeEvent) error {
	log.Printf("Uptime event at %d: %s %v", timestampMillis, event.Type, event.Guilds)
	return nil
}

// BroadcastSink feeds delivered events into the observer hub.
type BroadcastSink struct {
	broadcaster *ws.Broadcaster
}

func NewBroadcastSink(broadcaster *ws.Broadcaster) *BroadcastSink {
	return &BroadcastSink{broadcaster: broadcaster}
}

func (s *BroadcastSink) Connect(ctx context.Context) error { return nil }

func (s *BroadcastSink) Deliver(timestampMillis int64, event tracker.UptimeEvent) error {
	s.broadcaster.QueueEvent(timestampMillis, event)
	return nil
}

// MultiSink delivers each event to every wrapped sink.
type MultiSink []tracker.Sink

func (m MultiSink) Connect(ctx context.Context) error {
	for _, s := range m {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Deliver(timestampMillis int64, event tracker.UptimeEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(timestampMillis, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
