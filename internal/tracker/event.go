package tracker

import (
	"github.com/gateway-ingress/uptime/internal/pool"
)

// EventType tags the bulk uptime events dispatched to the uptime sink.
type EventType string

const (
	EventOnline    EventType = "online"
	EventOffline   EventType = "offline"
	EventHeartbeat EventType = "heartbeat"
)

// UptimeEvent is a bulk per-guild uptime signal. Guild order carries no
// meaning; consumers must treat the slice as a set.
type UptimeEvent struct {
	Type   EventType `json:"type"`
	Guilds []uint64  `json:"guilds"`
}

// eventsFromPoolUpdate expands a net-change batch into its Online/Offline
// events, added before removed.
func eventsFromPoolUpdate(update pool.Update[uint64]) []UptimeEvent {
	events := make([]UptimeEvent, 0, 2)
	if update.Added != nil {
		events = append(events, UptimeEvent{Type: EventOnline, Guilds: update.Added})
	}
	if update.Removed != nil {
		events = append(events, UptimeEvent{Type: EventOffline, Guilds: update.Removed})
	}
	return events
}
