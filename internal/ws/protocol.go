package ws

import (
	"github.com/gateway-ingress/uptime/internal/tracker"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgEvents   MessageType = "events"
	MsgError    MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// TimedEvent pairs an uptime event with the millisecond timestamp at which
// it reached the sink stage.
type TimedEvent struct {
	Timestamp int64               `json:"timestamp"`
	Event     tracker.UptimeEvent `json:"event"`
}

// SnapshotPayload is pushed to a client on join and on the periodic
// snapshot interval: the current committed guild membership plus the
// aggregate connection state.
type SnapshotPayload struct {
	Online    bool     `json:"online"`
	Guilds    []uint64 `json:"guilds"`
	Timestamp int64    `json:"timestamp"`
}

type EventsPayload struct {
	Events []TimedEvent `json:"events"`
}
