package tracker

import "fmt"

// MessageKind discriminates the raw update messages produced by the
// gateway/queue adapters and the guild event feed.
type MessageKind int

const (
	GuildOnline MessageKind = iota
	GuildOffline
	QueueOnline
	QueueOffline
	GatewayOnline
	GatewayOffline
	GatewayHeartbeat
)

func (k MessageKind) String() string {
	switch k {
	case GuildOnline:
		return "guild_online"
	case GuildOffline:
		return "guild_offline"
	case QueueOnline:
		return "queue_online"
	case QueueOffline:
		return "queue_offline"
	case GatewayOnline:
		return "gateway_online"
	case GatewayOffline:
		return "gateway_offline"
	case GatewayHeartbeat:
		return "gateway_heartbeat"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// UpdateMessage is a single raw connectivity signal. GuildID is only
// meaningful for the GuildOnline/GuildOffline kinds.
type UpdateMessage struct {
	Kind    MessageKind
	GuildID uint64
}

func (m UpdateMessage) String() string {
	switch m.Kind {
	case GuildOnline, GuildOffline:
		return fmt.Sprintf("%s(%d)", m.Kind, m.GuildID)
	default:
		return m.Kind.String()
	}
}
