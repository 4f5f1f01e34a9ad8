package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-ingress/uptime/internal/tracker"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// StatusSource supplies the state needed to build snapshot messages.
// The tracker implements it.
type StatusSource interface {
	Online() bool
	ActiveGuilds() []uint64
}

// Broadcaster fans uptime events out to connected observer clients.
// Events are batched behind a short throttle timer so a burst of derived
// events becomes a single frame; full snapshots go out on join and on a
// fixed interval.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	source         StatusSource
	throttle       time.Duration
	snapshotTicker *time.Ticker

	flushMu       sync.Mutex
	pendingEvents []TimedEvent
	flushTimer    *time.Timer
}

func NewBroadcaster(source StatusSource, throttle, snapshotInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		source:   source,
		throttle: throttle,
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	// Seed the snapshot before the client is visible to RemoveClient; the
	// fresh buffer always has room.
	data, _ := json.Marshal(b.snapshotMessage())
	c.send <- data

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// QueueEvent buffers one delivered uptime event for the next throttled
// flush.
func (b *Broadcaster) QueueEvent(timestampMillis int64, event tracker.UptimeEvent) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingEvents = append(b.pendingEvents, TimedEvent{
		Timestamp: timestampMillis,
		Event:     event,
	})

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	events := b.pendingEvents
	b.pendingEvents = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(events) == 0 {
		return
	}

	b.broadcast(WSMessage{
		Type:    MsgEvents,
		Payload: EventsPayload{Events: events},
	})
}

func (b *Broadcaster) snapshotLoop() {
	for range b.snapshotTicker.C {
		b.broadcast(b.snapshotMessage())
	}
}

func (b *Broadcaster) snapshotMessage() WSMessage {
	return WSMessage{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Online:    b.source.Online(),
			Guilds:    b.source.ActiveGuilds(),
			Timestamp: time.Now().UnixMilli(),
		},
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	// Send under the read lock so RemoveClient cannot close a send channel
	// mid-broadcast; slow clients are dropped once the lock is released.
	b.mu.RLock()
	var slow []*client
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		log.Printf("ws client too slow, disconnecting")
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
