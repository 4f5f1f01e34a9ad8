// Package gateway maintains the WebSocket connection to the chat gateway's
// event feed and translates it into raw tracker updates: guild membership
// changes from the frames themselves, gateway connectivity edges from the
// connection lifecycle, and heartbeats on a fixed interval while connected.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/websocket"

	"github.com/gateway-ingress/uptime/internal/config"
	"github.com/gateway-ingress/uptime/internal/tracker"
)

type gatewayFrame struct {
	Op      string `json:"op"`
	GuildID uint64 `json:"guild_id,omitempty"`
}

// Sender accepts raw tracker updates. The tracker's feed implements it.
type Sender interface {
	Send(msg tracker.UpdateMessage)
}

// Client is the gateway-side producer for the tracker feed.
type Client struct {
	url               string
	heartbeatInterval time.Duration
	reconnectMin      time.Duration
	reconnectMax      time.Duration
	feed              Sender
	clock             quartz.Clock
	dialer            *websocket.Dialer
}

func New(cfg config.GatewayConfig, feed Sender, clock quartz.Clock) *Client {
	return &Client{
		url:               cfg.URL,
		heartbeatInterval: cfg.HeartbeatInterval.Duration(),
		reconnectMin:      cfg.ReconnectMin.Duration(),
		reconnectMax:      cfg.ReconnectMax.Duration(),
		feed:              feed,
		clock:             clock,
		dialer:            websocket.DefaultDialer,
	}
}

// Run connects to the gateway and keeps the connection alive until ctx is
// cancelled, reconnecting with capped exponential backoff. Each successful
// connect sends GatewayOnline; each drop sends GatewayOffline.
func (c *Client) Run(ctx context.Context) {
	backoff := c.reconnectMin

	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("gateway: dial %s failed: %v (retrying in %s)", c.url, err, backoff)
			c.feed.Send(tracker.UpdateMessage{Kind: tracker.GatewayOffline})
			if !c.sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, c.reconnectMax)
			continue
		}

		log.Printf("gateway: connected to %s", c.url)
		backoff = c.reconnectMin
		c.feed.Send(tracker.UpdateMessage{Kind: tracker.GatewayOnline})

		c.readLoop(ctx, conn)

		conn.Close()
		if ctx.Err() != nil {
			return
		}
		log.Printf("gateway: connection lost (reconnecting in %s)", backoff)
		c.feed.Send(tracker.UpdateMessage{Kind: tracker.GatewayOffline})
		if !c.sleep(ctx, backoff) {
			return
		}
		backoff = min(backoff*2, c.reconnectMax)
	}
}

// readLoop consumes frames until the connection drops or ctx is cancelled.
// A heartbeat ticker runs for the lifetime of the connection.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.clock.TickerFunc(connCtx, c.heartbeatInterval, func() error {
		c.feed.Send(tracker.UpdateMessage{Kind: tracker.GatewayHeartbeat})
		return nil
	}, "gateway", "heartbeat")

	go func() {
		// Unblock ReadMessage when the outer context is cancelled.
		<-connCtx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, ok := parseFrame(data)
		if !ok {
			continue
		}
		c.feed.Send(msg)
	}
}

// parseFrame decodes one gateway frame into a tracker update. Frames with
// unknown ops are skipped.
func parseFrame(data []byte) (tracker.UpdateMessage, bool) {
	var frame gatewayFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Printf("gateway: bad frame: %v", err)
		return tracker.UpdateMessage{}, false
	}

	switch frame.Op {
	case "guild_online":
		return tracker.UpdateMessage{Kind: tracker.GuildOnline, GuildID: frame.GuildID}, true
	case "guild_offline":
		return tracker.UpdateMessage{Kind: tracker.GuildOffline, GuildID: frame.GuildID}, true
	default:
		return tracker.UpdateMessage{}, false
	}
}

// sleep waits for d or until ctx is cancelled; reports whether the wait
// completed.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	timer := c.clock.NewTimer(d, "gateway", "backoff")
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
