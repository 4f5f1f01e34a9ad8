// Package queue consumes guild events from the NSQ side of the ingress
// pair and translates them into raw tracker updates. Queue connectivity
// has no connect/disconnect callback in go-nsq, so edges are derived by
// polling the consumer's connection count.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/nsqio/go-nsq"

	"github.com/gateway-ingress/uptime/internal/config"
	"github.com/gateway-ingress/uptime/internal/tracker"
)

type queueEvent struct {
	Type    string `json:"type"`
	GuildID uint64 `json:"guild_id"`
}

// Sender accepts raw tracker updates. The tracker's feed implements it.
type Sender interface {
	Send(msg tracker.UpdateMessage)
}

// Consumer is the queue-side producer for the tracker feed.
type Consumer struct {
	consumer     *nsq.Consumer
	feed         Sender
	clock        quartz.Clock
	pollInterval time.Duration

	nsqdAddr    string
	lookupdAddr string

	mu        sync.Mutex
	connected bool
}

func New(cfg config.QueueConfig, feed Sender, clock quartz.Clock) (*Consumer, error) {
	nsqConfig := nsq.NewConfig()
	consumer, err := nsq.NewConsumer(cfg.Topic, cfg.Channel, nsqConfig)
	if err != nil {
		return nil, fmt.Errorf("creating nsq consumer: %w", err)
	}

	c := &Consumer{
		consumer:     consumer,
		feed:         feed,
		clock:        clock,
		pollInterval: cfg.StatusPollInterval.Duration(),
		nsqdAddr:     cfg.NSQDAddr,
		lookupdAddr:  cfg.LookupdHTTPAddr,
		// Optimistic start, matching the tracker's connection status.
		connected: true,
	}
	consumer.AddHandler(nsq.HandlerFunc(c.handleMessage))
	return c, nil
}

// Run connects the consumer and polls its connection count until ctx is
// cancelled, emitting QueueOnline/QueueOffline on edges.
func (c *Consumer) Run(ctx context.Context) error {
	var err error
	switch {
	case c.lookupdAddr != "":
		err = c.consumer.ConnectToNSQLookupd(c.lookupdAddr)
	case c.nsqdAddr != "":
		err = c.consumer.ConnectToNSQD(c.nsqdAddr)
	default:
		return fmt.Errorf("queue: neither nsqd_addr nor lookupd_http_addr configured")
	}
	if err != nil {
		return fmt.Errorf("connecting nsq consumer: %w", err)
	}

	waiter := c.clock.TickerFunc(ctx, c.pollInterval, func() error {
		c.pollStatus()
		return nil
	}, "queue", "status")
	waiter.Wait()

	c.consumer.Stop()
	<-c.consumer.StopChan
	return nil
}

// pollStatus derives connectivity edges from the consumer's live
// connection count. Repeated polls in the same state send nothing.
func (c *Consumer) pollStatus() {
	stats := c.consumer.Stats()
	connected := stats.Connections > 0

	c.mu.Lock()
	changed := connected != c.connected
	c.connected = connected
	c.mu.Unlock()

	if !changed {
		return
	}
	if connected {
		log.Printf("queue: nsq connection established")
		c.feed.Send(tracker.UpdateMessage{Kind: tracker.QueueOnline})
	} else {
		log.Printf("queue: nsq connection lost")
		c.feed.Send(tracker.UpdateMessage{Kind: tracker.QueueOffline})
	}
}

// handleMessage translates one queue message into a guild update. Messages
// that fail to parse are logged and not requeued; retrying cannot fix them.
func (c *Consumer) handleMessage(m *nsq.Message) error {
	msg, ok := translate(m.Body)
	if !ok {
		return nil
	}
	c.feed.Send(msg)
	return nil
}

// translate decodes a queue message body into a tracker update. Unknown
// event types are skipped.
func translate(body []byte) (tracker.UpdateMessage, bool) {
	var event queueEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("queue: bad message: %v", err)
		return tracker.UpdateMessage{}, false
	}

	switch event.Type {
	case "guild_online":
		return tracker.UpdateMessage{Kind: tracker.GuildOnline, GuildID: event.GuildID}, true
	case "guild_offline":
		return tracker.UpdateMessage{Kind: tracker.GuildOffline, GuildID: event.GuildID}, true
	default:
		return tracker.UpdateMessage{}, false
	}
}
