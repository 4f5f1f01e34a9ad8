// Package mock produces a synthetic update stream for demo runs without a
// real gateway or queue: steady guild churn, periodic heartbeats, and the
// occasional connectivity blip.
package mock

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/gateway-ingress/uptime/internal/tracker"
)

const (
	guildSpan     = 40 // guild IDs are drawn from [0, guildSpan)
	churnInterval = 200 * time.Millisecond
	heartbeatTick = 25 // churn ticks per heartbeat
	blipChance    = 120
)

// Sender accepts raw tracker updates. The tracker's feed implements it.
type Sender interface {
	Send(msg tracker.UpdateMessage)
}

type Generator struct {
	feed Sender
	rng  *rand.Rand
}

func NewGenerator(feed Sender) *Generator {
	return &Generator{
		feed: feed,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *Generator) Start(ctx context.Context) {
	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(churnInterval)
	defer ticker.Stop()

	log.Printf("mock: generating synthetic updates (%d guilds)", guildSpan)

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tick++
		guild := uint64(g.rng.Intn(guildSpan))
		if g.rng.Intn(3) == 0 {
			g.feed.Send(tracker.UpdateMessage{Kind: tracker.GuildOffline, GuildID: guild})
		} else {
			g.feed.Send(tracker.UpdateMessage{Kind: tracker.GuildOnline, GuildID: guild})
		}

		if tick%heartbeatTick == 0 {
			g.feed.Send(tracker.UpdateMessage{Kind: tracker.GatewayHeartbeat})
		}

		// Rare blip: one side drops and comes straight back. Half the time
		// the other side flaps inside the window, which must not produce
		// extra events.
		if g.rng.Intn(blipChance) == 0 {
			g.blip()
		}
	}
}

func (g *Generator) blip() {
	if g.rng.Intn(2) == 0 {
		g.feed.Send(tracker.UpdateMessage{Kind: tracker.GatewayOffline})
		g.feed.Send(tracker.UpdateMessage{Kind: tracker.GatewayOnline})
		return
	}
	g.feed.Send(tracker.UpdateMessage{Kind: tracker.QueueOffline})
	g.feed.Send(tracker.UpdateMessage{Kind: tracker.GatewayOffline})
	g.feed.Send(tracker.UpdateMessage{Kind: tracker.GatewayOnline})
	g.feed.Send(tracker.UpdateMessage{Kind: tracker.QueueOnline})
}
