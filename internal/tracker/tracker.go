// Package tracker derives bulk uptime events (online, offline, heartbeat)
// from raw connectivity signals. Per-guild churn is coalesced through a
// debounced pool; gateway/queue connectivity is folded into a two-flag
// status that only fires on true edges. The two resulting event streams
// are merged and driven to an uptime sink.
package tracker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/gateway-ingress/uptime/internal/pool"
)

const (
	feedBuffer  = 256
	eventBuffer = 64
)

// Sink consumes the outgoing uptime events. The reference implementation
// logs them; a production sink forwards them to the uptime service and owns
// its retry policy.
type Sink interface {
	// Connect establishes the sink's downstream connection. A failure here
	// aborts Run before any event is consumed.
	Connect(ctx context.Context) error
	// Deliver hands over one event with the millisecond timestamp at which
	// it reached the sink stage.
	Deliver(timestampMillis int64, event UptimeEvent) error
}

// Feed is the multi-producer handle for the tracker's inbound stream. The
// stream is unbounded: Send never blocks and never loses a message while
// the tracker is alive. A pump goroutine forwards the backlog into the
// tracker's channel in send order.
type Feed struct {
	ch chan<- UpdateMessage

	mu          sync.Mutex
	backlog     []UpdateMessage
	closed      bool
	wake        chan struct{}
	dropped     int
	lastDropLog time.Time
}

// Send enqueues a raw update for the tracker. Sends after Close are the
// only case where a message may be dropped; drops are counted and logged
// at most once per 10s.
func (f *Feed) Send(msg UpdateMessage) {
	f.mu.Lock()
	if f.closed {
		f.dropped++
		now := time.Now()
		if f.lastDropLog.IsZero() || now.Sub(f.lastDropLog) >= 10*time.Second {
			log.Printf("tracker: dropped %d updates sent after feed close", f.dropped)
			f.dropped = 0
			f.lastDropLog = now
		}
		f.mu.Unlock()
		return
	}
	f.backlog = append(f.backlog, msg)
	f.mu.Unlock()
	f.signal()
}

// Close marks the end of the inbound stream. The owner of the producers
// calls it after all senders are done; the backlog is still drained before
// the stream ends.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.signal()
}

func (f *Feed) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// pump forwards backlogged updates to the tracker's channel, closing it
// once the feed is closed and the backlog is empty.
func (f *Feed) pump() {
	for {
		f.mu.Lock()
		for len(f.backlog) == 0 {
			if f.closed {
				f.mu.Unlock()
				close(f.ch)
				return
			}
			f.mu.Unlock()
			<-f.wake
			f.mu.Lock()
		}
		batch := f.backlog
		f.backlog = nil
		f.mu.Unlock()

		for _, msg := range batch {
			f.ch <- msg
		}
	}
}

// trackerState is the shared coordination state behind the two stream
// rules. Copies share the same pool handle and status mutex; the pool has
// its own internal lock and never takes the status mutex, so the two locks
// cannot form a cycle.
type trackerState struct {
	activeGuilds *pool.Debounced[uint64]
	statusMu     *sync.Mutex
	status       *connectionStatus
}

// Tracker owns the inbound update channel and the pool's flush channel,
// runs the two processing rules, and merges their outputs into a single
// event stream.
type Tracker struct {
	updates     <-chan UpdateMessage
	poolUpdates <-chan pool.Update[uint64]
	state       trackerState
	clock       quartz.Clock

	streamOnce sync.Once
	stream     <-chan UptimeEvent
}

// New creates a tracker with the given debounce delay and returns it
// together with the feed producers use to push raw updates.
func New(debounceDelay time.Duration, clock quartz.Clock) (*Tracker, *Feed) {
	updates := make(chan UpdateMessage, feedBuffer)
	activeGuilds, poolUpdates := pool.New[uint64](debounceDelay, clock)
	t := &Tracker{
		updates:     updates,
		poolUpdates: poolUpdates,
		state: trackerState{
			activeGuilds: activeGuilds,
			statusMu:     &sync.Mutex{},
			status:       newConnectionStatus(),
		},
		clock: clock,
	}
	feed := &Feed{ch: updates, wake: make(chan struct{}, 1)}
	go feed.pump()
	return t, feed
}

// Online reports whether the service currently counts as fully connected.
func (t *Tracker) Online() bool {
	t.state.statusMu.Lock()
	defer t.state.statusMu.Unlock()
	return t.state.status.online()
}

// ActiveGuilds returns a snapshot of the committed guild membership.
func (t *Tracker) ActiveGuilds() []uint64 {
	return t.state.activeGuilds.Items()
}

// Run connects the sink and drives the merged event stream to completion,
// stamping each event with the time it reached the sink stage. It returns
// a connection error early rather than consuming events into a dead sink,
// and returns nil once the feed is closed and both streams drain.
func (t *Tracker) Run(ctx context.Context, sink Sink) error {
	if err := sink.Connect(ctx); err != nil {
		return fmt.Errorf("connecting uptime sink: %w", err)
	}

	for event := range t.Events() {
		// Measured at the sink stage, before any downstream retrying; the
		// propagation delay through the rules is small even when debounced.
		timestamp := t.clock.Now().UnixMilli()
		if err := sink.Deliver(timestamp, event); err != nil {
			log.Printf("tracker: sink delivery failed: %v", err)
		}
	}
	return nil
}

// Events returns the merged uptime event stream. The two rule outputs are
// interleaved as each becomes ready; no ordering is imposed across them.
// The stream closes after the feed closes and the pool's flush channel
// drains. Repeated calls return the same channel.
func (t *Tracker) Events() <-chan UptimeEvent {
	t.streamOnce.Do(func() {
		out := make(chan UptimeEvent, eventBuffer)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			t.state.pipeUpdates(t.updates, out)
			// No producers left to mutate the pool; closing it ends the
			// flush channel and with it the batch rule below.
			t.state.activeGuilds.Close()
		}()
		go func() {
			defer wg.Done()
			t.state.pipeDebouncedGuildUpdates(t.poolUpdates, out)
		}()
		go func() {
			wg.Wait()
			close(out)
		}()

		t.stream = out
	})
	return t.stream
}

// pipeUpdates is rule 1: each raw update yields zero or more uptime events,
// forwarded as soon as they are computed.
func (s trackerState) pipeUpdates(in <-chan UpdateMessage, out chan<- UptimeEvent) {
	for msg := range in {
		for _, event := range s.handleUpdate(msg) {
			out <- event
		}
	}
}

// pipeDebouncedGuildUpdates is rule 2: debounced pool batches become
// Online/Offline events, suppressed entirely while the service is offline.
func (s trackerState) pipeDebouncedGuildUpdates(in <-chan pool.Update[uint64], out chan<- UptimeEvent) {
	for update := range in {
		for _, event := range s.handleDebounced(update) {
			out <- event
		}
	}
}

func (s trackerState) handleUpdate(msg UpdateMessage) []UptimeEvent {
	switch msg.Kind {
	case GuildOnline:
		// Deferred to the pool's own flush; nothing emitted here.
		s.activeGuilds.Add(msg.GuildID)
		return nil

	case GuildOffline:
		s.activeGuilds.Remove(msg.GuildID)
		return nil

	case QueueOnline, GatewayOnline:
		s.statusMu.Lock()
		defer s.statusMu.Unlock()
		if !s.status.onlineUpdate(msg) {
			return nil
		}
		// Flush pending churn first so the bulk event carries the freshest
		// membership.
		s.activeGuilds.Release()
		return []UptimeEvent{{Type: EventOnline, Guilds: s.activeGuilds.Items()}}

	case QueueOffline, GatewayOffline:
		s.statusMu.Lock()
		defer s.statusMu.Unlock()
		if !s.status.offlineUpdate(msg) {
			return nil
		}
		// The offline edge reports the pre-flush snapshot; pending churn is
		// flushed afterwards. Keep that order.
		items := s.activeGuilds.Items()
		s.activeGuilds.Release()
		return []UptimeEvent{{Type: EventOffline, Guilds: items}}

	case GatewayHeartbeat:
		s.statusMu.Lock()
		defer s.statusMu.Unlock()
		if !s.status.online() {
			return nil
		}
		var events []UptimeEvent
		if update := s.activeGuilds.Release(); update != nil {
			events = eventsFromPoolUpdate(*update)
		}
		return append(events, UptimeEvent{Type: EventHeartbeat, Guilds: s.activeGuilds.Items()})

	default:
		log.Printf("tracker: ignoring unknown update kind %v", msg.Kind)
		return nil
	}
}

func (s trackerState) handleDebounced(update pool.Update[uint64]) []UptimeEvent {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if !s.status.online() {
		// Per-guild churn while disconnected is not independently
		// newsworthy.
		return nil
	}
	return eventsFromPoolUpdate(update)
}
