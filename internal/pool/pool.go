// Package pool implements a debounced coalescing set. Callers record
// add/remove intents; the pool folds them into a net-change batch and
// publishes it once the pool has been quiescent for the configured delay.
package pool

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// updateBuffer sizes the background flush channel. It only smooths the
// handoff from the pump goroutine; a slow consumer backs batches up into
// the pump's backlog, never drops them.
const updateBuffer = 16

// Update is the net membership change produced by a single flush. A nil
// slice means no change of that kind occurred; flushes never publish an
// Update with both slices nil.
type Update[T comparable] struct {
	Added   []T
	Removed []T
}

// Debounced is a thread-safe coalescing set with a trailing-edge debounce:
// every Add/Remove restarts the flush countdown, so a batch is only
// published after the pool has seen no mutations for a full delay.
//
// An add of an item with a pending removal cancels the removal (and vice
// versa), so an item that flaps faster than the debounce window produces no
// net change at all. That is deliberate: rapid churn is not newsworthy.
//
// A *Debounced is a shared handle; all copies of the pointer observe the
// same state.
type Debounced[T comparable] struct {
	mu            sync.Mutex
	committed     map[T]struct{}
	pendingAdd    map[T]struct{}
	pendingRemove map[T]struct{}
	timer         *quartz.Timer
	timerGen      uint64
	closed        bool
	backlog       []Update[T]
	wake          chan struct{}

	delay   time.Duration
	clock   quartz.Clock
	updates chan Update[T]
}

// New creates an empty pool and returns it together with the channel on
// which timer-driven flushes are published, in order and without loss. The
// channel is closed after Close once the backlog drains.
func New[T comparable](delay time.Duration, clock quartz.Clock) (*Debounced[T], <-chan Update[T]) {
	p := &Debounced[T]{
		committed:     make(map[T]struct{}),
		pendingAdd:    make(map[T]struct{}),
		pendingRemove: make(map[T]struct{}),
		wake:          make(chan struct{}, 1),
		delay:         delay,
		clock:         clock,
		updates:       make(chan Update[T], updateBuffer),
	}
	go p.pump()
	return p, p.updates
}

// Add records an intent to add item. If the item has a pending removal, the
// two cancel out and the item stays committed. Adding an already-committed
// item is a no-op. Either way the flush countdown restarts.
func (p *Debounced[T]) Add(item T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pendingRemove[item]; ok {
		delete(p.pendingRemove, item)
	} else if _, ok := p.committed[item]; !ok {
		p.pendingAdd[item] = struct{}{}
	}
	p.resetTimerLocked()
}

// Remove records an intent to remove item. A pending add is cancelled
// before it ever commits; an uncommitted, unpending item is a no-op.
func (p *Debounced[T]) Remove(item T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pendingAdd[item]; ok {
		delete(p.pendingAdd, item)
	} else if _, ok := p.committed[item]; ok {
		p.pendingRemove[item] = struct{}{}
	}
	p.resetTimerLocked()
}

// Release cancels any outstanding timer and flushes immediately, returning
// the net change or nil when nothing was pending. The returned batch is NOT
// published on the background channel; it belongs to the caller.
func (p *Debounced[T]) Release() *Update[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelTimerLocked()
	return p.takeLocked()
}

// Items returns a snapshot of the committed membership. Pending intents are
// not flushed and not included.
func (p *Debounced[T]) Items() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := make([]T, 0, len(p.committed))
	for item := range p.committed {
		items = append(items, item)
	}
	return items
}

// Close stops the timer and ends the updates channel once already-published
// batches drain. Pending intents are dropped; the pool must not be mutated
// after Close.
func (p *Debounced[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.cancelTimerLocked()
	p.closed = true
	p.mu.Unlock()
	p.signal()
}

// resetTimerLocked replaces any outstanding flush timer with a fresh one.
// The generation counter makes a timer that already fired (but has not yet
// taken the lock) stale, so a mutation racing the expiry still restarts the
// full quiescence window.
func (p *Debounced[T]) resetTimerLocked() {
	if p.closed {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timerGen++
	gen := p.timerGen
	p.timer = p.clock.AfterFunc(p.delay, func() { p.backgroundFlush(gen) }, "pool", "flush")
}

// cancelTimerLocked stops the outstanding timer and invalidates any
// in-flight expiry.
func (p *Debounced[T]) cancelTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.timerGen++
}

// backgroundFlush runs when the debounce timer expires without being reset
// or cancelled. A stale generation means the countdown was restarted after
// this expiry was scheduled; an empty take means a concurrent Release
// already drained the pending sets. Neither publishes. The batch goes into
// the pump's backlog so a slow consumer never blocks the timer or loses a
// committed batch.
func (p *Debounced[T]) backgroundFlush(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || gen != p.timerGen {
		return
	}
	p.timer = nil
	update := p.takeLocked()
	if update == nil {
		return
	}
	p.backlog = append(p.backlog, *update)
	p.signal()
}

func (p *Debounced[T]) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// pump publishes backlogged batches in flush order, closing the updates
// channel once the pool is closed and the backlog is empty.
func (p *Debounced[T]) pump() {
	for {
		p.mu.Lock()
		for len(p.backlog) == 0 {
			if p.closed {
				p.mu.Unlock()
				close(p.updates)
				return
			}
			p.mu.Unlock()
			<-p.wake
			p.mu.Lock()
		}
		batch := p.backlog
		p.backlog = nil
		p.mu.Unlock()

		for _, u := range batch {
			p.updates <- u
		}
	}
}

// takeLocked atomically applies both pending sets to the committed set and
// clears them. Whichever of {timer, Release} runs first takes the batch;
// the loser sees empty pending sets and returns nil.
func (p *Debounced[T]) takeLocked() *Update[T] {
	if len(p.pendingAdd) == 0 && len(p.pendingRemove) == 0 {
		return nil
	}
	update := &Update[T]{}
	if len(p.pendingAdd) > 0 {
		update.Added = make([]T, 0, len(p.pendingAdd))
		for item := range p.pendingAdd {
			p.committed[item] = struct{}{}
			update.Added = append(update.Added, item)
		}
		clear(p.pendingAdd)
	}
	if len(p.pendingRemove) > 0 {
		update.Removed = make([]T, 0, len(p.pendingRemove))
		for item := range p.pendingRemove {
			delete(p.committed, item)
			update.Removed = append(update.Removed, item)
		}
		clear(p.pendingRemove)
	}
	return update
}
