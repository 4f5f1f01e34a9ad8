package pool

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/coder/quartz"
)

const testDelay = 25 * time.Millisecond

// sorted returns a sorted copy so batches can be compared without caring
// about map iteration order.
func sorted(items []int) []int {
	out := append([]int(nil), items...)
	sort.Ints(out)
	return out
}

func assertBatch(t *testing.T, got []int, want ...int) {
	t.Helper()
	gotSorted := sorted(got)
	if len(gotSorted) != len(want) {
		t.Fatalf("batch = %v, want %v", gotSorted, want)
	}
	for i := range want {
		if gotSorted[i] != want[i] {
			t.Fatalf("batch = %v, want %v", gotSorted, want)
		}
	}
}

// recvUpdate reads one published batch, failing the test if none arrives.
func recvUpdate(t *testing.T, ch <-chan Update[int]) Update[int] {
	t.Helper()
	select {
	case u, ok := <-ch:
		if !ok {
			t.Fatal("updates channel closed")
		}
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no batch published")
		return Update[int]{}
	}
}

func assertNoUpdate(t *testing.T, ch <-chan Update[int]) {
	t.Helper()
	select {
	case u := <-ch:
		t.Fatalf("unexpected batch published: %+v", u)
	default:
	}
}

func TestCoalescesBurstIntoOneBatch(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	p, updates := New[int](testDelay, mClock)
	defer p.Close()

	p.Add(1)
	p.Add(2)
	p.Add(3)

	mClock.Advance(testDelay).MustWait(ctx)

	u := recvUpdate(t, updates)
	assertBatch(t, u.Added, 1, 2, 3)
	if u.Removed != nil {
		t.Errorf("Removed = %v, want nil", u.Removed)
	}
	assertNoUpdate(t, updates)
	assertBatch(t, p.Items(), 1, 2, 3)
}

func TestFlapCancelsOut(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	p, updates := New[int](testDelay, mClock)
	defer p.Close()

	p.Add(1)
	p.Add(7)
	p.Remove(7) // cancels the pending add before it ever commits

	mClock.Advance(testDelay).MustWait(ctx)

	u := recvUpdate(t, updates)
	assertBatch(t, u.Added, 1)
	if u.Removed != nil {
		t.Errorf("Removed = %v, want nil", u.Removed)
	}
}

func TestRemoveThenAddKeepsCommitted(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	p, updates := New[int](testDelay, mClock)
	defer p.Close()

	p.Add(5)
	if u := p.Release(); u == nil {
		t.Fatal("Release() = nil, want batch")
	}

	// Remove then re-add a committed item within the window: the pending
	// removal is cancelled and the item stays committed with no new event.
	p.Remove(5)
	p.Add(5)

	mClock.Advance(testDelay).MustWait(ctx)
	assertNoUpdate(t, updates)
	assertBatch(t, p.Items(), 5)
}

func TestReleaseIdempotentDrain(t *testing.T) {
	mClock := quartz.NewMock(t)
	p, _ := New[int](testDelay, mClock)
	defer p.Close()

	p.Add(1)
	p.Remove(1) // cancels the pending add; 1 never commits
	p.Add(2)

	first := p.Release()
	if first == nil {
		t.Fatal("first Release() = nil, want batch")
	}
	assertBatch(t, first.Added, 2)

	if second := p.Release(); second != nil {
		t.Fatalf("second Release() = %+v, want nil", second)
	}
}

func TestReleaseCancelsTimer(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	p, updates := New[int](testDelay, mClock)
	defer p.Close()

	p.Add(1)
	p.Release()

	// The manual release consumed the pending set and cancelled the timer;
	// advancing past the deadline must publish nothing.
	mClock.Advance(testDelay).MustWait(ctx)
	assertNoUpdate(t, updates)
}

func TestMutationRestartsCountdown(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	p, updates := New[int](testDelay, mClock)
	defer p.Close()

	p.Add(1)
	mClock.Advance(testDelay / 2).MustWait(ctx)

	p.Add(2) // restarts the full window
	mClock.Advance(testDelay / 2).MustWait(ctx)
	assertNoUpdate(t, updates)

	mClock.Advance(testDelay / 2).MustWait(ctx)
	u := recvUpdate(t, updates)
	assertBatch(t, u.Added, 1, 2)
}

func TestAddCommittedIsNoop(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	p, updates := New[int](testDelay, mClock)
	defer p.Close()

	p.Add(1)
	p.Release()

	p.Add(1) // already committed; resets the timer but pends nothing
	mClock.Advance(testDelay).MustWait(ctx)
	assertNoUpdate(t, updates)
}

func TestRemovalPublishes(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	p, updates := New[int](testDelay, mClock)
	defer p.Close()

	p.Add(1)
	p.Add(2)
	p.Release()

	p.Remove(2)
	p.Add(3)
	mClock.Advance(testDelay).MustWait(ctx)

	u := recvUpdate(t, updates)
	assertBatch(t, u.Added, 3)
	assertBatch(t, u.Removed, 2)
	assertBatch(t, p.Items(), 1, 3)
}

func TestItemsDoesNotFlush(t *testing.T) {
	mClock := quartz.NewMock(t)
	p, _ := New[int](testDelay, mClock)
	defer p.Close()

	p.Add(1)
	if items := p.Items(); len(items) != 0 {
		t.Fatalf("Items() = %v, want empty before flush", items)
	}

	if u := p.Release(); u == nil {
		t.Fatal("pending add lost by Items()")
	}
}

func TestSlowConsumerLosesNoBatches(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	p, updates := New[int](testDelay, mClock)

	// Publish far more batches than the channel buffers before reading any;
	// every one must still arrive, in flush order.
	const batches = 3 * updateBuffer
	for i := 0; i < batches; i++ {
		p.Add(i)
		mClock.Advance(testDelay).MustWait(ctx)
	}

	for i := 0; i < batches; i++ {
		u := recvUpdate(t, updates)
		assertBatch(t, u.Added, i)
	}

	p.Close()
	if _, ok := <-updates; ok {
		t.Fatal("updates channel still open after Close")
	}
}

func TestCloseEndsUpdates(t *testing.T) {
	mClock := quartz.NewMock(t)
	p, updates := New[int](testDelay, mClock)

	p.Add(1)
	p.Close()

	if _, ok := <-updates; ok {
		t.Fatal("updates channel still open after Close")
	}
}
