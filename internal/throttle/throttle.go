// Package throttle serializes outbound platform calls for ReactPipe.
//
// WhatsApp rate-limits the bot account, so every reaction and reply first
// acquires a turn from a SerialQueue: callers are released strictly in
// arrival order with a minimum interval between successive releases,
// regardless of which goroutine asked.
package throttle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultInterval is the minimum spacing between successive releases.
const DefaultInterval = 1 * time.Second

// SerialQueue is a FIFO ticket queue. Each waiter takes a monotonically
// increasing ticket and is released once every earlier ticket has finished
// its turn and the spacing interval has elapsed.
//
// A waiter whose context is cancelled abandons its ticket; the queue skips
// abandoned tickets when they come up, so an aborted caller never stalls the
// line behind it.
type SerialQueue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	clock       clockwork.Clock
	interval    time.Duration
	nextTicket  uint64
	nextToServe uint64
	abandoned   map[uint64]struct{}
}

// NewSerialQueue creates a SerialQueue with the given spacing interval.
// A non-positive interval falls back to DefaultInterval.
func NewSerialQueue(clock clockwork.Clock, interval time.Duration) *SerialQueue {
	if interval <= 0 {
		interval = DefaultInterval
	}
	q := &SerialQueue{
		clock:     clock,
		interval:  interval,
		abandoned: make(map[uint64]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Wait blocks until it is the caller's turn to perform an external call.
// On a nil return the caller owns the next send slot and should issue its
// platform call immediately. A ctx.Err() return means the ticket was
// abandoned and no call may be made.
func (q *SerialQueue) Wait(ctx context.Context) error {
	q.mu.Lock()
	ticket := q.nextTicket
	q.nextTicket++
	slog.Debug("SerialQueue ticket taken", "ticket", ticket, "next_to_serve", q.nextToServe)

	// Wake the wait loop when the context is cancelled.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-watchDone:
		}
	}()

	for q.nextToServe != ticket {
		if ctx.Err() != nil {
			q.abandoned[ticket] = struct{}{}
			q.mu.Unlock()
			slog.Debug("SerialQueue ticket abandoned while waiting", "ticket", ticket)
			return ctx.Err()
		}
		q.cond.Wait()
	}
	q.mu.Unlock()

	// The throttle itself: hold the slot for the spacing interval before
	// handing the caller its turn.
	select {
	case <-q.clock.After(q.interval):
	case <-ctx.Done():
		q.mu.Lock()
		q.advanceLocked()
		q.mu.Unlock()
		slog.Debug("SerialQueue ticket abandoned during interval", "ticket", ticket)
		return ctx.Err()
	}

	q.mu.Lock()
	q.advanceLocked()
	q.mu.Unlock()
	slog.Debug("SerialQueue ticket served", "ticket", ticket)
	return nil
}

// advanceLocked hands the slot to the next live ticket, skipping abandoned
// ones, and resets the counters when the queue drains. Callers must hold q.mu.
func (q *SerialQueue) advanceLocked() {
	q.nextToServe++
	for {
		if _, ok := q.abandoned[q.nextToServe]; !ok {
			break
		}
		delete(q.abandoned, q.nextToServe)
		q.nextToServe++
	}
	// Counter reset on idle is an optimization only; in-flight ordering is
	// unaffected because nothing is waiting when the queue drains.
	if q.nextToServe == q.nextTicket {
		q.nextToServe = 0
		q.nextTicket = 0
	}
	q.cond.Broadcast()
}

// Pending reports how many tickets are queued or in flight.
func (q *SerialQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.nextTicket - q.nextToServe)
}
