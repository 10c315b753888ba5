package events

import (
	"sync"
	"time"
)

// Bus is a multi-producer, single-consumer event channel. Publish blocks
// while the internal buffer is full rather than dropping — spec §4.7
// requires that drops never happen silently.
//
// Per-producer ordering is guaranteed because each producer calls Publish
// sequentially (from one goroutine per FileJob); cross-producer interleaving
// on the shared channel is unspecified, as spec §4.7 allows.
type Bus struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewBus creates a Bus with the given buffer size. A size of 0 makes
// Publish synchronous with Poll/Events, which is still correct (just
// slower under load) and never drops.
func NewBus(buffer int) *Bus {
	if buffer < 0 {
		buffer = 0
	}
	return &Bus{ch: make(chan Event, buffer)}
}

// Publish stamps the event with the current time and enqueues it. It blocks
// if the buffer is full until the consumer drains space, and is a no-op
// once Close has been called (so producers racing a shutdown never panic
// on a closed channel). The closed check and the send happen under the same
// lock Close takes, so there is no window where a concurrent Close can close
// the channel between the check and the send.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.ch <- e
}

// Poll drains all events currently buffered without blocking. Returns an
// empty slice (never nil) if nothing is pending.
func (b *Bus) Poll() []Event {
	out := []Event{}
	for {
		select {
		case e := <-b.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

// Events returns the raw channel for callers that want to range over
// events as they arrive instead of polling in bulk.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close marks the bus closed and closes the channel so a consumer ranging
// over Events() terminates once it has received what is still buffered. Safe to call once; a second Close is a
// no-op. Must only be called once no producer will call Publish again.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
