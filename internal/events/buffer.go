package events

import (
	"sync"
	"time"
)

const (
	// DefaultFlushCount flushes once this many events have accumulated.
	DefaultFlushCount = 3
	// DefaultFlushInterval flushes this long after the last flush even if
	// fewer events accumulated.
	DefaultFlushInterval = 2 * time.Second
)

// Buffer accumulates accepted events and flushes them in batches, bounding
// both latency and update frequency independent of agent verbosity.
// Approval and terminal events flush immediately.
type Buffer struct {
	mu        sync.Mutex
	deliverMu sync.Mutex
	flushFn   func([]Event)
	maxCount  int
	interval  time.Duration
	pending   []Event
	timer     *time.Timer
	closed    bool
}

// NewBuffer creates a buffer that delivers batches through flushFn.
// flushFn is never called concurrently with itself.
func NewBuffer(maxCount int, interval time.Duration, flushFn func([]Event)) *Buffer {
	if maxCount <= 0 {
		maxCount = DefaultFlushCount
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Buffer{
		flushFn:  flushFn,
		maxCount: maxCount,
		interval: interval,
	}
}

// Add appends an event and flushes if a flush condition is met.
func (b *Buffer) Add(e Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, e)

	immediate := e.Category == CategoryApproval || e.Terminal()
	if immediate || len(b.pending) >= b.maxCount {
		b.deliver()
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.interval, b.timedFlush)
	}
	b.mu.Unlock()
}

// Flush delivers any pending events now.
func (b *Buffer) Flush() {
	b.mu.Lock()
	b.deliver()
}

// Close flushes remaining events and stops the timer. Further Adds are no-ops.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.deliver()
}

func (b *Buffer) timedFlush() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.deliver()
}

// deliver takes the pending batch and hands it to flushFn. Called with b.mu
// held; releases it. The delivery lock is acquired before b.mu is released so
// concurrent flush triggers serialize and batches arrive in take order.
func (b *Buffer) deliver() {
	batch := b.take()
	if len(batch) == 0 {
		b.mu.Unlock()
		return
	}
	b.deliverMu.Lock()
	b.mu.Unlock()
	b.flushFn(batch)
	b.deliverMu.Unlock()
}

// take clears pending state. Callers must hold b.mu.
func (b *Buffer) take() []Event {
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return batch
}
