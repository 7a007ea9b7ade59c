package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	mu      sync.Mutex
	batches [][]Event
}

func (r *flushRecorder) flush(batch []Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestBuffer_FlushOnCount(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBuffer(3, time.Minute, rec.flush)
	defer b.Close()

	b.Add(Event{Category: CategoryAISpeech})
	b.Add(Event{Category: CategoryToolStart})
	assert.Equal(t, 0, rec.count())

	b.Add(Event{Category: CategoryToolResult})
	require.Equal(t, 1, rec.count())
	assert.Len(t, rec.batches[0], 3)
}

func TestBuffer_ImmediateFlushOnApproval(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBuffer(100, time.Minute, rec.flush)
	defer b.Close()

	b.Add(Event{Category: CategoryAISpeech})
	b.Add(Event{Category: CategoryApproval})
	require.Equal(t, 1, rec.count())
	assert.Len(t, rec.batches[0], 2)
}

func TestBuffer_ImmediateFlushOnTerminal(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBuffer(100, time.Minute, rec.flush)
	defer b.Close()

	b.Add(Event{Category: CategorySystemResult})
	assert.Equal(t, 1, rec.count())
}

func TestBuffer_FlushOnInterval(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBuffer(100, 20*time.Millisecond, rec.flush)
	defer b.Close()

	b.Add(Event{Category: CategoryAISpeech})
	assert.Equal(t, 0, rec.count())

	assert.Eventually(t, func() bool { return rec.count() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestBuffer_DeliverySerialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	slowFlush := func([]Event) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
	}

	b := NewBuffer(3, 10*time.Millisecond, slowFlush)
	b.Add(Event{Category: CategoryAISpeech})
	time.Sleep(12 * time.Millisecond) // timer flush starts, held in slowFlush

	b.Add(Event{Category: CategoryToolStart})
	b.Add(Event{Category: CategoryToolResult})
	b.Add(Event{Category: CategoryAISpeech}) // count flush races the timer flush
	b.Close()

	assert.EqualValues(t, 1, maxInFlight.Load(),
		"flush deliveries must not overlap")
}

func TestBuffer_CloseFlushesRemainder(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBuffer(100, time.Minute, rec.flush)

	b.Add(Event{Category: CategoryAISpeech})
	b.Close()
	require.Equal(t, 1, rec.count())

	b.Add(Event{Category: CategoryAISpeech})
	assert.Equal(t, 1, rec.count(), "add after close is a no-op")
}
