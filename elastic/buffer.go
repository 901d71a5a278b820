// Package elastic provides the bounded frame FIFO that decouples the
// transfer engine's burst cadence from the audio frame cadence.
//
// The buffer is also the bulk-data clock-domain crossing: the push index is
// only ever advanced by the producer and the pop index only by the consumer,
// and each side observes the other's index through a synchronized snapshot.
// Occupancy estimates are therefore conservative: the producer never
// over-reports free space and the consumer never over-reports fill.
package elastic

import (
	"sync/atomic"

	"github.com/auricle-dev/auricle/audio"
)

// Buffer is a bounded single-producer single-consumer FIFO of sample frames.
type Buffer struct {
	frames []audio.Frame
	cap    uint64

	// tail is owned by the producer, head by the consumer. Indices grow
	// monotonically; slot = index % cap.
	tail atomic.Uint64
	head atomic.Uint64

	overruns  atomic.Uint64
	underruns atomic.Uint64
}

// New creates a buffer holding up to capacity frames.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		frames: make([]audio.Frame, capacity),
		cap:    uint64(capacity),
	}
}

// Cap returns the buffer capacity in frames.
func (b *Buffer) Cap() int { return int(b.cap) }

// Push appends one frame. A push against a full buffer is rejected and
// counted as an overrun; the frame is dropped.
func (b *Buffer) Push(f audio.Frame) bool {
	tail := b.tail.Load()
	head := b.head.Load() // snapshot of the consumer index
	if tail-head >= b.cap {
		b.overruns.Add(1)
		return false
	}
	b.frames[tail%b.cap] = f
	b.tail.Store(tail + 1)
	return true
}

// Pop removes the oldest frame. A pop against an empty buffer is rejected
// and counted as an underrun.
func (b *Buffer) Pop() (audio.Frame, bool) {
	head := b.head.Load()
	tail := b.tail.Load() // snapshot of the producer index
	if tail == head {
		b.underruns.Add(1)
		return audio.Frame{}, false
	}
	f := b.frames[head%b.cap]
	b.head.Store(head + 1)
	return f, true
}

// Free returns the producer-side view of free space. The consumer may have
// drained more since the snapshot, so this never over-reports.
func (b *Buffer) Free() int {
	used := b.tail.Load() - b.head.Load()
	if used >= b.cap {
		return 0
	}
	return int(b.cap - used)
}

// Len returns the consumer-side view of occupancy. The producer may have
// pushed more since the snapshot, so this never over-reports.
func (b *Buffer) Len() int {
	used := b.tail.Load() - b.head.Load()
	if used > b.cap {
		used = b.cap
	}
	return int(used)
}

// Underruns returns the number of rejected pops since the last reset.
func (b *Buffer) Underruns() uint64 { return b.underruns.Load() }

// Overruns returns the number of rejected pushes since the last reset.
func (b *Buffer) Overruns() uint64 { return b.overruns.Load() }

// Reset drops all buffered frames and clears the error counters. Only safe
// while neither domain task is running, which is how stream reconfiguration
// uses it.
func (b *Buffer) Reset() {
	b.head.Store(0)
	b.tail.Store(0)
	b.overruns.Store(0)
	b.underruns.Store(0)
}
