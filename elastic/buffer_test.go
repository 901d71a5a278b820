package elastic

import (
	"sync"
	"testing"

	"github.com/auricle-dev/auricle/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameWith(v uint32) audio.Frame {
	var f audio.Frame
	f.Slots[0] = v
	return f
}

func TestPushPopOrder(t *testing.T) {
	b := New(4)
	for i := uint32(0); i < 4; i++ {
		assert.True(t, b.Push(frameWith(i)))
	}
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, 0, b.Free())

	for i := uint32(0); i < 4; i++ {
		f, ok := b.Pop()
		require.True(t, ok)
		assert.Equal(t, i, f.Slots[0])
	}
	assert.Equal(t, 0, b.Len())
}

func TestOverrunUnderrunCounted(t *testing.T) {
	b := New(2)
	assert.True(t, b.Push(frameWith(1)))
	assert.True(t, b.Push(frameWith(2)))
	assert.False(t, b.Push(frameWith(3)), "push on full must be rejected")
	assert.Equal(t, uint64(1), b.Overruns())
	assert.Equal(t, 2, b.Len(), "rejected push must not change occupancy")

	_, _ = b.Pop()
	_, _ = b.Pop()
	_, ok := b.Pop()
	assert.False(t, ok, "pop on empty must be rejected")
	assert.Equal(t, uint64(1), b.Underruns())

	// The dropped frame must not reappear.
	assert.True(t, b.Push(frameWith(9)))
	f, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, uint32(9), f.Slots[0])
}

func TestOccupancyBounds(t *testing.T) {
	b := New(8)
	for i := 0; i < 100; i++ {
		b.Push(frameWith(uint32(i)))
		if i%3 == 0 {
			b.Pop()
		}
		occ := b.Len()
		assert.GreaterOrEqual(t, occ, 0)
		assert.LessOrEqual(t, occ, b.Cap())
	}
}

func TestReset(t *testing.T) {
	b := New(2)
	b.Push(frameWith(1))
	b.Push(frameWith(2))
	b.Push(frameWith(3))
	b.Pop()
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, uint64(0), b.Overruns())
	assert.Equal(t, uint64(0), b.Underruns())
}

// One producer goroutine and one consumer goroutine hammer the buffer; every
// accepted frame must come out exactly once and in order.
func TestConcurrentSPSC(t *testing.T) {
	const n = 10000
	b := New(16)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := uint32(0); i < n; {
			if b.Push(frameWith(i)) {
				i++
			}
		}
	}()

	var out []uint32
	go func() {
		defer wg.Done()
		for len(out) < n {
			if f, ok := b.Pop(); ok {
				out = append(out, f.Slots[0])
			}
		}
	}()

	wg.Wait()
	require.Len(t, out, n)
	for i := uint32(0); i < n; i++ {
		if out[i] != i {
			t.Fatalf("frame %d out of order: got %d", i, out[i])
		}
	}
}
