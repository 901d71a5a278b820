package dma

import (
	"fmt"
	"sync/atomic"
)

// Ring is a fixed-size descriptor ring in host memory, owned by exactly one
// transfer engine. The ring tracks the cursor, the completion flags and the
// monotonic byte counter; descriptor records themselves live in host memory
// and are fetched per activation.
//
// Only the owning engine mutates the ring. The cursor and counters are
// atomics so the host side can sample them for status registers while the
// transport task runs.
type Ring struct {
	mem   Memory
	base  uint64
	count int

	current        atomic.Int64
	active         atomic.Int64
	bytesProcessed atomic.Uint64
	complete       []bool
}

// NewRing creates a ring of count descriptors stored contiguously at base.
func NewRing(mem Memory, base uint64, count int) (*Ring, error) {
	if count <= 0 {
		return nil, fmt.Errorf("descriptor count %d must be positive", count)
	}
	return &Ring{
		mem:      mem,
		base:     base,
		count:    count,
		complete: make([]bool, count),
	}, nil
}

// Count returns the number of descriptors in the ring.
func (r *Ring) Count() int { return r.count }

// CurrentIndex returns the cursor position.
func (r *Ring) CurrentIndex() int { return int(r.current.Load()) }

// ActiveCount returns the number of descriptors completed in the current
// pass.
func (r *Ring) ActiveCount() int { return int(r.active.Load()) }

// BytesProcessed returns the monotonic transferred-byte counter. It wraps at
// the platform counter width.
func (r *Ring) BytesProcessed() uint64 { return r.bytesProcessed.Load() }

// Fetch reads the current descriptor record from host memory. The returned
// descriptor carries the engine-side Complete flag for this slot; a
// descriptor still complete from a prior pass must not be executed again
// until the ring is reset.
func (r *Ring) Fetch() (Descriptor, error) {
	cur := int(r.current.Load())
	var rec [DescriptorSize]byte
	addr := r.base + uint64(cur)*DescriptorSize
	if err := r.mem.ReadAt(addr, rec[:]); err != nil {
		return Descriptor{}, fmt.Errorf("fetch descriptor %d: %w", cur, err)
	}
	d := DecodeDescriptor(rec[:])
	d.Complete = r.complete[cur]
	return d, nil
}

// MarkComplete records completion of the current descriptor: the complete
// flag is set exactly once per activation, the byte counter advances by the
// burst actually transferred, and the host record's owned bit is cleared so
// software can observe the hand-back.
func (r *Ring) MarkComplete(d Descriptor, transferred int) error {
	cur := int(r.current.Load())
	if !r.complete[cur] {
		r.complete[cur] = true
		r.active.Add(1)
	}
	r.bytesProcessed.Add(uint64(transferred))

	d.Flags &^= FlagOwned
	var rec [DescriptorSize]byte
	EncodeDescriptor(rec[:], d)
	addr := r.base + uint64(cur)*DescriptorSize
	if err := r.mem.WriteAt(addr, rec[:]); err != nil {
		return fmt.Errorf("write back descriptor %d: %w", cur, err)
	}
	return nil
}

// Advance moves the cursor to the descriptor referenced by d's next pointer,
// wrapping to index 0 when d carried the wrap or last-in-chain flag.
func (r *Ring) Advance(d Descriptor) error {
	if d.Flags&(FlagWrap|FlagLast) != 0 {
		r.current.Store(0)
		return nil
	}
	next, err := r.indexOf(d.Next)
	if err != nil {
		return err
	}
	r.current.Store(int64(next))
	return nil
}

func (r *Ring) indexOf(addr uint64) (int, error) {
	if addr < r.base || (addr-r.base)%DescriptorSize != 0 {
		return 0, fmt.Errorf("next pointer %#x does not address this ring", addr)
	}
	idx := int((addr - r.base) / DescriptorSize)
	if idx >= r.count {
		return 0, fmt.Errorf("next pointer %#x is beyond descriptor %d", addr, r.count-1)
	}
	return idx, nil
}

// Reset zeroes the cursor and counters and clears every complete flag,
// re-arming the ring for a fresh pass. Callers must ensure the owning engine
// is parked first.
func (r *Ring) Reset() {
	r.current.Store(0)
	r.active.Store(0)
	r.bytesProcessed.Store(0)
	for i := range r.complete {
		r.complete[i] = false
	}
}

// Provision writes a driver-style descriptor chain into host memory: count
// contiguous period-sized buffers starting at bufBase, an interrupt flag on
// every other descriptor and the wrap flag on the final one. It mirrors how
// the host driver sets up a stream and is used by the demo command and tests.
func Provision(mem Memory, ringBase, bufBase uint64, count int, periodBytes uint32) error {
	for i := 0; i < count; i++ {
		d := Descriptor{
			Address: bufBase + uint64(i)*uint64(periodBytes),
			Length:  periodBytes,
			Flags:   FlagOwned,
			Next:    ringBase + uint64((i+1)%count)*DescriptorSize,
		}
		if i%2 == 1 {
			d.Flags |= FlagInterrupt
		}
		if i == count-1 {
			d.Flags |= FlagWrap
		}
		var rec [DescriptorSize]byte
		EncodeDescriptor(rec[:], d)
		if err := mem.WriteAt(ringBase+uint64(i)*DescriptorSize, rec[:]); err != nil {
			return fmt.Errorf("provision descriptor %d: %w", i, err)
		}
	}
	return nil
}
