// Package hostmem models the host RAM the DMA engine reaches across the
// link: a flat 64-bit-addressed byte array holding descriptor rings and
// sample buffers.
package hostmem

import (
	"fmt"
	"sync"
)

// Memory is a fixed-size host memory region. Reads and writes are bounds
// checked; the zero address is valid.
type Memory struct {
	mu  sync.RWMutex
	buf []byte
}

// New allocates a host memory region of the given size.
func New(size int) *Memory {
	return &Memory{buf: make([]byte, size)}
}

// Size returns the region size in bytes.
func (m *Memory) Size() int { return len(m.buf) }

// ReadAt copies len(p) bytes starting at addr into p.
func (m *Memory) ReadAt(addr uint64, p []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(addr, len(p)); err != nil {
		return err
	}
	copy(p, m.buf[addr:])
	return nil
}

// WriteAt copies p into the region starting at addr.
func (m *Memory) WriteAt(addr uint64, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(addr, len(p)); err != nil {
		return err
	}
	copy(m.buf[addr:], p)
	return nil
}

func (m *Memory) check(addr uint64, n int) error {
	if addr > uint64(len(m.buf)) || uint64(n) > uint64(len(m.buf))-addr {
		return fmt.Errorf("host memory access [%#x, %#x) outside region of %d bytes", addr, addr+uint64(n), len(m.buf))
	}
	return nil
}
