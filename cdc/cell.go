// Package cdc carries scalar control and status values between the transport
// domain and the audio domain.
//
// Each scalar crosses through its own fixed-depth delay line: the writer
// publishes at any time, the reader shifts the line once per tick of its own
// clock and only ever observes the line's output stage. A published value is
// therefore visible no earlier than Depth reader ticks after Publish. That
// latency is the contract callers must tolerate; a value mid-flight simply
// reads as the previous one. Multi-word scalars are assumed to change slowly
// relative to the reader's tick period.
package cdc

import "sync/atomic"

// MinDepth is the minimum synchronizer depth.
const MinDepth = 2

// Cell is a one-writer one-reader synchronized scalar.
type Cell[T any] struct {
	input  atomic.Pointer[T]
	stages []T
	reset  T
}

// NewCell creates a cell with the given pipeline depth and reset-time value.
// Depths below MinDepth are raised to MinDepth.
func NewCell[T any](depth int, resetValue T) *Cell[T] {
	if depth < MinDepth {
		depth = MinDepth
	}
	c := &Cell[T]{
		stages: make([]T, depth),
		reset:  resetValue,
	}
	c.Reset()
	return c
}

// Publish makes v the cell's input. Writer side only.
func (c *Cell[T]) Publish(v T) {
	c.input.Store(&v)
}

// Tick shifts the delay line one stage. Reader side only; call once per
// reader clock tick.
func (c *Cell[T]) Tick() {
	for i := len(c.stages) - 1; i > 0; i-- {
		c.stages[i] = c.stages[i-1]
	}
	c.stages[0] = *c.input.Load()
}

// Read returns the output stage. Reader side only.
func (c *Cell[T]) Read() T {
	return c.stages[len(c.stages)-1]
}

// Depth returns the pipeline depth, i.e. the visibility latency in reader
// ticks.
func (c *Cell[T]) Depth() int { return len(c.stages) }

// Reset loads the reset value into the input and every stage. Only safe while
// the reader task is stopped.
func (c *Cell[T]) Reset() {
	v := c.reset
	c.input.Store(&v)
	for i := range c.stages {
		c.stages[i] = c.reset
	}
}
