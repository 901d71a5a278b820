package dma

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/auricle-dev/auricle/audio"
	"github.com/auricle-dev/auricle/elastic"
)

// Direction selects which half of the duplex path an engine drives.
type Direction int

const (
	Playback Direction = iota // host memory -> elastic buffer
	Capture                   // elastic buffer -> host memory
)

func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}
	return "playback"
}

// State is the transfer engine state machine position.
type State int

const (
	StateIdle State = iota
	StateFetchDescriptor
	StateMoveData
	StateUpdateDescriptor
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchDescriptor:
		return "fetch"
	case StateMoveData:
		return "move"
	case StateUpdateDescriptor:
		return "update"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EngineConfig sizes one transfer engine.
type EngineConfig struct {
	// BurstBytes is the fixed transport transaction size. It must be a
	// multiple of the transport word size for the configured channel count.
	BurstBytes int
	Channels   int
	Width      int
}

// Engine executes descriptor-driven bursts in one direction. It runs
// entirely in the transport-domain task; the only cross-domain state it
// touches is the elastic buffer. Enable and fault flags are atomics because
// the host side flips them from outside the task.
type Engine struct {
	dir  Direction
	mem  Memory
	ring *Ring
	buf  *elastic.Buffer
	cfg  EngineConfig

	wordBytes  int
	burstWords int

	enabled atomic.Bool
	faulted atomic.Bool

	state          State
	cur            Descriptor
	moved          int
	completeSignal bool

	onComplete func(Direction)
	logger     *slog.Logger
}

// NewEngine wires an engine to its ring and elastic buffer. onComplete is the
// edge-triggered completion signal, invoked once per interrupt-flagged
// descriptor; it runs on the transport task and must not block.
func NewEngine(dir Direction, mem Memory, ring *Ring, buf *elastic.Buffer, cfg EngineConfig, logger *slog.Logger, onComplete func(Direction)) (*Engine, error) {
	wordBytes := audio.WordBytes(cfg.Channels)
	if cfg.Channels <= 0 || cfg.Channels > audio.MaxChannels {
		return nil, fmt.Errorf("channel count %d out of range", cfg.Channels)
	}
	if cfg.BurstBytes <= 0 || cfg.BurstBytes%wordBytes != 0 {
		return nil, fmt.Errorf("burst of %d bytes is not a multiple of the %d-byte transport word", cfg.BurstBytes, wordBytes)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		dir:        dir,
		mem:        mem,
		ring:       ring,
		buf:        buf,
		cfg:        cfg,
		wordBytes:  wordBytes,
		burstWords: cfg.BurstBytes / wordBytes,
		onComplete: onComplete,
		logger:     logger.With("engine", dir.String()),
	}, nil
}

// Ring returns the descriptor ring this engine owns.
func (e *Engine) Ring() *Ring { return e.ring }

// State returns the current state machine position.
func (e *Engine) State() State { return e.state }

// SetEnabled arms or disarms the direction. Disabling never cancels an
// in-flight burst; it only prevents the next idle-to-fetch transition.
func (e *Engine) SetEnabled(v bool) { e.enabled.Store(v) }

// Enabled reports whether the direction is armed.
func (e *Engine) Enabled() bool { return e.enabled.Load() }

// Fault records an external DMA error. The engine stops making progress
// until it is disabled and Reset is called; the faulted burst is never
// retried automatically.
func (e *Engine) Fault() { e.faulted.Store(true) }

// Faulted reports whether the engine is stopped on a DMA error.
func (e *Engine) Faulted() bool { return e.faulted.Load() }

// CompleteAsserted reports the level of the held completion signal.
func (e *Engine) CompleteAsserted() bool { return e.completeSignal }

// Reset returns the engine to Idle, clears the fault latch and re-arms the
// ring. The direction must be disabled first.
func (e *Engine) Reset() error {
	if e.enabled.Load() {
		return fmt.Errorf("%s engine must be disabled before reset", e.dir)
	}
	e.state = StateIdle
	e.moved = 0
	e.completeSignal = false
	e.faulted.Store(false)
	e.ring.Reset()
	return nil
}

// Step advances the state machine by at most one transition. It returns
// whether any progress was made; false means the engine is waiting on an
// availability condition (buffer space, enable) and the caller may idle.
// A returned error marks the engine faulted.
func (e *Engine) Step() (bool, error) {
	if e.faulted.Load() {
		return false, nil
	}

	switch e.state {
	case StateIdle:
		if !e.enabled.Load() {
			return false, nil
		}
		if !e.burstAbsorbable() {
			return false, nil
		}
		e.state = StateFetchDescriptor
		return true, nil

	case StateFetchDescriptor:
		d, err := e.ring.Fetch()
		if err != nil {
			return false, e.fault(err)
		}
		if d.Complete {
			// Stale descriptor from a prior pass: nothing left to do
			// until software resets the ring.
			e.cur = d
			e.enterComplete()
			return true, nil
		}
		e.cur = d
		e.moved = 0
		e.state = StateMoveData
		return true, nil

	case StateMoveData:
		// One burst per activation. Descriptors longer than a burst stay
		// in MoveData until the full length has moved, re-checking buffer
		// availability before each burst.
		burst := e.nextBurst()
		if e.moved > 0 && !e.wordsAbsorbable(burst/e.wordBytes) {
			return false, nil
		}
		if err := e.moveBurst(burst); err != nil {
			return false, e.fault(err)
		}
		e.moved += burst
		if e.moved < int(e.cur.Length) {
			return true, nil
		}
		e.state = StateUpdateDescriptor
		return true, nil

	case StateUpdateDescriptor:
		if err := e.ring.MarkComplete(e.cur, e.moved); err != nil {
			return false, e.fault(err)
		}
		if e.cur.Flags&FlagInterrupt != 0 && e.onComplete != nil {
			e.onComplete(e.dir)
		}
		if err := e.ring.Advance(e.cur); err != nil {
			return false, e.fault(err)
		}
		if e.cur.Flags&FlagLast != 0 {
			e.enterComplete()
		} else {
			e.state = StateIdle
		}
		return true, nil

	case StateComplete:
		// Held until software re-arms the direction.
		if e.enabled.Load() {
			return false, nil
		}
		e.completeSignal = false
		e.state = StateIdle
		return true, nil
	}
	return false, nil
}

func (e *Engine) enterComplete() {
	e.completeSignal = true
	e.state = StateComplete
	e.logger.Debug("chain complete", "index", e.ring.CurrentIndex(), "bytes", e.ring.BytesProcessed())
}

func (e *Engine) burstAbsorbable() bool {
	return e.wordsAbsorbable(e.burstWords)
}

func (e *Engine) wordsAbsorbable(words int) bool {
	if e.dir == Playback {
		return e.buf.Free() >= words
	}
	return e.buf.Len() >= words
}

// nextBurst returns the size of the next transfer for the current
// descriptor: a full burst, or the remaining tail.
func (e *Engine) nextBurst() int {
	remaining := int(e.cur.Length) - e.moved
	if remaining > e.cfg.BurstBytes {
		return e.cfg.BurstBytes
	}
	return remaining
}

// moveBurst transfers one burst at the current descriptor offset, one
// transport word per frame.
func (e *Engine) moveBurst(burst int) error {
	words := burst / e.wordBytes
	addr := e.cur.Address + uint64(e.moved)
	chunk := make([]byte, burst)

	if e.dir == Playback {
		if err := e.mem.ReadAt(addr, chunk); err != nil {
			return fmt.Errorf("burst read at %#x: %w", addr, err)
		}
		for w := 0; w < words; w++ {
			f := audio.UnpackWord(chunk[w*e.wordBytes:], e.cfg.Channels, e.cfg.Width)
			e.buf.Push(f)
		}
		return nil
	}

	for w := 0; w < words; w++ {
		f, ok := e.buf.Pop()
		if !ok {
			// Availability is checked before every burst and this engine
			// is the only consumer, so the buffer cannot drain underneath us.
			return fmt.Errorf("capture burst starved at word %d", w)
		}
		audio.PackWord(chunk[w*e.wordBytes:], f, e.cfg.Channels, e.cfg.Width)
	}
	if err := e.mem.WriteAt(addr, chunk); err != nil {
		return fmt.Errorf("burst write at %#x: %w", addr, err)
	}
	return nil
}

func (e *Engine) fault(err error) error {
	e.faulted.Store(true)
	e.logger.Error("dma error", "state", e.state.String(), "error", err)
	return err
}
