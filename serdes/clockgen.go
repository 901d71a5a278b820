package serdes

import (
	"github.com/auricle-dev/auricle/audio"
)

// LockDelay is how many master-clock ticks the generated clock must run
// after a reconfiguration before the lock flag asserts.
const LockDelay = 64

// ClockGen derives the bit clock from the master clock in master mode and
// tracks the lock state. Slave-mode tracking of an external clock is outside
// this core; a slave configuration still generates from the local divider.
type ClockGen struct {
	div     int
	rate    uint32
	counter int
	settle  int
}

// NewClockGen builds a generator for the given geometry and rate selection.
func NewClockGen(cfg Config, family audio.RateFamily, multiplier uint32) (*ClockGen, error) {
	div, err := audio.BitClockDivider(cfg.Format, cfg.Slots, cfg.SlotWidth, cfg.DSDMode)
	if err != nil {
		return nil, err
	}
	var rate uint32
	if cfg.Format == audio.FormatDSD {
		rate = uint32(cfg.DSDMode.BitRate() / dsdChunkBits)
	} else {
		rate, err = audio.RateFor(family, multiplier)
		if err != nil {
			return nil, err
		}
	}
	return &ClockGen{div: div, rate: rate, settle: LockDelay}, nil
}

// Divider returns the active master-to-bit clock divider.
func (g *ClockGen) Divider() int { return g.div }

// ActualRate returns the word-clock rate the generator produces, in Hz. For
// DSD this is the 32-bit chunk rate.
func (g *ClockGen) ActualRate() uint32 { return g.rate }

// Tick advances one master-clock period and reports whether a bit-clock
// edge fell in it.
func (g *ClockGen) Tick() bool {
	if g.settle > 0 {
		g.settle--
	}
	g.counter++
	if g.counter >= g.div {
		g.counter = 0
		return true
	}
	return false
}

// Locked reports whether the clock has stabilized since the last
// reconfiguration.
func (g *ClockGen) Locked() bool { return g.settle == 0 }

// Unlock restarts the settle countdown, as a reconfiguration does.
func (g *ClockGen) Unlock() {
	g.settle = LockDelay
	g.counter = 0
}
