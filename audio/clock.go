package audio

import "fmt"

// MClkMultiple is the master-clock rate as a multiple of the word clock,
// fixed by the board oscillators.
const MClkMultiple = 256

// ClockControl is the host-written clock and format configuration. It is
// produced in the transport domain and crosses to the audio domain through
// the synchronizer cells, one scalar per field.
type ClockControl struct {
	Format     Format
	Family     RateFamily
	Multiplier uint32
	DSDMode    DSDMode
	Source     ClockSource
	Master     bool
}

// SampleRate returns the configured word-clock rate in Hz.
func (c ClockControl) SampleRate() uint32 {
	rate, err := RateFor(c.Family, c.Multiplier)
	if err != nil {
		return c.Family.BaseRate()
	}
	return rate
}

// ClockStatus is the audio-domain view reported back to the host: lock state,
// the measured rate and buffer telemetry. It crosses the synchronizers in the
// opposite direction from ClockControl.
type ClockStatus struct {
	Locked      bool
	ActualRate  uint32
	BufferLevel uint32
	Underrun    bool
	Overrun     bool
}

// BitClockDivider returns the master-clock divider producing the bit clock
// for the given format geometry.
//
// For I2S and TDM the bit clock is rate*slots*slotWidth, so the divider is
// MClkMultiple/(slots*slotWidth). DSD uses the fixed per-mode dividers and
// ignores the frame geometry. An error means the geometry cannot be derived
// from the master clock, which configuration validation treats as fatal.
func BitClockDivider(format Format, slots, slotWidth int, mode DSDMode) (int, error) {
	if format == FormatDSD {
		return mode.BitClockDivider(), nil
	}
	frameBits := slots * slotWidth
	if frameBits <= 0 || frameBits > MClkMultiple {
		return 0, fmt.Errorf("frame of %d bits exceeds the %dx master clock", frameBits, MClkMultiple)
	}
	if MClkMultiple%frameBits != 0 {
		return 0, fmt.Errorf("frame of %d bits does not divide the %dx master clock", frameBits, MClkMultiple)
	}
	return MClkMultiple / frameBits, nil
}
