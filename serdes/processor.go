// Package serdes is the audio-domain frame processor: it serializes sample
// frames into I2S, TDM or DSD bit streams on the bit clock and reassembles
// incoming bit streams into frames.
//
// Bit order is most-significant-bit first within each slot, samples
// left-justified in their slot. Channel 0 is serialized first: during the
// low half of the word-select signal for I2S, aligned to the frame-sync
// assertion for TDM. DSD drives one data line per channel at the bit rate
// with no frame signal; each frame slot carries 32 bits of that channel's
// bitstream.
package serdes

import (
	"fmt"

	"github.com/auricle-dev/auricle/audio"
)

// dsdChunkBits is how many DSD bitstream bits one frame slot carries.
const dsdChunkBits = 32

// Config is the frame geometry the processor runs with.
type Config struct {
	Format      audio.Format
	Slots       int // channel count (I2S is always 2) or TDM slot count
	SlotWidth   int // bits per slot on the wire
	SampleWidth int // valid sample bits, left-justified in the slot
	DSDMode     audio.DSDMode
	Master      bool
}

// Validate rejects geometries the hardware cannot clock.
func (c Config) Validate() error {
	if c.Format == audio.FormatDSD {
		if c.Slots <= 0 || c.Slots > audio.MaxChannels {
			return fmt.Errorf("dsd channel count %d out of range", c.Slots)
		}
		return nil
	}
	if c.Format == audio.FormatI2S && c.Slots != 2 {
		return fmt.Errorf("i2s requires exactly 2 channels, got %d", c.Slots)
	}
	if c.Slots <= 0 || c.Slots > audio.MaxChannels {
		return fmt.Errorf("slot count %d out of range", c.Slots)
	}
	switch c.SlotWidth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("slot width %d not supported", c.SlotWidth)
	}
	if c.SampleWidth <= 0 || c.SampleWidth > c.SlotWidth {
		return fmt.Errorf("sample width %d does not fit slot width %d", c.SampleWidth, c.SlotWidth)
	}
	if _, err := audio.BitClockDivider(c.Format, c.Slots, c.SlotWidth, c.DSDMode); err != nil {
		return err
	}
	return nil
}

// FrameBits returns the number of bit-clock periods per frame.
func (c Config) FrameBits() int {
	if c.Format == audio.FormatDSD {
		return dsdChunkBits
	}
	return c.Slots * c.SlotWidth
}

// Output is the transport-side pin state for one bit-clock period.
type Output struct {
	Data       bool                    // serial data (I2S/TDM)
	DSD        [audio.MaxChannels]bool // per-channel DSD data lines
	WordSelect bool                    // I2S word select level, high = channel 1
	FrameSync  bool                    // TDM frame sync, asserted for slot 0 bit 0
	Slot       int                     // TDM slot currently on the wire
}

// Serializer shifts loaded frames out one bit-clock period at a time.
type Serializer struct {
	cfg   Config
	frame audio.Frame
	slot  int
	bit   int // counts down from SlotWidth-1 (or dsdChunkBits-1)
}

// NewSerializer creates a serializer for a validated config.
func NewSerializer(cfg Config) (*Serializer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Serializer{cfg: cfg}
	s.rewind()
	return s, nil
}

// Load latches the next frame to shift out. Call at a frame boundary; loading
// mid-frame restarts the frame.
func (s *Serializer) Load(f audio.Frame) {
	mask := audio.SampleMask(s.cfg.SampleWidth)
	if s.cfg.Format == audio.FormatDSD {
		mask = audio.SampleMask(dsdChunkBits)
	}
	for ch := 0; ch < s.cfg.Slots; ch++ {
		s.frame.Slots[ch] = f.Slots[ch] & mask
	}
	s.rewind()
}

func (s *Serializer) rewind() {
	s.slot = 0
	if s.cfg.Format == audio.FormatDSD {
		s.bit = dsdChunkBits - 1
	} else {
		s.bit = s.cfg.SlotWidth - 1
	}
}

// Next emits the pin state for one bit-clock period and advances. The second
// return is true when this period was the last of the frame; the caller
// should Load the next frame before the following call.
func (s *Serializer) Next() (Output, bool) {
	if s.cfg.Format == audio.FormatDSD {
		return s.nextDSD()
	}

	var out Output
	out.Slot = s.slot
	out.WordSelect = s.slot == 1 && s.cfg.Format == audio.FormatI2S
	if s.cfg.Format == audio.FormatTDM {
		out.FrameSync = s.slot == 0 && s.bit == s.cfg.SlotWidth-1
	}
	field := s.frame.Slots[s.slot] << uint(s.cfg.SlotWidth-s.cfg.SampleWidth)
	out.Data = field&(1<<uint(s.bit)) != 0

	last := s.advance(s.cfg.SlotWidth)
	return out, last
}

func (s *Serializer) nextDSD() (Output, bool) {
	var out Output
	for ch := 0; ch < s.cfg.Slots; ch++ {
		out.DSD[ch] = s.frame.Slots[ch]&(1<<uint(s.bit)) != 0
	}
	out.Slot = 0
	last := s.bit == 0
	if last {
		s.bit = dsdChunkBits - 1
	} else {
		s.bit--
	}
	return out, last
}

func (s *Serializer) advance(width int) bool {
	if s.bit > 0 {
		s.bit--
		return false
	}
	s.bit = width - 1
	s.slot++
	if s.slot >= s.cfg.Slots {
		s.slot = 0
		return true
	}
	return false
}

// Deserializer reassembles incoming pin states into frames: one shift
// register per channel plus a bit-position counter, the mirror of the
// serializer.
type Deserializer struct {
	cfg  Config
	acc  audio.Frame
	slot int
	bit  int
}

// NewDeserializer creates a deserializer for a validated config.
func NewDeserializer(cfg Config) (*Deserializer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Deserializer{cfg: cfg}
	d.reset()
	return d, nil
}

func (d *Deserializer) reset() {
	d.acc = audio.Frame{}
	d.slot = 0
	if d.cfg.Format == audio.FormatDSD {
		d.bit = dsdChunkBits - 1
	} else {
		d.bit = d.cfg.SlotWidth - 1
	}
}

// Push consumes one bit-clock period of pin state. When the bit counter
// rolls over it publishes the completed frame.
func (d *Deserializer) Push(o Output) (audio.Frame, bool) {
	if d.cfg.Format == audio.FormatDSD {
		return d.pushDSD(o)
	}

	if o.Data {
		d.acc.Slots[d.slot] |= 1 << uint(d.bit)
	}
	if d.bit > 0 {
		d.bit--
		return audio.Frame{}, false
	}
	d.bit = d.cfg.SlotWidth - 1
	d.slot++
	if d.slot < d.cfg.Slots {
		return audio.Frame{}, false
	}

	out := audio.Frame{}
	shift := uint(d.cfg.SlotWidth - d.cfg.SampleWidth)
	for ch := 0; ch < d.cfg.Slots; ch++ {
		out.Slots[ch] = d.acc.Slots[ch] >> shift
	}
	d.reset()
	return out, true
}

func (d *Deserializer) pushDSD(o Output) (audio.Frame, bool) {
	for ch := 0; ch < d.cfg.Slots; ch++ {
		if o.DSD[ch] {
			d.acc.Slots[ch] |= 1 << uint(d.bit)
		}
	}
	if d.bit > 0 {
		d.bit--
		return audio.Frame{}, false
	}
	out := d.acc
	d.reset()
	return out, true
}
