// Package card assembles the virtual audio interface: the transport-domain
// task running the descriptor-ring transfer engines and the audio-domain
// task running the frame processor, joined only by the elastic buffers and
// the scalar synchronizer cells.
package card

import (
	"fmt"

	"github.com/auricle-dev/auricle/audio"
)

// Hardware capability limits, fixed at board design time.
const (
	DefaultBurstBytes = 512
	DefaultFIFOFrames = 1024
	MaxDescriptors    = 32
	MinPeriodBytes    = 512
	MaxPeriodBytes    = 32 * 1024
)

// Params are the construction-time hardware parameters of a card instance.
type Params struct {
	BurstBytes int `help:"Transport burst size in bytes" default:"512"`
	FIFOFrames int `help:"Elastic buffer depth in frames per direction" default:"1024"`
}

// DefaultParams returns the reference hardware sizing.
func DefaultParams() Params {
	return Params{BurstBytes: DefaultBurstBytes, FIFOFrames: DefaultFIFOFrames}
}

func (p Params) validate() error {
	if p.BurstBytes <= 0 {
		return fmt.Errorf("burst size %d must be positive", p.BurstBytes)
	}
	if p.FIFOFrames <= 0 {
		return fmt.Errorf("fifo depth %d must be positive", p.FIFOFrames)
	}
	return nil
}

// Geometry is the host-configured frame shape: channel/slot count and sample
// widths. It crosses to the audio domain scalar by scalar.
type Geometry struct {
	Channels    int
	SlotWidth   int
	SampleWidth int
}

// DefaultGeometry matches the power-on register defaults: stereo 24-bit
// samples in 32-bit slots.
func DefaultGeometry() Geometry {
	return Geometry{Channels: 2, SlotWidth: 32, SampleWidth: 24}
}

func (g Geometry) validate() error {
	if g.Channels <= 0 || g.Channels > audio.MaxChannels {
		return fmt.Errorf("channel count %d out of range", g.Channels)
	}
	switch g.SlotWidth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("slot width %d not supported", g.SlotWidth)
	}
	if g.SampleWidth <= 0 || g.SampleWidth > g.SlotWidth {
		return fmt.Errorf("sample width %d does not fit slot width %d", g.SampleWidth, g.SlotWidth)
	}
	return nil
}
