// Package audio defines the sample, format and clock vocabulary shared by the
// transport-domain and audio-domain halves of the card.
package audio

import "fmt"

// Format selects the transport framing the card serializes to.
type Format uint32

const (
	FormatI2S Format = iota
	FormatTDM
	FormatDSD
)

func (f Format) String() string {
	switch f {
	case FormatI2S:
		return "i2s"
	case FormatTDM:
		return "tdm"
	case FormatDSD:
		return "dsd"
	default:
		return fmt.Sprintf("format(%d)", uint32(f))
	}
}

// ParseFormat maps a config string to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "i2s", "":
		return FormatI2S, nil
	case "tdm":
		return FormatTDM, nil
	case "dsd":
		return FormatDSD, nil
	default:
		return 0, fmt.Errorf("unknown format %q", s)
	}
}

// DSDMode selects the DSD bit-rate variant.
type DSDMode uint32

const (
	DSD64 DSDMode = iota
	DSD128
	DSD256
)

// BitClockDivider returns the fixed divider applied to the DSD256-rate base
// clock for this mode. Higher-rate modes run with smaller dividers.
func (m DSDMode) BitClockDivider() int {
	switch m {
	case DSD256:
		return 1
	case DSD128:
		return 2
	default:
		return 4
	}
}

// BitRate returns the DSD bitstream rate per channel in bits/s.
func (m DSDMode) BitRate() int {
	switch m {
	case DSD256:
		return 44100 * 256
	case DSD128:
		return 44100 * 128
	default:
		return 44100 * 64
	}
}

func (m DSDMode) String() string {
	switch m {
	case DSD64:
		return "dsd64"
	case DSD128:
		return "dsd128"
	case DSD256:
		return "dsd256"
	default:
		return fmt.Sprintf("dsdmode(%d)", uint32(m))
	}
}

// RateFamily is the base sample-rate family the clock generator multiplies.
type RateFamily uint32

const (
	Family44k1 RateFamily = iota // 44100 Hz base
	Family48k                    // 48000 Hz base
)

// BaseRate returns the family base rate in Hz.
func (f RateFamily) BaseRate() uint32 {
	if f == Family48k {
		return 48000
	}
	return 44100
}

// RateFor returns the sample rate for a family and multiplier, or an error if
// the multiplier is outside the supported 1x/2x/4x set.
func RateFor(family RateFamily, multiplier uint32) (uint32, error) {
	switch multiplier {
	case 1, 2, 4:
		return family.BaseRate() * multiplier, nil
	default:
		return 0, fmt.Errorf("unsupported rate multiplier %d", multiplier)
	}
}

// SplitRate decomposes a sample rate into family and multiplier the way the
// original register interface encodes it.
func SplitRate(rate uint32) (RateFamily, uint32, error) {
	family := Family48k
	if rate%44100 == 0 {
		family = Family44k1
	}
	base := family.BaseRate()
	if base == 0 || rate%base != 0 {
		return 0, 0, fmt.Errorf("rate %d is not in the 44.1k or 48k family", rate)
	}
	multi := rate / base
	switch multi {
	case 1, 2, 4:
		return family, multi, nil
	default:
		return 0, 0, fmt.Errorf("rate %d needs unsupported multiplier %d", rate, multi)
	}
}

// ClockSource selects which reference oscillator feeds the clock generator.
type ClockSource uint32

const (
	ClockAuto ClockSource = iota
	Clock44k1
	Clock48k
)
