// Package regfile exposes the card through its memory-mapped register
// window: 32-bit reads and writes at fixed offsets, the surface a host
// driver programs. Control writes stage configuration, DMA writes stage
// ring geometry applied when a direction is enabled, and the sticky status
// registers are write-1-to-clear.
package regfile

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/auricle-dev/auricle/audio"
	"github.com/auricle-dev/auricle/card"
	"github.com/auricle-dev/auricle/dma"
)

// Control register offsets.
const (
	RegCtrlFormat       = 0x000
	RegCtrlSampleFamily = 0x004
	RegCtrlSampleMulti  = 0x008
	RegCtrlDSDMode      = 0x00C
	RegCtrlClockSrc     = 0x010
	RegCtrlMasterMode   = 0x014
	RegCtrlPBEnable     = 0x018
	RegCtrlCapEnable    = 0x01C
	RegCtrlReset        = 0x020

	RegCtrlMClkFreq    = 0x030
	RegCtrlTargetRate  = 0x034
	RegCtrlPBThresh    = 0x038
	RegCtrlCapThresh   = 0x03C
	RegCtrlBitDepth    = 0x040
	RegCtrlAlignment   = 0x044
	RegCtrlTDM         = 0x048
	RegCtrlTDMSlots    = 0x04C
	RegCtrlMClkDiv     = 0x050
	RegCtrlBClkDiv     = 0x054
	RegCtrlSyncTimeout = 0x058
	RegCtrlAutoRate    = 0x05C
)

// DMA register offsets, one bank per direction. The descriptor base is a
// 64-bit value split across two 32-bit registers, low word first.
const (
	RegDMAPBDescBaseLo = 0x100
	RegDMAPBDescBaseHi = 0x104
	RegDMAPBDescCount  = 0x108
	RegDMAPBCurrent    = 0x10C
	RegDMAPBSize       = 0x110
	RegDMAPBIRQEn      = 0x114
	RegDMAPBThresh     = 0x118

	RegDMACapDescBaseLo = 0x200
	RegDMACapDescBaseHi = 0x204
	RegDMACapDescCount  = 0x208
	RegDMACapCurrent    = 0x20C
	RegDMACapSize       = 0x210
	RegDMACapIRQEn      = 0x214
	RegDMACapThresh     = 0x218
)

// Status register offsets. The error registers are sticky counters cleared
// by writing ones.
//
// RegStatusActualRate reports the word-clock rate in Hz. For DSD streams
// that is the 32-bit chunk rate (DSD bit rate / 32, e.g. 88200 for DSD64),
// matching the nominal rate of a DSD_U32 host stream.
const (
	RegStatusLocked      = 0x300
	RegStatusActualRate  = 0x304
	RegStatusClockSrc    = 0x308
	RegStatusPBUnderrun  = 0x30C
	RegStatusCapOverrun  = 0x310
	RegStatusDMAError    = 0x314
	RegStatusFormatError = 0x318
)

// Format register layout: bits 0..7 channels-1, bits 8..15 physical sample
// width, bit 31 DSD stream.
const (
	fmtChannelMask = 0xFF
	fmtWidthShift  = 8
	fmtWidthMask   = 0xFF
	fmtDSDBit      = 1 << 31
)

// Family register layout: bits 8..15 multiplier-1, bit 31 selects the 48 kHz
// family.
const (
	famMultiShift = 8
	famMultiMask  = 0xFF
	fam48kBit     = 1 << 31
)

// dmaBank is the staged ring programming for one direction.
type dmaBank struct {
	baseLo uint32
	baseHi uint32
	count  uint32
	size   uint32
	irqEn  uint32
	thresh uint32
	dirty  bool
}

func (b *dmaBank) base() uint64 {
	return uint64(b.baseHi)<<32 | uint64(b.baseLo)
}

// RegisterFile binds a card to the register window. All accesses are 32-bit
// and serialized; the hardware has a single register bus.
type RegisterFile struct {
	card   *card.Card
	logger *slog.Logger

	mu sync.Mutex

	// Staged control registers, read back as written.
	ctrl map[uint32]uint32

	banks [2]dmaBank

	// Write-1-to-clear baselines against the card's monotonic counters.
	underrunBase uint64
	overrunBase  uint64
	dmaErrBase   uint64
	formatErrs   uint32
}

// New binds a register file to a card.
func New(c *card.Card, logger *slog.Logger) *RegisterFile {
	if logger == nil {
		logger = slog.Default()
	}
	r := &RegisterFile{card: c, logger: logger}
	r.resetLocked()
	return r
}

func (r *RegisterFile) encodeFamily(ctrl audio.ClockControl) uint32 {
	v := (ctrl.Multiplier - 1) << famMultiShift
	if ctrl.Family == audio.Family48k {
		v |= fam48kBit
	}
	return v
}

// Read32 returns the register at offset.
func (r *RegisterFile) Read32(offset uint32) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch offset {
	case RegDMAPBDescBaseLo:
		return r.banks[dma.Playback].baseLo, nil
	case RegDMAPBDescBaseHi:
		return r.banks[dma.Playback].baseHi, nil
	case RegDMAPBDescCount:
		return r.banks[dma.Playback].count, nil
	case RegDMAPBSize:
		return r.banks[dma.Playback].size, nil
	case RegDMAPBIRQEn:
		return r.banks[dma.Playback].irqEn, nil
	case RegDMAPBThresh:
		return r.banks[dma.Playback].thresh, nil
	case RegDMACapDescBaseLo:
		return r.banks[dma.Capture].baseLo, nil
	case RegDMACapDescBaseHi:
		return r.banks[dma.Capture].baseHi, nil
	case RegDMACapDescCount:
		return r.banks[dma.Capture].count, nil
	case RegDMACapSize:
		return r.banks[dma.Capture].size, nil
	case RegDMACapIRQEn:
		return r.banks[dma.Capture].irqEn, nil
	case RegDMACapThresh:
		return r.banks[dma.Capture].thresh, nil

	case RegDMAPBCurrent, RegDMACapCurrent:
		dir := dma.Playback
		if offset == RegDMACapCurrent {
			dir = dma.Capture
		}
		if eng := r.card.Engine(dir); eng != nil {
			return uint32(eng.Ring().CurrentIndex()), nil
		}
		return 0, nil

	case RegStatusLocked:
		if r.card.Status().Locked {
			return 1, nil
		}
		return 0, nil
	case RegStatusActualRate:
		return r.card.Status().ActualRate, nil
	case RegStatusClockSrc:
		return uint32(r.card.ClockControl().Source), nil
	case RegStatusPBUnderrun:
		return uint32(r.card.Status().Underruns - r.underrunBase), nil
	case RegStatusCapOverrun:
		return uint32(r.card.Status().Overruns - r.overrunBase), nil
	case RegStatusDMAError:
		return uint32(r.card.Status().DMAErrors - r.dmaErrBase), nil
	case RegStatusFormatError:
		return r.formatErrs, nil
	}

	if v, ok := r.ctrl[offset]; ok {
		return v, nil
	}
	if r.isCtrlOffset(offset) {
		return 0, nil
	}
	return 0, fmt.Errorf("read of unmapped register %#x", offset)
}

// Write32 writes the register at offset. Side effects apply immediately the
// way the hardware's register bus does.
func (r *RegisterFile) Write32(offset, value uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch offset {
	case RegCtrlReset:
		if value != 0 {
			if err := r.card.SoftReset(); err != nil {
				return err
			}
			r.resetLocked()
		}
		return nil

	case RegCtrlPBEnable, RegCtrlCapEnable:
		dir := dma.Playback
		if offset == RegCtrlCapEnable {
			dir = dma.Capture
		}
		if err := r.setEnable(dir, value != 0); err != nil {
			return err
		}
		// Enables read back as last accepted value.
		if value != 0 {
			r.ctrl[offset] = 1
		} else {
			r.ctrl[offset] = 0
		}
		return nil

	case RegCtrlFormat, RegCtrlSampleFamily, RegCtrlSampleMulti,
		RegCtrlDSDMode, RegCtrlClockSrc, RegCtrlMasterMode,
		RegCtrlTDM, RegCtrlTDMSlots:
		r.ctrl[offset] = value
		r.applyAudio()
		return nil

	case RegCtrlMClkFreq, RegCtrlTargetRate, RegCtrlPBThresh,
		RegCtrlCapThresh, RegCtrlBitDepth, RegCtrlAlignment,
		RegCtrlMClkDiv, RegCtrlBClkDiv, RegCtrlSyncTimeout,
		RegCtrlAutoRate:
		// Advisory registers: stored and read back, no model behavior.
		r.ctrl[offset] = value
		return nil

	case RegDMAPBDescBaseLo:
		r.stage(dma.Playback, func(b *dmaBank) { b.baseLo = value })
		return nil
	case RegDMAPBDescBaseHi:
		r.stage(dma.Playback, func(b *dmaBank) { b.baseHi = value })
		return nil
	case RegDMAPBDescCount:
		r.stage(dma.Playback, func(b *dmaBank) { b.count = value })
		return nil
	case RegDMAPBSize:
		r.stage(dma.Playback, func(b *dmaBank) { b.size = value })
		return nil
	case RegDMAPBThresh:
		r.stage(dma.Playback, func(b *dmaBank) { b.thresh = value })
		return nil
	case RegDMAPBIRQEn:
		r.banks[dma.Playback].irqEn = value
		r.card.SetIRQEnabled(dma.Playback, value != 0)
		return nil

	case RegDMACapDescBaseLo:
		r.stage(dma.Capture, func(b *dmaBank) { b.baseLo = value })
		return nil
	case RegDMACapDescBaseHi:
		r.stage(dma.Capture, func(b *dmaBank) { b.baseHi = value })
		return nil
	case RegDMACapDescCount:
		r.stage(dma.Capture, func(b *dmaBank) { b.count = value })
		return nil
	case RegDMACapSize:
		r.stage(dma.Capture, func(b *dmaBank) { b.size = value })
		return nil
	case RegDMACapThresh:
		r.stage(dma.Capture, func(b *dmaBank) { b.thresh = value })
		return nil
	case RegDMACapIRQEn:
		r.banks[dma.Capture].irqEn = value
		r.card.SetIRQEnabled(dma.Capture, value != 0)
		return nil

	case RegStatusPBUnderrun:
		if value != 0 {
			r.underrunBase = r.card.Status().Underruns
		}
		return nil
	case RegStatusCapOverrun:
		if value != 0 {
			r.overrunBase = r.card.Status().Overruns
		}
		return nil
	case RegStatusDMAError:
		if value != 0 {
			r.dmaErrBase = r.card.Status().DMAErrors
		}
		return nil
	case RegStatusFormatError:
		if value != 0 {
			r.formatErrs = 0
		}
		return nil
	}

	return fmt.Errorf("write of unmapped register %#x", offset)
}

// resetLocked returns the register window itself to power-on values. Caller
// holds the mutex.
func (r *RegisterFile) resetLocked() {
	geo := r.card.Geometry()
	r.ctrl = map[uint32]uint32{
		RegCtrlFormat:      uint32(geo.SampleWidth)<<fmtWidthShift | uint32(geo.Channels-1),
		RegCtrlSampleMulti: 1,
		RegCtrlMasterMode:  1,
		RegCtrlTDMSlots:    8,
	}
	r.ctrl[RegCtrlSampleFamily] = r.encodeFamily(r.card.ClockControl())
	r.banks = [2]dmaBank{}
	r.underrunBase = 0
	r.overrunBase = 0
	r.dmaErrBase = 0
	r.formatErrs = 0
}

func (r *RegisterFile) isCtrlOffset(offset uint32) bool {
	switch offset {
	case RegCtrlFormat, RegCtrlSampleFamily, RegCtrlSampleMulti,
		RegCtrlDSDMode, RegCtrlClockSrc, RegCtrlMasterMode,
		RegCtrlPBEnable, RegCtrlCapEnable, RegCtrlReset,
		RegCtrlMClkFreq, RegCtrlTargetRate, RegCtrlPBThresh,
		RegCtrlCapThresh, RegCtrlBitDepth, RegCtrlAlignment,
		RegCtrlTDM, RegCtrlTDMSlots, RegCtrlMClkDiv, RegCtrlBClkDiv,
		RegCtrlSyncTimeout, RegCtrlAutoRate:
		return true
	}
	return false
}

func (r *RegisterFile) stage(dir dma.Direction, apply func(*dmaBank)) {
	apply(&r.banks[dir])
	r.banks[dir].dirty = true
}

// setEnable programs the staged ring on the first enable after the bank
// changed, then flips the direction.
func (r *RegisterFile) setEnable(dir dma.Direction, enable bool) error {
	if enable {
		b := &r.banks[dir]
		if b.dirty {
			if err := r.card.ProgramRing(dir, b.base(), int(b.count), b.size); err != nil {
				r.formatErrs++
				return fmt.Errorf("ring programming rejected: %w", err)
			}
			b.dirty = false
		}
	}
	return r.card.EnableDirection(dir, enable)
}

// applyAudio recomputes the staged audio configuration from the control
// registers and pushes it at the card. A combination the clocking cannot
// satisfy bumps the format-error counter and leaves the previous
// configuration in place.
func (r *RegisterFile) applyAudio() {
	fmtReg := r.ctrl[RegCtrlFormat]
	channels := int(fmtReg&fmtChannelMask) + 1
	width := int(fmtReg >> fmtWidthShift & fmtWidthMask)

	format := audio.FormatI2S
	slots := 2
	switch {
	case fmtReg&fmtDSDBit != 0:
		format = audio.FormatDSD
		slots = channels
	case r.ctrl[RegCtrlTDM] != 0:
		format = audio.FormatTDM
		slots = int(r.ctrl[RegCtrlTDMSlots])
	}

	famReg := r.ctrl[RegCtrlSampleFamily]
	family := audio.Family44k1
	if famReg&fam48kBit != 0 {
		family = audio.Family48k
	}
	multi := famReg >> famMultiShift & famMultiMask
	if m := r.ctrl[RegCtrlSampleMulti]; m != 0 {
		multi = m - 1
	}
	multi++

	ctrl := audio.ClockControl{
		Format:     format,
		Family:     family,
		Multiplier: multi,
		DSDMode:    audio.DSDMode(r.ctrl[RegCtrlDSDMode]),
		Source:     audio.ClockSource(r.ctrl[RegCtrlClockSrc]),
		Master:     r.ctrl[RegCtrlMasterMode] != 0,
	}
	geo := card.Geometry{Channels: slots, SlotWidth: 32, SampleWidth: width}

	if err := r.card.SetGeometry(geo); err != nil {
		r.formatErrs++
		r.logger.Warn("format register rejected", "error", err)
		return
	}
	if err := r.card.SetClockControl(ctrl); err != nil {
		r.formatErrs++
		r.logger.Warn("clock register rejected", "error", err)
		return
	}
}
