package regfile_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/auricle-dev/auricle/card"
	"github.com/auricle-dev/auricle/dma"
	"github.com/auricle-dev/auricle/hostmem"
	"github.com/auricle-dev/auricle/regfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegFile(t *testing.T) (*regfile.RegisterFile, *card.Card, *hostmem.Memory) {
	t.Helper()
	mem := hostmem.New(1 << 20)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := card.New(mem, card.DefaultParams(), logger)
	require.NoError(t, err)
	c.SetLine(card.Loopback{})
	return regfile.New(c, logger), c, mem
}

func write(t *testing.T, r *regfile.RegisterFile, off, v uint32) {
	t.Helper()
	require.NoError(t, r.Write32(off, v))
}

func read(t *testing.T, r *regfile.RegisterFile, off uint32) uint32 {
	t.Helper()
	v, err := r.Read32(off)
	require.NoError(t, err)
	return v
}

// Programs a playback stream through the register window in driver order:
// format, rate, ring geometry, interrupt enable, then the enable bit.
func TestPlaybackStreamViaRegisters(t *testing.T) {
	r, c, mem := newRegFile(t)
	require.NoError(t, dma.Provision(mem, 0x100, 0x10000, 4, 512))

	write(t, r, regfile.RegCtrlFormat, 24<<8|(2-1))
	write(t, r, regfile.RegCtrlSampleFamily, 1<<31) // 48 kHz family, 1x
	write(t, r, regfile.RegCtrlSampleMulti, 1)

	write(t, r, regfile.RegDMAPBDescBaseLo, 0x100)
	write(t, r, regfile.RegDMAPBDescBaseHi, 0)
	write(t, r, regfile.RegDMAPBDescCount, 4)
	write(t, r, regfile.RegDMAPBSize, 512)
	write(t, r, regfile.RegDMAPBIRQEn, 1)
	write(t, r, regfile.RegCtrlPBEnable, 1)

	for i := 0; i < 200; i++ {
		c.TransportStep()
	}

	assert.Equal(t, uint32(0), read(t, r, regfile.RegDMAPBCurrent))
	assert.Equal(t, uint64(2), c.IRQCount(dma.Playback))
	assert.Equal(t, uint64(2048), c.Status().PlaybackBytes)

	// The staged bank reads back as written.
	assert.Equal(t, uint32(4), read(t, r, regfile.RegDMAPBDescCount))
	assert.Equal(t, uint32(512), read(t, r, regfile.RegDMAPBSize))
}

// A driver-typical configuration uses periods larger than the bus burst:
// the window must deliver the whole period per descriptor, not one burst.
func TestPlaybackMultiBurstPeriodViaRegisters(t *testing.T) {
	r, c, mem := newRegFile(t)
	require.NoError(t, dma.Provision(mem, 0x100, 0x10000, 4, 1024))

	write(t, r, regfile.RegDMAPBDescBaseLo, 0x100)
	write(t, r, regfile.RegDMAPBDescCount, 4)
	write(t, r, regfile.RegDMAPBSize, 1024)
	write(t, r, regfile.RegDMAPBIRQEn, 1)
	write(t, r, regfile.RegCtrlPBEnable, 1)

	for i := 0; i < 200; i++ {
		c.TransportStep()
	}

	assert.Equal(t, uint32(0), read(t, r, regfile.RegDMAPBCurrent))
	assert.Equal(t, uint64(2), c.IRQCount(dma.Playback))
	assert.Equal(t, uint64(4096), c.Status().PlaybackBytes)
}

func TestEnableRegistersReadBack(t *testing.T) {
	r, _, mem := newRegFile(t)
	require.NoError(t, dma.Provision(mem, 0x100, 0x10000, 2, 512))

	assert.Equal(t, uint32(0), read(t, r, regfile.RegCtrlPBEnable))
	assert.Equal(t, uint32(0), read(t, r, regfile.RegCtrlCapEnable))

	write(t, r, regfile.RegDMAPBDescBaseLo, 0x100)
	write(t, r, regfile.RegDMAPBDescCount, 2)
	write(t, r, regfile.RegDMAPBSize, 512)
	write(t, r, regfile.RegCtrlPBEnable, 1)
	assert.Equal(t, uint32(1), read(t, r, regfile.RegCtrlPBEnable))

	write(t, r, regfile.RegCtrlPBEnable, 0)
	assert.Equal(t, uint32(0), read(t, r, regfile.RegCtrlPBEnable))

	// A rejected enable leaves the readback untouched.
	write(t, r, regfile.RegDMACapDescBaseLo, 0x100)
	write(t, r, regfile.RegDMACapDescCount, 2)
	write(t, r, regfile.RegDMACapSize, 768)
	require.Error(t, r.Write32(regfile.RegCtrlCapEnable, 1))
	assert.Equal(t, uint32(0), read(t, r, regfile.RegCtrlCapEnable))
}

func TestStatusRegisters(t *testing.T) {
	r, c, mem := newRegFile(t)
	require.NoError(t, dma.Provision(mem, 0x100, 0x10000, 2, 512))

	write(t, r, regfile.RegDMAPBDescBaseLo, 0x100)
	write(t, r, regfile.RegDMAPBDescCount, 2)
	write(t, r, regfile.RegDMAPBSize, 512)
	write(t, r, regfile.RegCtrlPBEnable, 1)

	// Audio domain consumes with the transport task never delivering.
	for i := 0; i < 32; i++ {
		c.AudioStep()
	}
	for i := 0; i < 3; i++ {
		c.TransportStep()
	}

	assert.Equal(t, uint32(1), read(t, r, regfile.RegStatusLocked))
	assert.Equal(t, uint32(48000), read(t, r, regfile.RegStatusActualRate))
	underruns := read(t, r, regfile.RegStatusPBUnderrun)
	assert.Greater(t, underruns, uint32(0))

	// Write-1-to-clear.
	write(t, r, regfile.RegStatusPBUnderrun, 0xFFFFFFFF)
	assert.Equal(t, uint32(0), read(t, r, regfile.RegStatusPBUnderrun))

	c.InjectDMAError(dma.Playback)
	assert.Equal(t, uint32(1), read(t, r, regfile.RegStatusDMAError))
	write(t, r, regfile.RegStatusDMAError, 0xFFFFFFFF)
	assert.Equal(t, uint32(0), read(t, r, regfile.RegStatusDMAError))
}

// DSD streams report the 32-bit chunk rate, the nominal rate of a DSD_U32
// host stream: DSD64 is 2822400 bits/s per channel, 88200 chunks/s.
func TestDSDActualRateRegister(t *testing.T) {
	r, c, _ := newRegFile(t)

	write(t, r, regfile.RegCtrlFormat, 1<<31|24<<8|(2-1))
	write(t, r, regfile.RegCtrlDSDMode, 0) // DSD64

	for i := 0; i < 4; i++ {
		c.AudioStep()
	}
	for i := 0; i < 3; i++ {
		c.TransportStep()
	}

	assert.Equal(t, uint32(1), read(t, r, regfile.RegStatusLocked))
	assert.Equal(t, uint32(88200), read(t, r, regfile.RegStatusActualRate))
}

func TestFormatErrorCounter(t *testing.T) {
	r, _, _ := newRegFile(t)

	// TDM with zero slots cannot be clocked.
	write(t, r, regfile.RegCtrlTDM, 1)
	write(t, r, regfile.RegCtrlTDMSlots, 0)
	assert.Equal(t, uint32(1), read(t, r, regfile.RegStatusFormatError))

	write(t, r, regfile.RegStatusFormatError, 1)
	assert.Equal(t, uint32(0), read(t, r, regfile.RegStatusFormatError))

	// A valid TDM geometry clears the path again.
	write(t, r, regfile.RegCtrlTDMSlots, 8)
	assert.Equal(t, uint32(0), read(t, r, regfile.RegStatusFormatError))
}

func TestRingProgrammingRejected(t *testing.T) {
	r, _, _ := newRegFile(t)

	write(t, r, regfile.RegDMAPBDescBaseLo, 0x100)
	write(t, r, regfile.RegDMAPBDescCount, 2)
	write(t, r, regfile.RegDMAPBSize, 768) // not a burst multiple
	require.Error(t, r.Write32(regfile.RegCtrlPBEnable, 1))
	assert.Equal(t, uint32(1), read(t, r, regfile.RegStatusFormatError))
}

func TestUnmappedRegister(t *testing.T) {
	r, _, _ := newRegFile(t)
	_, err := r.Read32(0xFFC)
	require.Error(t, err)
	require.Error(t, r.Write32(0xFFC, 1))
}

func TestResetRegister(t *testing.T) {
	r, c, mem := newRegFile(t)
	require.NoError(t, dma.Provision(mem, 0x100, 0x10000, 2, 512))

	write(t, r, regfile.RegCtrlFormat, 1<<31|24<<8|(2-1)) // DSD
	write(t, r, regfile.RegDMAPBDescBaseLo, 0x100)
	write(t, r, regfile.RegDMAPBDescCount, 2)
	write(t, r, regfile.RegDMAPBSize, 512)
	write(t, r, regfile.RegCtrlPBEnable, 1)

	write(t, r, regfile.RegCtrlReset, 1)

	assert.Equal(t, uint32(24<<8|1), read(t, r, regfile.RegCtrlFormat))
	assert.Equal(t, uint32(0), read(t, r, regfile.RegDMAPBDescCount))
	assert.Equal(t, uint32(0), read(t, r, regfile.RegStatusLocked))
	assert.Zero(t, c.Status().PlaybackBytes)
}
