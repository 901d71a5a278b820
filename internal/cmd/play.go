package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auricle-dev/auricle/audio"
	"github.com/auricle-dev/auricle/card"
	"github.com/auricle-dev/auricle/dma"
	"github.com/auricle-dev/auricle/hostmem"
	"github.com/auricle-dev/auricle/sink"
)

// Play drives a sine tone through a local card instance: the tone is packed
// into a provisioned descriptor ring in host memory and plays from there,
// wrapping phase-continuously.
type Play struct {
	Freq     float64       `help:"Tone frequency in Hz, snapped to the ring length" default:"440"`
	Duration time.Duration `help:"How long to play (0 plays until interrupted)" default:"5s"`
	Rate     int           `help:"Sample rate in Hz" default:"48000" enum:"44100,48000,88200,96000,176400,192000"`
	Width    int           `help:"Sample width in bits" default:"24" enum:"16,24,32"`

	CardParams card.Params `embed:"" prefix:"card."`
}

const (
	playRingBase   = 0x100
	playBufBase    = 0x10000
	playRingCount  = 8
	playPeriodSize = 512
)

// Run is called by Kong when the play command is executed.
func (p *Play) Run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	family, mult, err := splitRate(p.Rate)
	if err != nil {
		return err
	}

	mem := hostmem.New(1 << 20)
	c, err := card.New(mem, p.CardParams, logger)
	if err != nil {
		return fmt.Errorf("create card: %w", err)
	}
	c.SetLine(card.Loopback{})

	out, err := sink.New(p.Rate, 2)
	if err != nil {
		return fmt.Errorf("open audio backend: %w", err)
	}
	if err := out.Start(); err != nil {
		return fmt.Errorf("start audio backend: %w", err)
	}
	defer out.Close()
	c.SetSink(out)

	if err := c.SetGeometry(card.Geometry{Channels: 2, SlotWidth: 32, SampleWidth: p.Width}); err != nil {
		return err
	}
	if err := c.SetClockControl(audio.ClockControl{
		Format:     audio.FormatI2S,
		Family:     family,
		Multiplier: mult,
		Master:     true,
	}); err != nil {
		return err
	}

	if err := dma.Provision(mem, playRingBase, playBufBase, playRingCount, playPeriodSize); err != nil {
		return err
	}
	effective := fillTone(mem, p.Freq, p.Rate, p.Width)
	logger.Info("playing tone", "freq", effective, "rate", p.Rate, "width", p.Width, "duration", p.Duration)

	if err := c.ProgramRing(dma.Playback, playRingBase, playRingCount, playPeriodSize); err != nil {
		return err
	}
	if err := c.EnableDirection(dma.Playback, true); err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Stop()

	if p.Duration > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(p.Duration):
		}
	} else {
		<-ctx.Done()
	}
	return nil
}

// splitRate decomposes a supported rate into its base family and multiplier.
func splitRate(rate int) (audio.RateFamily, uint32, error) {
	family := audio.Family48k
	base := 48000
	if rate%44100 == 0 {
		family = audio.Family44k1
		base = 44100
	}
	mult := rate / base
	switch mult {
	case 1, 2, 4:
		return family, uint32(mult), nil
	}
	return 0, 0, fmt.Errorf("unsupported sample rate %d", rate)
}

// fillTone writes a sine wave across the whole ring buffer. The frequency is
// snapped to a whole number of cycles per ring so replaying the wrapped ring
// stays phase-continuous. Returns the effective frequency.
func fillTone(mem *hostmem.Memory, freq float64, rate, width int) float64 {
	const channels = 2
	wordBytes := audio.WordBytes(channels)
	totalFrames := playRingCount * playPeriodSize / wordBytes

	cycles := math.Round(freq * float64(totalFrames) / float64(rate))
	if cycles < 1 {
		cycles = 1
	}
	effective := cycles * float64(rate) / float64(totalFrames)

	amp := 0.3 * float64(int64(1)<<(width-1)-1)
	mask := audio.SampleMask(width)
	word := make([]byte, wordBytes)
	for i := 0; i < totalFrames; i++ {
		s := int32(amp * math.Sin(2*math.Pi*cycles*float64(i)/float64(totalFrames)))
		var f audio.Frame
		for ch := 0; ch < channels; ch++ {
			f.Slots[ch] = uint32(s) & mask
		}
		audio.PackWord(word, f, channels, width)
		_ = mem.WriteAt(playBufBase+uint64(i*wordBytes), word)
	}
	return effective
}
