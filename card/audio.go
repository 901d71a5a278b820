package card

import (
	"log/slog"

	"github.com/auricle-dev/auricle/audio"
	"github.com/auricle-dev/auricle/serdes"
)

// AudioStep runs one frame period of the audio domain: it ticks the control
// synchronizers, applies any configuration that has crossed over, and if the
// clock generator is producing a stable clock it shifts one frame through
// the line. Exported so tests can drive the domain deterministically.
func (c *Card) AudioStep() {
	c.tickControlCells()

	cfg := serdes.Config{
		Format:      c.cFormat.Read(),
		Slots:       c.cChannels.Read(),
		SlotWidth:   c.cSlotW.Read(),
		SampleWidth: c.cSampW.Read(),
		DSDMode:     c.cDSD.Read(),
		Master:      c.cMaster.Read(),
	}
	family := c.cFamily.Read()
	multi := c.cMulti.Read()

	if !c.aud.valid || cfg != c.aud.cfg || family != c.aud.family || multi != c.aud.multi {
		c.reconfigure(cfg, family, multi)
	}
	if !c.aud.valid {
		c.sLocked.Publish(false)
		c.sRate.Publish(0)
		return
	}

	// The generator settles before the first frame after any change.
	wasLocked := c.aud.clk.Locked()
	for i := 0; i < serdes.LockDelay && !c.aud.clk.Locked(); i++ {
		c.aud.clk.Tick()
	}
	if !wasLocked && c.aud.clk.Locked() {
		c.logger.Debug("clock locked", "rate", c.aud.clk.ActualRate(), "divider", c.aud.clk.Divider())
	}
	c.sLocked.Publish(c.aud.clk.Locked())
	c.sRate.Publish(c.aud.clk.ActualRate())
	if !c.aud.clk.Locked() {
		return
	}

	playing := c.cPlayEn.Read()
	capturing := c.cCapEn.Read()
	if !playing && !capturing {
		return
	}

	out := c.aud.last
	if playing {
		if f, ok := c.pbBuf.Pop(); ok {
			out = f
			c.aud.last = f
		}
		// On underrun the previous frame repeats; the pop itself
		// already counted it.
	}
	c.aud.ser.Load(out)

	var captured audio.Frame
	var haveFrame bool
	for {
		pins, last := c.aud.ser.Next()
		in := c.line.Exchange(pins)
		if capturing {
			if f, done := c.aud.des.Push(in); done {
				captured = f
				haveFrame = true
			}
		}
		if last {
			break
		}
	}

	if haveFrame {
		c.cpBuf.Push(captured)
		// A rejected push is an overrun; the buffer counts it.
	}
	if playing && c.snk != nil {
		c.snk.WriteFrame(out, cfg.Slots, cfg.SampleWidth)
	}
}

func (c *Card) tickControlCells() {
	c.cFormat.Tick()
	c.cFamily.Tick()
	c.cMulti.Tick()
	c.cDSD.Tick()
	c.cMaster.Tick()
	c.cChannels.Tick()
	c.cSlotW.Tick()
	c.cSampW.Tick()
	c.cPlayEn.Tick()
	c.cCapEn.Tick()
}

// reconfigure rebuilds the frame processor and clock generator for a
// configuration that just crossed over. An invalid combination leaves the
// domain idle and unlocked until the host stages a valid one.
func (c *Card) reconfigure(cfg serdes.Config, family audio.RateFamily, multi uint32) {
	c.aud.cfg = cfg
	c.aud.family = family
	c.aud.multi = multi
	c.aud.valid = false
	c.aud.last = audio.Frame{}
	c.clockUnlock.Add(1)
	metricClockUnlocks.Inc()

	ser, err := serdes.NewSerializer(cfg)
	if err != nil {
		c.logger.Warn("rejecting audio configuration", slog.Any("error", err))
		return
	}
	des, err := serdes.NewDeserializer(cfg)
	if err != nil {
		c.logger.Warn("rejecting audio configuration", slog.Any("error", err))
		return
	}
	clk, err := serdes.NewClockGen(cfg, family, multi)
	if err != nil {
		c.logger.Warn("rejecting audio configuration", slog.Any("error", err))
		return
	}
	c.aud.ser = ser
	c.aud.des = des
	c.aud.clk = clk
	c.aud.valid = true
	c.logger.Info("audio reconfigured",
		"format", cfg.Format.String(),
		"slots", cfg.Slots,
		"slot_width", cfg.SlotWidth,
		"sample_width", cfg.SampleWidth,
		"rate", clk.ActualRate())
}

// Snapshot is the host-visible status of the card at one instant.
type Snapshot struct {
	Locked        bool
	ActualRate    uint32
	PlaybackState string
	CaptureState  string
	PlaybackIndex int
	CaptureIndex  int
	PlaybackBytes uint64
	CaptureBytes  uint64
	BufferLevel   int
	CaptureLevel  int
	Underruns     uint64
	Overruns      uint64
	DMAErrors     uint64
	ClockUnlocks  uint64
}

// Status samples the card without disturbing either domain. Lock state and
// rate are the synchronized values last ticked by the transport task.
func (c *Card) Status() Snapshot {
	s := Snapshot{
		Locked:       c.statLocked.Load(),
		ActualRate:   c.statRate.Load(),
		BufferLevel:  c.pbBuf.Len(),
		CaptureLevel: c.cpBuf.Len(),
		Underruns:    c.pbBuf.Underruns(),
		Overruns:     c.cpBuf.Overruns(),
		DMAErrors:    c.dmaErrors.Load(),
		ClockUnlocks: c.clockUnlock.Load(),
	}
	if eng := c.engines[0].Load(); eng != nil {
		s.PlaybackState = eng.State().String()
		s.PlaybackIndex = eng.Ring().CurrentIndex()
		s.PlaybackBytes = eng.Ring().BytesProcessed()
	}
	if eng := c.engines[1].Load(); eng != nil {
		s.CaptureState = eng.State().String()
		s.CaptureIndex = eng.Ring().CurrentIndex()
		s.CaptureBytes = eng.Ring().BytesProcessed()
	}
	return s
}
