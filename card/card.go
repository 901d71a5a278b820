package card

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auricle-dev/auricle/audio"
	"github.com/auricle-dev/auricle/cdc"
	"github.com/auricle-dev/auricle/dma"
	"github.com/auricle-dev/auricle/elastic"
	"github.com/auricle-dev/auricle/serdes"
	"github.com/auricle-dev/auricle/sink"
)

// Line is the physical transport the card drives and samples: for every
// bit-clock period the card presents its output pin state and reads back the
// input pin state. Implementations must be cheap; Exchange runs on the audio
// task.
type Line interface {
	Exchange(out serdes.Output) serdes.Output
}

// Loopback wires the output pins straight back to the input pins, which
// makes full-duplex self-tests possible without external gear.
type Loopback struct{}

func (Loopback) Exchange(out serdes.Output) serdes.Output { return out }

// Silent drives nothing and reads all-zero input pins.
type Silent struct{}

func (Silent) Exchange(serdes.Output) serdes.Output { return serdes.Output{} }

// Card is one virtual audio interface. The host side (registers, control
// link) calls the exported methods; internally a transport-domain task runs
// the two transfer engines and an audio-domain task runs the frame
// processor. The tasks share nothing but the elastic buffers and the
// synchronizer cells.
type Card struct {
	params Params
	mem    dma.Memory
	logger *slog.Logger

	mu   sync.Mutex
	geo  Geometry
	ctrl audio.ClockControl

	// Control cells, transport domain to audio domain.
	cFormat   *cdc.Cell[audio.Format]
	cFamily   *cdc.Cell[audio.RateFamily]
	cMulti    *cdc.Cell[uint32]
	cDSD      *cdc.Cell[audio.DSDMode]
	cMaster   *cdc.Cell[bool]
	cChannels *cdc.Cell[int]
	cSlotW    *cdc.Cell[int]
	cSampW    *cdc.Cell[int]
	cPlayEn   *cdc.Cell[bool]
	cCapEn    *cdc.Cell[bool]

	// Status cells, audio domain to transport domain.
	sLocked *cdc.Cell[bool]
	sRate   *cdc.Cell[uint32]

	pbBuf *elastic.Buffer
	cpBuf *elastic.Buffer

	engines [2]atomic.Pointer[dma.Engine]

	irqHandler  atomic.Pointer[func(dma.Direction)]
	irqEnabled  [2]atomic.Bool
	irqCount    [2]atomic.Uint64
	dmaErrors   atomic.Uint64
	clockUnlock atomic.Uint64

	// Host-visible mirror of the status cells, written by the transport
	// task after each synchronizer tick.
	statLocked atomic.Bool
	statRate   atomic.Uint32

	line Line
	snk  sink.Output

	aud audioState

	// Metric baselines so monotonic device counters can feed counters.
	seenUnderruns uint64
	seenOverruns  uint64
	seenBytes     [2]uint64

	parent  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// audioState is private to the audio task.
type audioState struct {
	valid  bool
	cfg    serdes.Config
	family audio.RateFamily
	multi  uint32
	ser    *serdes.Serializer
	des    *serdes.Deserializer
	clk    *serdes.ClockGen
	last   audio.Frame
}

// New creates a card over the given host memory with power-on defaults:
// stereo I2S, 24-in-32 samples, 48 kHz, master mode, both directions
// disabled.
func New(mem dma.Memory, params Params, logger *slog.Logger) (*Card, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	geo := DefaultGeometry()
	ctrl := audio.ClockControl{
		Format:     audio.FormatI2S,
		Family:     audio.Family48k,
		Multiplier: 1,
		Master:     true,
	}

	c := &Card{
		params: params,
		mem:    mem,
		logger: logger,
		geo:    geo,
		ctrl:   ctrl,

		cFormat:   cdc.NewCell(cdc.MinDepth, ctrl.Format),
		cFamily:   cdc.NewCell(cdc.MinDepth, ctrl.Family),
		cMulti:    cdc.NewCell(cdc.MinDepth, ctrl.Multiplier),
		cDSD:      cdc.NewCell(cdc.MinDepth, ctrl.DSDMode),
		cMaster:   cdc.NewCell(cdc.MinDepth, ctrl.Master),
		cChannels: cdc.NewCell(cdc.MinDepth, geo.Channels),
		cSlotW:    cdc.NewCell(cdc.MinDepth, geo.SlotWidth),
		cSampW:    cdc.NewCell(cdc.MinDepth, geo.SampleWidth),
		cPlayEn:   cdc.NewCell(cdc.MinDepth, false),
		cCapEn:    cdc.NewCell(cdc.MinDepth, false),
		sLocked:   cdc.NewCell(cdc.MinDepth, false),
		sRate:     cdc.NewCell[uint32](cdc.MinDepth, 0),

		pbBuf: elastic.New(params.FIFOFrames),
		cpBuf: elastic.New(params.FIFOFrames),
		line:  Silent{},
	}
	return c, nil
}

// SetLine attaches the transport line. Call before Start.
func (c *Card) SetLine(l Line) {
	if l != nil {
		c.line = l
	}
}

// SetSink attaches a playback frame consumer. Call before Start.
func (c *Card) SetSink(s sink.Output) { c.snk = s }

// SetCompletionHandler installs the edge-triggered descriptor completion
// consumer. The handler runs on the transport task and must not block.
func (c *Card) SetCompletionHandler(h func(dma.Direction)) {
	if h == nil {
		c.irqHandler.Store(nil)
		return
	}
	c.irqHandler.Store(&h)
}

// SetIRQEnabled gates completion delivery per direction, matching the
// per-direction interrupt-enable registers.
func (c *Card) SetIRQEnabled(dir dma.Direction, v bool) {
	c.irqEnabled[dir].Store(v)
}

// IRQCount returns how many completion edges a direction has raised.
func (c *Card) IRQCount(dir dma.Direction) uint64 { return c.irqCount[dir].Load() }

// SetClockControl stages and publishes the clock/format configuration. The
// audio domain picks it up after the synchronizer latency, at the next frame
// boundary.
func (c *Card) SetClockControl(ctrl audio.ClockControl) error {
	switch ctrl.Multiplier {
	case 1, 2, 4:
	default:
		return fmt.Errorf("unsupported rate multiplier %d", ctrl.Multiplier)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctrl = ctrl
	c.cFormat.Publish(ctrl.Format)
	c.cFamily.Publish(ctrl.Family)
	c.cMulti.Publish(ctrl.Multiplier)
	c.cDSD.Publish(ctrl.DSDMode)
	c.cMaster.Publish(ctrl.Master)
	return nil
}

// ClockControl returns the staged host-side configuration.
func (c *Card) ClockControl() audio.ClockControl {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctrl
}

// SetGeometry stages and publishes the frame geometry. Rejected while either
// direction is enabled because the transfer engines' word size depends on it.
func (c *Card) SetGeometry(geo Geometry) error {
	if err := geo.validate(); err != nil {
		return err
	}
	for _, dir := range []dma.Direction{dma.Playback, dma.Capture} {
		if e := c.engines[dir].Load(); e != nil && e.Enabled() {
			return fmt.Errorf("cannot change geometry while %s is enabled", dir)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.geo = geo
	c.cChannels.Publish(geo.Channels)
	c.cSlotW.Publish(geo.SlotWidth)
	c.cSampW.Publish(geo.SampleWidth)
	return nil
}

// Geometry returns the staged frame geometry.
func (c *Card) Geometry() Geometry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.geo
}

// ProgramRing installs a descriptor ring for one direction. The direction
// must be disabled. Burst size must evenly divide the period size; invalid
// sizing is rejected here rather than guessed at runtime.
func (c *Card) ProgramRing(dir dma.Direction, base uint64, count int, periodBytes uint32) error {
	if e := c.engines[dir].Load(); e != nil && e.Enabled() {
		return fmt.Errorf("cannot reprogram %s ring while enabled", dir)
	}
	if count <= 0 || count > MaxDescriptors {
		return fmt.Errorf("descriptor count %d out of range 1..%d", count, MaxDescriptors)
	}
	if periodBytes < MinPeriodBytes || periodBytes > MaxPeriodBytes {
		return fmt.Errorf("period of %d bytes outside %d..%d", periodBytes, MinPeriodBytes, MaxPeriodBytes)
	}
	if int(periodBytes) < c.params.BurstBytes || int(periodBytes)%c.params.BurstBytes != 0 {
		return fmt.Errorf("burst size %d does not evenly divide period size %d", c.params.BurstBytes, periodBytes)
	}

	c.mu.Lock()
	geo := c.geo
	c.mu.Unlock()

	ring, err := dma.NewRing(c.mem, base, count)
	if err != nil {
		return err
	}
	buf := c.pbBuf
	if dir == dma.Capture {
		buf = c.cpBuf
	}
	eng, err := dma.NewEngine(dir, c.mem, ring, buf, dma.EngineConfig{
		BurstBytes: c.params.BurstBytes,
		Channels:   geo.Channels,
		Width:      geo.SampleWidth,
	}, c.logger, c.raiseIRQ)
	if err != nil {
		return err
	}
	c.engines[dir].Store(eng)
	c.logger.Info("ring programmed", "direction", dir.String(), "base", fmt.Sprintf("%#x", base), "descriptors", count, "period", periodBytes)
	return nil
}

// Engine returns the engine for a direction, or nil while unprogrammed.
func (c *Card) Engine(dir dma.Direction) *dma.Engine {
	return c.engines[dir].Load()
}

// EnableDirection arms or disarms a direction. Disabling does not cancel an
// in-flight burst.
func (c *Card) EnableDirection(dir dma.Direction, v bool) error {
	eng := c.engines[dir].Load()
	if eng == nil {
		return fmt.Errorf("%s ring not programmed", dir)
	}
	if v && eng.Faulted() {
		return fmt.Errorf("%s engine is faulted; reset the ring first", dir)
	}
	eng.SetEnabled(v)
	if dir == dma.Playback {
		c.cPlayEn.Publish(v)
	} else {
		c.cCapEn.Publish(v)
	}
	return nil
}

// ResetDirection disables a direction and clears its engine, ring and fault
// latch. This is the recovery path after a DMA error.
func (c *Card) ResetDirection(dir dma.Direction) error {
	eng := c.engines[dir].Load()
	if eng == nil {
		return nil
	}
	if err := c.EnableDirection(dir, false); err != nil {
		return err
	}
	return eng.Reset()
}

// InjectDMAError latches an external DMA fault on a direction. The engine
// stops until ResetDirection.
func (c *Card) InjectDMAError(dir dma.Direction) {
	if eng := c.engines[dir].Load(); eng != nil {
		eng.Fault()
	}
	c.dmaErrors.Add(1)
	metricDMAErrors.Inc()
}

func (c *Card) raiseIRQ(dir dma.Direction) {
	if !c.irqEnabled[dir].Load() {
		return
	}
	c.irqCount[dir].Add(1)
	metricCompletionIRQs.WithLabelValues(dir.String()).Inc()
	if h := c.irqHandler.Load(); h != nil {
		(*h)(dir)
	}
}

// Start launches the transport-domain and audio-domain tasks.
func (c *Card) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("card already running")
	}
	c.parent = ctx
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(2)
	go c.runTransport(runCtx)
	go c.runAudio(runCtx)
	c.logger.Info("card started")
	return nil
}

// Stop halts both tasks. A burst in flight completes first.
func (c *Card) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.logger.Info("card stopped")
}

// SoftReset drops both tasks, returns both engines to Idle with ring cursors
// at 0, drains the elastic buffers, reloads the synchronizer reset values
// and, if the card was running, restarts the tasks.
func (c *Card) SoftReset() error {
	wasRunning := c.running.Load()
	if wasRunning {
		c.Stop()
	}

	for _, dir := range []dma.Direction{dma.Playback, dma.Capture} {
		if eng := c.engines[dir].Load(); eng != nil {
			eng.SetEnabled(false)
			if err := eng.Reset(); err != nil {
				return err
			}
		}
	}
	c.pbBuf.Reset()
	c.cpBuf.Reset()
	for _, cell := range []interface{ Reset() }{
		c.cFormat, c.cFamily, c.cMulti, c.cDSD, c.cMaster,
		c.cChannels, c.cSlotW, c.cSampW, c.cPlayEn, c.cCapEn,
		c.sLocked, c.sRate,
	} {
		cell.Reset()
	}
	c.mu.Lock()
	c.geo = DefaultGeometry()
	c.ctrl = audio.ClockControl{Format: audio.FormatI2S, Family: audio.Family48k, Multiplier: 1, Master: true}
	c.mu.Unlock()
	c.aud = audioState{}
	c.statLocked.Store(false)
	c.statRate.Store(0)
	c.seenUnderruns = 0
	c.seenOverruns = 0
	c.seenBytes = [2]uint64{}
	c.logger.Info("soft reset")

	if wasRunning {
		return c.Start(c.parent)
	}
	return nil
}

// transportIdleDelay is how long the transport task sleeps when every engine
// is waiting on an availability condition.
const transportIdleDelay = 100 * time.Microsecond

func (c *Card) runTransport(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !c.TransportStep() {
			time.Sleep(transportIdleDelay)
		}
	}
}

func (c *Card) runAudio(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// One quantum: the number of frame periods in a tick at the
		// active rate.
		rate := c.statRate.Load()
		frames := int(rate / 1000)
		if frames < 1 {
			frames = 1
		}
		for i := 0; i < frames; i++ {
			c.AudioStep()
		}
	}
}

// TransportStep runs one scheduling round of the transport task: one state
// machine step per engine plus a status synchronizer tick. It reports
// whether any engine made progress. Exported so tests can drive the domain
// deterministically.
func (c *Card) TransportStep() bool {
	progress := false
	for _, dir := range []dma.Direction{dma.Playback, dma.Capture} {
		eng := c.engines[dir].Load()
		if eng == nil {
			continue
		}
		p, err := eng.Step()
		if err != nil {
			c.dmaErrors.Add(1)
			metricDMAErrors.Inc()
		}
		progress = progress || p
	}

	c.sLocked.Tick()
	c.sRate.Tick()
	c.statLocked.Store(c.sLocked.Read())
	c.statRate.Store(c.sRate.Read())

	c.publishTelemetry()
	return progress
}

func (c *Card) publishTelemetry() {
	if c.statLocked.Load() {
		metricClockLocked.Set(1)
	} else {
		metricClockLocked.Set(0)
	}
	metricBufferLevel.WithLabelValues("playback").Set(float64(c.pbBuf.Len()))
	metricBufferLevel.WithLabelValues("capture").Set(float64(c.cpBuf.Len()))
	for _, dir := range []dma.Direction{dma.Playback, dma.Capture} {
		eng := c.engines[dir].Load()
		if eng == nil {
			continue
		}
		if b := eng.Ring().BytesProcessed(); b > c.seenBytes[dir] {
			metricBytesProcessed.WithLabelValues(dir.String()).Add(float64(b - c.seenBytes[dir]))
			c.seenBytes[dir] = b
		}
	}
	if u := c.pbBuf.Underruns(); u > c.seenUnderruns {
		metricUnderruns.Add(float64(u - c.seenUnderruns))
		c.seenUnderruns = u
	}
	if o := c.cpBuf.Overruns(); o > c.seenOverruns {
		metricOverruns.Add(float64(o - c.seenOverruns))
		c.seenOverruns = o
	}
}
