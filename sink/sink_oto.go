//go:build !headless

package sink

import (
	"fmt"
	"sync"

	"github.com/auricle-dev/auricle/audio"
	"github.com/ebitengine/oto/v3"
)

// otoOutput renders frames through an oto player. Frames arrive from the
// audio task via WriteFrame into a bounded byte ring; the oto callback pulls
// from the ring on its own thread and plays silence when the ring is empty.
type otoOutput struct {
	ctx      *oto.Context
	player   *oto.Player
	channels int

	mu  sync.Mutex
	buf []byte
	r   int
	w   int
	n   int
}

// New opens the platform audio backend at the given rate and channel count.
// Playback channels are folded down to stereo, which is what the backend
// devices expose.
func New(sampleRate, channels int) (Output, error) {
	outCh := channels
	if outCh > 2 {
		outCh = 2
	}
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: outCh,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio backend: %w", err)
	}
	<-ready

	o := &otoOutput{
		ctx:      ctx,
		channels: outCh,
		buf:      make([]byte, sampleRate*outCh), // half a second of int16
	}
	o.player = ctx.NewPlayer(readerFunc(o.pull))
	return o, nil
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func (o *otoOutput) Start() error {
	o.player.Play()
	return nil
}

func (o *otoOutput) WriteFrame(f audio.Frame, channels, width int) {
	var pcm [2 * 2]byte
	for ch := 0; ch < o.channels; ch++ {
		src := ch
		if src >= channels {
			src = channels - 1
		}
		// Top 16 bits of the left-justified sample.
		s := int16(f.Slots[src] << uint(32-width) >> 16)
		pcm[ch*2] = byte(s)
		pcm[ch*2+1] = byte(s >> 8)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for i := 0; i < o.channels*2; i++ {
		if o.n == len(o.buf) {
			return // backend is behind; drop the rest of the frame
		}
		o.buf[o.w] = pcm[i]
		o.w = (o.w + 1) % len(o.buf)
		o.n++
	}
}

func (o *otoOutput) pull(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range p {
		if o.n == 0 {
			p[i] = 0
			continue
		}
		p[i] = o.buf[o.r]
		o.r = (o.r + 1) % len(o.buf)
		o.n--
	}
	return len(p), nil
}

func (o *otoOutput) Close() error {
	// The oto context itself cannot be closed; closing the player is enough.
	if o.player != nil {
		return o.player.Close()
	}
	return nil
}
