// Package sink provides the playback endpoint behind the transport: the
// DAC-equivalent that consumes deserialized sample frames. The default build
// renders through an audio backend; the headless build discards samples.
package sink

import "github.com/auricle-dev/auricle/audio"

// Output consumes the playback frame stream.
type Output interface {
	// Start begins rendering.
	Start() error
	// WriteFrame queues one sample frame. Must not block the audio task;
	// frames are dropped when the backend cannot keep up.
	WriteFrame(f audio.Frame, channels, width int)
	// Close stops rendering and releases the backend.
	Close() error
}

// Discard is an Output that drops every frame. Useful as a stand-in when no
// audible output is wanted.
type Discard struct{}

func (Discard) Start() error                     { return nil }
func (Discard) WriteFrame(audio.Frame, int, int) {}
func (Discard) Close() error                     { return nil }
