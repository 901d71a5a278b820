//go:build headless

package sink

// New returns a discarding output in headless builds.
func New(sampleRate, channels int) (Output, error) {
	return Discard{}, nil
}
