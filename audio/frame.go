package audio

import "encoding/binary"

// MaxChannels is the widest frame the hardware model supports.
const MaxChannels = 8

// SlotBytes is the host-memory container size for one channel sample. Samples
// narrower than 32 bits are right-justified in the container.
const SlotBytes = 4

// Frame is one audio sample frame: an ordered set of per-channel sample words.
// Only the first Channels slots of a stream's frames are meaningful. In DSD
// mode each slot carries 32 bits of the channel's delta-sigma bitstream.
type Frame struct {
	Slots [MaxChannels]uint32
}

// SampleMask returns the valid-bit mask for a sample width.
func SampleMask(width int) uint32 {
	if width >= 32 {
		return 0xFFFFFFFF
	}
	return (1 << uint(width)) - 1
}

// WordBytes returns the size of one transport word: the contiguous
// host-memory record holding one frame.
func WordBytes(channels int) int {
	return channels * SlotBytes
}

// UnpackWord slices one transport word into a frame, one fixed-width field
// per channel. The word layout is little-endian 32-bit containers, channel 0
// first, matching the host DMA buffer layout.
func UnpackWord(word []byte, channels, width int) Frame {
	var f Frame
	mask := SampleMask(width)
	for ch := 0; ch < channels; ch++ {
		f.Slots[ch] = binary.LittleEndian.Uint32(word[ch*SlotBytes:]) & mask
	}
	return f
}

// PackWord packs a frame's per-channel fields into one transport word,
// the inverse of UnpackWord. dst must hold WordBytes(channels) bytes.
func PackWord(dst []byte, f Frame, channels, width int) {
	mask := SampleMask(width)
	for ch := 0; ch < channels; ch++ {
		binary.LittleEndian.PutUint32(dst[ch*SlotBytes:], f.Slots[ch]&mask)
	}
}
