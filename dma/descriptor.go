// Package dma implements the descriptor-ring transfer engine: the state
// machine that walks a ring of host-memory descriptors and moves sample
// bursts between host buffers and the elastic buffers.
package dma

import "encoding/binary"

// DescriptorSize is the size of one descriptor record in host memory.
const DescriptorSize = 24

// Descriptor flag bits, matching the host-visible record layout.
const (
	FlagInterrupt = 1 << 0  // raise the direction's complete signal
	FlagLast      = 1 << 1  // last descriptor in the chain
	FlagWrap      = 1 << 2  // wrap to the start of the ring
	FlagOwned     = 1 << 31 // record is owned by the hardware
)

// Descriptor describes one DMA transfer chunk. Address, Length, Flags and
// Next mirror the host-memory record; Complete is engine-side state and is
// never stored in host memory.
type Descriptor struct {
	Address uint64
	Length  uint32
	Flags   uint32
	Next    uint64

	Complete bool
}

// DecodeDescriptor parses one host-memory descriptor record. The record is
// little-endian: 64-bit buffer address, 32-bit length, 32-bit flags, 64-bit
// next-descriptor address.
func DecodeDescriptor(rec []byte) Descriptor {
	return Descriptor{
		Address: binary.LittleEndian.Uint64(rec[0:8]),
		Length:  binary.LittleEndian.Uint32(rec[8:12]),
		Flags:   binary.LittleEndian.Uint32(rec[12:16]),
		Next:    binary.LittleEndian.Uint64(rec[16:24]),
	}
}

// EncodeDescriptor writes the host-memory record for d into rec, which must
// hold DescriptorSize bytes.
func EncodeDescriptor(rec []byte, d Descriptor) {
	binary.LittleEndian.PutUint64(rec[0:8], d.Address)
	binary.LittleEndian.PutUint32(rec[8:12], d.Length)
	binary.LittleEndian.PutUint32(rec[12:16], d.Flags)
	binary.LittleEndian.PutUint64(rec[16:24], d.Next)
}

// Memory is the engine's view of host memory across the link.
type Memory interface {
	ReadAt(addr uint64, p []byte) error
	WriteAt(addr uint64, p []byte) error
}
