package v0

import (
	"encoding/binary"

	"github.com/outofforest/fefs/blocks"
)

// HeaderSize is the size of the header stored at the beginning of every chained block.
const HeaderSize = 16

// Header links blocks into chains.
type Header struct {
	Next blocks.BlockAddress
	Used uint32
	Kind blocks.Kind
}

// PayloadSize returns number of bytes available for content in a block of the given size.
func PayloadSize(blockSize int64) int64 {
	return blockSize - HeaderSize
}

// Encode stores the header at the beginning of the block.
func (h Header) Encode(p []byte) {
	binary.LittleEndian.PutUint64(p[0:8], uint64(h.Next))
	binary.LittleEndian.PutUint32(p[8:12], h.Used)
	p[12] = byte(h.Kind)
	p[13], p[14], p[15] = 0, 0, 0
}

// DecodeHeader loads the header from the beginning of the block.
func DecodeHeader(p []byte) Header {
	return Header{
		Next: blocks.BlockAddress(binary.LittleEndian.Uint64(p[0:8])),
		Used: binary.LittleEndian.Uint32(p[8:12]),
		Kind: blocks.Kind(p[12]),
	}
}

// Payload returns the content part of the block.
func Payload(p []byte) []byte {
	return p[HeaderSize:]
}
