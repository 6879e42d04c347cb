package v0

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/outofforest/fefs/blocks"
)

// Subject defines an identifier used to detect if fefs volume exists on the device.
const Subject uint64 = 0b0100011001000101010001100101001100000000000000010010000100010010

// Size is the number of bytes occupied by the encoded block.
var Size = int64(binary.Size(Block{}))

// Block is the superblock of the volume. It lives in block 0 and is never relocated.
type Block struct {
	Subject       uint64
	SchemaVersion blocks.SchemaVersion
	BlockSize     uint32
	NBlocks       uint64
	AllocBlocks   uint32
	RootBlock     blocks.BlockAddress
	VolumeID      uuid.UUID
	Checksum      blocks.Hash
}

// ComputeChecksum computes checksum of the block. Checksum field itself is excluded.
func (b Block) ComputeChecksum() blocks.Hash {
	b.Checksum = 0
	p := make([]byte, Size)
	if err := b.Encode(p); err != nil {
		// Encoding fixed-size struct into buffer of its own size never fails.
		panic(err)
	}
	return blocks.Checksum(p)
}

// Encode stores the block in p.
func (b Block) Encode(p []byte) error {
	if int64(len(p)) < Size {
		return errors.Errorf("buffer too small for superblock: %d", len(p))
	}

	buf := bytes.NewBuffer(p[:0])
	return errors.WithStack(binary.Write(buf, binary.LittleEndian, b))
}

// Decode loads the block from p.
func Decode(p []byte) (Block, error) {
	var b Block
	if int64(len(p)) < Size {
		return b, errors.Errorf("buffer too small for superblock: %d", len(p))
	}
	if err := binary.Read(bytes.NewReader(p), binary.LittleEndian, &b); err != nil {
		return Block{}, errors.WithStack(err)
	}
	return b, nil
}
