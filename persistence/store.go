package persistence

import (
	"io"

	"github.com/pkg/errors"

	"github.com/outofforest/fefs/blocks"
	superblockV0 "github.com/outofforest/fefs/blocks/superblock/v0"
)

// Store represents persistent storage.
type Store struct {
	dev        Dev
	blockSize  int64
	superblock superblockV0.Block
}

// OpenStore opens the persistent store. If blockSize is not zero, it must match the one stored in the superblock.
func OpenStore(dev Dev, blockSize int64) (*Store, error) {
	sBlock, err := loadSuperblock(dev)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidSuperblock, "reading superblock failed: %s", err)
	}
	if err := validateSuperblock(sBlock, dev.Size(), blockSize); err != nil {
		return nil, err
	}

	return &Store{
		dev:        dev,
		blockSize:  int64(sBlock.BlockSize),
		superblock: sBlock,
	}, nil
}

// Superblock returns the superblock of the volume.
func (s *Store) Superblock() superblockV0.Block {
	return s.superblock
}

// BlockSize returns the size of the block.
func (s *Store) BlockSize() int64 {
	return s.blockSize
}

// NBlocks returns the number of blocks in the volume.
func (s *Store) NBlocks() uint64 {
	return s.superblock.NBlocks
}

// ReadBlock reads raw block bytes from the addressed block.
func (s *Store) ReadBlock(address blocks.BlockAddress, p []byte) error {
	if err := s.validateRequest(address, p); err != nil {
		return err
	}

	if _, err := s.dev.Seek(int64(address)*s.blockSize, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.ReadFull(s.dev, p); err != nil {
		return errors.Wrapf(err, "reading block %d failed", address)
	}
	return nil
}

// WriteBlock writes raw block bytes to the addressed block.
func (s *Store) WriteBlock(address blocks.BlockAddress, p []byte) error {
	if err := s.validateRequest(address, p); err != nil {
		return err
	}
	return writeBlock(s.dev, s.blockSize, address, p)
}

// Sync forces data to be written to the dev.
func (s *Store) Sync() error {
	return errors.WithStack(s.dev.Sync())
}

func (s *Store) validateRequest(address blocks.BlockAddress, p []byte) error {
	if int64(len(p)) != s.blockSize {
		return errors.Errorf("invalid size of buffer: %d, block size: %d", len(p), s.blockSize)
	}
	if uint64(address) >= s.superblock.NBlocks {
		return errors.Errorf("block %d does not exist, number of blocks: %d", address, s.superblock.NBlocks)
	}
	return nil
}

func validateSuperblock(sBlock superblockV0.Block, devSize int64, blockSize int64) error {
	if sBlock.Subject != superblockV0.Subject {
		return errors.Wrap(ErrInvalidSuperblock, "device does not contain fefs volume")
	}

	checksumComputed := sBlock.ComputeChecksum()
	if sBlock.Checksum != checksumComputed {
		return errors.Wrapf(ErrInvalidSuperblock, "checksum mismatch, computed: %016x, stored: %016x",
			uint64(checksumComputed), uint64(sBlock.Checksum))
	}

	if sBlock.SchemaVersion != blocks.SuperblockV0 {
		return errors.Wrapf(ErrInvalidSuperblock, "unsupported schema version: %d", sBlock.SchemaVersion)
	}

	storedBlockSize := int64(sBlock.BlockSize)
	if !blocks.ValidBlockSize(storedBlockSize) {
		return errors.Wrapf(ErrInvalidSuperblock, "invalid block size: %d", storedBlockSize)
	}
	if blockSize != 0 && blockSize != storedBlockSize {
		return errors.Wrapf(ErrInvalidSuperblock, "block size mismatch, expected: %d, stored: %d",
			blockSize, storedBlockSize)
	}

	if sBlock.AllocBlocks == 0 || sBlock.RootBlock != blocks.BlockAddress(sBlock.AllocBlocks)+1 {
		return errors.Wrapf(ErrInvalidSuperblock, "invalid layout, allocation blocks: %d, root block: %d",
			sBlock.AllocBlocks, sBlock.RootBlock)
	}

	// Device might have been expanded since formatting, but never shrunk.
	if sBlock.NBlocks > uint64(devSize/storedBlockSize) {
		return errors.Wrapf(ErrInvalidSuperblock, "volume has %d blocks but device fits only %d",
			sBlock.NBlocks, devSize/storedBlockSize)
	}
	if sBlock.NBlocks > uint64(sBlock.AllocBlocks)*uint64(storedBlockSize)*8 ||
		sBlock.NBlocks <= uint64(sBlock.RootBlock) {
		return errors.Wrapf(ErrInvalidSuperblock, "invalid number of blocks: %d", sBlock.NBlocks)
	}

	return nil
}
