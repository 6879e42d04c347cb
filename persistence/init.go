package persistence

import (
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/outofforest/fefs/blocks"
	"github.com/outofforest/fefs/blocks/bitmap"
	chainV0 "github.com/outofforest/fefs/blocks/chain/v0"
	superblockV0 "github.com/outofforest/fefs/blocks/superblock/v0"
)

// minDataBlocks specifies how many blocks must remain available for allocation after formatting.
const minDataBlocks = 1

// Dev is the interface required from the device.
type Dev interface {
	io.ReadWriteSeeker
	Sync() error
	Size() int64
}

var (
	// ErrAlreadyInitialized is returned if during initialization, another fefs volume is detected on the device.
	ErrAlreadyInitialized = errors.New("fefs has been already initialized on the provided device")

	// ErrInvalidSuperblock is returned if superblock stored on the device is missing, corrupted or does not match
	// the device.
	ErrInvalidSuperblock = errors.New("invalid superblock")

	// ErrInvalidGeometry is returned if requested block size and allocation table size can't form a volume
	// on the device.
	ErrInvalidGeometry = errors.New("invalid volume geometry")
)

// Config is the configuration of new volume.
type Config struct {
	// BlockSize is the number of bytes in each block.
	BlockSize int64

	// AllocBlocks is the number of blocks reserved for the allocation table.
	AllocBlocks uint32

	// Overwrite allows formatting device already containing fefs volume.
	Overwrite bool
}

// Initialize formats new fefs volume on the device.
func Initialize(dev Dev, config Config) (superblockV0.Block, error) {
	nBlocks, err := validateDev(dev, config)
	if err != nil {
		return superblockV0.Block{}, err
	}

	rootBlock := blocks.BlockAddress(config.AllocBlocks) + 1
	sBlock := superblockV0.Block{
		Subject:       superblockV0.Subject,
		SchemaVersion: blocks.SuperblockV0,
		BlockSize:     uint32(config.BlockSize),
		NBlocks:       nBlocks,
		AllocBlocks:   config.AllocBlocks,
		RootBlock:     rootBlock,
		VolumeID:      uuid.New(),
	}
	sBlock.Checksum = sBlock.ComputeChecksum()

	p := make([]byte, config.BlockSize)
	bitsPerBlock := uint64(config.BlockSize) * 8
	tableBits := uint64(config.AllocBlocks) * bitsPerBlock
	for i := uint64(0); i < uint64(config.AllocBlocks); i++ {
		clear(p)
		from, to := i*bitsPerBlock, (i+1)*bitsPerBlock

		// Superblock, allocation table and root directory.
		setIntersection(p, from, to, 0, uint64(rootBlock)+1)
		// Blocks not existing on the device.
		setIntersection(p, from, to, nBlocks, tableBits)

		if err := writeBlock(dev, config.BlockSize, blocks.BlockAddress(i+1), p); err != nil {
			return superblockV0.Block{}, err
		}
	}

	clear(p)
	chainV0.Header{Kind: blocks.DirectoryKind}.Encode(p)
	if err := writeBlock(dev, config.BlockSize, rootBlock, p); err != nil {
		return superblockV0.Block{}, err
	}

	// Superblock goes last, so interrupted formatting never produces volume looking valid.
	clear(p)
	if err := sBlock.Encode(p); err != nil {
		return superblockV0.Block{}, err
	}
	if err := writeBlock(dev, config.BlockSize, 0, p); err != nil {
		return superblockV0.Block{}, err
	}

	if err := dev.Sync(); err != nil {
		return superblockV0.Block{}, errors.WithStack(err)
	}
	return sBlock, nil
}

func validateDev(dev Dev, config Config) (uint64, error) {
	if !blocks.ValidBlockSize(config.BlockSize) {
		return 0, errors.Wrapf(ErrInvalidGeometry, "block size must be a power of two in range [%d, %d], provided: %d",
			blocks.MinBlockSize, blocks.MaxBlockSize, config.BlockSize)
	}
	if config.AllocBlocks == 0 {
		return 0, errors.Wrap(ErrInvalidGeometry, "at least one allocation table block is required")
	}

	size := dev.Size()
	nBlocks := uint64(size / config.BlockSize)
	if maxBlocks := uint64(config.AllocBlocks) * uint64(config.BlockSize) * 8; nBlocks > maxBlocks {
		nBlocks = maxBlocks
	}

	minBlocks := uint64(config.AllocBlocks) + 2 + minDataBlocks
	if nBlocks < minBlocks {
		return 0, errors.Wrapf(ErrInvalidGeometry, "device is too small, minimum size is: %d bytes, provided: %d",
			minBlocks*uint64(config.BlockSize), size)
	}

	sBlock, err := loadSuperblock(dev)
	if err != nil {
		return 0, err
	}

	if sBlock.Subject == superblockV0.Subject && !config.Overwrite {
		return 0, errors.WithStack(ErrAlreadyInitialized)
	}

	return nBlocks, nil
}

func setIntersection(p []byte, from, to, setFrom, setTo uint64) {
	if setFrom < from {
		setFrom = from
	}
	if setTo > to {
		setTo = to
	}
	if setFrom >= setTo {
		return
	}
	bitmap.SetRange(p, setFrom-from, setTo-from)
}

func loadSuperblock(dev Dev) (superblockV0.Block, error) {
	if _, err := dev.Seek(0, io.SeekStart); err != nil {
		return superblockV0.Block{}, errors.WithStack(err)
	}

	p := make([]byte, superblockV0.Size)
	if _, err := io.ReadFull(dev, p); err != nil {
		return superblockV0.Block{}, errors.WithStack(err)
	}

	return superblockV0.Decode(p)
}

func writeBlock(dev Dev, blockSize int64, address blocks.BlockAddress, p []byte) error {
	if _, err := dev.Seek(int64(address)*blockSize, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}
	n, err := dev.Write(p)
	if err != nil {
		return errors.WithStack(err)
	}
	if n != len(p) {
		return errors.Wrapf(io.ErrShortWrite, "block %d", address)
	}
	return nil
}
