package fefs

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/fefs/alloc"
	"github.com/outofforest/fefs/blocks"
	"github.com/outofforest/fefs/cache"
	"github.com/outofforest/fefs/chain"
	"github.com/outofforest/fefs/dir"
	"github.com/outofforest/fefs/file"
	"github.com/outofforest/fefs/persistence"
)

// Errors returned by the file system.
var (
	ErrAlreadyInitialized   = persistence.ErrAlreadyInitialized
	ErrInvalidSuperblock    = persistence.ErrInvalidSuperblock
	ErrInvalidGeometry      = persistence.ErrInvalidGeometry
	ErrOutOfSpace           = alloc.ErrOutOfSpace
	ErrReleased             = chain.ErrReleased
	ErrCorruptedChain       = chain.ErrCorruptedChain
	ErrDirExist             = dir.ErrDirExist
	ErrNotFound             = dir.ErrNotFound
	ErrInvalidName          = dir.ErrInvalidName
	ErrFileAlreadyExists    = file.ErrAlreadyExists
	ErrFileNotFound         = file.ErrNotFound
	ErrSeekValueOverFlow    = file.ErrSeekValueOverFlow
	ErrUnsupportedWriteMode = file.ErrUnsupportedWriteMode
)

// Dev is the device storing the volume.
type Dev = persistence.Dev

// Config is the configuration of the file system.
type Config struct {
	// BlockSize is the number of bytes in each block. If zero when opening, the one stored on the device is used.
	BlockSize int64

	// AllocBlocks is the number of blocks used by the allocation table. Used only when volume is created.
	AllocBlocks uint32

	// Overwrite allows creating volume on the device already containing one.
	Overwrite bool

	// CacheSize is the number of bytes used to cache blocks.
	CacheSize int64

	// Logger receives diagnostic messages. If nil, logs are discarded.
	Logger *zap.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		BlockSize:   blocks.DefaultBlockSize,
		AllocBlocks: blocks.DefaultAllocBlocks,
		CacheSize:   1024 * blocks.DefaultBlockSize,
	}
}

// Info describes the volume.
type Info struct {
	VolumeID    uuid.UUID
	BlockSize   int64
	NBlocks     uint64
	AllocBlocks uint32
	RootBlock   blocks.BlockAddress
	FreeBlocks  uint64
}

// FileSystem is the mounted volume.
type FileSystem struct {
	mu    sync.Mutex
	space *chain.Space
	root  blocks.BlockAddress
	info  Info
}

// Create formats the device and returns the file system stored there.
func Create(dev Dev, config Config) (*FileSystem, error) {
	sBlock, err := persistence.Initialize(dev, persistence.Config{
		BlockSize:   config.BlockSize,
		AllocBlocks: config.AllocBlocks,
		Overwrite:   config.Overwrite,
	})
	if err != nil {
		return nil, err
	}

	logger(config).Info("Volume created",
		zap.Stringer("volumeID", sBlock.VolumeID),
		zap.Uint32("blockSize", sBlock.BlockSize),
		zap.Uint64("nBlocks", sBlock.NBlocks),
		zap.Uint32("allocBlocks", sBlock.AllocBlocks))

	return Open(dev, config)
}

// Open returns the file system stored on the device.
func Open(dev Dev, config Config) (*FileSystem, error) {
	log := logger(config)

	store, err := persistence.OpenStore(dev, config.BlockSize)
	if err != nil {
		return nil, err
	}

	cacheSize := config.CacheSize
	if cacheSize == 0 {
		cacheSize = DefaultConfig().CacheSize
	}
	c, err := cache.New(store, cacheSize)
	if err != nil {
		return nil, err
	}

	sBlock := store.Superblock()
	table, err := alloc.Load(c, sBlock)
	if err != nil {
		return nil, err
	}

	fs := &FileSystem{
		space: chain.New(c, table, log),
		root:  sBlock.RootBlock,
		info: Info{
			VolumeID:    sBlock.VolumeID,
			BlockSize:   int64(sBlock.BlockSize),
			NBlocks:     sBlock.NBlocks,
			AllocBlocks: sBlock.AllocBlocks,
			RootBlock:   sBlock.RootBlock,
		},
	}

	log.Info("Volume opened",
		zap.Stringer("volumeID", sBlock.VolumeID),
		zap.Uint32("blockSize", sBlock.BlockSize),
		zap.Uint64("nBlocks", sBlock.NBlocks),
		zap.Uint64("freeBlocks", table.Available()))

	return fs, nil
}

// Lock waits until the volume is free and returns the handle giving access to it.
func (fs *FileSystem) Lock() *Volume {
	fs.mu.Lock()
	return fs.newVolume()
}

// TryLock returns the handle if volume is free.
func (fs *FileSystem) TryLock() (*Volume, bool) {
	if !fs.mu.TryLock() {
		return nil, false
	}
	return fs.newVolume(), true
}

func (fs *FileSystem) newVolume() *Volume {
	space := fs.space.Session()
	return &Volume{
		fs:    fs,
		space: space,
		root:  dir.NewRoot(space, fs.root),
	}
}

// Volume is the exclusive handle to the file system.
type Volume struct {
	fs       *FileSystem
	space    *chain.Space
	root     *dir.Directory
	released bool
}

// Root returns the root directory.
func (v *Volume) Root() *dir.Directory {
	return v.root
}

// Info returns information about the volume.
func (v *Volume) Info() (Info, error) {
	if err := v.space.Check(); err != nil {
		return Info{}, err
	}
	info := v.fs.info
	info.FreeBlocks = v.space.Table().Available()
	return info, nil
}

// Unlock releases the handle. Directories and files obtained through it can't be used anymore.
func (v *Volume) Unlock() error {
	if v.released {
		return errors.WithStack(ErrReleased)
	}
	v.released = true
	v.space.Release()
	v.fs.mu.Unlock()
	return nil
}

func logger(config Config) *zap.Logger {
	if config.Logger == nil {
		return zap.NewNop()
	}
	return config.Logger
}
