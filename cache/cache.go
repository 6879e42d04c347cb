package cache

import (
	"github.com/pkg/errors"

	"github.com/outofforest/fefs/blocks"
	"github.com/outofforest/fefs/persistence"
)

// Cache caches blocks. Writes go to the store immediately, so the cache never holds data the device doesn't have.
type Cache struct {
	store     *persistence.Store
	blockSize int64
	nBlocks   int64
	data      []byte
	headers   []Header
	stats     Stats
}

// New creates new cache. Size is the number of bytes used to keep block contents.
func New(store *persistence.Store, size int64) (*Cache, error) {
	blockSize := store.BlockSize()
	nBlocks := size / blockSize
	if nBlocks < 1 {
		return nil, errors.Errorf("cache size must fit at least one block of %d bytes, provided: %d", blockSize, size)
	}

	return &Cache{
		store:     store,
		blockSize: blockSize,
		nBlocks:   nBlocks,
		data:      make([]byte, nBlocks*blockSize),
		headers:   make([]Header, nBlocks),
	}, nil
}

// BlockSize returns the size of the block.
func (c *Cache) BlockSize() int64 {
	return c.blockSize
}

// Stats returns cache counters.
func (c *Cache) Stats() Stats {
	return c.stats
}

// ReadBlock copies content of the block to p.
func (c *Cache) ReadBlock(address blocks.BlockAddress, p []byte) error {
	if int64(len(p)) != c.blockSize {
		return errors.Errorf("invalid size of output buffer: %d", len(p))
	}

	cacheAddress := c.findCachedBlock(address)
	h := &c.headers[cacheAddress]
	block := c.block(cacheAddress)

	if h.State == FetchedBlockState && h.Address == address {
		c.stats.Hits++
		copy(p, block)
		return nil
	}

	c.stats.Misses++
	h.State = InvalidBlockState
	if err := c.store.ReadBlock(address, block); err != nil {
		return err
	}
	h.Address = address
	h.State = FetchedBlockState

	copy(p, block)
	return nil
}

// WriteBlock writes p to the store and keeps its copy in the cache.
func (c *Cache) WriteBlock(address blocks.BlockAddress, p []byte) error {
	cacheAddress := c.findCachedBlock(address)
	h := &c.headers[cacheAddress]

	// Slot is invalidated first, so failed write never leaves stale content behind.
	h.State = InvalidBlockState
	if err := c.store.WriteBlock(address, p); err != nil {
		return err
	}

	copy(c.block(cacheAddress), p)
	h.Address = address
	h.State = FetchedBlockState
	return nil
}

// Invalidate drops the block from the cache.
func (c *Cache) Invalidate(address blocks.BlockAddress) {
	cacheAddress := c.findCachedBlock(address)
	if h := &c.headers[cacheAddress]; h.State == FetchedBlockState && h.Address == address {
		h.State = InvalidBlockState
	}
}

// Sync forces data to be written to the device.
func (c *Cache) Sync() error {
	return c.store.Sync()
}

func (c *Cache) block(cacheAddress int64) []byte {
	offset := cacheAddress * c.blockSize
	return c.data[offset : offset+c.blockSize]
}

func (c *Cache) findCachedBlock(address blocks.BlockAddress) int64 {
	// If there is no free space in cache found in `MaxCacheTries` tries, the first invalid block or the first tried
	// block is replaced by the requested one.
	selectedCacheAddress := int64(address % blocks.BlockAddress(c.nBlocks))
	var invalidCacheAddressFound bool

	for i, cacheAddress := 0, selectedCacheAddress; i < MaxCacheTries; i, cacheAddress = i+1, (cacheAddress*3+1)%c.nBlocks {
		h := c.headers[cacheAddress]

		switch h.State {
		case FreeBlockState:
			if invalidCacheAddressFound {
				return selectedCacheAddress
			}
			return cacheAddress
		case InvalidBlockState:
			if !invalidCacheAddressFound {
				invalidCacheAddressFound = true
				selectedCacheAddress = cacheAddress
			}
		case FetchedBlockState:
			if h.Address == address {
				return cacheAddress
			}
		}
	}

	if c.headers[selectedCacheAddress].State == FetchedBlockState {
		c.stats.Evictions++
	}
	return selectedCacheAddress
}
