package cache

import (
	"github.com/outofforest/fefs/blocks"
)

// BlockState is the enum representing the state of the cached block.
type BlockState byte

// Enum of possible block states
const (
	FreeBlockState BlockState = iota
	FetchedBlockState
	InvalidBlockState
)

// Header stores the metadata of cached block.
type Header struct {
	Address blocks.BlockAddress
	State   BlockState
}

// Stats contains cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}
