package cache

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/fefs/blocks"
	"github.com/outofforest/fefs/persistence"
	"github.com/outofforest/fefs/pkg/memdev"
)

const (
	blockSize = 512
	devSize   = 1024 * blockSize
)

func newStore(requireT *require.Assertions) *persistence.Store {
	dev := memdev.New(devSize)
	_, err := persistence.Initialize(dev, persistence.Config{
		BlockSize:   blockSize,
		AllocBlocks: 1,
	})
	requireT.NoError(err)

	s, err := persistence.OpenStore(dev, blockSize)
	requireT.NoError(err)
	return s
}

func TestCache(t *testing.T) {
	requireT := require.New(t)

	s := newStore(requireT)
	p := bytes.Repeat([]byte{0x21}, blockSize)
	requireT.NoError(s.WriteBlock(10, p))

	c, err := New(s, 16*blockSize)
	requireT.NoError(err)

	p2 := make([]byte, blockSize)
	requireT.NoError(c.ReadBlock(10, p2))
	requireT.Equal(p, p2)
	requireT.Equal(Stats{Misses: 1}, c.Stats())

	p2 = make([]byte, blockSize)
	requireT.NoError(c.ReadBlock(10, p2))
	requireT.Equal(p, p2)
	requireT.Equal(Stats{Hits: 1, Misses: 1}, c.Stats())
}

func TestWriteThrough(t *testing.T) {
	requireT := require.New(t)

	s := newStore(requireT)
	c, err := New(s, 4*blockSize)
	requireT.NoError(err)

	p := bytes.Repeat([]byte{0x01}, blockSize)
	requireT.NoError(c.WriteBlock(20, p))

	// Store has the data without any commit.
	p2 := make([]byte, blockSize)
	requireT.NoError(s.ReadBlock(20, p2))
	requireT.Equal(p, p2)

	// Read is served from cache.
	p3 := make([]byte, blockSize)
	requireT.NoError(c.ReadBlock(20, p3))
	requireT.Equal(p, p3)
	requireT.EqualValues(1, c.Stats().Hits)
}

func TestEviction(t *testing.T) {
	requireT := require.New(t)

	s := newStore(requireT)
	c, err := New(s, 2*blockSize)
	requireT.NoError(err)

	for i := blocks.BlockAddress(10); i < 30; i++ {
		requireT.NoError(c.WriteBlock(i, bytes.Repeat([]byte{byte(i)}, blockSize)))
	}

	p := make([]byte, blockSize)
	for i := blocks.BlockAddress(10); i < 30; i++ {
		requireT.NoError(c.ReadBlock(i, p))
		requireT.Equal(bytes.Repeat([]byte{byte(i)}, blockSize), p)
	}
	requireT.NotZero(c.Stats().Evictions)
}

func TestInvalidate(t *testing.T) {
	requireT := require.New(t)

	s := newStore(requireT)
	c, err := New(s, 4*blockSize)
	requireT.NoError(err)

	p := bytes.Repeat([]byte{0x01}, blockSize)
	requireT.NoError(c.WriteBlock(20, p))

	// Modify store behind the cache.
	p2 := bytes.Repeat([]byte{0x02}, blockSize)
	requireT.NoError(s.WriteBlock(20, p2))

	c.Invalidate(20)

	p3 := make([]byte, blockSize)
	requireT.NoError(c.ReadBlock(20, p3))
	requireT.Equal(p2, p3)
}

func TestInvalidSize(t *testing.T) {
	requireT := require.New(t)

	s := newStore(requireT)

	_, err := New(s, blockSize-1)
	requireT.Error(err)

	c, err := New(s, blockSize)
	requireT.NoError(err)
	requireT.Error(c.ReadBlock(1, make([]byte, blockSize-1)))
	requireT.Error(c.WriteBlock(1, make([]byte, blockSize+1)))
	requireT.Error(c.ReadBlock(devSize/blockSize, make([]byte, blockSize)))
}
