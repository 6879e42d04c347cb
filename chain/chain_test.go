package chain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/outofforest/fefs/alloc"
	"github.com/outofforest/fefs/blocks"
	chainV0 "github.com/outofforest/fefs/blocks/chain/v0"
	"github.com/outofforest/fefs/cache"
	"github.com/outofforest/fefs/persistence"
	"github.com/outofforest/fefs/pkg/memdev"
)

const (
	blockSize   = 128
	payloadSize = blockSize - chainV0.HeaderSize
	allocBlocks = 1
	nBlocks     = 64
	cacheSize   = 16 * blockSize
)

func newSpace(requireT *require.Assertions) (*Space, *persistence.Store) {
	space, s, _ := newSpaceOnDev(requireT)
	return space, s
}

func newSpaceOnDev(requireT *require.Assertions) (*Space, *persistence.Store, *memdev.MemDev) {
	dev := memdev.New(nBlocks * blockSize)
	sBlock, err := persistence.Initialize(dev, persistence.Config{
		BlockSize:   blockSize,
		AllocBlocks: allocBlocks,
	})
	requireT.NoError(err)

	s, err := persistence.OpenStore(dev, blockSize)
	requireT.NoError(err)

	c, err := cache.New(s, cacheSize)
	requireT.NoError(err)

	table, err := alloc.Load(c, sBlock)
	requireT.NoError(err)

	return New(c, table, zap.NewNop()).Session(), s, dev
}

func readPayload(requireT *require.Assertions, s *persistence.Store, address blocks.BlockAddress) []byte {
	p := make([]byte, blockSize)
	requireT.NoError(s.ReadBlock(address, p))
	return chainV0.Payload(p)[:chainV0.DecodeHeader(p).Used]
}

func commitBlock(requireT *require.Assertions, space *Space, content []byte) blocks.BlockAddress {
	var address blocks.BlockAddress
	requireT.NoError(space.Update(func() error {
		var err error
		address, err = space.Table().Allocate()
		if err != nil {
			return err
		}
		return space.Write([]blocks.BlockAddress{address}, blocks.FileKind, content)
	}))
	return address
}

func data(size int) []byte {
	p := make([]byte, size)
	for i := range p {
		p[i] = byte(i)
	}
	return p
}

func TestBlocksFor(t *testing.T) {
	requireT := require.New(t)

	space, _ := newSpace(requireT)
	requireT.Equal(1, space.BlocksFor(0))
	requireT.Equal(1, space.BlocksFor(1))
	requireT.Equal(1, space.BlocksFor(payloadSize))
	requireT.Equal(2, space.BlocksFor(payloadSize+1))
	requireT.Equal(3, space.BlocksFor(3*payloadSize))
}

func TestWriteResolve(t *testing.T) {
	requireT := require.New(t)

	space, _ := newSpace(requireT)
	content := data(2*payloadSize + 10)

	var addresses []blocks.BlockAddress
	requireT.NoError(space.Update(func() error {
		var err error
		addresses, err = space.Table().AllocateChain(space.BlocksFor(int64(len(content))))
		if err != nil {
			return err
		}
		return space.Write(addresses, blocks.FileKind, content)
	}))
	requireT.Len(addresses, 3)

	resolved, err := space.Resolve(addresses[0], blocks.FileKind)
	requireT.NoError(err)
	requireT.Equal(addresses, resolved)

	p := space.NewBlock()
	read := []byte{}
	for _, address := range resolved {
		requireT.NoError(space.ReadBlock(address, p))
		header := chainV0.DecodeHeader(p)
		requireT.Equal(blocks.FileKind, header.Kind)
		read = append(read, chainV0.Payload(p)[:header.Used]...)
	}
	requireT.Equal(content, read)

	requireT.NoError(space.ReadBlock(addresses[2], p))
	requireT.Equal(blocks.NilAddress, chainV0.DecodeHeader(p).Next)
	requireT.EqualValues(10, chainV0.DecodeHeader(p).Used)
}

func TestWriteTooMuch(t *testing.T) {
	requireT := require.New(t)

	space, _ := newSpace(requireT)
	address, err := space.Table().Allocate()
	requireT.NoError(err)
	requireT.Error(space.Write([]blocks.BlockAddress{address}, blocks.FileKind, data(payloadSize+1)))
}

func TestResolveDetectsCycle(t *testing.T) {
	requireT := require.New(t)

	space, _ := newSpace(requireT)
	addresses, err := space.Table().AllocateChain(2)
	requireT.NoError(err)
	requireT.NoError(space.Write(addresses, blocks.FileKind, data(payloadSize+1)))

	p := space.NewBlock()
	requireT.NoError(space.ReadBlock(addresses[1], p))
	header := chainV0.DecodeHeader(p)
	header.Next = addresses[0]
	header.Encode(p)
	requireT.NoError(space.WriteBlock(addresses[1], p))

	_, err = space.Resolve(addresses[0], blocks.FileKind)
	requireT.ErrorIs(err, ErrCorruptedChain)
}

func TestResolveDetectsFreeBlock(t *testing.T) {
	requireT := require.New(t)

	space, _ := newSpace(requireT)
	addresses, err := space.Table().AllocateChain(2)
	requireT.NoError(err)
	requireT.NoError(space.Write(addresses, blocks.FileKind, data(payloadSize+1)))
	requireT.NoError(space.Table().Free(addresses[1]))

	_, err = space.Resolve(addresses[0], blocks.FileKind)
	requireT.ErrorIs(err, ErrCorruptedChain)
}

func TestResolveDetectsKind(t *testing.T) {
	requireT := require.New(t)

	space, _ := newSpace(requireT)
	addresses, err := space.Table().AllocateChain(1)
	requireT.NoError(err)
	requireT.NoError(space.Write(addresses, blocks.FileKind, nil))

	_, err = space.Resolve(addresses[0], blocks.DirectoryKind)
	requireT.ErrorIs(err, ErrCorruptedChain)
}

func TestFree(t *testing.T) {
	requireT := require.New(t)

	space, _ := newSpace(requireT)
	available := space.Table().Available()

	addresses, err := space.Table().AllocateChain(3)
	requireT.NoError(err)
	requireT.NoError(space.Write(addresses, blocks.DirectoryKind, nil))
	requireT.Equal(available-3, space.Table().Available())

	freed, err := space.Free(addresses[0], blocks.DirectoryKind)
	requireT.NoError(err)
	requireT.Equal(addresses, freed)
	requireT.Equal(available, space.Table().Available())
	for _, address := range addresses {
		requireT.False(space.Table().IsAllocated(address))
	}
}

func TestUpdateCommits(t *testing.T) {
	requireT := require.New(t)

	space, store := newSpace(requireT)

	var address blocks.BlockAddress
	requireT.NoError(space.Update(func() error {
		var err error
		address, err = space.Table().Allocate()
		return err
	}))

	table, err := alloc.Load(store, store.Superblock())
	requireT.NoError(err)
	requireT.True(table.IsAllocated(address))
}

func TestUpdateRollsBack(t *testing.T) {
	requireT := require.New(t)

	space, store := newSpace(requireT)
	available := space.Table().Available()
	errTest := errors.New("test")

	var addresses []blocks.BlockAddress
	err := space.Update(func() error {
		var err error
		addresses, err = space.Table().AllocateChain(4)
		if err != nil {
			return err
		}
		return errTest
	})
	requireT.ErrorIs(err, errTest)
	requireT.Equal(available, space.Table().Available())
	for _, address := range addresses {
		requireT.False(space.Table().IsAllocated(address))
	}

	table, err := alloc.Load(store, store.Superblock())
	requireT.NoError(err)
	requireT.Equal(available, table.Available())
}

func TestRelease(t *testing.T) {
	requireT := require.New(t)

	space, _ := newSpace(requireT)
	requireT.NoError(space.Check())

	space2 := space.Session()
	space.Release()

	requireT.ErrorIs(space.Check(), ErrReleased)
	requireT.ErrorIs(space.Update(func() error {
		return nil
	}), ErrReleased)
	requireT.NoError(space2.Check())
}

func TestUpdateRestoresBlocks(t *testing.T) {
	requireT := require.New(t)

	space, store := newSpace(requireT)
	address := commitBlock(requireT, space, []byte("committed"))
	available := space.Table().Available()
	errTest := errors.New("test")

	err := space.Update(func() error {
		if err := space.Write([]blocks.BlockAddress{address}, blocks.FileKind, []byte("updated")); err != nil {
			return err
		}
		addresses, err := space.Table().AllocateChain(2)
		if err != nil {
			return err
		}
		if err := space.Write(addresses, blocks.FileKind, data(payloadSize+1)); err != nil {
			return err
		}
		return errTest
	})
	requireT.ErrorIs(err, errTest)
	requireT.Equal(available, space.Table().Available())
	requireT.Equal([]byte("committed"), readPayload(requireT, store, address))

	p := space.NewBlock()
	requireT.NoError(space.ReadBlock(address, p))
	requireT.Equal([]byte("committed"), chainV0.Payload(p)[:chainV0.DecodeHeader(p).Used])
}

func TestUpdateDeviceFailure(t *testing.T) {
	requireT := require.New(t)

	var failures int
	for n := 0; ; n++ {
		space, store, dev := newSpaceOnDev(requireT)
		address := commitBlock(requireT, space, []byte("committed"))
		available := space.Table().Available()

		dev.FailWrite(n)
		err := space.Update(func() error {
			if err := space.Write([]blocks.BlockAddress{address}, blocks.FileKind, []byte("updated")); err != nil {
				return err
			}
			addresses, err := space.Table().AllocateChain(3)
			if err != nil {
				return err
			}
			return space.Write(addresses, blocks.FileKind, data(2*payloadSize+1))
		})
		if err == nil {
			requireT.False(dev.Failing())
			requireT.Equal(available-3, space.Table().Available())
			requireT.Equal([]byte("updated"), readPayload(requireT, store, address))
			break
		}
		failures++

		requireT.ErrorIs(err, memdev.ErrInjected)
		requireT.Equal(available, space.Table().Available())
		requireT.Equal([]byte("committed"), readPayload(requireT, store, address))

		table, err := alloc.Load(store, store.Superblock())
		requireT.NoError(err)
		requireT.Equal(available, table.Available())

		// Nothing from the failed update is reverted by the next one.
		address2 := commitBlock(requireT, space, []byte("next"))
		requireT.Equal(available-1, space.Table().Available())
		requireT.Error(space.Update(func() error {
			return errors.New("test")
		}))
		requireT.True(space.Table().IsAllocated(address2))
		requireT.True(space.Table().IsAllocated(address))
	}

	// Four data blocks and one table block are written.
	requireT.Equal(5, failures)
}

func TestUpdateSyncFailure(t *testing.T) {
	requireT := require.New(t)

	space, store, dev := newSpaceOnDev(requireT)
	address := commitBlock(requireT, space, []byte("committed"))
	available := space.Table().Available()

	dev.FailSync()
	err := space.Update(func() error {
		if err := space.Write([]blocks.BlockAddress{address}, blocks.FileKind, []byte("updated")); err != nil {
			return err
		}
		_, err := space.Table().Allocate()
		return err
	})
	requireT.ErrorIs(err, memdev.ErrInjected)
	requireT.Equal(available, space.Table().Available())
	requireT.Equal([]byte("committed"), readPayload(requireT, store, address))

	table, err := alloc.Load(store, store.Superblock())
	requireT.NoError(err)
	requireT.Equal(available, table.Available())
}

func TestNestedUpdate(t *testing.T) {
	requireT := require.New(t)

	space, store := newSpace(requireT)
	address := commitBlock(requireT, space, []byte("committed"))
	errTest := errors.New("test")

	err := space.Update(func() error {
		return space.Update(func() error {
			if err := space.Write([]blocks.BlockAddress{address}, blocks.FileKind, []byte("updated")); err != nil {
				return err
			}
			return errTest
		})
	})
	requireT.ErrorIs(err, errTest)
	requireT.Equal([]byte("committed"), readPayload(requireT, store, address))
}
