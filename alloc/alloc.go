package alloc

import (
	"github.com/pkg/errors"

	"github.com/outofforest/fefs/blocks"
	"github.com/outofforest/fefs/blocks/bitmap"
	superblockV0 "github.com/outofforest/fefs/blocks/superblock/v0"
)

// ErrOutOfSpace is returned if there are not enough free blocks to satisfy the allocation.
var ErrOutOfSpace = errors.New("out of space")

// BlockStore is the storage keeping the allocation table.
type BlockStore interface {
	BlockSize() int64
	ReadBlock(address blocks.BlockAddress, p []byte) error
	WriteBlock(address blocks.BlockAddress, p []byte) error
}

// Table tracks free and used blocks of the volume. Bit set means block is in use.
//
// Changes are kept in memory until Commit writes the modified table blocks to the store. Rollback reverts all the
// changes done since the last commit, so the operation failing in the middle leaves the table untouched.
type Table struct {
	store       BlockStore
	blockSize   int64
	allocBlocks uint32
	firstBlock  blocks.BlockAddress
	nBlocks     uint64
	bits        []byte
	free        uint64
	changes     []blocks.BlockAddress
	flushed     int
}

// Load reads the allocation table of the volume described by the superblock.
func Load(store BlockStore, sBlock superblockV0.Block) (*Table, error) {
	blockSize := store.BlockSize()
	t := &Table{
		store:       store,
		blockSize:   blockSize,
		allocBlocks: sBlock.AllocBlocks,
		firstBlock:  sBlock.RootBlock + 1,
		nBlocks:     sBlock.NBlocks,
		bits:        make([]byte, int64(sBlock.AllocBlocks)*blockSize),
	}

	for i := uint32(0); i < t.allocBlocks; i++ {
		if err := store.ReadBlock(tableBlockAddress(i), t.tableBlock(i)); err != nil {
			return nil, err
		}
	}

	for i := uint64(0); i < uint64(t.firstBlock); i++ {
		if !bitmap.IsSet(t.bits, i) {
			return nil, errors.Errorf("reserved block %d is marked as free", i)
		}
	}

	t.free = bitmap.CountClear(t.bits, uint64(t.firstBlock), t.nBlocks)
	return t, nil
}

// NBlocks returns the total number of blocks in the volume.
func (t *Table) NBlocks() uint64 {
	return t.nBlocks
}

// Available returns the number of free blocks.
func (t *Table) Available() uint64 {
	return t.free
}

// IsAllocated tells if block is in use.
func (t *Table) IsAllocated(address blocks.BlockAddress) bool {
	if uint64(address) >= t.nBlocks {
		return false
	}
	return bitmap.IsSet(t.bits, uint64(address))
}

// Allocate allocates a single block. The first free block is taken.
func (t *Table) Allocate() (blocks.BlockAddress, error) {
	addresses, err := t.AllocateChain(1)
	if err != nil {
		return 0, err
	}
	return addresses[0], nil
}

// AllocateChain allocates n blocks. Either all of them are allocated or none.
func (t *Table) AllocateChain(n int) ([]blocks.BlockAddress, error) {
	if n < 0 {
		return nil, errors.Errorf("invalid number of blocks: %d", n)
	}
	if uint64(n) > t.free {
		return nil, errors.Wrapf(ErrOutOfSpace, "requested: %d, available: %d", n, t.free)
	}

	addresses := make([]blocks.BlockAddress, 0, n)
	from := uint64(t.firstBlock)
	for len(addresses) < n {
		i, found := bitmap.FindClear(t.bits, from, t.nBlocks)
		if !found {
			return nil, errors.Errorf("allocation table is inconsistent, %d blocks should be free", t.free)
		}
		addresses = append(addresses, blocks.BlockAddress(i))
		from = i + 1
	}

	for _, address := range addresses {
		t.toggle(address)
	}
	t.free -= uint64(n)

	return addresses, nil
}

// Free releases the block.
func (t *Table) Free(address blocks.BlockAddress) error {
	return t.FreeChain([]blocks.BlockAddress{address})
}

// FreeChain releases all the blocks. Either all of them are released or none.
func (t *Table) FreeChain(addresses []blocks.BlockAddress) error {
	seen := make(map[blocks.BlockAddress]struct{}, len(addresses))
	for _, address := range addresses {
		if address < t.firstBlock || uint64(address) >= t.nBlocks {
			return errors.Errorf("block %d can't be released", address)
		}
		if !bitmap.IsSet(t.bits, uint64(address)) {
			return errors.Errorf("block %d is not allocated", address)
		}
		if _, exists := seen[address]; exists {
			return errors.Errorf("block %d released twice", address)
		}
		seen[address] = struct{}{}
	}

	for _, address := range addresses {
		t.toggle(address)
		t.free++
	}

	return nil
}

// DirtyBlocks returns addresses of the table blocks modified since the last flush.
func (t *Table) DirtyBlocks() []blocks.BlockAddress {
	dirty := map[uint32]struct{}{}
	addresses := []blocks.BlockAddress{}
	for _, address := range t.changes[t.flushed:] {
		i := t.tableBlockIndex(address)
		if _, exists := dirty[i]; exists {
			continue
		}
		dirty[i] = struct{}{}
		addresses = append(addresses, tableBlockAddress(i))
	}
	return addresses
}

// Flush stores modified table blocks. Flushed changes may still be reverted by Rollback until Commit is called.
func (t *Table) Flush() error {
	for _, address := range t.DirtyBlocks() {
		i := uint32(address - 1)
		if err := t.store.WriteBlock(address, t.tableBlock(i)); err != nil {
			return err
		}
	}
	t.flushed = len(t.changes)
	return nil
}

// Commit stores modified table blocks and forgets the changes, so they can't be reverted anymore.
func (t *Table) Commit() error {
	if err := t.Flush(); err != nil {
		return err
	}
	t.changes = t.changes[:0]
	t.flushed = 0
	return nil
}

// Rollback reverts in memory all the changes done since the last commit. Table blocks already flushed are not
// rewritten, caller is responsible for restoring them.
func (t *Table) Rollback() {
	for i := len(t.changes) - 1; i >= 0; i-- {
		address := t.changes[i]
		if bitmap.IsSet(t.bits, uint64(address)) {
			bitmap.Clear(t.bits, uint64(address))
			t.free++
		} else {
			bitmap.Set(t.bits, uint64(address))
			t.free--
		}
	}
	t.changes = t.changes[:0]
	t.flushed = 0
}

func (t *Table) toggle(address blocks.BlockAddress) {
	if bitmap.IsSet(t.bits, uint64(address)) {
		bitmap.Clear(t.bits, uint64(address))
	} else {
		bitmap.Set(t.bits, uint64(address))
	}
	t.changes = append(t.changes, address)
}

func (t *Table) tableBlockIndex(address blocks.BlockAddress) uint32 {
	return uint32(uint64(address) / uint64(t.blockSize*8))
}

func (t *Table) tableBlock(i uint32) []byte {
	offset := int64(i) * t.blockSize
	return t.bits[offset : offset+t.blockSize]
}

func tableBlockAddress(i uint32) blocks.BlockAddress {
	return blocks.BlockAddress(i) + 1
}
