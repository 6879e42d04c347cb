package chain

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/fefs/alloc"
	"github.com/outofforest/fefs/blocks"
	chainV0 "github.com/outofforest/fefs/blocks/chain/v0"
	"github.com/outofforest/fefs/cache"
)

var (
	// ErrReleased is returned if directory or file is used after the volume handle has been released.
	ErrReleased = errors.New("volume handle has been released")

	// ErrCorruptedChain is returned if block chain does not terminate or points to invalid blocks.
	ErrCorruptedChain = errors.New("corrupted block chain")
)

// Space gives directory and file engines access to the blocks of the volume.
type Space struct {
	c       *cache.Cache
	table   *alloc.Table
	log     *zap.Logger
	session *session
}

type session struct {
	released bool
	journal  *journal
}

// journal keeps the content blocks had before the running update modified them.
type journal struct {
	addresses []blocks.BlockAddress
	images    map[blocks.BlockAddress][]byte
}

// New returns new space.
func New(c *cache.Cache, table *alloc.Table, log *zap.Logger) *Space {
	return &Space{
		c:       c,
		table:   table,
		log:     log,
		session: &session{released: true},
	}
}

// Session returns space bound to the new session. Everything obtained through it stops working
// once Release is called.
func (s *Space) Session() *Space {
	return &Space{
		c:       s.c,
		table:   s.table,
		log:     s.log,
		session: &session{},
	}
}

// Release ends the session.
func (s *Space) Release() {
	s.session.released = true
}

// Check returns error if session has been released.
func (s *Space) Check() error {
	if s.session.released {
		return errors.WithStack(ErrReleased)
	}
	return nil
}

// Logger returns logger.
func (s *Space) Logger() *zap.Logger {
	return s.log
}

// Table returns the allocation table.
func (s *Space) Table() *alloc.Table {
	return s.table
}

// BlockSize returns the size of the block.
func (s *Space) BlockSize() int64 {
	return s.c.BlockSize()
}

// PayloadSize returns the number of content bytes stored in each chained block.
func (s *Space) PayloadSize() int64 {
	return chainV0.PayloadSize(s.c.BlockSize())
}

// NewBlock returns buffer for a block.
func (s *Space) NewBlock() []byte {
	return make([]byte, s.c.BlockSize())
}

// ReadBlock reads the block.
func (s *Space) ReadBlock(address blocks.BlockAddress, p []byte) error {
	return s.c.ReadBlock(address, p)
}

// WriteBlock writes the block. Inside Update the previous content is recorded, so it can be restored on failure.
func (s *Space) WriteBlock(address blocks.BlockAddress, p []byte) error {
	if err := s.record(address); err != nil {
		return err
	}
	return s.c.WriteBlock(address, p)
}

// Update runs the structural operation. If anything fails, including storing the allocation table and syncing
// the device, all the blocks written by the operation get their previous content back and allocation table changes
// are reverted.
func (s *Space) Update(fn func() error) error {
	if err := s.Check(); err != nil {
		return err
	}
	if s.session.journal != nil {
		return fn()
	}

	j := &journal{images: map[blocks.BlockAddress][]byte{}}
	s.session.journal = j
	defer func() {
		s.session.journal = nil
	}()

	err := fn()
	if err == nil {
		err = s.flush()
	}
	if err == nil {
		err = s.c.Sync()
	}
	if err != nil {
		s.table.Rollback()
		if restoreErr := s.restore(j); restoreErr != nil {
			s.log.Error("Restoring blocks after failed update failed", zap.Error(restoreErr))
		}
		return err
	}

	return s.table.Commit()
}

func (s *Space) flush() error {
	for _, address := range s.table.DirtyBlocks() {
		if err := s.record(address); err != nil {
			return err
		}
	}
	return s.table.Flush()
}

func (s *Space) record(address blocks.BlockAddress) error {
	j := s.session.journal
	if j == nil {
		return nil
	}
	if _, exists := j.images[address]; exists {
		return nil
	}

	p := s.NewBlock()
	if err := s.c.ReadBlock(address, p); err != nil {
		return err
	}
	j.images[address] = p
	j.addresses = append(j.addresses, address)
	return nil
}

func (s *Space) restore(j *journal) error {
	for i := len(j.addresses) - 1; i >= 0; i-- {
		address := j.addresses[i]
		if err := s.c.WriteBlock(address, j.images[address]); err != nil {
			return err
		}
	}
	return s.c.Sync()
}

// Resolve follows the chain starting at head and returns addresses of all its blocks.
func (s *Space) Resolve(head blocks.BlockAddress, kind blocks.Kind) ([]blocks.BlockAddress, error) {
	p := s.NewBlock()
	addresses := []blocks.BlockAddress{}
	visited := map[blocks.BlockAddress]struct{}{}

	for address := head; address != blocks.NilAddress; {
		if _, exists := visited[address]; exists {
			return nil, errors.Wrapf(ErrCorruptedChain, "block %d visited twice in chain starting at %d", address, head)
		}
		if !s.table.IsAllocated(address) {
			return nil, errors.Wrapf(ErrCorruptedChain, "block %d of chain starting at %d is not allocated", address, head)
		}
		visited[address] = struct{}{}

		if err := s.ReadBlock(address, p); err != nil {
			return nil, err
		}
		header := chainV0.DecodeHeader(p)
		if header.Kind != kind {
			return nil, errors.Wrapf(ErrCorruptedChain, "block %d has kind %s, expected %s", address, header.Kind, kind)
		}

		addresses = append(addresses, address)
		address = header.Next
	}

	return addresses, nil
}

// Write stores data in the blocks, linking them into chain in the given order.
func (s *Space) Write(addresses []blocks.BlockAddress, kind blocks.Kind, data []byte) error {
	p := s.NewBlock()
	payloadSize := s.PayloadSize()

	for i, address := range addresses {
		clear(p)

		chunk := data
		if int64(len(chunk)) > payloadSize {
			chunk = chunk[:payloadSize]
		}
		data = data[len(chunk):]

		header := chainV0.Header{
			Used: uint32(len(chunk)),
			Kind: kind,
		}
		if i < len(addresses)-1 {
			header.Next = addresses[i+1]
		}
		header.Encode(p)
		copy(chainV0.Payload(p), chunk)

		if err := s.WriteBlock(address, p); err != nil {
			return err
		}
	}

	if len(data) > 0 {
		return errors.Errorf("%d bytes don't fit into %d blocks", len(data), len(addresses))
	}
	return nil
}

// Free releases all the blocks of the chain starting at head.
func (s *Space) Free(head blocks.BlockAddress, kind blocks.Kind) ([]blocks.BlockAddress, error) {
	addresses, err := s.Resolve(head, kind)
	if err != nil {
		return nil, err
	}
	if err := s.FreeChain(addresses); err != nil {
		return nil, err
	}
	return addresses, nil
}

// FreeChain releases the blocks and drops them from the cache.
func (s *Space) FreeChain(addresses []blocks.BlockAddress) error {
	if err := s.table.FreeChain(addresses); err != nil {
		return err
	}
	for _, address := range addresses {
		s.c.Invalidate(address)
	}
	return nil
}

// BlocksFor returns the number of blocks required to store n bytes. Chain has always at least one block.
func (s *Space) BlocksFor(n int64) int {
	payloadSize := s.PayloadSize()
	if n <= payloadSize {
		return 1
	}
	return int((n + payloadSize - 1) / payloadSize)
}
