package dir

import (
	"github.com/pkg/errors"

	"github.com/outofforest/fefs/blocks"
	chainV0 "github.com/outofforest/fefs/blocks/chain/v0"
	dirV0 "github.com/outofforest/fefs/blocks/dir/v0"
	"github.com/outofforest/fefs/chain"
	"github.com/outofforest/fefs/file"
)

// entryRef points to the slot of the directory block where entry is stored.
// Entries never move, so the slot stays valid until the entry is deleted.
type entryRef struct {
	space *chain.Space
	block blocks.BlockAddress
	slot  int
	name  string
	kind  blocks.Kind
}

// Load returns head and size stored in the entry.
func (r *entryRef) Load() (blocks.BlockAddress, uint64, error) {
	if err := r.space.Check(); err != nil {
		return 0, 0, err
	}
	e, _, err := r.load()
	if err != nil {
		return 0, 0, err
	}
	return e.Head, e.Size, nil
}

// Store saves head and size in the entry.
func (r *entryRef) Store(head blocks.BlockAddress, size uint64) error {
	e, p, err := r.load()
	if err != nil {
		return err
	}
	e.Head = head
	e.Size = size
	dirV0.EncodeEntry(p, r.slot, e)
	return r.space.WriteBlock(r.block, p)
}

func (r *entryRef) load() (dirV0.Entry, []byte, error) {
	if !r.space.Table().IsAllocated(r.block) {
		return dirV0.Entry{}, nil, r.notFound()
	}

	p := r.space.NewBlock()
	if err := r.space.ReadBlock(r.block, p); err != nil {
		return dirV0.Entry{}, nil, err
	}
	if chainV0.DecodeHeader(p).Kind != blocks.DirectoryKind {
		return dirV0.Entry{}, nil, r.notFound()
	}

	e := dirV0.DecodeEntry(p, r.slot)
	if !e.Matches(r.name, blocks.NameHash(r.name)) || e.Kind != r.kind {
		return dirV0.Entry{}, nil, r.notFound()
	}
	return e, p, nil
}

func (r *entryRef) notFound() error {
	if r.kind == blocks.FileKind {
		return errors.Wrapf(file.ErrNotFound, "file %q has been deleted", r.name)
	}
	return errors.Wrapf(ErrNotFound, "directory %q has been deleted", r.name)
}
