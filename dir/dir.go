package dir

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/outofforest/fefs/blocks"
	chainV0 "github.com/outofforest/fefs/blocks/chain/v0"
	dirV0 "github.com/outofforest/fefs/blocks/dir/v0"
	"github.com/outofforest/fefs/chain"
	"github.com/outofforest/fefs/file"
)

var (
	// ErrDirExist is returned if directory is created using name already taken in the directory.
	ErrDirExist = errors.New("directory entry already exists")

	// ErrNotFound is returned if entry does not exist.
	ErrNotFound = errors.New("entry not found")

	// ErrInvalidName is returned if name can't be used as an entry name.
	ErrInvalidName = errors.New("invalid name")
)

// Entry describes item stored in the directory.
type Entry struct {
	Name string
	Kind blocks.Kind
	Head blocks.BlockAddress
	Size uint64
}

// Directory is the view of a directory.
type Directory struct {
	space *chain.Space
	name  string
	head  blocks.BlockAddress
	ref   *entryRef
}

// NewRoot returns the root directory.
func NewRoot(space *chain.Space, head blocks.BlockAddress) *Directory {
	return &Directory{
		space: space,
		name:  "/",
		head:  head,
	}
}

// Name returns the name of the directory.
func (d *Directory) Name() string {
	return d.name
}

// Head returns the first block of the directory.
func (d *Directory) Head() blocks.BlockAddress {
	return d.head
}

// Mkdir creates subdirectory.
func (d *Directory) Mkdir(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	return d.space.Update(func() error {
		l, err := d.load()
		if err != nil {
			return err
		}
		if _, exists := l.find(name); exists {
			return errors.Wrapf(ErrDirExist, "name: %q", name)
		}

		ref, head, err := d.insert(l, name, blocks.DirectoryKind)
		if err != nil {
			return err
		}

		d.space.Logger().Debug("Directory created",
			zap.String("name", name),
			zap.Uint64("head", uint64(head)),
			zap.Uint64("entryBlock", uint64(ref.block)),
			zap.Int("slot", ref.slot))
		return nil
	})
}

// Cd returns subdirectory.
func (d *Directory) Cd(name string) (*Directory, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := d.space.Check(); err != nil {
		return nil, err
	}

	l, err := d.load()
	if err != nil {
		return nil, err
	}
	loc, exists := l.find(name)
	if !exists || loc.entry.Kind != blocks.DirectoryKind {
		return nil, errors.Wrapf(ErrNotFound, "directory %q does not exist", name)
	}

	return &Directory{
		space: d.space,
		name:  name,
		head:  loc.entry.Head,
		ref:   d.refTo(loc, name, blocks.DirectoryKind),
	}, nil
}

// CreateFile creates empty file.
func (d *Directory) CreateFile(name string) (*file.File, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	var f *file.File
	err := d.space.Update(func() error {
		l, err := d.load()
		if err != nil {
			return err
		}
		if _, exists := l.find(name); exists {
			return errors.Wrapf(file.ErrAlreadyExists, "name: %q", name)
		}

		ref, head, err := d.insert(l, name, blocks.FileKind)
		if err != nil {
			return err
		}

		d.space.Logger().Debug("File created",
			zap.String("name", name),
			zap.Uint64("head", uint64(head)),
			zap.Uint64("entryBlock", uint64(ref.block)),
			zap.Int("slot", ref.slot))

		f = file.New(d.space, name, ref, head, 0)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Open opens existing file.
func (d *Directory) Open(name string) (*file.File, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := d.space.Check(); err != nil {
		return nil, err
	}

	l, err := d.load()
	if err != nil {
		return nil, err
	}
	loc, exists := l.find(name)
	if !exists || loc.entry.Kind != blocks.FileKind {
		return nil, errors.Wrapf(file.ErrNotFound, "file %q does not exist", name)
	}

	return file.New(d.space, name, d.refTo(loc, name, blocks.FileKind), loc.entry.Head, loc.entry.Size), nil
}

// Delete removes entry. Directories are removed together with their content.
func (d *Directory) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	return d.space.Update(func() error {
		l, err := d.load()
		if err != nil {
			return err
		}
		loc, exists := l.find(name)
		if !exists {
			return errors.Wrapf(ErrNotFound, "entry %q does not exist", name)
		}

		released, err := d.release(loc.entry.Kind, loc.entry.Head)
		if err != nil {
			return err
		}

		p := l.blocks[loc.blockIndex]
		dirV0.EncodeEntry(p, loc.slot, dirV0.Entry{})
		if err := d.space.WriteBlock(l.addresses[loc.blockIndex], p); err != nil {
			return err
		}

		shrunk, err := d.shrink(l)
		if err != nil {
			return err
		}

		d.space.Logger().Debug("Entry deleted",
			zap.String("name", name),
			zap.Stringer("kind", loc.entry.Kind),
			zap.Int("releasedBlocks", released),
			zap.Int("releasedDirBlocks", shrunk))
		return nil
	})
}

// Exist tells if entry exists.
func (d *Directory) Exist(name string) bool {
	if validateName(name) != nil || d.space.Check() != nil {
		return false
	}
	l, err := d.load()
	if err != nil {
		return false
	}
	_, exists := l.find(name)
	return exists
}

// Ls returns names of the entries.
func (d *Directory) Ls() ([]string, error) {
	entries, err := d.Entries()
	if err != nil {
		return nil, err
	}
	return lo.Map(entries, func(e Entry, _ int) string {
		return e.Name
	}), nil
}

// Entries returns entries stored in the directory.
func (d *Directory) Entries() ([]Entry, error) {
	if err := d.space.Check(); err != nil {
		return nil, err
	}
	l, err := d.load()
	if err != nil {
		return nil, err
	}

	return lo.FilterMap(l.all(), func(e dirV0.Entry, _ int) (Entry, bool) {
		return toEntry(e), e.Kind != blocks.FreeKind
	}), nil
}

// Stat returns entry.
func (d *Directory) Stat(name string) (Entry, error) {
	if err := validateName(name); err != nil {
		return Entry{}, err
	}
	if err := d.space.Check(); err != nil {
		return Entry{}, err
	}
	l, err := d.load()
	if err != nil {
		return Entry{}, err
	}
	loc, exists := l.find(name)
	if !exists {
		return Entry{}, errors.Wrapf(ErrNotFound, "entry %q does not exist", name)
	}
	return toEntry(loc.entry), nil
}

// insert allocates head block of the new entry, extending directory chain if there is no free slot.
func (d *Directory) insert(l listing, name string, kind blocks.Kind) (*entryRef, blocks.BlockAddress, error) {
	blockIndex, slot, free := l.freeSlot()

	n := 1
	if !free {
		n = 2
	}
	addresses, err := d.space.Table().AllocateChain(n)
	if err != nil {
		return nil, 0, err
	}

	head := addresses[0]
	if err := d.space.Write([]blocks.BlockAddress{head}, kind, nil); err != nil {
		return nil, 0, err
	}

	entry := dirV0.NewEntry(name, kind, head)
	if free {
		p := l.blocks[blockIndex]
		dirV0.EncodeEntry(p, slot, entry)
		if err := d.space.WriteBlock(l.addresses[blockIndex], p); err != nil {
			return nil, 0, err
		}
		return &entryRef{
			space: d.space,
			block: l.addresses[blockIndex],
			slot:  slot,
			name:  name,
			kind:  kind,
		}, head, nil
	}

	extension := addresses[1]
	p := d.space.NewBlock()
	chainV0.Header{Kind: blocks.DirectoryKind}.Encode(p)
	dirV0.EncodeEntry(p, 0, entry)
	if err := d.space.WriteBlock(extension, p); err != nil {
		return nil, 0, err
	}

	last := len(l.addresses) - 1
	if err := d.link(l.addresses[last], l.blocks[last], extension); err != nil {
		return nil, 0, err
	}

	return &entryRef{
		space: d.space,
		block: extension,
		slot:  0,
		name:  name,
		kind:  kind,
	}, head, nil
}

// release frees the chain of the entry. For directories, content is released first.
func (d *Directory) release(kind blocks.Kind, head blocks.BlockAddress) (int, error) {
	if kind == blocks.FileKind {
		addresses, err := d.space.Free(head, blocks.FileKind)
		if err != nil {
			return 0, err
		}
		return len(addresses), nil
	}

	addresses, err := d.space.Resolve(head, blocks.DirectoryKind)
	if err != nil {
		return 0, err
	}

	var released int
	p := d.space.NewBlock()
	for _, address := range addresses {
		if err := d.space.ReadBlock(address, p); err != nil {
			return 0, err
		}
		for slot := range dirV0.EntriesPerBlock(d.space.BlockSize()) {
			e := dirV0.DecodeEntry(p, slot)
			if e.Kind == blocks.FreeKind {
				continue
			}
			n, err := d.release(e.Kind, e.Head)
			if err != nil {
				return 0, err
			}
			released += n
		}
	}

	if err := d.space.FreeChain(addresses); err != nil {
		return 0, err
	}
	return released + len(addresses), nil
}

// shrink releases empty blocks from the end of the directory chain. Head block is never released.
func (d *Directory) shrink(l listing) (int, error) {
	var released []blocks.BlockAddress
	for last := len(l.addresses) - 1; last > 0 && l.empty(last); last-- {
		if err := d.link(l.addresses[last-1], l.blocks[last-1], blocks.NilAddress); err != nil {
			return 0, err
		}
		released = append(released, l.addresses[last])
	}
	if err := d.space.FreeChain(released); err != nil {
		return 0, err
	}
	return len(released), nil
}

func (d *Directory) link(address blocks.BlockAddress, p []byte, next blocks.BlockAddress) error {
	header := chainV0.DecodeHeader(p)
	header.Next = next
	header.Encode(p)
	return d.space.WriteBlock(address, p)
}

// load verifies that directory still exists and reads its chain.
func (d *Directory) load() (listing, error) {
	if d.ref != nil {
		e, _, err := d.ref.load()
		if err != nil {
			return listing{}, err
		}
		if e.Head != d.head {
			return listing{}, errors.Wrapf(ErrNotFound, "directory %q has been replaced", d.name)
		}
	}

	addresses, err := d.space.Resolve(d.head, blocks.DirectoryKind)
	if err != nil {
		return listing{}, err
	}

	l := listing{
		entriesPerBlock: dirV0.EntriesPerBlock(d.space.BlockSize()),
		addresses:       addresses,
		blocks:          make([][]byte, 0, len(addresses)),
	}
	for _, address := range addresses {
		p := d.space.NewBlock()
		if err := d.space.ReadBlock(address, p); err != nil {
			return listing{}, err
		}
		l.blocks = append(l.blocks, p)
	}
	return l, nil
}

func (d *Directory) refTo(loc location, name string, kind blocks.Kind) *entryRef {
	return &entryRef{
		space: d.space,
		block: loc.address,
		slot:  loc.slot,
		name:  name,
		kind:  kind,
	}
}

type location struct {
	blockIndex int
	address    blocks.BlockAddress
	slot       int
	entry      dirV0.Entry
}

type listing struct {
	entriesPerBlock int
	addresses       []blocks.BlockAddress
	blocks          [][]byte
}

func (l listing) find(name string) (location, bool) {
	nameHash := blocks.NameHash(name)
	for i, p := range l.blocks {
		for slot := range l.entriesPerBlock {
			if e := dirV0.DecodeEntry(p, slot); e.Matches(name, nameHash) {
				return location{
					blockIndex: i,
					address:    l.addresses[i],
					slot:       slot,
					entry:      e,
				}, true
			}
		}
	}
	return location{}, false
}

func (l listing) freeSlot() (int, int, bool) {
	for i, p := range l.blocks {
		for slot := range l.entriesPerBlock {
			if dirV0.DecodeEntry(p, slot).Kind == blocks.FreeKind {
				return i, slot, true
			}
		}
	}
	return 0, 0, false
}

func (l listing) empty(blockIndex int) bool {
	for slot := range l.entriesPerBlock {
		if dirV0.DecodeEntry(l.blocks[blockIndex], slot).Kind != blocks.FreeKind {
			return false
		}
	}
	return true
}

func (l listing) all() []dirV0.Entry {
	entries := make([]dirV0.Entry, 0, len(l.blocks)*l.entriesPerBlock)
	for _, p := range l.blocks {
		for slot := range l.entriesPerBlock {
			entries = append(entries, dirV0.DecodeEntry(p, slot))
		}
	}
	return entries
}

func toEntry(e dirV0.Entry) Entry {
	return Entry{
		Name: e.EntryName(),
		Kind: e.Kind,
		Head: e.Head,
		Size: e.Size,
	}
}

func validateName(name string) error {
	if name == "" || len(name) > dirV0.MaxNameLength || name == "." || name == ".." ||
		strings.ContainsAny(name, "/\x00") {
		return errors.Wrapf(ErrInvalidName, "name: %q", name)
	}
	return nil
}
