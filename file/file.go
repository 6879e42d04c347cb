package file

import (
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/fefs/alloc"
	"github.com/outofforest/fefs/blocks"
	chainV0 "github.com/outofforest/fefs/blocks/chain/v0"
	"github.com/outofforest/fefs/chain"
)

var (
	// ErrAlreadyExists is returned if file is created using name already taken in the directory.
	ErrAlreadyExists = errors.New("file already exists")

	// ErrNotFound is returned if file does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrSeekValueOverFlow is returned if cursor is moved past the end of the file.
	ErrSeekValueOverFlow = errors.New("seek value overflows file size")

	// ErrUnsupportedWriteMode is returned if write mode is not known.
	ErrUnsupportedWriteMode = errors.New("unsupported write mode")
)

// WriteMode defines how written bytes are combined with the existing content.
type WriteMode uint8

// Write modes.
const (
	// OverWritten replaces the whole content of the file.
	OverWritten WriteMode = iota
)

// Entry is the directory record owning the file.
type Entry interface {
	// Load returns head block and size currently stored in the directory.
	Load() (blocks.BlockAddress, uint64, error)

	// Store saves head block and size in the directory.
	Store(head blocks.BlockAddress, size uint64) error
}

// File is the open file.
type File struct {
	space *chain.Space
	name  string
	entry Entry

	head   blocks.BlockAddress
	size   uint64
	cursor uint64
	chain  []blocks.BlockAddress
}

// New returns open file.
func New(space *chain.Space, name string, entry Entry, head blocks.BlockAddress, size uint64) *File {
	return &File{
		space: space,
		name:  name,
		entry: entry,
		head:  head,
		size:  size,
	}
}

// Name returns the name of the file.
func (f *File) Name() string {
	return f.name
}

// Size returns the length of the file in bytes.
func (f *File) Size() uint64 {
	return f.size
}

// Position returns the cursor.
func (f *File) Position() uint64 {
	return f.cursor
}

// Write stores data in the file.
func (f *File) Write(data []byte, mode WriteMode) error {
	if mode != OverWritten {
		return errors.Wrapf(ErrUnsupportedWriteMode, "mode: %d", mode)
	}

	return f.space.Update(func() error {
		if err := f.refresh(); err != nil {
			return err
		}
		oldChain, err := f.resolve()
		if err != nil {
			return err
		}

		table := f.space.Table()
		nBlocks := f.space.BlocksFor(int64(len(data)))
		if uint64(nBlocks) > table.Available()+uint64(len(oldChain)) {
			return errors.Wrapf(alloc.ErrOutOfSpace, "file %q needs %d blocks, available: %d",
				f.name, nBlocks, table.Available()+uint64(len(oldChain)))
		}

		var newChain []blocks.BlockAddress
		if uint64(nBlocks) <= table.Available() {
			// Old content stays untouched until the new one is fully written.
			if newChain, err = table.AllocateChain(nBlocks); err != nil {
				return err
			}
			if err := f.space.FreeChain(oldChain); err != nil {
				return err
			}
		} else {
			if err := f.space.FreeChain(oldChain); err != nil {
				return err
			}
			if newChain, err = table.AllocateChain(nBlocks); err != nil {
				return err
			}
		}

		if err := f.space.Write(newChain, blocks.FileKind, data); err != nil {
			return err
		}
		if err := f.entry.Store(newChain[0], uint64(len(data))); err != nil {
			return err
		}

		f.space.Logger().Debug("File written",
			zap.String("name", f.name),
			zap.Int("size", len(data)),
			zap.Uint64("head", uint64(newChain[0])),
			zap.Int("blocks", nBlocks))

		f.head = newChain[0]
		f.size = uint64(len(data))
		f.chain = newChain
		f.cursor = 0
		return nil
	})
}

// Read copies bytes starting at the cursor to p and advances the cursor. At the end of the file 0 is returned.
func (f *File) Read(p []byte) (int, error) {
	if err := f.prepare(); err != nil {
		return 0, err
	}

	remaining := f.size - f.cursor
	if uint64(len(p)) > remaining {
		p = p[:remaining]
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := f.readAt(p, f.cursor)
	f.cursor += uint64(n)
	return n, err
}

// ReadAll appends all the bytes from the cursor to the end of the file to sink and moves the cursor to the end.
func (f *File) ReadAll(sink *[]byte) (int, error) {
	if err := f.prepare(); err != nil {
		return 0, err
	}

	remaining := f.size - f.cursor
	start := len(*sink)
	*sink = append(*sink, make([]byte, remaining)...)

	n, err := f.readAt((*sink)[start:], f.cursor)
	*sink = (*sink)[:start+n]
	f.cursor += uint64(n)
	return n, err
}

// ReadTo writes all the bytes from the cursor to the end of the file to w and moves the cursor to the end.
func (f *File) ReadTo(w io.Writer) (int64, error) {
	if err := f.prepare(); err != nil {
		return 0, err
	}

	p := make([]byte, f.space.PayloadSize())
	var total int64
	for f.cursor < f.size {
		chunk := p
		if remaining := f.size - f.cursor; uint64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		n, err := f.readAt(chunk, f.cursor)
		f.cursor += uint64(n)
		if err != nil {
			return total, err
		}
		written, err := w.Write(chunk[:n])
		total += int64(written)
		if err != nil {
			return total, errors.WithStack(err)
		}
	}
	return total, nil
}

// Seek moves the cursor. Position equal to the size of the file is valid.
func (f *File) Seek(position uint64) error {
	if err := f.prepare(); err != nil {
		return err
	}
	if position > f.size {
		return errors.Wrapf(ErrSeekValueOverFlow, "position: %d, size: %d", position, f.size)
	}
	f.cursor = position
	return nil
}

func (f *File) prepare() error {
	if err := f.space.Check(); err != nil {
		return err
	}
	return f.refresh()
}

// refresh reloads the entry, because file might have been rewritten through another handle. Chain is resolved again
// by every operation, as rewrite may keep head and size while moving the rest of the chain.
func (f *File) refresh() error {
	head, size, err := f.entry.Load()
	if err != nil {
		return err
	}
	f.head = head
	f.size = size
	f.chain = nil
	if f.cursor > size {
		f.cursor = size
	}
	return nil
}

func (f *File) resolve() ([]blocks.BlockAddress, error) {
	if f.chain != nil {
		return f.chain, nil
	}

	addresses, err := f.space.Resolve(f.head, blocks.FileKind)
	if err != nil {
		return nil, err
	}
	if uint64(f.space.BlocksFor(int64(f.size))) != uint64(len(addresses)) {
		return nil, errors.Wrapf(chain.ErrCorruptedChain, "file %q of size %d is stored in %d blocks",
			f.name, f.size, len(addresses))
	}
	f.chain = addresses
	return addresses, nil
}

// readAt fills p with bytes starting at offset. Caller guarantees that p does not cross the end of the file.
func (f *File) readAt(p []byte, offset uint64) (int, error) {
	addresses, err := f.resolve()
	if err != nil {
		return 0, err
	}

	payloadSize := uint64(f.space.PayloadSize())
	block := f.space.NewBlock()

	var n int
	for n < len(p) {
		index := offset / payloadSize
		inBlock := offset % payloadSize
		if index >= uint64(len(addresses)) {
			return n, errors.Wrapf(chain.ErrCorruptedChain, "offset %d of file %q is beyond its chain", offset, f.name)
		}

		if err := f.space.ReadBlock(addresses[index], block); err != nil {
			return n, err
		}
		copied := copy(p[n:], chainV0.Payload(block)[inBlock:])
		n += copied
		offset += uint64(copied)
	}
	return n, nil
}
