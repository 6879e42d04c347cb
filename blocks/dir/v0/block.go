package v0

import (
	"encoding/binary"

	"github.com/outofforest/fefs/blocks"
	chainV0 "github.com/outofforest/fefs/blocks/chain/v0"
)

const (
	// MaxNameLength is the maximum length of the entry name in bytes.
	MaxNameLength = 40

	// EntrySize is the size of the encoded directory entry.
	EntrySize = 64
)

// Entry is the record stored in the directory chain.
type Entry struct {
	Name     [MaxNameLength]byte
	NameLen  uint8
	Kind     blocks.Kind
	NameHash uint32
	Head     blocks.BlockAddress
	Size     uint64
}

// EntriesPerBlock returns number of entries fitting in a directory block of the given size.
func EntriesPerBlock(blockSize int64) int {
	return int(chainV0.PayloadSize(blockSize) / EntrySize)
}

// NewEntry returns entry with name set.
func NewEntry(name string, kind blocks.Kind, head blocks.BlockAddress) Entry {
	e := Entry{
		NameLen:  uint8(len(name)),
		Kind:     kind,
		NameHash: blocks.NameHash(name),
		Head:     head,
	}
	copy(e.Name[:], name)
	return e
}

// EntryName returns the name stored in the entry.
func (e Entry) EntryName() string {
	return string(e.Name[:e.NameLen])
}

// Matches tells if entry is active and carries the name.
func (e Entry) Matches(name string, nameHash uint32) bool {
	return e.Kind != blocks.FreeKind && e.NameHash == nameHash && int(e.NameLen) == len(name) &&
		string(e.Name[:e.NameLen]) == name
}

// EncodeEntry stores the entry in the slot of the directory block.
func EncodeEntry(block []byte, slot int, e Entry) {
	p := slotBytes(block, slot)
	copy(p[0:MaxNameLength], e.Name[:])
	p[40] = e.NameLen
	p[41] = byte(e.Kind)
	p[42], p[43] = 0, 0
	binary.LittleEndian.PutUint32(p[44:48], e.NameHash)
	binary.LittleEndian.PutUint64(p[48:56], uint64(e.Head))
	binary.LittleEndian.PutUint64(p[56:64], e.Size)
}

// DecodeEntry loads the entry from the slot of the directory block.
func DecodeEntry(block []byte, slot int) Entry {
	p := slotBytes(block, slot)
	var e Entry
	copy(e.Name[:], p[0:MaxNameLength])
	e.NameLen = p[40]
	if e.NameLen > MaxNameLength {
		e.NameLen = MaxNameLength
	}
	e.Kind = blocks.Kind(p[41])
	e.NameHash = binary.LittleEndian.Uint32(p[44:48])
	e.Head = blocks.BlockAddress(binary.LittleEndian.Uint64(p[48:56]))
	e.Size = binary.LittleEndian.Uint64(p[56:64])
	return e
}

func slotBytes(block []byte, slot int) []byte {
	offset := chainV0.HeaderSize + slot*EntrySize
	return block[offset : offset+EntrySize]
}
