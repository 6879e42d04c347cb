package blocks

const (
	// DefaultBlockSize is the size of the block used when nothing else is configured.
	DefaultBlockSize int64 = 512

	// MinBlockSize is the smallest supported block size. It must fit the superblock and at least one directory entry.
	MinBlockSize int64 = 128

	// MaxBlockSize is the largest supported block size.
	MaxBlockSize int64 = 64 * 1024

	// DefaultAllocBlocks is the default number of blocks reserved for the allocation table.
	DefaultAllocBlocks uint32 = 8
)

// BlockAddress is the address (index) of the block.
type BlockAddress uint64

// NilAddress terminates the chain. Block 0 always holds the superblock, so it is never a successor in a chain.
const NilAddress BlockAddress = 0

// Kind is the enum representing the kind of the chain and the kind of the directory entry.
type Kind byte

// Kinds. FreeKind marks unused (or deleted) directory entries.
const (
	FreeKind Kind = iota
	DirectoryKind
	FileKind
)

func (k Kind) String() string {
	switch k {
	case FreeKind:
		return "free"
	case DirectoryKind:
		return "dir"
	case FileKind:
		return "file"
	default:
		return "unknown"
	}
}

// SchemaVersion defines version of the schema.
type SchemaVersion uint16

// Schema versions
const (
	SuperblockV0 SchemaVersion = iota
)

// Hash represents hash.
type Hash uint64

// ValidBlockSize tells if block size is supported.
func ValidBlockSize(blockSize int64) bool {
	return blockSize >= MinBlockSize && blockSize <= MaxBlockSize && blockSize&(blockSize-1) == 0
}
