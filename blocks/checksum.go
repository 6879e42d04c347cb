package blocks

import (
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// Checksum computes checksum of bytes.
func Checksum(b []byte) Hash {
	return Hash(xxhash.Sum64(b))
}

// VerifyChecksum verifies that checksum of provided data matches the expected one.
func VerifyChecksum(address BlockAddress, p []byte, expectedChecksum Hash) error {
	checksum := Checksum(p)
	if checksum == expectedChecksum {
		return nil
	}
	return errors.Errorf("checksum mismatch for block %d, computed: %016x, expected: %016x",
		address, uint64(checksum), uint64(expectedChecksum))
}

// NameHash computes the short hash stored next to the name in directory entries.
func NameHash(name string) uint32 {
	return uint32(xxhash.Sum64String(name))
}
