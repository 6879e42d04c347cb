package bitmap

// Bit i of the bitmap lives in byte i/8, at position i%8 counting from the least significant bit.

// IsSet tells if bit is set.
func IsSet(p []byte, i uint64) bool {
	return p[i/8]&(1<<(i%8)) != 0
}

// Set sets the bit.
func Set(p []byte, i uint64) {
	p[i/8] |= 1 << (i % 8)
}

// Clear clears the bit.
func Clear(p []byte, i uint64) {
	p[i/8] &^= 1 << (i % 8)
}

// SetRange sets bits in range [from, to).
func SetRange(p []byte, from, to uint64) {
	for i := from; i < to; i++ {
		Set(p, i)
	}
}

// FindClear returns the index of the first clear bit in range [from, to).
func FindClear(p []byte, from, to uint64) (uint64, bool) {
	for i := from; i < to; {
		if i%8 == 0 && i+8 <= to && p[i/8] == 0xff {
			i += 8
			continue
		}
		if !IsSet(p, i) {
			return i, true
		}
		i++
	}
	return 0, false
}

// CountClear returns the number of clear bits in range [from, to).
func CountClear(p []byte, from, to uint64) uint64 {
	var n uint64
	for i := from; i < to; i++ {
		if !IsSet(p, i) {
			n++
		}
	}
	return n
}
