package memdev

import (
	"io"

	"github.com/pkg/errors"
)

// ErrInjected is returned by the operation requested to fail.
var ErrInjected = errors.New("injected device failure")

var (
	_ io.Seeker = &MemDev{}
	_ io.Reader = &MemDev{}
	_ io.Writer = &MemDev{}
)

// MemDev simulates block device in memory.
type MemDev struct {
	size   int64
	offset int64
	data   []byte
	syncs  int

	failWrite  bool
	writesLeft int
	failSync   bool
}

// New returns new memdev.
func New(size int64) *MemDev {
	return &MemDev{
		size: size,
		data: make([]byte, size),
	}
}

// Seek seeks the position.
func (md *MemDev) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = md.offset + offset
	case io.SeekEnd:
		offset = md.size + offset
	default:
		return 0, errors.Errorf("invalid whence: %d", whence)
	}

	if offset < 0 || offset > md.size {
		return 0, errors.Errorf("invalid offset: %d", offset)
	}

	md.offset = offset
	return offset, nil
}

// Read reads data from the memdev. Reading at the end of the device returns io.EOF.
func (md *MemDev) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if md.offset == md.size {
		return 0, io.EOF
	}
	n := copy(p, md.data[md.offset:])
	md.offset += int64(n)
	return n, nil
}

// Write writes data to the memdev. Data not fitting in the device are reported by io.ErrShortWrite.
func (md *MemDev) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if md.failWrite {
		if md.writesLeft == 0 {
			// Torn write, only half of the data reaches the device.
			md.failWrite = false
			n := copy(md.data[md.offset:], p[:len(p)/2])
			md.offset += int64(n)
			return n, errors.WithStack(ErrInjected)
		}
		md.writesLeft--
	}
	n := copy(md.data[md.offset:], p)
	md.offset += int64(n)
	if n < len(p) {
		return n, errors.WithStack(io.ErrShortWrite)
	}
	return n, nil
}

// Sync does nothing apart from counting successful calls, memory is always in sync.
func (md *MemDev) Sync() error {
	if md.failSync {
		md.failSync = false
		return errors.WithStack(ErrInjected)
	}
	md.syncs++
	return nil
}

// Size returns the byte size of the device.
func (md *MemDev) Size() int64 {
	return md.size
}

// Syncs returns the number of times Sync was called.
func (md *MemDev) Syncs() int {
	return md.syncs
}

// FailWrite makes the write following n successful ones fail. Device works normally after the failure.
func (md *MemDev) FailWrite(n int) {
	md.failWrite = true
	md.writesLeft = n
}

// FailSync makes the next sync fail.
func (md *MemDev) FailSync() {
	md.failSync = true
}

// Failing tells if requested failure hasn't happened yet.
func (md *MemDev) Failing() bool {
	return md.failWrite || md.failSync
}
