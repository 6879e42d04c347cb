package memdev

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	blockSize = 128
	nBlocks   = 4
)

func block(b byte) []byte {
	return bytes.Repeat([]byte{b}, blockSize)
}

func writeBlock(dev *MemDev, address int64, p []byte) (int, error) {
	if _, err := dev.Seek(address*blockSize, io.SeekStart); err != nil {
		return 0, err
	}
	return dev.Write(p)
}

func readBlock(dev *MemDev, address int64) ([]byte, error) {
	if _, err := dev.Seek(address*blockSize, io.SeekStart); err != nil {
		return nil, err
	}
	p := make([]byte, blockSize)
	_, err := io.ReadFull(dev, p)
	return p, err
}

func TestBlocks(t *testing.T) {
	requireT := require.New(t)

	dev := New(nBlocks * blockSize)
	requireT.EqualValues(nBlocks*blockSize, dev.Size())

	for address := range int64(nBlocks) {
		n, err := writeBlock(dev, address, block(byte(address+1)))
		requireT.NoError(err)
		requireT.Equal(blockSize, n)
	}

	for address := range int64(nBlocks) {
		p, err := readBlock(dev, address)
		requireT.NoError(err)
		requireT.Equal(block(byte(address+1)), p)
	}

	// Overwriting one block leaves neighbours untouched.
	_, err := writeBlock(dev, 1, block(0xff))
	requireT.NoError(err)
	for address, expected := range []byte{1, 0xff, 3, 4} {
		p, err := readBlock(dev, int64(address))
		requireT.NoError(err)
		requireT.Equal(block(expected), p)
	}
}

func TestShortTransfers(t *testing.T) {
	requireT := require.New(t)

	dev := New(nBlocks*blockSize + blockSize/2)

	// Last block exists only partially.
	n, err := writeBlock(dev, nBlocks, block(0x01))
	requireT.ErrorIs(err, io.ErrShortWrite)
	requireT.Equal(blockSize/2, n)

	_, err = readBlock(dev, nBlocks)
	requireT.ErrorIs(err, io.ErrUnexpectedEOF)

	// Reading at the end of the device.
	_, err = dev.Seek(0, io.SeekEnd)
	requireT.NoError(err)
	n, err = dev.Read(make([]byte, 1))
	requireT.ErrorIs(err, io.EOF)
	requireT.Zero(n)

	// Empty transfers do nothing.
	n, err = dev.Read(nil)
	requireT.NoError(err)
	requireT.Zero(n)
	n, err = dev.Write(nil)
	requireT.NoError(err)
	requireT.Zero(n)
}

func TestSeek(t *testing.T) {
	assertT := assert.New(t)

	dev := New(nBlocks * blockSize)

	o, err := dev.Seek(2*blockSize, io.SeekStart)
	assertT.NoError(err)
	assertT.EqualValues(2*blockSize, o)

	o, err = dev.Seek(blockSize, io.SeekCurrent)
	assertT.NoError(err)
	assertT.EqualValues(3*blockSize, o)

	o, err = dev.Seek(-blockSize, io.SeekEnd)
	assertT.NoError(err)
	assertT.EqualValues(3*blockSize, o)

	o, err = dev.Seek(0, io.SeekEnd)
	assertT.NoError(err)
	assertT.EqualValues(nBlocks*blockSize, o)

	_, err = dev.Seek(nBlocks*blockSize+1, io.SeekStart)
	assertT.Error(err)
	_, err = dev.Seek(-1, io.SeekStart)
	assertT.Error(err)
	_, err = dev.Seek(0, 10)
	assertT.Error(err)

	// Failed seek keeps the position.
	o, err = dev.Seek(0, io.SeekCurrent)
	assertT.NoError(err)
	assertT.EqualValues(nBlocks*blockSize, o)
}

func TestSyncs(t *testing.T) {
	requireT := require.New(t)

	dev := New(nBlocks * blockSize)
	requireT.Zero(dev.Syncs())
	requireT.NoError(dev.Sync())
	requireT.NoError(dev.Sync())
	requireT.Equal(2, dev.Syncs())

	dev.FailSync()
	requireT.True(dev.Failing())
	requireT.ErrorIs(dev.Sync(), ErrInjected)
	requireT.False(dev.Failing())
	requireT.Equal(2, dev.Syncs())

	requireT.NoError(dev.Sync())
	requireT.Equal(3, dev.Syncs())
}

func TestFailWrite(t *testing.T) {
	requireT := require.New(t)

	dev := New(nBlocks * blockSize)
	dev.FailWrite(1)

	_, err := writeBlock(dev, 0, block(0x01))
	requireT.NoError(err)

	n, err := writeBlock(dev, 1, block(0x02))
	requireT.ErrorIs(err, ErrInjected)
	requireT.Equal(blockSize/2, n)
	requireT.False(dev.Failing())

	// Torn block.
	p, err := readBlock(dev, 1)
	requireT.NoError(err)
	requireT.Equal(append(bytes.Repeat([]byte{0x02}, blockSize/2), make([]byte, blockSize/2)...), p)

	// Device works again.
	_, err = writeBlock(dev, 1, block(0x03))
	requireT.NoError(err)
	p, err = readBlock(dev, 1)
	requireT.NoError(err)
	requireT.Equal(block(0x03), p)
}
