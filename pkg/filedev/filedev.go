package filedev

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

var _ io.ReadWriteSeeker = &FileDev{}

// FileDev uses file handle as a device.
type FileDev struct {
	file afero.File
	size int64
}

// New returns new filedev.
func New(file afero.File) (*FileDev, error) {
	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &FileDev{
		file: file,
		size: size,
	}, nil
}

// Open opens the image file. If size is greater than zero, file is created if needed and resized to that size.
func Open(fs afero.Fs, path string, size int64) (*FileDev, error) {
	flags := os.O_RDWR
	if size > 0 {
		flags |= os.O_CREATE
	}
	file, err := fs.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "opening image %q failed", path)
	}
	if size > 0 {
		if err := file.Truncate(size); err != nil {
			_ = file.Close()
			return nil, errors.Wrapf(err, "resizing image %q to %d bytes failed", path, size)
		}
	}

	dev, err := New(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return dev, nil
}

// Seek seeks the position.
func (fd *FileDev) Seek(offset int64, whence int) (int64, error) {
	n, err := fd.file.Seek(offset, whence)
	if err != nil {
		return n, errors.WithStack(err)
	}
	return n, nil
}

// Read reads data from the file.
func (fd *FileDev) Read(p []byte) (int, error) {
	n, err := fd.file.Read(p)
	if err != nil {
		return n, errors.WithStack(err)
	}
	return n, nil
}

// Write writes data to the file.
func (fd *FileDev) Write(p []byte) (int, error) {
	n, err := fd.file.Write(p)
	if err != nil {
		return n, errors.WithStack(err)
	}
	return n, nil
}

// Sync syncs data to the file.
func (fd *FileDev) Sync() error {
	if err := fd.file.Sync(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Size returns the byte size of the file.
func (fd *FileDev) Size() int64 {
	return fd.size
}

// Close closes the file.
func (fd *FileDev) Close() error {
	return errors.WithStack(fd.file.Close())
}
