package stream

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mwantia/pakfs"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
)

// BufferedReader serves many small sequential reads from a large file while
// reading the file itself in fixed size windows.
type BufferedReader struct {
	log     *log.Logger
	vfs     *pakfs.VirtualFileSystem
	options *Options

	file *pakfs.File
	buf  []byte

	fileSize int64
	// fileOffset is the file position right after the current window.
	fileOffset   int64
	bufferOffset int
}

func NewBufferedReader(vfs *pakfs.VirtualFileSystem, opts ...Option) (*BufferedReader, error) {
	options := newDefaultOptions()
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	return &BufferedReader{
		log:     vfs.Logger().Named("stream"),
		vfs:     vfs,
		options: options,
	}, nil
}

// Open opens p and prefills the first window. A reader that is already open
// closes its previous file first.
func (r *BufferedReader) Open(ctx context.Context, p string, flags pakfs.OpenFlags) error {
	if r.file != nil {
		if err := r.Close(); err != nil {
			return err
		}
	}

	file, err := r.vfs.Open(ctx, p, r.options.Mode, flags)
	if err != nil {
		return err
	}

	size, err := file.Size()
	if err != nil {
		file.Close()
		return err
	}

	r.file = file
	r.fileSize = size
	r.fileOffset = 0
	r.bufferOffset = 0
	r.buf = make([]byte, 0, min(int64(r.options.BufferSize), max(size, 1)))

	if err := r.StreamData(); err != nil {
		r.Close()
		return err
	}
	return nil
}

// StreamData replaces the window with the next bytes of the file.
func (r *BufferedReader) StreamData() error {
	if r.file == nil {
		return data.ErrClosed
	}

	toRead := int(min(int64(r.options.BufferSize), r.fileSize-r.fileOffset))
	if cap(r.buf) < toRead {
		r.buf = make([]byte, toRead)
	}
	r.buf = r.buf[:toRead]

	for filled := 0; filled < toRead; {
		n, err := r.file.ReadRaw(r.buf[filled:])
		if err != nil {
			return err
		}
		if n == 0 {
			return &data.PathError{Op: "stream", Path: r.file.Path(), Err: fmt.Errorf("%w: file ended after %d of %d bytes", data.ErrIO, r.fileOffset+int64(filled), r.fileSize)}
		}
		filled += n
	}

	r.log.Debug("StreamData: read %d bytes of %s at offset %d", toRead, r.file.Path(), r.fileOffset)
	r.fileOffset += int64(toRead)
	r.bufferOffset = 0
	return nil
}

// ReadRaw copies min(len(p), remaining) bytes in file order.
func (r *BufferedReader) ReadRaw(p []byte) (int, error) {
	if r.file == nil {
		return 0, data.ErrClosed
	}

	total := 0
	for total < len(p) {
		if r.bufferOffset == len(r.buf) {
			if r.fileOffset >= r.fileSize {
				break
			}
			if err := r.StreamData(); err != nil {
				return total, err
			}
		}

		n := copy(p[total:], r.buf[r.bufferOffset:])
		r.bufferOffset += n
		total += n
	}

	return total, nil
}

// Read implements io.Reader.
func (r *BufferedReader) Read(p []byte) (int, error) {
	n, err := r.ReadRaw(p)
	if err == nil && n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// Seek moves to the absolute position offset and drops the current window.
func (r *BufferedReader) Seek(offset int64) error {
	if r.file == nil {
		return data.ErrClosed
	}
	if offset < 0 || offset > r.fileSize {
		return &data.PathError{Op: "seek", Path: r.file.Path(), Err: fmt.Errorf("%w: position %d of %d", data.ErrOutOfRange, offset, r.fileSize)}
	}

	if _, err := r.file.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	r.fileOffset = offset
	r.buf = r.buf[:0]
	r.bufferOffset = 0
	return nil
}

// Tell returns the position of the next byte ReadRaw delivers.
func (r *BufferedReader) Tell() int64 {
	return r.fileOffset - int64(len(r.buf)-r.bufferOffset)
}

func (r *BufferedReader) Size() int64 {
	return r.fileSize
}

// ByteOrder returns the declared byte order of the underlying file.
func (r *BufferedReader) ByteOrder() binary.ByteOrder {
	if r.file == nil {
		return binary.LittleEndian
	}
	return r.file.ByteOrder()
}

// Close closes the underlying file and drops the window.
func (r *BufferedReader) Close() error {
	if r.file == nil {
		return nil
	}

	err := r.file.Close()
	r.file = nil
	r.buf = nil
	r.fileSize, r.fileOffset, r.bufferOffset = 0, 0, 0
	return err
}
