package stream

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mwantia/pakfs"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
	"github.com/mwantia/pakfs/pool"
)

// MemoryLoader loads a whole file into a pooled block once and serves every
// later read and seek from memory.
type MemoryLoader struct {
	log *log.Logger
	vfs *pakfs.VirtualFileSystem
	tag string

	file   *pakfs.File
	block  *pool.Block
	data   []byte
	cursor int64
	order  binary.ByteOrder
}

// NewMemoryLoader creates a loader whose blocks are accounted under tag.
func NewMemoryLoader(vfs *pakfs.VirtualFileSystem, tag string) *MemoryLoader {
	if tag == "" {
		tag = "memory-loader"
	}
	return &MemoryLoader{
		log:   vfs.Logger().Named("stream"),
		vfs:   vfs,
		tag:   tag,
		order: binary.LittleEndian,
	}
}

// Open reads p whole. With immediateClose the file handle is closed right
// after the read and the loader holds the only copy of the data.
func (l *MemoryLoader) Open(ctx context.Context, p string, flags pakfs.OpenFlags, immediateClose bool) error {
	if err := l.Close(); err != nil {
		return err
	}

	file, err := l.vfs.Open(ctx, p, "rb", flags)
	if err != nil {
		return err
	}

	size, err := file.Size()
	if err != nil {
		file.Close()
		return err
	}
	if size == 0 {
		file.Close()
		return &data.PathError{Op: "load", Path: p, Err: fmt.Errorf("%w: empty file", data.ErrInvalid)}
	}

	block, err := l.vfs.Pool().Allocate(l.tag, int(size))
	if err != nil {
		file.Close()
		return err
	}

	n, err := file.ReadAllInto(block.Bytes())
	if err == nil && int64(n) != size {
		err = &data.PathError{Op: "load", Path: p, Err: fmt.Errorf("%w: short read of %d/%d bytes", data.ErrIO, n, size)}
	}
	if err != nil {
		block.Release()
		file.Close()
		return err
	}

	l.block = block
	l.data = block.Bytes()
	l.cursor = 0
	l.order = file.ByteOrder()
	l.log.Debug("Open: loaded %d bytes of %s into block '%s'", size, file.Path(), l.tag)

	if immediateClose {
		if err := file.Close(); err != nil {
			l.Close()
			return err
		}
	} else {
		l.file = file
	}
	return nil
}

// ReadRaw copies up to len(p) bytes from the cursor.
func (l *MemoryLoader) ReadRaw(p []byte) (int, error) {
	if l.block == nil {
		return 0, data.ErrClosed
	}

	n := copy(p, l.data[l.cursor:])
	l.cursor += int64(n)
	return n, nil
}

// Read implements io.Reader.
func (l *MemoryLoader) Read(p []byte) (int, error) {
	n, err := l.ReadRaw(p)
	if err == nil && n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// Seek implements io.Seeker. Positions outside [0, Size] fail and leave the
// cursor where it was.
func (l *MemoryLoader) Seek(offset int64, whence int) (int64, error) {
	if l.block == nil {
		return 0, data.ErrClosed
	}

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = l.cursor + offset
	case io.SeekEnd:
		pos = int64(len(l.data)) + offset
	default:
		return l.cursor, data.ErrInvalid
	}

	if pos < 0 || pos > int64(len(l.data)) {
		return l.cursor, fmt.Errorf("%w: position %d of %d", data.ErrOutOfRange, pos, len(l.data))
	}

	l.cursor = pos
	return pos, nil
}

func (l *MemoryLoader) Tell() int64 {
	return l.cursor
}

func (l *MemoryLoader) Size() int64 {
	return int64(len(l.data))
}

// Bytes returns the loaded data. It must not be used after Close.
func (l *MemoryLoader) Bytes() []byte {
	return l.data
}

func (l *MemoryLoader) ByteOrder() binary.ByteOrder {
	return l.order
}

// Close releases the file handle, if still open, and the pooled block. It is
// safe to call more than once.
func (l *MemoryLoader) Close() error {
	var err error
	if l.file != nil {
		err = l.file.Close()
		l.file = nil
	}

	l.block.Release()
	l.block = nil
	l.data = nil
	l.cursor = 0
	return err
}
