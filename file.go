package pakfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/mwantia/pakfs/archive"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/mount"
	"github.com/mwantia/pakfs/pool"
)

// File is a handle returned by VirtualFileSystem.Open. A handle has a single
// owner; sharing it between goroutines requires external locking.
type File struct {
	mu sync.Mutex

	vfs     *VirtualFileSystem
	path    string
	access  data.AccessMode
	order   binary.ByteOrder
	backing fileBacking
	closed  bool
}

// fileBacking is implemented by *osBacking and *archiveBacking only.
type fileBacking interface {
	isFileBacking()
}

// osBacking serves a loose file from disk.
type osBacking struct {
	file *os.File
	eof  bool
}

// archiveBacking serves a pack entry. The entry is decoded into a pooled block
// on first read.
type archiveBacking struct {
	pack    *mount.Pack
	entry   *archive.Entry
	block   *pool.Block
	content []byte
	loaded  bool
	offset  int64
}

func (*osBacking) isFileBacking()      {}
func (*archiveBacking) isFileBacking() {}

func newFile(vfs *VirtualFileSystem, full string, access data.AccessMode, backing fileBacking) *File {
	return &File{
		vfs:     vfs,
		path:    full,
		access:  access,
		order:   binary.LittleEndian,
		backing: backing,
	}
}

// Path returns the fully resolved path of the file.
func (f *File) Path() string {
	return f.path
}

// InPack reports whether the file is served from a mounted pack.
func (f *File) InPack() bool {
	_, ok := f.backing.(*archiveBacking)
	return ok
}

// ByteOrder returns the declared byte order of the stored data, used by
// data.ReadTyped and data.WriteTyped.
func (f *File) ByteOrder() binary.ByteOrder {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.order
}

func (f *File) SetByteOrder(order binary.ByteOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.order = order
}

// ReadRaw reads up to len(p) bytes at the current position. It returns fewer
// bytes only at the end of the file and never returns io.EOF; bytes are never
// swapped.
func (f *File) ReadRaw(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkReadUnsafe("read"); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	unlock := f.vfs.lockRead()
	defer unlock()

	switch b := f.backing.(type) {
	case *osBacking:
		n, err := io.ReadFull(b.file, p)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			b.eof = true
			return n, nil
		}
		if err != nil {
			return n, &data.PathError{Op: "read", Path: f.path, Err: wrapOSError(err)}
		}
		return n, nil

	case *archiveBacking:
		if err := b.load(f.vfs.pool); err != nil {
			return 0, &data.PathError{Op: "read", Path: f.path, Err: err}
		}
		n := copy(p, b.content[b.offset:])
		b.offset += int64(n)
		return n, nil

	default:
		panic(fmt.Sprintf("pakfs: unknown file backing %T", f.backing))
	}
}

// Read implements io.Reader on top of ReadRaw.
func (f *File) Read(p []byte) (int, error) {
	n, err := f.ReadRaw(p)
	if err == nil && n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// ReadAll reads the whole file from its start, regardless of the current
// position, and leaves the position at the end.
func (f *File) ReadAll() ([]byte, error) {
	size, err := f.Size()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	n, err := f.ReadAllInto(buf)
	if err != nil {
		return nil, err
	}
	if int64(n) != size {
		return nil, &data.PathError{Op: "read", Path: f.path, Err: fmt.Errorf("%w: short read of %d/%d bytes", data.ErrIO, n, size)}
	}
	return buf, nil
}

// ReadAllInto reads the whole file from its start into dst, which must hold at
// least Size bytes. It returns the number of bytes transferred.
func (f *File) ReadAllInto(dst []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkReadUnsafe("read"); err != nil {
		return 0, err
	}

	size, err := f.sizeUnsafe()
	if err != nil {
		return 0, err
	}
	if int64(len(dst)) < size {
		return 0, &data.PathError{Op: "read", Path: f.path, Err: fmt.Errorf("%w: buffer of %d bytes for %d bytes", data.ErrInvalid, len(dst), size)}
	}

	unlock := f.vfs.lockRead()
	defer unlock()

	switch b := f.backing.(type) {
	case *osBacking:
		n, err := b.file.ReadAt(dst[:size], 0)
		if err != nil && !errors.Is(err, io.EOF) {
			return n, &data.PathError{Op: "read", Path: f.path, Err: wrapOSError(err)}
		}
		if _, err := b.file.Seek(int64(n), io.SeekStart); err != nil {
			return n, &data.PathError{Op: "read", Path: f.path, Err: wrapOSError(err)}
		}
		b.eof = true
		return n, nil

	case *archiveBacking:
		if err := b.load(f.vfs.pool); err != nil {
			return 0, &data.PathError{Op: "read", Path: f.path, Err: err}
		}
		n := copy(dst, b.content)
		b.offset = int64(n)
		return n, nil

	default:
		panic(fmt.Sprintf("pakfs: unknown file backing %T", f.backing))
	}
}

// Write writes p at the current position. Only disk files opened for writing
// accept writes; pack entries are changed through the archive API.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, &data.PathError{Op: "write", Path: f.path, Err: data.ErrClosed}
	}

	switch b := f.backing.(type) {
	case *osBacking:
		if !f.access.CanWrite() {
			return 0, &data.PathError{Op: "write", Path: f.path, Err: data.ErrPermission}
		}
		n, err := b.file.Write(p)
		if err != nil {
			return n, &data.PathError{Op: "write", Path: f.path, Err: wrapOSError(err)}
		}
		return n, nil

	case *archiveBacking:
		return 0, &data.PathError{Op: "write", Path: f.path, Err: data.ErrReadOnly}

	default:
		panic(fmt.Sprintf("pakfs: unknown file backing %T", f.backing))
	}
}

// Seek implements io.Seeker. Pack entries reject positions outside [0, Size].
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, &data.PathError{Op: "seek", Path: f.path, Err: data.ErrClosed}
	}

	switch b := f.backing.(type) {
	case *osBacking:
		pos, err := b.file.Seek(offset, whence)
		if err != nil {
			return 0, &data.PathError{Op: "seek", Path: f.path, Err: fmt.Errorf("%w: %v", data.ErrInvalid, err)}
		}
		b.eof = false
		return pos, nil

	case *archiveBacking:
		var pos int64
		switch whence {
		case io.SeekStart:
			pos = offset
		case io.SeekCurrent:
			pos = b.offset + offset
		case io.SeekEnd:
			pos = b.entry.Size + offset
		default:
			return 0, &data.PathError{Op: "seek", Path: f.path, Err: data.ErrInvalid}
		}
		if pos < 0 || pos > b.entry.Size {
			return 0, &data.PathError{Op: "seek", Path: f.path, Err: fmt.Errorf("%w: position %d of %d", data.ErrOutOfRange, pos, b.entry.Size)}
		}
		b.offset = pos
		return pos, nil

	default:
		panic(fmt.Sprintf("pakfs: unknown file backing %T", f.backing))
	}
}

// Tell returns the current position.
func (f *File) Tell() (int64, error) {
	return f.Seek(0, io.SeekCurrent)
}

// Size returns the file size. For pack entries this is the uncompressed size.
func (f *File) Size() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, &data.PathError{Op: "size", Path: f.path, Err: data.ErrClosed}
	}
	return f.sizeUnsafe()
}

// sizeUnsafe MUST be called while holding the file lock.
func (f *File) sizeUnsafe() (int64, error) {
	switch b := f.backing.(type) {
	case *osBacking:
		info, err := b.file.Stat()
		if err != nil {
			return 0, &data.PathError{Op: "size", Path: f.path, Err: wrapOSError(err)}
		}
		return info.Size(), nil

	case *archiveBacking:
		return b.entry.Size, nil

	default:
		panic(fmt.Sprintf("pakfs: unknown file backing %T", f.backing))
	}
}

// EOF reports whether the position reached the end of the file.
func (f *File) EOF() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return true
	}

	switch b := f.backing.(type) {
	case *osBacking:
		if b.eof {
			return true
		}
		pos, err := b.file.Seek(0, io.SeekCurrent)
		if err != nil {
			return true
		}
		size, err := f.sizeUnsafe()
		return err != nil || pos >= size

	case *archiveBacking:
		return b.offset >= b.entry.Size

	default:
		panic(fmt.Sprintf("pakfs: unknown file backing %T", f.backing))
	}
}

// Flush commits written data to stable storage.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return &data.PathError{Op: "flush", Path: f.path, Err: data.ErrClosed}
	}

	switch b := f.backing.(type) {
	case *osBacking:
		if !f.access.IsWriting() {
			return nil
		}
		if err := b.file.Sync(); err != nil {
			return &data.PathError{Op: "flush", Path: f.path, Err: wrapOSError(err)}
		}
		return nil

	case *archiveBacking:
		return nil

	default:
		panic(fmt.Sprintf("pakfs: unknown file backing %T", f.backing))
	}
}

// Stat describes the file.
func (f *File) Stat() (*data.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, &data.PathError{Op: "stat", Path: f.path, Err: data.ErrClosed}
	}

	switch b := f.backing.(type) {
	case *osBacking:
		info, err := b.file.Stat()
		if err != nil {
			return nil, &data.PathError{Op: "stat", Path: f.path, Err: wrapOSError(err)}
		}
		return fileInfo(f.path, &mount.DiskBacking{Path: b.file.Name(), Size: info.Size(), ModTime: info.ModTime()}), nil

	case *archiveBacking:
		return fileInfo(f.path, &mount.ArchiveBacking{Pack: b.pack, Entry: b.entry}), nil

	default:
		panic(fmt.Sprintf("pakfs: unknown file backing %T", f.backing))
	}
}

// Close releases the handle. Closing twice returns ErrClosed.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return &data.PathError{Op: "close", Path: f.path, Err: data.ErrClosed}
	}
	f.closed = true
	f.vfs.openFiles.Add(-1)

	switch b := f.backing.(type) {
	case *osBacking:
		if err := b.file.Close(); err != nil {
			return &data.PathError{Op: "close", Path: f.path, Err: wrapOSError(err)}
		}
		return nil

	case *archiveBacking:
		b.block.Release()
		b.block, b.content = nil, nil
		return b.pack.Release()

	default:
		panic(fmt.Sprintf("pakfs: unknown file backing %T", f.backing))
	}
}

// checkReadUnsafe MUST be called while holding the file lock.
func (f *File) checkReadUnsafe(op string) error {
	if f.closed {
		return &data.PathError{Op: op, Path: f.path, Err: data.ErrClosed}
	}
	if !f.access.CanRead() {
		return &data.PathError{Op: op, Path: f.path, Err: data.ErrPermission}
	}
	return nil
}

// load decodes the entry into a block from blocks.
func (b *archiveBacking) load(blocks *pool.Pool) error {
	if b.loaded {
		return nil
	}
	if b.entry.Size == 0 {
		b.loaded = true
		return nil
	}

	block, err := blocks.Allocate("pack:"+path.Base(b.pack.Name), int(b.entry.Size))
	if err != nil {
		return err
	}
	if err := b.pack.Archive.ReadEntry(b.entry, block.Bytes()); err != nil {
		block.Release()
		return err
	}

	b.block = block
	b.content = block.Bytes()
	b.loaded = true
	return nil
}

func (vfs *VirtualFileSystem) lockRead() func() {
	if !vfs.lockReadIO.Load() {
		return func() {}
	}
	vfs.readIO.Lock()
	return vfs.readIO.Unlock
}
