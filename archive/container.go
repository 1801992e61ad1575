package archive

import (
	"io"
	"os"
	"sync"
)

// Container is the random access storage an archive lives in.
type Container interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
	Truncate(size int64) error
	Sync() error
	Close() error
}

type fileContainer struct {
	*os.File
}

func (fc *fileContainer) Size() (int64, error) {
	info, err := fc.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// MemoryContainer keeps a container entirely in memory. It backs preloaded
// packs and memory resident archives.
type MemoryContainer struct {
	mu     sync.RWMutex
	buffer []byte
	closed bool
}

func NewMemoryContainer(block []byte) *MemoryContainer {
	return &MemoryContainer{buffer: block}
}

// Bytes returns the current container contents.
func (mc *MemoryContainer) Bytes() []byte {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return mc.buffer
}

func (mc *MemoryContainer) ReadAt(p []byte, off int64) (int, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if mc.closed {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, os.ErrInvalid
	}
	if off >= int64(len(mc.buffer)) {
		return 0, io.EOF
	}

	n := copy(p, mc.buffer[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (mc *MemoryContainer) WriteAt(p []byte, off int64) (int, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.closed {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, os.ErrInvalid
	}

	end := off + int64(len(p))
	if end > int64(len(mc.buffer)) {
		mc.growUnsafe(end)
	}

	return copy(mc.buffer[off:], p), nil
}

func (mc *MemoryContainer) Size() (int64, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return int64(len(mc.buffer)), nil
}

func (mc *MemoryContainer) Truncate(size int64) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if size < 0 {
		return os.ErrInvalid
	}
	if size > int64(len(mc.buffer)) {
		mc.growUnsafe(size)
		return nil
	}

	mc.buffer = mc.buffer[:size]
	return nil
}

// growUnsafe extends the buffer with zeros. MUST be called while holding the write lock.
func (mc *MemoryContainer) growUnsafe(size int64) {
	if size <= int64(cap(mc.buffer)) {
		old := len(mc.buffer)
		mc.buffer = mc.buffer[:size]
		clear(mc.buffer[old:])
		return
	}

	grown := make([]byte, size, max(size, int64(cap(mc.buffer))*2))
	copy(grown, mc.buffer)
	mc.buffer = grown
}

func (mc *MemoryContainer) Sync() error {
	return nil
}

func (mc *MemoryContainer) Close() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.closed = true
	return nil
}
