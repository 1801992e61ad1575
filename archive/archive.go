package archive

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
	"github.com/tidwall/btree"
)

// Archive is a pack container holding a directory of entries. The directory is
// indexed by normalized entry name in a B-tree, so lookups and prefix scans
// never walk the whole directory.
type Archive struct {
	mu  sync.RWMutex
	log *log.Logger

	id        string
	name      string
	flags     Flags
	key       []byte
	level     int
	container Container

	index   btree.Map[string, *Entry]
	pending map[string]*continuousUpdate
	dataEnd int64
	dirty   bool

	refs          int
	ownerReleased bool
	closed        bool
}

// Open opens or creates the archive at path. Folders and files that exist
// with a different casing are matched case-insensitively. In-memory flags
// load the whole container and force read-only mode.
func Open(path string, flags Flags, opts ...Option) (*Archive, error) {
	path = data.MatchCase(path)
	if flags.InMemory() {
		block, err := os.ReadFile(path)
		if err != nil {
			return nil, wrapOSError("open", path, err)
		}
		return New(NewMemoryContainer(block), path, flags|FlagReadOnly, opts...)
	}

	osFlags := os.O_RDWR | os.O_CREATE
	if flags&FlagReadOnly != 0 {
		osFlags = os.O_RDONLY
	} else if flags&FlagCreateNew != 0 {
		osFlags |= os.O_TRUNC
	}

	file, err := os.OpenFile(path, osFlags, 0o644)
	if err != nil {
		return nil, wrapOSError("open", path, err)
	}

	archive, err := New(&fileContainer{File: file}, path, flags, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	return archive, nil
}

// OpenBlock opens an archive from a preloaded memory block. The block is owned
// by the archive afterwards.
func OpenBlock(name string, block []byte, flags Flags, opts ...Option) (*Archive, error) {
	if !flags.InMemory() {
		flags |= FlagInMemoryCPU
	}
	return New(NewMemoryContainer(block), name, flags|FlagReadOnly, opts...)
}

// New opens an archive stored in container. An empty writable container is
// initialized as an empty archive.
func New(container Container, name string, flags Flags, opts ...Option) (*Archive, error) {
	options := newDefaultOptions()
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	a := &Archive{
		log:       options.Logger,
		id:        uuid.Must(uuid.NewV7()).String(),
		name:      name,
		flags:     flags,
		key:       options.Key,
		level:     options.Level,
		container: container,
		pending:   make(map[string]*continuousUpdate),
		refs:      1,
	}

	size, err := container.Size()
	if err != nil {
		return nil, &data.ArchiveError{Op: "open", Archive: name, Err: fmt.Errorf("%w: %v", data.ErrIO, err)}
	}

	if size == 0 {
		if flags&FlagReadOnly != 0 {
			return nil, &data.ArchiveError{Op: "open", Archive: name, Err: fmt.Errorf("%w: empty container", data.ErrCorrupt)}
		}

		if _, err := container.WriteAt(encodeHeader(), 0); err != nil {
			return nil, &data.ArchiveError{Op: "open", Archive: name, Err: fmt.Errorf("%w: %v", data.ErrIO, err)}
		}
		a.dataEnd = headerSize
		a.dirty = true
		if err := a.flushUnsafe(); err != nil {
			return nil, err
		}

		a.log.Debug("Open: created empty archive %s (%s)", name, a.id)
		return a, nil
	}

	entries, dataEnd, err := readDirectory(container, size)
	if err != nil {
		return nil, &data.ArchiveError{Op: "open", Archive: name, Err: err}
	}

	for _, e := range entries {
		a.index.Set(data.NormalizeKey(e.Name), e)
	}
	a.dataEnd = dataEnd

	a.log.Debug("Open: loaded %d entries from %s (%s, %s)", len(entries), name, flags, a.id)
	return a, nil
}

// ID identifies this open instance of the archive in log output.
func (a *Archive) ID() string {
	return a.id
}

// Name returns the path or name the archive was opened with.
func (a *Archive) Name() string {
	return a.name
}

func (a *Archive) Flags() Flags {
	return a.flags
}

// ReadOnly reports whether mutations are rejected.
func (a *Archive) ReadOnly() bool {
	return a.flags&FlagReadOnly != 0
}

// Len returns the number of directory entries.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.index.Len()
}

// FindEntry returns the entry stored under name, or nil.
func (a *Archive) FindEntry(name string) *Entry {
	key := data.NormalizeKey(name)
	if key == "" {
		return nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	entry, ok := a.index.Get(key)
	if !ok {
		return nil
	}
	return entry
}

// EntrySize returns the uncompressed size of e.
func (a *Archive) EntrySize(e *Entry) int64 {
	if e == nil {
		return 0
	}
	return e.Size
}

// Entries returns a snapshot of all entries below prefix in name order.
func (a *Archive) Entries(prefix string) []Entry {
	key := data.NormalizeKey(prefix)

	a.mu.RLock()
	defer a.mu.RUnlock()

	var entries []Entry
	a.index.Ascend(key, func(k string, e *Entry) bool {
		if !strings.HasPrefix(k, key) {
			return false
		}
		if key == "" || k == key || strings.HasPrefix(k, key+"/") {
			entries = append(entries, *e)
		}
		return true
	})

	return entries
}

// ReadEntry decodes the whole entry into dst, which must hold at least e.Size bytes.
func (a *Archive) ReadEntry(e *Entry, dst []byte) error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", data.ErrInvalid)
	}
	if e.IsFolder {
		return &data.ArchiveError{Op: "read", Archive: a.name, Entry: e.Name, Err: data.ErrIsDirectory}
	}
	if int64(len(dst)) < e.Size {
		return &data.ArchiveError{Op: "read", Archive: a.name, Entry: e.Name, Err: fmt.Errorf("%w: buffer of %d bytes for entry of %d bytes", data.ErrInvalid, len(dst), e.Size)}
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return &data.ArchiveError{Op: "read", Archive: a.name, Entry: e.Name, Err: data.ErrClosed}
	}

	stored := make([]byte, e.CompressedSize)
	if _, err := readAt(a.container, stored, e.Offset); err != nil {
		return &data.ArchiveError{Op: "read", Archive: a.name, Entry: e.Name, Err: err}
	}

	content, err := decodePayload(e.Method, a.key, data.NormalizeKey(e.Name), stored, e.Size)
	if err != nil {
		return &data.ArchiveError{Op: "read", Archive: a.name, Entry: e.Name, Err: err}
	}

	if !e.Pending && crc32.ChecksumIEEE(content) != e.CRC32 {
		return &data.ArchiveError{Op: "read", Archive: a.name, Entry: e.Name, Err: data.ErrChecksumMismatch}
	}

	copy(dst, content)
	a.log.Debug("ReadEntry: read %d bytes of %s from %s", e.Size, e.Name, a.name)
	return nil
}

// Waste returns the number of bytes in the data region not referenced by any entry.
func (a *Archive) Waste() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.wasteUnsafe()
}

// wasteUnsafe MUST be called while holding the archive lock.
func (a *Archive) wasteUnsafe() int64 {
	var live int64
	a.index.Scan(func(_ string, e *Entry) bool {
		live += e.CompressedSize
		return true
	})
	return a.dataEnd - headerSize - live
}

// Retain adds a reference held by an open file handle.
func (a *Archive) Retain() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return &data.ArchiveError{Op: "retain", Archive: a.name, Err: data.ErrClosed}
	}
	a.refs++
	return nil
}

// Release drops a reference. The container is finalized and closed once the
// owner and every handle released theirs.
func (a *Archive) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}

	a.refs--
	if a.refs > 0 {
		return nil
	}

	return a.finalizeUnsafe()
}

// Handles returns the number of references held by open file handles.
func (a *Archive) Handles() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.handlesUnsafe()
}

// handlesUnsafe MUST be called while holding the archive lock.
func (a *Archive) handlesUnsafe() int {
	if a.ownerReleased {
		return a.refs
	}
	return a.refs - 1
}

// Close releases the owner reference. It is safe to call more than once.
func (a *Archive) Close() error {
	a.mu.Lock()
	if a.ownerReleased {
		a.mu.Unlock()
		return nil
	}
	a.ownerReleased = true
	a.mu.Unlock()

	return a.Release()
}

// Closed reports whether the container has been closed.
func (a *Archive) Closed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.closed
}

// finalizeUnsafe compacts, flushes and closes the container. MUST be called
// while holding the archive lock.
func (a *Archive) finalizeUnsafe() error {
	var errs data.Errors

	if !a.ReadOnly() {
		if a.flags&FlagDontCompact == 0 {
			errs.Add(a.compactUnsafe())
		}
		errs.Add(a.flushUnsafe())
	}

	errs.Add(a.container.Close())
	a.closed = true

	a.log.Debug("Close: closed archive %s (%s)", a.name, a.id)
	if err := errs.Errors(); err != nil {
		return &data.ArchiveError{Op: "close", Archive: a.name, Err: err}
	}
	return nil
}

func wrapOSError(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		err = fmt.Errorf("%w: %v", data.ErrNotExist, err)
	case errors.Is(err, fs.ErrPermission):
		err = fmt.Errorf("%w: %v", data.ErrPermission, err)
	default:
		err = fmt.Errorf("%w: %v", data.ErrIO, err)
	}
	return &data.ArchiveError{Op: op, Archive: path, Err: err}
}
