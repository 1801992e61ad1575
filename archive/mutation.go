package archive

import (
	"fmt"
	"hash/crc32"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/mwantia/pakfs/data"
)

// DefaultLevel selects the archive's configured compression level.
const DefaultLevel = flate.DefaultCompression

// continuousUpdate tracks an entry that is written in segments.
type continuousUpdate struct {
	entry *Entry
	// cursor is the position after the most recent segment.
	cursor int64
	// written counts the bytes written in order from the start.
	written int64
	crc     uint32
	inOrder bool
}

// UpdateEntry stores content under name, replacing any existing entry. The
// payload is written to the container before the directory changes, so on
// failure the directory still describes the previous state.
func (a *Archive) UpdateEntry(name string, content []byte, method Method, level int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key, clean, err := a.checkMutationUnsafe("update", name)
	if err != nil {
		return err
	}
	if _, busy := a.pending[key]; busy {
		return &data.ArchiveError{Op: "update", Archive: a.name, Entry: name, Err: fmt.Errorf("%w: continuous update in progress", data.ErrInUse)}
	}

	if level == DefaultLevel {
		level = a.level
	}

	payload, err := encodePayload(method, level, a.key, key, content)
	if err != nil {
		return &data.ArchiveError{Op: "update", Archive: a.name, Entry: name, Err: err}
	}

	offset := a.dataEnd
	// The old directory may be overwritten from here on.
	a.dirty = true
	if err := a.writeUnsafe(payload, offset); err != nil {
		return &data.ArchiveError{Op: "update", Archive: a.name, Entry: name, Err: err}
	}

	entry := &Entry{
		Name:           clean,
		Offset:         offset,
		CompressedSize: int64(len(payload)),
		Size:           int64(len(content)),
		Method:         method,
		CRC32:          crc32.ChecksumIEEE(content),
		ModTime:        time.Now().UTC(),
	}
	a.index.Set(key, entry)
	a.dataEnd = offset + entry.CompressedSize

	a.log.Debug("UpdateEntry: stored %s (%d -> %d bytes, %s) in %s", clean, entry.Size, entry.CompressedSize, method, a.name)
	return nil
}

// CreateFolder adds an explicit folder entry.
func (a *Archive) CreateFolder(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key, clean, err := a.checkMutationUnsafe("mkdir", name)
	if err != nil {
		return err
	}
	if existing, ok := a.index.Get(key); ok && existing.IsFolder {
		return nil
	}

	a.index.Set(key, &Entry{
		Name:     clean,
		IsFolder: true,
		Offset:   a.dataEnd,
		ModTime:  time.Now().UTC(),
	})
	a.dirty = true
	return nil
}

// StartContinuousUpdate reserves totalSize bytes for name and adds a stored,
// uncompressed entry with CRC 0. The content is supplied afterwards through
// UpdateContinuousSegment and finalized with UpdateCRC.
func (a *Archive) StartContinuousUpdate(name string, totalSize int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key, clean, err := a.checkMutationUnsafe("start", name)
	if err != nil {
		return err
	}
	if totalSize < 0 {
		return &data.ArchiveError{Op: "start", Archive: a.name, Entry: name, Err: fmt.Errorf("%w: negative size", data.ErrInvalid)}
	}

	offset := a.dataEnd
	end := offset + totalSize
	a.dirty = true

	size, err := a.container.Size()
	if err != nil {
		return &data.ArchiveError{Op: "start", Archive: a.name, Entry: name, Err: fmt.Errorf("%w: %v", data.ErrIO, err)}
	}
	if size < end {
		if err := a.container.Truncate(end); err != nil {
			return &data.ArchiveError{Op: "start", Archive: a.name, Entry: name, Err: fmt.Errorf("%w: reserving %d bytes: %v", data.ErrIO, totalSize, err)}
		}
	}

	entry := &Entry{
		Name:           clean,
		Offset:         offset,
		CompressedSize: totalSize,
		Size:           totalSize,
		Method:         MethodStore,
		ModTime:        time.Now().UTC(),
		Pending:        true,
	}
	a.index.Set(key, entry)
	a.dataEnd = end
	a.pending[key] = &continuousUpdate{entry: entry, inOrder: true}

	a.log.Debug("StartContinuousUpdate: reserved %d bytes for %s at %d", totalSize, clean, offset)
	return nil
}

// UpdateContinuousSegment writes segment into the entry reserved by
// StartContinuousUpdate. A negative seekOverwritePos continues right after the
// previous segment.
func (a *Archive) UpdateContinuousSegment(name string, totalSize int64, segment []byte, seekOverwritePos int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key, _, err := a.checkMutationUnsafe("segment", name)
	if err != nil {
		return err
	}

	update, ok := a.pending[key]
	if !ok {
		return &data.ArchiveError{Op: "segment", Archive: a.name, Entry: name, Err: fmt.Errorf("%w: no continuous update in progress", data.ErrInvalid)}
	}
	if totalSize != update.entry.Size {
		return &data.ArchiveError{Op: "segment", Archive: a.name, Entry: name, Err: fmt.Errorf("%w: total size %d does not match reserved %d", data.ErrInvalid, totalSize, update.entry.Size)}
	}

	pos := seekOverwritePos
	if pos < 0 {
		pos = update.cursor
	}
	end := pos + int64(len(segment))
	if end > totalSize {
		return &data.ArchiveError{Op: "segment", Archive: a.name, Entry: name, Err: fmt.Errorf("%w: segment [%d, %d) exceeds %d bytes", data.ErrOutOfRange, pos, end, totalSize)}
	}

	if err := a.writeUnsafe(segment, update.entry.Offset+pos); err != nil {
		return &data.ArchiveError{Op: "segment", Archive: a.name, Entry: name, Err: err}
	}

	if update.inOrder && pos == update.written {
		update.crc = crc32.Update(update.crc, crc32.IEEETable, segment)
		update.written = end
	} else {
		update.inOrder = false
	}
	update.cursor = end

	a.log.Debug("UpdateContinuousSegment: wrote %d bytes of %s at %d", len(segment), update.entry.Name, pos)
	return nil
}

// UpdateCRC finalizes the CRC of name. For continuous updates whose segments
// were written in order and completely, crc must match the running checksum.
func (a *Archive) UpdateCRC(name string, crc uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key, _, err := a.checkMutationUnsafe("crc", name)
	if err != nil {
		return err
	}

	entry, ok := a.index.Get(key)
	if !ok || entry.IsFolder {
		return &data.ArchiveError{Op: "crc", Archive: a.name, Entry: name, Err: data.ErrNotExist}
	}

	if update, ok := a.pending[key]; ok {
		if update.inOrder && update.written == update.entry.Size && update.crc != crc {
			return &data.ArchiveError{Op: "crc", Archive: a.name, Entry: name, Err: fmt.Errorf("%w: expected %08x, got %08x", data.ErrChecksumMismatch, update.crc, crc)}
		}
		delete(a.pending, key)
	}

	finalized := *entry
	finalized.CRC32 = crc
	finalized.Pending = false
	a.index.Set(key, &finalized)
	a.dirty = true

	a.log.Debug("UpdateCRC: %s crc %08x", entry.Name, crc)
	return nil
}

// RemoveEntry removes name. Removing a missing entry succeeds.
func (a *Archive) RemoveEntry(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key, _, err := a.checkMutationUnsafe("remove", name)
	if err != nil {
		return err
	}

	delete(a.pending, key)
	if _, existed := a.index.Delete(key); existed {
		a.dirty = true
		a.log.Debug("RemoveEntry: removed %s from %s", name, a.name)
	}
	return nil
}

// RemoveDirectory removes the folder dir and everything below it.
func (a *Archive) RemoveDirectory(dir string) error {
	if data.NormalizeKey(dir) == "" {
		return a.RemoveAll()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key, _, err := a.checkMutationUnsafe("rmdir", dir)
	if err != nil {
		return err
	}

	var doomed []string
	a.index.Ascend(key, func(k string, _ *Entry) bool {
		if !strings.HasPrefix(k, key) {
			return false
		}
		if k == key || strings.HasPrefix(k, key+"/") {
			doomed = append(doomed, k)
		}
		return true
	})

	for _, k := range doomed {
		a.index.Delete(k)
		delete(a.pending, k)
	}
	if len(doomed) > 0 {
		a.dirty = true
	}

	a.log.Debug("RemoveDirectory: removed %d entries below %s", len(doomed), dir)
	return nil
}

// RemoveAll removes every entry.
func (a *Archive) RemoveAll() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkWritableUnsafe("clear", ""); err != nil {
		return err
	}

	a.index.Clear()
	clear(a.pending)
	a.dataEnd = headerSize
	a.dirty = true

	a.log.Debug("RemoveAll: cleared %s", a.name)
	return nil
}

// checkWritableUnsafe MUST be called while holding the archive lock.
func (a *Archive) checkWritableUnsafe(op, name string) error {
	if a.closed {
		return &data.ArchiveError{Op: op, Archive: a.name, Entry: name, Err: data.ErrClosed}
	}
	if a.ReadOnly() {
		return &data.ArchiveError{Op: op, Archive: a.name, Entry: name, Err: data.ErrReadOnly}
	}
	return nil
}

// checkMutationUnsafe validates the archive state and the entry name and
// returns the lookup key and the cleaned name. MUST be called while holding the
// archive lock.
func (a *Archive) checkMutationUnsafe(op, name string) (string, string, error) {
	if err := a.checkWritableUnsafe(op, name); err != nil {
		return "", "", err
	}

	clean, err := a.cleanName(op, name)
	if err != nil {
		return "", "", &data.ArchiveError{Op: op, Archive: a.name, Entry: name, Err: err}
	}

	return data.NormalizeKey(clean), clean, nil
}

func (a *Archive) cleanName(op, name string) (string, error) {
	if err := data.ValidatePath(op, name, data.DefaultMaxPathLength); err != nil {
		return "", err
	}

	slashed := data.ToSlash(name)
	if data.IsAbsolute(slashed) {
		if a.flags&FlagRelativePathsOnly != 0 {
			return "", data.MalformedPath(op, name, "absolute entry name")
		}
		if len(slashed) > 1 && slashed[1] == ':' {
			slashed = slashed[2:]
		}
	}

	clean := strings.Trim(data.CleanPath(slashed), "/")
	if clean == "" {
		return "", data.MalformedPath(op, name, "empty entry name")
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", data.MalformedPath(op, name, "entry name escapes the archive")
	}

	return clean, nil
}

// writeUnsafe writes p at off and fails on short writes. MUST be called while
// holding the archive lock.
func (a *Archive) writeUnsafe(p []byte, off int64) error {
	n, err := a.container.WriteAt(p, off)
	if err == nil && n != len(p) {
		err = fmt.Errorf("short write of %d/%d bytes", n, len(p))
	}
	if err != nil {
		return fmt.Errorf("%w: writing %d bytes at %d: %v", data.ErrIO, len(p), off, err)
	}
	return nil
}
