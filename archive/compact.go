package archive

import (
	"fmt"
	"hash/crc32"
	"slices"

	"github.com/mwantia/pakfs/data"
)

const copyChunkSize = 64 * 1024

// Flush persists the directory and trailer if the archive changed.
func (a *Archive) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkWritableUnsafe("flush", ""); err != nil {
		return err
	}
	return a.flushUnsafe()
}

// flushUnsafe MUST be called while holding the archive lock.
func (a *Archive) flushUnsafe() error {
	if !a.dirty {
		return nil
	}

	entries := make([]*Entry, 0, a.index.Len())
	a.index.Scan(func(_ string, e *Entry) bool {
		entries = append(entries, e)
		return true
	})

	dir, err := encodeDirectory(entries)
	if err != nil {
		return &data.ArchiveError{Op: "flush", Archive: a.name, Err: fmt.Errorf("%w: encoding directory: %v", data.ErrIO, err)}
	}

	t := trailer{
		dirOffset: a.dataEnd,
		dirSize:   int64(len(dir)),
		dirCRC:    crc32.ChecksumIEEE(dir),
	}

	if err := a.writeUnsafe(append(dir, t.encode()...), a.dataEnd); err != nil {
		return &data.ArchiveError{Op: "flush", Archive: a.name, Err: err}
	}

	end := a.dataEnd + int64(len(dir)) + trailerSize
	if err := a.container.Truncate(end); err != nil {
		return &data.ArchiveError{Op: "flush", Archive: a.name, Err: fmt.Errorf("%w: truncating to %d: %v", data.ErrIO, end, err)}
	}
	if err := a.container.Sync(); err != nil {
		return &data.ArchiveError{Op: "flush", Archive: a.name, Err: fmt.Errorf("%w: %v", data.ErrIO, err)}
	}

	a.dirty = false
	a.log.Debug("Flush: wrote directory of %d entries (%d bytes) to %s", len(entries), len(dir), a.name)
	return nil
}

// Compact moves all live payloads to the front of the data region, dropping
// the space of replaced and removed entries, and persists the directory.
func (a *Archive) Compact() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkWritableUnsafe("compact", ""); err != nil {
		return err
	}
	if handles := a.handlesUnsafe(); handles > 0 {
		return &data.ArchiveError{Op: "compact", Archive: a.name, Err: fmt.Errorf("%w: %d open handles", data.ErrInUse, handles)}
	}
	if err := a.compactUnsafe(); err != nil {
		return err
	}
	return a.flushUnsafe()
}

// compactUnsafe MUST be called while holding the archive lock.
func (a *Archive) compactUnsafe() error {
	if len(a.pending) > 0 {
		a.log.Debug("Compact: skipping %s, %d continuous updates in progress", a.name, len(a.pending))
		return nil
	}

	waste := a.wasteUnsafe()
	if waste <= 0 {
		return nil
	}

	type located struct {
		key   string
		entry *Entry
	}

	var live []located
	a.index.Scan(func(k string, e *Entry) bool {
		live = append(live, located{key: k, entry: e})
		return true
	})
	slices.SortStableFunc(live, func(x, y located) int {
		switch {
		case x.entry.Offset < y.entry.Offset:
			return -1
		case x.entry.Offset > y.entry.Offset:
			return 1
		default:
			return 0
		}
	})

	// Entries only ever move towards the front, so a forward copy never
	// overwrites payload that has not been moved yet.
	buf := make([]byte, copyChunkSize)
	cursor := int64(headerSize)
	a.dirty = true

	for _, l := range live {
		e := l.entry
		if e.Offset != cursor {
			if err := a.moveUnsafe(buf, e.Offset, cursor, e.CompressedSize); err != nil {
				return &data.ArchiveError{Op: "compact", Archive: a.name, Entry: e.Name, Err: err}
			}

			moved := *e
			moved.Offset = cursor
			a.index.Set(l.key, &moved)
		}
		cursor += e.CompressedSize
	}

	a.dataEnd = cursor
	a.log.Debug("Compact: reclaimed %d bytes in %s", waste, a.name)
	return nil
}

// moveUnsafe copies size bytes from src to dst in chunks. MUST be called while
// holding the archive lock.
func (a *Archive) moveUnsafe(buf []byte, src, dst, size int64) error {
	for done := int64(0); done < size; {
		chunk := min(int64(len(buf)), size-done)
		if _, err := readAt(a.container, buf[:chunk], src+done); err != nil {
			return err
		}
		if err := a.writeUnsafe(buf[:chunk], dst+done); err != nil {
			return err
		}
		done += chunk
	}
	return nil
}
