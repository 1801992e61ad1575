package pakfs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/mount"
	"github.com/mwantia/pakfs/resolver"
)

// Open resolves the virtual path p and opens the first source backing it.
// The mode uses C style strings such as "rb", "wb" or "r+b"; files opened for
// writing always live on disk below the write root.
//
// Open consults the access gate before touching any source and reports every
// attempt, successful or not, to the registered sinks. Missing files return an error wrapping
// ErrNotExist and log a warning unless FlagQuiet is set.
func (vfs *VirtualFileSystem) Open(ctx context.Context, p, mode string, flags OpenFlags) (*File, error) {
	r, err := vfs.currentResolver()
	if err != nil {
		return nil, err
	}

	access, err := data.ParseAccessMode(mode)
	if err != nil {
		return nil, &data.PathError{Op: "open", Path: p, Err: fmt.Errorf("%w: mode %q", data.ErrInvalid, mode)}
	}

	full, err := r.Resolve(p, resolverFlags(flags, access))
	if err != nil {
		vfs.gate.Notify(nil, p)
		return nil, err
	}

	if !vfs.gate.CheckAccess(ctx, p, access) {
		vfs.gate.Notify(nil, full)
		return nil, &data.PathError{Op: "open", Path: p, Err: data.ErrAccessDenied}
	}

	var f *File
	if access.IsWriting() {
		f, err = vfs.openForWriting(p, full, access)
	} else {
		f, err = vfs.openForReading(p, full, access, flags)
	}
	if err != nil {
		vfs.gate.Notify(nil, full)
		if errors.Is(err, data.ErrNotExist) && flags&FlagQuiet == 0 {
			vfs.log.Warn("Open: file '%s' not found (%s)", p, full)
		}
		return nil, err
	}

	if flags&FlagBigEndian != 0 {
		f.order = binary.BigEndian
	}

	vfs.openFiles.Add(1)
	vfs.gate.Notify(f, full)
	vfs.log.Debug("Open: '%s' -> '%s' (%s, in pack %t)", p, full, access, f.InPack())
	return f, nil
}

func (vfs *VirtualFileSystem) openForReading(p, full string, access data.AccessMode, flags OpenFlags) (*File, error) {
	backing, ok := vfs.table.Lookup(full, searchLocation(flags), lookupFlags(flags))
	if !ok {
		return nil, &data.PathError{Op: "open", Path: p, Err: data.ErrNotExist}
	}

	switch b := backing.(type) {
	case *mount.DiskBacking:
		file, err := os.Open(b.Path)
		if err != nil {
			return nil, &data.PathError{Op: "open", Path: p, Err: wrapOSError(err)}
		}
		return newFile(vfs, full, access, &osBacking{file: file}), nil

	case *mount.ArchiveBacking:
		if err := b.Pack.Acquire(); err != nil {
			return nil, &data.PathError{Op: "open", Path: p, Err: err}
		}
		return newFile(vfs, full, access, &archiveBacking{pack: b.Pack, entry: b.Entry}), nil

	default:
		return nil, &data.PathError{Op: "open", Path: p, Err: fmt.Errorf("%w: backing %T", data.ErrUnsupported, backing)}
	}
}

func (vfs *VirtualFileSystem) openForWriting(p, full string, access data.AccessMode) (*File, error) {
	native := data.MatchCase(filepath.FromSlash(full))
	if access&data.AccessModeCreate != 0 {
		if err := os.MkdirAll(filepath.Dir(native), 0o755); err != nil {
			return nil, &data.PathError{Op: "open", Path: p, Err: wrapOSError(err)}
		}
	}

	file, err := os.OpenFile(native, access.ToFlags(), 0o644)
	if err != nil {
		return nil, &data.PathError{Op: "open", Path: p, Err: wrapOSError(err)}
	}
	return newFile(vfs, full, access, &osBacking{file: file}), nil
}

func resolverFlags(flags OpenFlags, access data.AccessMode) resolver.Flags {
	var rflags resolver.Flags
	if flags&FlagReal != 0 {
		rflags |= resolver.Real
	}
	if flags&FlagCheckModPaths != 0 {
		rflags |= resolver.CheckModPaths
	}
	if flags&FlagNoLowerCase != 0 {
		rflags |= resolver.NoLowerCase
	}
	if access.IsWriting() {
		rflags |= resolver.ForWriting
	}
	return rflags
}

func searchLocation(flags OpenFlags) mount.SearchLocation {
	switch {
	case flags&FlagOnDisk != 0:
		return mount.SearchOnDisk
	case flags&FlagInPak != 0:
		return mount.SearchInPak
	default:
		return mount.SearchAny
	}
}

func lookupFlags(flags OpenFlags) mount.LookupFlags {
	var lflags mount.LookupFlags
	if flags&FlagNeverInPak != 0 {
		lflags |= mount.LookupNeverInPak
	}
	if flags&FlagPakInMemory != 0 {
		lflags |= mount.LookupPakInMemory
	}
	return lflags
}

func fileInfo(full string, backing mount.Backing) *data.FileInfo {
	switch b := backing.(type) {
	case *mount.DiskBacking:
		return &data.FileInfo{
			Path:       full,
			Source:     data.SourceDisk,
			Size:       b.Size,
			StoredSize: b.Size,
			ModifyTime: b.ModTime,
		}
	case *mount.ArchiveBacking:
		return &data.FileInfo{
			Path:       full,
			Source:     data.SourcePack,
			Pack:       b.Pack.Name,
			Size:       b.Entry.Size,
			StoredSize: b.Entry.CompressedSize,
			ModifyTime: b.Entry.ModTime,
			CRC32:      b.Entry.CRC32,
		}
	default:
		return &data.FileInfo{Path: full}
	}
}

func wrapOSError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", data.ErrNotExist, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", data.ErrPermission, err)
	case errors.Is(err, fs.ErrClosed):
		return fmt.Errorf("%w: %v", data.ErrClosed, err)
	default:
		return fmt.Errorf("%w: %v", data.ErrIO, err)
	}
}
