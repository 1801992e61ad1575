package archive

import (
	"bytes"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/mwantia/pakfs/data"
)

var testKey = bytes.Repeat([]byte{0x42}, KeySize)

// readEntryBytes decodes the whole entry into a new buffer.
func (a *Archive) readEntryBytes(e *Entry) ([]byte, error) {
	if e == nil {
		return nil, data.ErrInvalid
	}

	buf := make([]byte, e.Size)
	if err := a.ReadEntry(e, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

type failingContainer struct {
	*MemoryContainer
	failWrites bool
}

func (fc *failingContainer) WriteAt(p []byte, off int64) (int, error) {
	if fc.failWrites {
		return 0, errors.New("no space left on device")
	}
	return fc.MemoryContainer.WriteAt(p, off)
}

func newMemoryArchive(t *testing.T, flags Flags) (*Archive, *MemoryContainer) {
	t.Helper()

	container := NewMemoryContainer(nil)
	a, err := New(container, "memory.pak", flags, WithKey(testKey))
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}
	return a, container
}

func TestArchive_UpdateAndRead(t *testing.T) {
	content := bytes.Repeat([]byte("compressible archive payload "), 200)
	methods := map[string]Method{
		"store":           MethodStore,
		"deflate":         MethodDeflate,
		"deflate+encrypt": MethodDeflateAndEncrypt,
	}

	for name, method := range methods {
		t.Run(name, func(tst *testing.T) {
			a, _ := newMemoryArchive(tst, 0)
			defer a.Close()

			if err := a.UpdateEntry("Textures\\Wall.DDS", content, method, DefaultLevel); err != nil {
				tst.Fatalf("UpdateEntry failed: %v", err)
			}

			entry := a.FindEntry("textures/wall.dds")
			if entry == nil {
				tst.Fatalf("FindEntry did not find the entry")
			}
			if entry.Name != "Textures/Wall.DDS" || entry.Method != method || entry.Size != int64(len(content)) {
				tst.Fatalf("unexpected entry: %+v", entry)
			}
			if entry.CRC32 != crc32.ChecksumIEEE(content) {
				tst.Fatalf("unexpected crc %08x", entry.CRC32)
			}
			if method != MethodStore && entry.CompressedSize >= entry.Size {
				tst.Fatalf("expected compression, stored %d of %d bytes", entry.CompressedSize, entry.Size)
			}

			got, err := a.readEntryBytes(entry)
			if err != nil {
				tst.Fatalf("ReadEntry failed: %v", err)
			}
			if !bytes.Equal(got, content) {
				tst.Fatalf("content mismatch")
			}
		})
	}
}

func TestArchive_ReopenFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.pak")

	a, err := Open(path, 0, WithKey(testKey))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := a.UpdateEntry("cfg/a.txt", []byte("v1"), MethodStore, DefaultLevel); err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}
	if err := a.UpdateEntry("cfg/secret.txt", []byte("hidden"), MethodDeflateAndEncrypt, DefaultLevel); err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}
	if err := a.CreateFolder("levels"); err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path, FlagReadOnly, WithKey(testKey))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if reopened.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", reopened.Len())
	}

	got, err := reopened.readEntryBytes(reopened.FindEntry("CFG/A.TXT"))
	if err != nil || string(got) != "v1" {
		t.Fatalf("ReadEntry = %q, %v", got, err)
	}
	got, err = reopened.readEntryBytes(reopened.FindEntry("cfg/secret.txt"))
	if err != nil || string(got) != "hidden" {
		t.Fatalf("ReadEntry encrypted = %q, %v", got, err)
	}
	if folder := reopened.FindEntry("levels"); folder == nil || !folder.IsFolder {
		t.Fatalf("expected folder entry, got %+v", folder)
	}

	memory, err := Open(path, FlagInMemoryCPU, WithKey(testKey))
	if err != nil {
		t.Fatalf("in-memory open failed: %v", err)
	}
	defer memory.Close()
	if !memory.ReadOnly() {
		t.Fatalf("in-memory archives must be read-only")
	}
}

func TestArchive_FailedWriteLeavesDirectoryUnchanged(t *testing.T) {
	container := &failingContainer{MemoryContainer: NewMemoryContainer(nil)}
	a, err := New(container, "failing.pak", 0)
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}

	if err := a.UpdateEntry("cfg/a.txt", []byte("original"), MethodStore, DefaultLevel); err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}
	before := a.FindEntry("cfg/a.txt")

	container.failWrites = true
	err = a.UpdateEntry("cfg/a.txt", []byte("replacement"), MethodStore, DefaultLevel)
	if !errors.Is(err, data.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if err := a.UpdateEntry("cfg/new.txt", []byte("new"), MethodDeflate, DefaultLevel); err == nil {
		t.Fatalf("expected second write to fail")
	}

	after := a.FindEntry("cfg/a.txt")
	if after != before {
		t.Fatalf("directory changed after failed write: %+v -> %+v", before, after)
	}
	if a.FindEntry("cfg/new.txt") != nil {
		t.Fatalf("failed entry must not be visible")
	}

	container.failWrites = false
	got, err := a.readEntryBytes(after)
	if err != nil || string(got) != "original" {
		t.Fatalf("ReadEntry = %q, %v", got, err)
	}
}

func TestArchive_ContinuousUpdate(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 64)
	total := int64(len(payload))

	t.Run("in order", func(tst *testing.T) {
		a, _ := newMemoryArchive(tst, 0)
		defer a.Close()

		if err := a.StartContinuousUpdate("streams/video.bik", total); err != nil {
			tst.Fatalf("StartContinuousUpdate failed: %v", err)
		}
		entry := a.FindEntry("streams/video.bik")
		if entry == nil || entry.CRC32 != 0 || entry.Method != MethodStore || !entry.Pending {
			tst.Fatalf("unexpected reserved entry: %+v", entry)
		}

		for off := 0; off < len(payload); off += 100 {
			end := min(off+100, len(payload))
			if err := a.UpdateContinuousSegment("streams/video.bik", total, payload[off:end], -1); err != nil {
				tst.Fatalf("UpdateContinuousSegment failed: %v", err)
			}
		}

		err := a.UpdateCRC("streams/video.bik", 0xdeadbeef)
		if !errors.Is(err, data.ErrChecksumMismatch) {
			tst.Fatalf("expected ErrChecksumMismatch, got %v", err)
		}

		if err := a.UpdateCRC("streams/video.bik", crc32.ChecksumIEEE(payload)); err != nil {
			tst.Fatalf("UpdateCRC failed: %v", err)
		}

		got, err := a.readEntryBytes(a.FindEntry("streams/video.bik"))
		if err != nil {
			tst.Fatalf("ReadEntry failed: %v", err)
		}
		if !bytes.Equal(got, payload) {
			tst.Fatalf("continuous payload mismatch")
		}
	})

	t.Run("out of order", func(tst *testing.T) {
		a, _ := newMemoryArchive(tst, 0)
		defer a.Close()

		if err := a.StartContinuousUpdate("data.bin", total); err != nil {
			tst.Fatalf("StartContinuousUpdate failed: %v", err)
		}

		half := total / 2
		if err := a.UpdateContinuousSegment("data.bin", total, payload[half:], half); err != nil {
			tst.Fatalf("second half failed: %v", err)
		}
		if err := a.UpdateContinuousSegment("data.bin", total, payload[:half], 0); err != nil {
			tst.Fatalf("first half failed: %v", err)
		}

		if err := a.UpdateContinuousSegment("data.bin", total, []byte("overflow"), total-4); !errors.Is(err, data.ErrOutOfRange) {
			tst.Fatalf("expected ErrOutOfRange, got %v", err)
		}
		if err := a.UpdateContinuousSegment("data.bin", total+1, []byte("x"), 0); !errors.Is(err, data.ErrInvalid) {
			tst.Fatalf("expected ErrInvalid for size mismatch, got %v", err)
		}

		if err := a.UpdateCRC("data.bin", crc32.ChecksumIEEE(payload)); err != nil {
			tst.Fatalf("UpdateCRC failed: %v", err)
		}

		got, err := a.readEntryBytes(a.FindEntry("data.bin"))
		if err != nil || !bytes.Equal(got, payload) {
			tst.Fatalf("ReadEntry = %v (match %t)", err, bytes.Equal(got, payload))
		}
	})

	t.Run("update blocked while pending", func(tst *testing.T) {
		a, _ := newMemoryArchive(tst, 0)
		defer a.Close()

		if err := a.StartContinuousUpdate("data.bin", 4); err != nil {
			tst.Fatalf("StartContinuousUpdate failed: %v", err)
		}
		if err := a.UpdateEntry("data.bin", []byte("abcd"), MethodStore, DefaultLevel); !errors.Is(err, data.ErrInUse) {
			tst.Fatalf("expected ErrInUse, got %v", err)
		}
		if err := a.UpdateContinuousSegment("other.bin", 4, []byte("a"), -1); !errors.Is(err, data.ErrInvalid) {
			tst.Fatalf("expected ErrInvalid without a started update, got %v", err)
		}
	})
}

func TestArchive_RemoveIsIdempotent(t *testing.T) {
	a, _ := newMemoryArchive(t, 0)
	defer a.Close()

	if err := a.UpdateEntry("cfg/a.txt", []byte("a"), MethodStore, DefaultLevel); err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := a.RemoveEntry("cfg/a.txt"); err != nil {
			t.Fatalf("RemoveEntry #%d failed: %v", i+1, err)
		}
	}
	if err := a.RemoveEntry("never/existed.txt"); err != nil {
		t.Fatalf("RemoveEntry of missing entry failed: %v", err)
	}
	if a.FindEntry("cfg/a.txt") != nil {
		t.Fatalf("entry still present after removal")
	}
}

func TestArchive_RemoveDirectory(t *testing.T) {
	a, _ := newMemoryArchive(t, 0)
	defer a.Close()

	names := []string{"textures/a.dds", "textures/sub/b.dds", "textures-old/c.dds", "texturesz.txt", "cfg/d.txt"}
	for _, name := range names {
		if err := a.UpdateEntry(name, []byte(name), MethodStore, DefaultLevel); err != nil {
			t.Fatalf("UpdateEntry(%s) failed: %v", name, err)
		}
	}
	if err := a.CreateFolder("textures"); err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}

	if got := len(a.Entries("textures")); got != 3 {
		t.Fatalf("expected 3 entries below textures, got %d", got)
	}

	if err := a.RemoveDirectory("Textures/"); err != nil {
		t.Fatalf("RemoveDirectory failed: %v", err)
	}

	for _, name := range []string{"textures/a.dds", "textures/sub/b.dds", "textures"} {
		if a.FindEntry(name) != nil {
			t.Errorf("%s survived RemoveDirectory", name)
		}
	}
	for _, name := range []string{"textures-old/c.dds", "texturesz.txt", "cfg/d.txt"} {
		if a.FindEntry(name) == nil {
			t.Errorf("%s was removed by RemoveDirectory", name)
		}
	}

	if err := a.RemoveAll(); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if a.Len() != 0 || a.Waste() != 0 {
		t.Fatalf("expected empty archive, got %d entries and %d waste", a.Len(), a.Waste())
	}
}

func TestArchive_ReadOnlyRejectsMutation(t *testing.T) {
	source, container := newMemoryArchive(t, FlagDontCompact)
	if err := source.UpdateEntry("cfg/a.txt", []byte("a"), MethodStore, DefaultLevel); err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}
	if err := source.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	block := bytes.Clone(container.Bytes())
	source.Close()

	a, err := OpenBlock("preloaded.pak", block, 0)
	if err != nil {
		t.Fatalf("OpenBlock failed: %v", err)
	}
	defer a.Close()

	mutations := map[string]func() error{
		"update":  func() error { return a.UpdateEntry("x", []byte("x"), MethodStore, DefaultLevel) },
		"remove":  func() error { return a.RemoveEntry("cfg/a.txt") },
		"rmdir":   func() error { return a.RemoveDirectory("cfg") },
		"clear":   func() error { return a.RemoveAll() },
		"start":   func() error { return a.StartContinuousUpdate("y", 10) },
		"crc":     func() error { return a.UpdateCRC("cfg/a.txt", 1) },
		"folder":  func() error { return a.CreateFolder("dir") },
		"compact": func() error { return a.Compact() },
	}

	for name, mutate := range mutations {
		err := mutate()
		if !errors.Is(err, data.ErrReadOnly) {
			t.Errorf("%s: expected ErrReadOnly, got %v", name, err)
		}

		var archiveErr *data.ArchiveError
		if !errors.As(err, &archiveErr) {
			t.Errorf("%s: expected ArchiveError, got %T", name, err)
		}
	}

	if got, err := a.readEntryBytes(a.FindEntry("cfg/a.txt")); err != nil || string(got) != "a" {
		t.Fatalf("ReadEntry = %q, %v", got, err)
	}
}

func TestArchive_CompactOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compact.pak")

	a, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	big := bytes.Repeat([]byte{0xab}, 8192)
	for i := 0; i < 5; i++ {
		if err := a.UpdateEntry("big.bin", big, MethodStore, DefaultLevel); err != nil {
			t.Fatalf("UpdateEntry failed: %v", err)
		}
	}
	if err := a.UpdateEntry("small.txt", []byte("small"), MethodStore, DefaultLevel); err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}
	if a.Waste() != int64(4*len(big)) {
		t.Fatalf("expected %d bytes of waste, got %d", 4*len(big), a.Waste())
	}
	if err := a.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	uncompacted, _ := os.Stat(path)
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	compacted, _ := os.Stat(path)

	if compacted.Size() >= uncompacted.Size()-int64(3*len(big)) {
		t.Fatalf("expected compaction, size %d -> %d", uncompacted.Size(), compacted.Size())
	}

	reopened, err := Open(path, FlagReadOnly)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if reopened.Waste() != 0 {
		t.Fatalf("expected no waste after compaction, got %d", reopened.Waste())
	}
	got, err := reopened.readEntryBytes(reopened.FindEntry("big.bin"))
	if err != nil || !bytes.Equal(got, big) {
		t.Fatalf("big.bin corrupted by compaction: %v", err)
	}
	got, err = reopened.readEntryBytes(reopened.FindEntry("small.txt"))
	if err != nil || string(got) != "small" {
		t.Fatalf("small.txt corrupted by compaction: %q, %v", got, err)
	}
}

func TestArchive_HandlesKeepContainerOpen(t *testing.T) {
	a, _ := newMemoryArchive(t, 0)
	if err := a.UpdateEntry("a.txt", []byte("a"), MethodStore, DefaultLevel); err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}

	if err := a.Retain(); err != nil {
		t.Fatalf("Retain failed: %v", err)
	}
	if err := a.Compact(); !errors.Is(err, data.ErrInUse) {
		t.Fatalf("expected ErrInUse while a handle is open, got %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if a.Closed() || a.Handles() != 1 {
		t.Fatalf("container closed while a handle is open")
	}
	if _, err := a.readEntryBytes(a.FindEntry("a.txt")); err != nil {
		t.Fatalf("ReadEntry after owner close failed: %v", err)
	}

	if err := a.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !a.Closed() {
		t.Fatalf("expected container to close with the last reference")
	}
	if err := a.Retain(); !errors.Is(err, data.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close must succeed, got %v", err)
	}
}

func TestArchive_Corruption(t *testing.T) {
	t.Run("garbage container", func(tst *testing.T) {
		_, err := New(NewMemoryContainer(bytes.Repeat([]byte("junk"), 32)), "junk.pak", FlagReadOnly)
		if !errors.Is(err, data.ErrCorrupt) {
			tst.Fatalf("expected ErrCorrupt, got %v", err)
		}
	})

	t.Run("payload bit flip", func(tst *testing.T) {
		a, container := newMemoryArchive(tst, FlagDontCompact)
		defer a.Close()

		if err := a.UpdateEntry("a.txt", []byte("hello"), MethodStore, DefaultLevel); err != nil {
			tst.Fatalf("UpdateEntry failed: %v", err)
		}
		entry := a.FindEntry("a.txt")
		container.Bytes()[entry.Offset] ^= 0xff

		if _, err := a.readEntryBytes(entry); !errors.Is(err, data.ErrChecksumMismatch) {
			tst.Fatalf("expected ErrChecksumMismatch, got %v", err)
		}
	})

	t.Run("missing key", func(tst *testing.T) {
		a, err := New(NewMemoryContainer(nil), "nokey.pak", 0)
		if err != nil {
			tst.Fatalf("New failed: %v", err)
		}
		defer a.Close()

		if err := a.UpdateEntry("a.txt", []byte("x"), MethodDeflateAndEncrypt, DefaultLevel); !errors.Is(err, data.ErrInvalid) {
			tst.Fatalf("expected ErrInvalid, got %v", err)
		}
	})
}

func TestArchive_EntryNames(t *testing.T) {
	a, _ := newMemoryArchive(t, FlagRelativePathsOnly)
	defer a.Close()

	invalid := []string{"", "/abs/file.txt", "../escape.txt", "bad|name"}
	for _, name := range invalid {
		err := a.UpdateEntry(name, []byte("x"), MethodStore, DefaultLevel)
		if !errors.Is(err, data.ErrMalformedPath) {
			t.Errorf("UpdateEntry(%q) = %v, want ErrMalformedPath", name, err)
		}
	}

	b, _ := newMemoryArchive(t, 0)
	defer b.Close()

	if err := b.UpdateEntry("/abs/file.txt", []byte("x"), MethodStore, DefaultLevel); err != nil {
		t.Fatalf("absolute names must be accepted without FlagRelativePathsOnly: %v", err)
	}
	if b.FindEntry("abs/file.txt") == nil {
		t.Fatalf("absolute name not stored relative")
	}
}

func TestDeriveKey(t *testing.T) {
	first, err := DeriveKey([]byte("passphrase"), []byte("project"))
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	second, _ := DeriveKey([]byte("passphrase"), []byte("project"))
	other, _ := DeriveKey([]byte("passphrase"), []byte("other"))

	if len(first) != KeySize || !bytes.Equal(first, second) || bytes.Equal(first, other) {
		t.Fatalf("DeriveKey is not deterministic per salt")
	}
}

func TestWrapOSError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{"not-exist", os.ErrNotExist, data.ErrNotExist},
		{"permission", os.ErrPermission, data.ErrAccessDenied},
		{"other", errors.New("disk on fire"), data.ErrIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(tst *testing.T) {
			err := wrapOSError("open", "base.pak", &os.PathError{Op: "open", Path: "base.pak", Err: tt.err})
			if !errors.Is(err, tt.expected) {
				tst.Fatalf("expected %v, got %v", tt.expected, err)
			}
			var archiveErr *data.ArchiveError
			if !errors.As(err, &archiveErr) || archiveErr.Archive != "base.pak" {
				tst.Fatalf("expected an ArchiveError for base.pak, got %v", err)
			}
		})
	}
}

func TestOpen_MixedCasePath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Paks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	a, err := Open(filepath.Join(dir, "Base.pak"), FlagCreateNew)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := a.UpdateEntry("a.txt", []byte("a"), MethodStore, DefaultLevel); err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lower := filepath.Join(filepath.Dir(dir), "paks", "base.pak")
	if _, err := os.Stat(lower); err == nil {
		t.Skip("file system is not case-sensitive")
	}
	reopened, err := Open(lower, FlagReadOnly)
	if err != nil {
		t.Fatalf("expected the lower-cased path to open, got %v", err)
	}
	defer reopened.Close()

	if reopened.Name() != filepath.Join(dir, "Base.pak") || reopened.FindEntry("a.txt") == nil {
		t.Fatalf("unexpected archive %s", reopened.Name())
	}
}

func TestArchive_ID(t *testing.T) {
	first, err := New(NewMemoryContainer(nil), "first.pak", 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer first.Close()

	second, err := New(NewMemoryContainer(nil), "second.pak", 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer second.Close()

	if first.ID() == "" || first.ID() == second.ID() {
		t.Fatalf("expected distinct archive IDs, got %q and %q", first.ID(), second.ID())
	}
}
