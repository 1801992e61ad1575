package stream_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mwantia/pakfs"
	"github.com/mwantia/pakfs/archive"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
	"github.com/mwantia/pakfs/stream"
)

func newTestFileSystem(tst *testing.T, opts ...pakfs.Option) (*pakfs.VirtualFileSystem, string) {
	tst.Helper()

	base := tst.TempDir()
	opts = append([]pakfs.Option{pakfs.WithLogger(log.NewDiscard())}, opts...)

	fs, err := pakfs.New(opts...)
	if err != nil {
		tst.Fatalf("Failed to create file system: %v", err)
	}
	if err := fs.Init(tst.Context(), base); err != nil {
		tst.Fatalf("Failed to initialize file system: %v", err)
	}
	tst.Cleanup(func() {
		fs.Shutdown(context.Background())
	})

	return fs, base
}

func testContent(size int) []byte {
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i*7 + i/256)
	}
	return content
}

func writeDiskFile(tst *testing.T, base, name string, content []byte) {
	tst.Helper()

	if err := os.WriteFile(filepath.Join(base, name), content, 0o644); err != nil {
		tst.Fatalf("Failed to write %s: %v", name, err)
	}
}

func mountPack(tst *testing.T, fs *pakfs.VirtualFileSystem, name string, files map[string][]byte) {
	tst.Helper()

	a, err := fs.OpenArchive(name, archive.FlagCreateNew)
	if err != nil {
		tst.Fatalf("Failed to create pack %s: %v", name, err)
	}
	for entry, content := range files {
		if err := a.UpdateEntry(entry, content, archive.MethodDeflate, archive.DefaultLevel); err != nil {
			tst.Fatalf("Failed to add %s: %v", entry, err)
		}
	}
	if err := a.Close(); err != nil {
		tst.Fatalf("Failed to close pack %s: %v", name, err)
	}
	if err := fs.OpenPack(tst.Context(), name, "", 0); err != nil {
		tst.Fatalf("Failed to mount pack %s: %v", name, err)
	}
}

// TestBufferedReader_Windows reads a file through windows smaller than, equal
// to and larger than the file, in chunks that straddle window boundaries.
func TestBufferedReader_Windows(t *testing.T) {
	fs, base := newTestFileSystem(t)
	content := testContent(10000)
	writeDiskFile(t, base, "stream.bin", content)
	mountPack(t, fs, "stream.pak", map[string][]byte{"packed.bin": content})

	tests := []struct {
		name       string
		path       string
		bufferSize int
		chunkSize  int
	}{
		{name: "disk small window", path: "stream.bin", bufferSize: 1024, chunkSize: 333},
		{name: "disk odd window", path: "stream.bin", bufferSize: 999, chunkSize: 1000},
		{name: "disk exact window", path: "stream.bin", bufferSize: 10000, chunkSize: 4096},
		{name: "disk large window", path: "stream.bin", bufferSize: 1 << 16, chunkSize: 17},
		{name: "pack small window", path: "packed.bin", bufferSize: 512, chunkSize: 700},
		{name: "pack large window", path: "packed.bin", bufferSize: 1 << 16, chunkSize: 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(tst *testing.T) {
			r, err := stream.NewBufferedReader(fs, stream.WithBufferSize(tt.bufferSize))
			if err != nil {
				tst.Fatalf("NewBufferedReader failed: %v", err)
			}
			if err := r.Open(tst.Context(), tt.path, 0); err != nil {
				tst.Fatalf("Open failed: %v", err)
			}
			defer r.Close()

			if r.Size() != int64(len(content)) {
				tst.Fatalf("expected size %d, got %d", len(content), r.Size())
			}

			var got []byte
			chunk := make([]byte, tt.chunkSize)
			for {
				n, err := r.ReadRaw(chunk)
				if err != nil {
					tst.Fatalf("ReadRaw failed: %v", err)
				}
				if n == 0 {
					break
				}
				got = append(got, chunk[:n]...)
				if r.Tell() != int64(len(got)) {
					tst.Fatalf("expected position %d, got %d", len(got), r.Tell())
				}
			}

			if !bytes.Equal(got, content) {
				tst.Fatalf("content mismatch after %d bytes", len(got))
			}
		})
	}
}

func TestBufferedReader_Seek(t *testing.T) {
	fs, base := newTestFileSystem(t)
	content := testContent(5000)
	writeDiskFile(t, base, "seek.bin", content)

	r, err := stream.NewBufferedReader(fs, stream.WithBufferSize(256))
	if err != nil {
		t.Fatalf("NewBufferedReader failed: %v", err)
	}
	if err := r.Open(t.Context(), "seek.bin", 0); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	buf := make([]byte, 100)
	if _, err := r.ReadRaw(buf); err != nil {
		t.Fatalf("ReadRaw failed: %v", err)
	}

	for _, pos := range []int64{4000, 10, 255, 256, 4999} {
		if err := r.Seek(pos); err != nil {
			t.Fatalf("Seek(%d) failed: %v", pos, err)
		}
		if r.Tell() != pos {
			t.Fatalf("expected position %d, got %d", pos, r.Tell())
		}

		n, err := r.ReadRaw(buf)
		if err != nil {
			t.Fatalf("ReadRaw at %d failed: %v", pos, err)
		}
		want := content[pos:min(pos+int64(len(buf)), int64(len(content)))]
		if !bytes.Equal(buf[:n], want) {
			t.Fatalf("content mismatch at %d", pos)
		}
	}

	if err := r.Seek(5001); !errors.Is(err, data.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}

	if err := r.Seek(5000); err != nil {
		t.Fatalf("Seek to end failed: %v", err)
	}
	if _, err := r.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at the end, got %v", err)
	}
}

func TestBufferedReader_EmptyAndClosed(t *testing.T) {
	fs, base := newTestFileSystem(t)
	writeDiskFile(t, base, "empty.bin", nil)

	r, err := stream.NewBufferedReader(fs)
	if err != nil {
		t.Fatalf("NewBufferedReader failed: %v", err)
	}
	if err := r.Open(t.Context(), "empty.bin", 0); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	buf := make([]byte, 8)
	if n, err := r.ReadRaw(buf); n != 0 || err != nil {
		t.Fatalf("expected an empty read, got %d, %v", n, err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := r.ReadRaw(buf); !errors.Is(err, data.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if fs.OpenFiles() != 0 {
		t.Fatalf("expected no open files, got %d", fs.OpenFiles())
	}

	if err := r.Open(t.Context(), "missing.bin", pakfs.FlagQuiet); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
	if _, err := stream.NewBufferedReader(fs, stream.WithBufferSize(0)); !errors.Is(err, data.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for a zero window, got %v", err)
	}
}

// TestMemoryLoader_Navigation loads a file once and navigates it from memory.
func TestMemoryLoader_Navigation(t *testing.T) {
	fs, base := newTestFileSystem(t)
	content := testContent(100)
	writeDiskFile(t, base, "level.bin", content)
	mountPack(t, fs, "level.pak", map[string][]byte{"packed.bin": content})

	for _, name := range []string{"level.bin", "packed.bin"} {
		t.Run(name, func(tst *testing.T) {
			loader := stream.NewMemoryLoader(fs, "level")
			if err := loader.Open(tst.Context(), name, 0, true); err != nil {
				tst.Fatalf("Open failed: %v", err)
			}
			defer loader.Close()

			if fs.OpenFiles() != 0 {
				tst.Fatalf("expected the file handle to be closed, got %d open", fs.OpenFiles())
			}
			if fs.Pool().Usage()["level"] != 100 {
				tst.Fatalf("expected 100 bytes accounted to level, got %v", fs.Pool().Usage())
			}

			if pos, err := loader.Seek(90, io.SeekStart); err != nil || pos != 90 {
				tst.Fatalf("Seek(90) returned %d, %v", pos, err)
			}
			buf := make([]byte, 20)
			n, err := loader.ReadRaw(buf)
			if err != nil || n != 10 {
				tst.Fatalf("expected 10 bytes, got %d, %v", n, err)
			}
			if !bytes.Equal(buf[:n], content[90:]) {
				tst.Fatalf("content mismatch")
			}
			if loader.Tell() != 100 {
				tst.Fatalf("expected position 100, got %d", loader.Tell())
			}

			if _, err := loader.Seek(101, io.SeekStart); !errors.Is(err, data.ErrOutOfRange) {
				tst.Fatalf("expected ErrOutOfRange, got %v", err)
			}
			if loader.Tell() != 100 {
				tst.Fatalf("failed seek moved the cursor to %d", loader.Tell())
			}
			if _, err := loader.Seek(-200, io.SeekCurrent); !errors.Is(err, data.ErrOutOfRange) {
				tst.Fatalf("expected ErrOutOfRange, got %v", err)
			}

			if pos, err := loader.Seek(-100, io.SeekEnd); err != nil || pos != 0 {
				tst.Fatalf("Seek(-100, end) returned %d, %v", pos, err)
			}
			all, err := io.ReadAll(loader)
			if err != nil {
				tst.Fatalf("ReadAll failed: %v", err)
			}
			if !bytes.Equal(all, content) {
				tst.Fatalf("content mismatch")
			}
		})
	}

	if fs.Pool().Usage()["level"] != 0 {
		t.Fatalf("expected all blocks released, got %v", fs.Pool().Usage())
	}
}

func TestMemoryLoader_KeepOpen(t *testing.T) {
	fs, base := newTestFileSystem(t)
	content := make([]byte, 8)
	binary.BigEndian.PutUint64(content, 0x0102030405060708)
	writeDiskFile(t, base, "header.bin", content)

	loader := stream.NewMemoryLoader(fs, "")
	if err := loader.Open(t.Context(), "header.bin", pakfs.FlagBigEndian, false); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if fs.OpenFiles() != 1 {
		t.Fatalf("expected the file handle to stay open, got %d", fs.OpenFiles())
	}
	if loader.ByteOrder() != binary.BigEndian {
		t.Fatalf("expected big endian byte order")
	}

	var value uint64
	if err := binary.Read(loader, loader.ByteOrder(), &value); err != nil {
		t.Fatalf("binary.Read failed: %v", err)
	}
	if value != 0x0102030405060708 {
		t.Fatalf("unexpected value %#x", value)
	}

	if err := loader.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := loader.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if fs.OpenFiles() != 0 {
		t.Fatalf("expected no open files, got %d", fs.OpenFiles())
	}
	if _, err := loader.ReadRaw(make([]byte, 1)); !errors.Is(err, data.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMemoryLoader_Failures(t *testing.T) {
	fs, base := newTestFileSystem(t, pakfs.WithPoolBudget(64))
	writeDiskFile(t, base, "empty.bin", nil)
	writeDiskFile(t, base, "large.bin", testContent(128))

	loader := stream.NewMemoryLoader(fs, "tmp")
	if err := loader.Open(t.Context(), "empty.bin", 0, true); !errors.Is(err, data.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for an empty file, got %v", err)
	}
	if err := loader.Open(t.Context(), "large.bin", 0, true); !errors.Is(err, data.ErrOutOfBudget) {
		t.Fatalf("expected ErrOutOfBudget, got %v", err)
	}
	if err := loader.Open(t.Context(), "missing.bin", pakfs.FlagQuiet, true); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}

	if fs.OpenFiles() != 0 {
		t.Fatalf("expected no open files, got %d", fs.OpenFiles())
	}
	if fs.Pool().Used() != 0 {
		t.Fatalf("expected no pooled bytes, got %d", fs.Pool().Used())
	}
}

func TestBufferedReader_TypedAcrossWindows(t *testing.T) {
	fs, base := newTestFileSystem(t)

	values := make([]uint32, 100)
	for i := range values {
		values[i] = uint32(i) * 0x01010101
	}
	content, err := binary.Append(nil, binary.BigEndian, values)
	if err != nil {
		t.Fatalf("binary.Append failed: %v", err)
	}
	writeDiskFile(t, base, "values.bin", content)

	r, err := stream.NewBufferedReader(fs, stream.WithBufferSize(10))
	if err != nil {
		t.Fatalf("NewBufferedReader failed: %v", err)
	}
	if err := r.Open(t.Context(), "values.bin", pakfs.FlagBigEndian); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	got := make([]uint32, len(values)+1)
	n, err := data.ReadTyped(r, got)
	if err != nil {
		t.Fatalf("ReadTyped failed: %v", err)
	}
	if n != len(values) {
		t.Fatalf("expected %d values, got %d", len(values), n)
	}
	for i, v := range values {
		if got[i] != v {
			t.Fatalf("value %d: expected %#x, got %#x", i, v, got[i])
		}
	}
}
