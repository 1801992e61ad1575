package archive

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/mwantia/pakfs/data"
)

// Container layout:
//
//	header    magic "PAKF", version u16, reserved u16
//	data      entry payloads
//	directory CBOR array of dirRecord
//	trailer   directory offset u64, directory size u64, directory crc32 u32, magic "FKAP"
const (
	headerSize    = 8
	trailerSize   = 24
	formatVersion = 1
)

var (
	headerMagic  = [4]byte{'P', 'A', 'K', 'F'}
	trailerMagic = [4]byte{'F', 'K', 'A', 'P'}
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("archive: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 24,
	}.DecMode()
	if err != nil {
		panic("archive: CBOR decoder initialization failed: " + err.Error())
	}
}

type dirRecord struct {
	Name           string `cbor:"1,keyasint"`
	Folder         bool   `cbor:"2,keyasint,omitempty"`
	Offset         int64  `cbor:"3,keyasint"`
	CompressedSize int64  `cbor:"4,keyasint"`
	Size           int64  `cbor:"5,keyasint"`
	Method         uint16 `cbor:"6,keyasint"`
	CRC32          uint32 `cbor:"7,keyasint"`
	ModTime        uint64 `cbor:"8,keyasint,omitempty"`
	Pending        bool   `cbor:"9,keyasint,omitempty"`
}

type trailer struct {
	dirOffset int64
	dirSize   int64
	dirCRC    uint32
}

func encodeHeader() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], headerMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], formatVersion)
	return buf
}

func checkHeader(buf []byte) error {
	if len(buf) < headerSize || [4]byte(buf[0:4]) != headerMagic {
		return fmt.Errorf("%w: invalid header magic", data.ErrCorrupt)
	}
	if version := binary.LittleEndian.Uint16(buf[4:6]); version != formatVersion {
		return fmt.Errorf("%w: unsupported format version %d", data.ErrCorrupt, version)
	}
	return nil
}

func (t trailer) encode() []byte {
	buf := make([]byte, trailerSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(t.dirOffset))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(t.dirSize))
	binary.LittleEndian.PutUint32(buf[16:20], t.dirCRC)
	copy(buf[20:24], trailerMagic[:])
	return buf
}

func decodeTrailer(buf []byte) (trailer, error) {
	if len(buf) < trailerSize || [4]byte(buf[20:24]) != trailerMagic {
		return trailer{}, fmt.Errorf("%w: invalid trailer magic", data.ErrCorrupt)
	}

	return trailer{
		dirOffset: int64(binary.LittleEndian.Uint64(buf[0:8])),
		dirSize:   int64(binary.LittleEndian.Uint64(buf[8:16])),
		dirCRC:    binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}

func encodeDirectory(entries []*Entry) ([]byte, error) {
	records := make([]dirRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, dirRecord{
			Name:           e.Name,
			Folder:         e.IsFolder,
			Offset:         e.Offset,
			CompressedSize: e.CompressedSize,
			Size:           e.Size,
			Method:         uint16(e.Method),
			CRC32:          e.CRC32,
			ModTime:        toFiletime(e.ModTime),
			Pending:        e.Pending,
		})
	}

	return encMode.Marshal(records)
}

func decodeDirectory(buf []byte) ([]*Entry, error) {
	var records []dirRecord
	if err := decMode.Unmarshal(buf, &records); err != nil {
		return nil, fmt.Errorf("%w: invalid directory: %v", data.ErrCorrupt, err)
	}

	entries := make([]*Entry, 0, len(records))
	for _, r := range records {
		entries = append(entries, &Entry{
			Name:           r.Name,
			IsFolder:       r.Folder,
			Offset:         r.Offset,
			CompressedSize: r.CompressedSize,
			Size:           r.Size,
			Method:         Method(r.Method),
			CRC32:          r.CRC32,
			ModTime:        fromFiletime(r.ModTime),
			Pending:        r.Pending,
		})
	}

	return entries, nil
}

// readDirectory loads and verifies the directory of a non-empty container.
func readDirectory(c Container, size int64) ([]*Entry, int64, error) {
	if size < headerSize+trailerSize {
		return nil, 0, fmt.Errorf("%w: container too small (%d bytes)", data.ErrCorrupt, size)
	}

	header := make([]byte, headerSize)
	if _, err := readAt(c, header, 0); err != nil {
		return nil, 0, err
	}
	if err := checkHeader(header); err != nil {
		return nil, 0, err
	}

	raw := make([]byte, trailerSize)
	if _, err := readAt(c, raw, size-trailerSize); err != nil {
		return nil, 0, err
	}
	t, err := decodeTrailer(raw)
	if err != nil {
		return nil, 0, err
	}
	if t.dirOffset < headerSize || t.dirSize < 0 || t.dirOffset+t.dirSize != size-trailerSize {
		return nil, 0, fmt.Errorf("%w: directory bounds out of range", data.ErrCorrupt)
	}

	dir := make([]byte, t.dirSize)
	if _, err := readAt(c, dir, t.dirOffset); err != nil {
		return nil, 0, err
	}
	if crc32.ChecksumIEEE(dir) != t.dirCRC {
		return nil, 0, fmt.Errorf("%w: directory crc mismatch", data.ErrCorrupt)
	}

	entries, err := decodeDirectory(dir)
	if err != nil {
		return nil, 0, err
	}
	for _, e := range entries {
		if e.Offset < headerSize || e.Offset+e.CompressedSize > t.dirOffset {
			return nil, 0, fmt.Errorf("%w: entry '%s' outside of data region", data.ErrCorrupt, e.Name)
		}
	}

	return entries, t.dirOffset, nil
}

// readAt fills p completely or fails with ErrIO.
func readAt(r io.ReaderAt, p []byte, off int64) (int, error) {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return n, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return n, fmt.Errorf("%w: read %d bytes at %d: %v", data.ErrIO, len(p), off, err)
}
