package archive

import "time"

// Entry describes one file or folder stored in an archive. Entries handed out by
// an archive are never modified in place; mutations install a new Entry, so a
// pointer stays a consistent snapshot for as long as the caller holds it.
type Entry struct {
	Name           string
	IsFolder       bool
	Offset         int64
	CompressedSize int64
	Size           int64
	Method         Method
	CRC32          uint32
	ModTime        time.Time
	// Pending is set while a continuous update has not received its final CRC.
	Pending bool
}

// filetimeEpochDelta is the number of 100ns intervals between 1601-01-01 and 1970-01-01.
const filetimeEpochDelta = 116444736000000000

func toFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100 + filetimeEpochDelta)
}

func fromFiletime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	return time.Unix(0, (int64(ft)-filetimeEpochDelta)*100).UTC()
}
