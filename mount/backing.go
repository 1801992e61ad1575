package mount

import (
	"time"

	"github.com/mwantia/pakfs/archive"
)

// Backing describes where a resolved path is stored: either a plain file on
// disk or an entry of a mounted pack.
type Backing interface {
	isBacking()
}

// DiskBacking is a regular file found below one of the disk search roots.
type DiskBacking struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// ArchiveBacking is an entry of a mounted pack.
type ArchiveBacking struct {
	Pack     *Pack
	Entry    *archive.Entry
	Relative string
}

func (*DiskBacking) isBacking()    {}
func (*ArchiveBacking) isBacking() {}
