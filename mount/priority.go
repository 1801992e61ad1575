package mount

import (
	"fmt"
	"strings"

	"github.com/mwantia/pakfs/data"
)

// Priority places the disk search relative to the mounted packs.
type Priority int

const (
	// PriorityPakFirst searches packs before the disk.
	PriorityPakFirst Priority = iota
	// PriorityFileFirst searches the disk after override packs but before normal packs.
	PriorityFileFirst
	// PriorityPakOnly never searches the disk.
	PriorityPakOnly
)

func (p Priority) String() string {
	switch p {
	case PriorityPakFirst:
		return "pak-first"
	case PriorityFileFirst:
		return "file-first"
	case PriorityPakOnly:
		return "pak-only"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pak-first", "pakfirst":
		return PriorityPakFirst, nil
	case "file-first", "filefirst":
		return PriorityFileFirst, nil
	case "pak-only", "pakonly":
		return PriorityPakOnly, nil
	}
	return PriorityPakFirst, fmt.Errorf("%w: unknown priority %q", data.ErrInvalid, s)
}

// SearchLocation restricts a lookup to one kind of source.
type SearchLocation int

const (
	SearchAny SearchLocation = iota
	SearchOnDisk
	SearchInPak
)

type LookupFlags uint32

const (
	// LookupNeverInPak restricts the lookup to the disk, including override packs.
	LookupNeverInPak LookupFlags = 1 << iota
	// LookupPakInMemory only considers packs held in memory.
	LookupPakInMemory
)
