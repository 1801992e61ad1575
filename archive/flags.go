package archive

import "strings"

// Flags describe how an archive is opened and how the mount table treats it.
type Flags uint32

const (
	FlagReadOnly Flags = 1 << iota
	// FlagInMemoryCPU loads the whole container into memory on open.
	FlagInMemoryCPU
	// FlagInMemoryGPU marks a memory resident pack meant for streaming to video memory.
	FlagInMemoryGPU
	// FlagRelativePathsOnly rejects absolute entry names.
	FlagRelativePathsOnly
	// FlagOverridePak gives the pack precedence over every normal pack.
	FlagOverridePak
	// FlagDisabled hides the pack from lookups.
	FlagDisabled
	// FlagDontCompact skips compaction when the archive is closed.
	FlagDontCompact
	// FlagCreateNew truncates an existing container.
	FlagCreateNew
)

// InMemory reports whether the archive is memory resident.
func (f Flags) InMemory() bool {
	return f&(FlagInMemoryCPU|FlagInMemoryGPU) != 0
}

func (f Flags) String() string {
	names := []struct {
		flag Flags
		name string
	}{
		{FlagReadOnly, "readonly"},
		{FlagInMemoryCPU, "memory-cpu"},
		{FlagInMemoryGPU, "memory-gpu"},
		{FlagRelativePathsOnly, "relative"},
		{FlagOverridePak, "override"},
		{FlagDisabled, "disabled"},
		{FlagDontCompact, "no-compact"},
		{FlagCreateNew, "create"},
	}

	var parts []string
	for _, n := range names {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

// Method identifies how an entry payload is stored.
type Method uint16

const (
	MethodStore             Method = 0
	MethodDeflate           Method = 8
	MethodDeflateAndEncrypt Method = 11
)

func (m Method) String() string {
	switch m {
	case MethodStore:
		return "store"
	case MethodDeflate:
		return "deflate"
	case MethodDeflateAndEncrypt:
		return "deflate+encrypt"
	default:
		return "unknown"
	}
}

// ParseMethod converts a method name into a Method.
func ParseMethod(name string) (Method, bool) {
	switch strings.ToLower(name) {
	case "store", "none", "":
		return MethodStore, true
	case "deflate":
		return MethodDeflate, true
	case "deflate+encrypt", "encrypt":
		return MethodDeflateAndEncrypt, true
	default:
		return MethodStore, false
	}
}
