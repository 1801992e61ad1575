package data

import (
	"path"
	"time"
)

// FileSource tells where a resolved file is stored.
type FileSource int

const (
	SourceDisk FileSource = iota
	SourcePack
)

func (s FileSource) String() string {
	switch s {
	case SourceDisk:
		return "disk"
	case SourcePack:
		return "pack"
	default:
		return "unknown"
	}
}

// FileInfo describes a file as seen through the virtual file system.
type FileInfo struct {
	// Fully resolved virtual path
	Path string `json:"path"`

	// Where the file was found
	Source FileSource `json:"source"`

	// Name of the pack the file is stored in (empty on disk)
	Pack string `json:"pack,omitempty"`

	// Uncompressed size in bytes
	Size int64 `json:"size"`

	// Stored size in bytes; equals Size for disk files
	StoredSize int64 `json:"stored_size"`

	// Last modification time
	ModifyTime time.Time `json:"modify_time"`

	// CRC32 recorded in the pack directory, zero for disk files
	CRC32 uint32 `json:"crc32,omitempty"`
}

// Name returns the base name of the file.
func (fi *FileInfo) Name() string {
	return path.Base(fi.Path)
}

// InPack reports whether the file is served from a mounted pack.
func (fi *FileInfo) InPack() bool {
	return fi.Source == SourcePack
}
