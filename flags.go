package pakfs

// OpenFlags modify how Open locates a file.
type OpenFlags uint32

const (
	// FlagQuiet suppresses the warning logged for missing files.
	FlagQuiet OpenFlags = 1 << iota
	// FlagNeverInPak only searches the disk, ignoring every pack.
	FlagNeverInPak
	// FlagPakInMemory only considers packs held in memory.
	FlagPakInMemory
	// FlagReal skips alias, mod and game folder expansion.
	FlagReal
	// FlagCheckModPaths probes the mod folders before the game folder.
	FlagCheckModPaths
	// FlagBigEndian declares the stored data as big endian for typed reads.
	FlagBigEndian
	// FlagOnDisk restricts the search to the disk.
	FlagOnDisk
	// FlagInPak restricts the search to mounted packs.
	FlagInPak
	// FlagNoLowerCase keeps the caller's casing in the resolved path.
	FlagNoLowerCase
)
