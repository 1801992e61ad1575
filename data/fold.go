package data

import (
	"os"
	"path/filepath"
	"strings"
)

// MatchCase returns the native path with every segment that exists on disk
// spelled the way the disk spells it. Segments are compared exactly first and
// case-insensitively second. The first segment without a match and everything
// after it keep the caller's casing.
func MatchCase(native string) string {
	if native == "" {
		return native
	}
	if _, err := os.Lstat(native); err == nil {
		return native
	}

	current := filepath.VolumeName(native)
	rest := native[len(current):]
	if strings.HasPrefix(rest, string(filepath.Separator)) {
		current += string(filepath.Separator)
	}

	segments := strings.FieldsFunc(rest, func(r rune) bool { return r == filepath.Separator })
	for i, segment := range segments {
		next := filepath.Join(current, segment)
		if _, err := os.Lstat(next); err == nil {
			current = next
			continue
		}

		match, ok := matchEntry(current, segment)
		if !ok {
			return filepath.Join(append([]string{current}, segments[i:]...)...)
		}
		current = filepath.Join(current, match)
	}

	return current
}

// matchEntry scans dir for a name equal to segment under Unicode case folding.
func matchEntry(dir, segment string) (string, bool) {
	if dir == "" {
		dir = "."
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if strings.EqualFold(entry.Name(), segment) {
			return entry.Name(), true
		}
	}
	return "", false
}
