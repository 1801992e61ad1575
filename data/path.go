package data

import (
	"path"
	"strings"
)

// DefaultMaxPathLength bounds every path before and after resolution.
const DefaultMaxPathLength = 1024

const invalidPathChars = `<>"|?*`

// ToSlash converts any backslashes into forward slashes and collapses
// repeated separators. A leading "//" of a network share is kept as a single slash.
func ToSlash(p string) string {
	if strings.IndexByte(p, '\\') >= 0 {
		p = strings.ReplaceAll(p, "\\", "/")
	}
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// CleanPath normalizes separators and removes "." and ".." elements.
// A trailing slash is preserved.
func CleanPath(p string) string {
	if p == "" {
		return ""
	}

	p = ToSlash(p)
	trailing := strings.HasSuffix(p, "/") && len(p) > 1

	cleaned := path.Clean(p)
	if cleaned == "." {
		return ""
	}
	if trailing && !strings.HasSuffix(cleaned, "/") {
		cleaned += "/"
	}
	return cleaned
}

// NormalizeKey turns a path into the canonical lookup key used by archives and
// the mount table: forward slashes, lower case, no leading or trailing slash.
func NormalizeKey(p string) string {
	p = CleanPath(p)
	p = strings.Trim(p, "/")
	return strings.ToLower(p)
}

// IsAbsolute reports whether p is rooted, either as "/..." or as a drive path "c:/...".
func IsAbsolute(p string) bool {
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") {
		return true
	}
	return len(p) >= 3 && p[1] == ':' && (p[2] == '/' || p[2] == '\\') && isLetter(p[0])
}

// ValidatePath checks the length and character set of p.
func ValidatePath(op, p string, maxLength int) error {
	if p == "" {
		return MalformedPath(op, p, "empty path")
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxPathLength
	}
	if len(p) > maxLength {
		return MalformedPath(op, p, "path exceeds maximum length")
	}

	for i := 0; i < len(p); i++ {
		c := p[i]
		if c < 0x20 || c == 0x7f {
			return MalformedPath(op, p, "control character in path")
		}
		if strings.IndexByte(invalidPathChars, c) >= 0 {
			return MalformedPath(op, p, "invalid character '"+string(c)+"' in path")
		}
		if c == ':' && !(i == 1 && isLetter(p[0])) {
			return MalformedPath(op, p, "invalid character ':' in path")
		}
	}

	return nil
}

// Extension returns the substring after the last '.' that follows the last
// separator, or an empty string if there is none.
func Extension(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		switch p[i] {
		case '.':
			return p[i+1:]
		case '/', '\\', ':':
			return ""
		}
	}
	return ""
}

// HasPathPrefix checks whether p lies inside the directory prefix. Both
// arguments are compared in their normalized form and the match is segment aware.
func HasPathPrefix(p, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix) && p[len(prefix)] == '/'
}

// ToRelativePath removes the directory prefix from p.
// It additionally removes any leading slashes.
func ToRelativePath(p, prefix string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return strings.TrimPrefix(p, "/")
	}
	if p == prefix {
		return ""
	}

	rel := strings.TrimPrefix(p, prefix)
	return strings.TrimLeft(rel, "/")
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
