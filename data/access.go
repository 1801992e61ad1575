package data

import (
	"os"
	"strings"
)

// AccessMode represents how a file is opened. Modes can be combined using bitwise OR.
type AccessMode int

const (
	AccessModeRead   AccessMode = 1 << iota // O_RDONLY: open for reading
	AccessModeWrite                         // O_WRONLY: open for writing
	AccessModeAppend                        // O_APPEND: append to file
	AccessModeCreate                        // O_CREATE: create if not exists
	AccessModeTrunc                         // O_TRUNC:  truncate on open
)

// IsReadOnly checks if the mode only allows reading.
func (m AccessMode) IsReadOnly() bool {
	return m&AccessModeRead != 0 && !m.IsWriting()
}

// IsWriting reports whether the mode modifies the file in any way.
func (m AccessMode) IsWriting() bool {
	return m&(AccessModeWrite|AccessModeAppend|AccessModeCreate|AccessModeTrunc) != 0
}

// CanRead reports whether the mode permits reading.
func (m AccessMode) CanRead() bool {
	return m&AccessModeRead != 0
}

// CanWrite reports whether the mode permits writing.
func (m AccessMode) CanWrite() bool {
	return m&(AccessModeWrite|AccessModeAppend) != 0
}

// ToFlags converts the mode into flags for os.OpenFile.
func (m AccessMode) ToFlags() int {
	flags := 0

	switch {
	case m.CanRead() && m.CanWrite():
		flags = os.O_RDWR
	case m.CanWrite():
		flags = os.O_WRONLY
	default:
		flags = os.O_RDONLY
	}

	if m&AccessModeAppend != 0 {
		flags |= os.O_APPEND
	}
	if m&AccessModeCreate != 0 {
		flags |= os.O_CREATE
	}
	if m&AccessModeTrunc != 0 {
		flags |= os.O_TRUNC
	}

	return flags
}

// ParseAccessMode parses C style mode strings such as "rb", "wb" or "r+b".
func ParseAccessMode(mode string) (AccessMode, error) {
	mode = strings.ReplaceAll(strings.ReplaceAll(mode, "b", ""), "t", "")

	switch mode {
	case "r":
		return AccessModeRead, nil
	case "r+":
		return AccessModeRead | AccessModeWrite, nil
	case "w":
		return AccessModeWrite | AccessModeCreate | AccessModeTrunc, nil
	case "w+":
		return AccessModeRead | AccessModeWrite | AccessModeCreate | AccessModeTrunc, nil
	case "a":
		return AccessModeAppend | AccessModeCreate, nil
	case "a+":
		return AccessModeRead | AccessModeAppend | AccessModeCreate, nil
	default:
		return 0, ErrInvalid
	}
}

func (m AccessMode) String() string {
	var sb strings.Builder
	if m.CanRead() {
		sb.WriteByte('r')
	}
	if m&AccessModeWrite != 0 {
		sb.WriteByte('w')
	}
	if m&AccessModeAppend != 0 {
		sb.WriteByte('a')
	}
	if m&AccessModeCreate != 0 {
		sb.WriteByte('c')
	}
	if m&AccessModeTrunc != 0 {
		sb.WriteByte('t')
	}
	if sb.Len() == 0 {
		return "-"
	}
	return sb.String()
}
