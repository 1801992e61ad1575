package data

import (
	"errors"
	"fmt"
	"sync"
)

// Standard errors returned by every pakfs component.
var (
	// Path resolution errors
	ErrMalformedPath  = errors.New("pakfs: malformed path")
	ErrNotMounted     = errors.New("pakfs: pack not mounted")
	ErrAlreadyMounted = errors.New("pakfs: pack already mounted")

	// File operation errors
	ErrNotExist    = errors.New("pakfs: file does not exist")
	ErrIsDirectory = errors.New("pakfs: is a directory")
	ErrReadOnly    = errors.New("pakfs: read-only archive")
	ErrInUse       = errors.New("pakfs: resource still in use")

	// Access gating. ErrPermission covers access refused by the OS or by a
	// handle's mode and matches ErrAccessDenied as well.
	ErrAccessDenied = errors.New("pakfs: file access denied")
	ErrPermission   = fmt.Errorf("%w: permission denied", ErrAccessDenied)

	// I/O errors
	ErrIO               = errors.New("pakfs: i/o failure")
	ErrClosed           = errors.New("pakfs: file already closed")
	ErrInvalid          = errors.New("pakfs: invalid argument")
	ErrOutOfRange       = errors.New("pakfs: offset out of range")
	ErrChecksumMismatch = errors.New("pakfs: checksum mismatch")
	ErrCorrupt          = errors.New("pakfs: corrupt archive")
	ErrUnsupported      = errors.New("pakfs: unsupported operation")

	// Lifecycle and resources
	ErrNotInitialized = errors.New("pakfs: file system not initialized")
	ErrOutOfBudget    = errors.New("pakfs: memory budget exceeded")
)

// PathError records a path that failed validation or resolution.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s '%s': %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// MalformedPath returns a PathError wrapping ErrMalformedPath.
func MalformedPath(op, path, reason string) error {
	return &PathError{
		Op:   op,
		Path: path,
		Err:  fmt.Errorf("%w: %s", ErrMalformedPath, reason),
	}
}

// ArchiveError records a failed archive mutation or read.
type ArchiveError struct {
	Op      string
	Archive string
	Entry   string
	Err     error
}

func (e *ArchiveError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Archive, e.Err)
	}
	return fmt.Sprintf("%s %s:%s: %v", e.Op, e.Archive, e.Entry, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// Errors collects multiple errors of a batch operation.
type Errors struct {
	mu     sync.RWMutex
	errors []error
}

func (e *Errors) Add(err error) {
	if err == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.errors = append(e.errors, err)
}

func (e *Errors) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.errors)
}

func (e *Errors) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.errors = nil
}

func (e *Errors) Errors() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.errors) == 0 {
		return nil
	}

	return errors.Join(e.errors...)
}
