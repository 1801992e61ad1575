package pakfs

import "github.com/mwantia/pakfs/data"

// Errors returned by the file system. They are shared with every sub-package,
// so errors.Is works regardless of which layer produced the error.
var (
	ErrMalformedPath  = data.ErrMalformedPath
	ErrNotMounted     = data.ErrNotMounted
	ErrAlreadyMounted = data.ErrAlreadyMounted

	ErrNotExist     = data.ErrNotExist
	ErrIsDirectory  = data.ErrIsDirectory
	ErrPermission   = data.ErrPermission
	ErrReadOnly     = data.ErrReadOnly
	ErrInUse        = data.ErrInUse
	ErrAccessDenied = data.ErrAccessDenied

	ErrIO               = data.ErrIO
	ErrClosed           = data.ErrClosed
	ErrInvalid          = data.ErrInvalid
	ErrOutOfRange       = data.ErrOutOfRange
	ErrChecksumMismatch = data.ErrChecksumMismatch

	ErrNotInitialized = data.ErrNotInitialized
	ErrOutOfBudget    = data.ErrOutOfBudget
)
