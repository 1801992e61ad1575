package mount

import (
	"fmt"

	"github.com/mwantia/pakfs/archive"
	"github.com/mwantia/pakfs/data"
)

type MountOptions struct {
	// Preloaded is a memory block holding the whole pack; the file is not opened.
	Preloaded []byte
	// Key decrypts entries stored with archive.MethodDeflateAndEncrypt.
	Key []byte
}

type MountOption func(*MountOptions) error

func newDefaultMountOptions() *MountOptions {
	return &MountOptions{}
}

// WithPreloaded mounts a pack from a memory block, e.g. one fetched from a remote store.
func WithPreloaded(block []byte) MountOption {
	return func(opts *MountOptions) error {
		if len(block) == 0 {
			return fmt.Errorf("%w: empty preloaded block", data.ErrInvalid)
		}
		opts.Preloaded = block
		return nil
	}
}

func WithKey(key []byte) MountOption {
	return func(opts *MountOptions) error {
		if len(key) != archive.KeySize {
			return fmt.Errorf("%w: pack key must be %d bytes", data.ErrInvalid, archive.KeySize)
		}
		opts.Key = key
		return nil
	}
}
