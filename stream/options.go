package stream

import (
	"fmt"

	"github.com/mwantia/pakfs/data"
)

// DefaultBufferSize is the window size of a BufferedReader.
const DefaultBufferSize = 64 * 1024

type Options struct {
	BufferSize int
	// Mode is the access mode passed to the file system, "rb" by default.
	Mode string
}

type Option func(*Options) error

func newDefaultOptions() *Options {
	return &Options{
		BufferSize: DefaultBufferSize,
		Mode:       "rb",
	}
}

func WithBufferSize(size int) Option {
	return func(opts *Options) error {
		if size <= 0 {
			return fmt.Errorf("%w: buffer size must be positive", data.ErrInvalid)
		}
		opts.BufferSize = size
		return nil
	}
}

func WithMode(mode string) Option {
	return func(opts *Options) error {
		access, err := data.ParseAccessMode(mode)
		if err != nil || !access.CanRead() {
			return fmt.Errorf("%w: mode %q cannot read", data.ErrInvalid, mode)
		}
		opts.Mode = mode
		return nil
	}
}
