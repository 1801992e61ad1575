package pool

import (
	"fmt"

	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
)

type Options struct {
	Logger *log.Logger
	// MaxPooledSize is the largest block size recycled through the size classes.
	// Larger blocks are allocated and dropped directly.
	MaxPooledSize int
}

type Option func(*Options) error

func newDefaultOptions() *Options {
	return &Options{
		Logger:        log.NewDiscard(),
		MaxPooledSize: 64 << 20,
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(opts *Options) error {
		if logger != nil {
			opts.Logger = logger
		}
		return nil
	}
}

func WithMaxPooledSize(size int) Option {
	return func(opts *Options) error {
		if size < minClassSize || size > maxClassSize {
			return fmt.Errorf("%w: pooled size must be between %d and %d bytes", data.ErrInvalid, minClassSize, maxClassSize)
		}
		opts.MaxPooledSize = size
		return nil
	}
}
