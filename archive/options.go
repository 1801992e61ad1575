package archive

import (
	"fmt"

	"github.com/klauspost/compress/flate"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
)

type Options struct {
	Logger *log.Logger
	Key    []byte
	Level  int
}

type Option func(*Options) error

func newDefaultOptions() *Options {
	return &Options{
		Logger: log.NewDiscard(),
		Level:  flate.DefaultCompression,
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

// WithKey sets the key used for MethodDeflateAndEncrypt entries.
func WithKey(key []byte) Option {
	return func(opts *Options) error {
		if len(key) != KeySize {
			return fmt.Errorf("%w: archive key must be %d bytes", data.ErrInvalid, KeySize)
		}
		opts.Key = key
		return nil
	}
}

// WithCompressionLevel sets the deflate level used when UpdateEntry receives a negative level.
func WithCompressionLevel(level int) Option {
	return func(opts *Options) error {
		if level < flate.HuffmanOnly || level > flate.BestCompression {
			return fmt.Errorf("%w: invalid compression level %d", data.ErrInvalid, level)
		}
		opts.Level = level
		return nil
	}
}
