package resolver

import (
	"fmt"

	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
)

type Options struct {
	Logger        *log.Logger
	GameFolder    string
	Localization  string
	WriteRoot     string
	Mods          []string
	Probe         ProbeFunc
	MaxPathLength int
}

type Option func(*Options) error

func newDefaultOptions() *Options {
	return &Options{
		Logger:        log.NewDiscard(),
		MaxPathLength: data.DefaultMaxPathLength,
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

func WithGameFolder(folder string) Option {
	return func(opts *Options) error {
		opts.GameFolder = folder
		return nil
	}
}

func WithLocalization(language string) Option {
	return func(opts *Options) error {
		opts.Localization = language
		return nil
	}
}

func WithWriteRoot(root string) Option {
	return func(opts *Options) error {
		opts.WriteRoot = root
		return nil
	}
}

func WithMods(mods ...string) Option {
	return func(opts *Options) error {
		opts.Mods = append(opts.Mods, mods...)
		return nil
	}
}

func WithProbe(probe ProbeFunc) Option {
	return func(opts *Options) error {
		opts.Probe = probe
		return nil
	}
}

func WithMaxPathLength(length int) Option {
	return func(opts *Options) error {
		if length <= 0 {
			return fmt.Errorf("%w: max path length must be positive", data.ErrInvalid)
		}
		opts.MaxPathLength = length
		return nil
	}
}
