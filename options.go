package pakfs

import (
	"fmt"

	"github.com/mwantia/pakfs/archive"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
	"github.com/mwantia/pakfs/mount"
)

type Options struct {
	LogLevel      log.LogLevel
	LogFile       string
	NoTerminalLog bool
	Logger        *log.Logger

	GameFolder    string
	Localization  string
	WriteRoot     string
	Mods          []string
	MaxPathLength int

	Priority   mount.Priority
	PoolBudget int64
	ArchiveKey []byte
}

type Option func(*Options) error

func newDefaultOptions() *Options {
	return &Options{
		LogLevel:      log.Info,
		MaxPathLength: data.DefaultMaxPathLength,
		Priority:      mount.PriorityPakFirst,
	}
}

func WithLogLevel(logLevel log.LogLevel) Option {
	return func(opts *Options) error {
		opts.LogLevel = logLevel
		return nil
	}
}

func WithoutTerminalLog() Option {
	return func(opts *Options) error {
		opts.NoTerminalLog = true
		return nil
	}
}

func WithLogFile(logFile string) Option {
	return func(opts *Options) error {
		opts.LogFile = logFile
		return nil
	}
}

// WithLogger uses logger instead of creating one from the log options.
func WithLogger(logger *log.Logger) Option {
	return func(opts *Options) error {
		opts.Logger = logger
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

// WithWriteRoot places every file opened for writing below root instead of the base path.
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

func WithPriority(priority mount.Priority) Option {
	return func(opts *Options) error {
		opts.Priority = priority
		return nil
	}
}

// WithPoolBudget limits the memory handed out by the block pool. Zero is unlimited.
func WithPoolBudget(budget int64) Option {
	return func(opts *Options) error {
		if budget < 0 {
			return fmt.Errorf("%w: negative pool budget", data.ErrInvalid)
		}
		opts.PoolBudget = budget
		return nil
	}
}

// WithArchiveKey sets the default key for packs with encrypted entries.
func WithArchiveKey(key []byte) Option {
	return func(opts *Options) error {
		if len(key) != archive.KeySize {
			return fmt.Errorf("%w: archive key must be %d bytes", data.ErrInvalid, archive.KeySize)
		}
		opts.ArchiveKey = key
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
