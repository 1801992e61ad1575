package log

import "io"

type Options struct {
	Level      LogLevel
	File       string
	NoTerminal bool
	NoColor    bool
	JSON       bool
	TimeFormat string
	// Writer receives a copy of every line in addition to stdout and File.
	Writer   io.Writer
	Rotation *Rotation
}

// Rotation configures the lumberjack file rotation.
type Rotation struct {
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func (o *Options) applyDefaults() {
	if o.TimeFormat == "" {
		o.TimeFormat = "2006-01-02 15:04:05"
	}
	if o.Rotation == nil {
		o.Rotation = &Rotation{
			MaxSize:    128,
			MaxBackups: 5,
			MaxAge:     16,
		}
	}
}
