package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a leveled printf-style logger. Child loggers created with Named
// share the parent's sink, so a single rotated log file collects the output of
// every component of a file system instance.
type Logger struct {
	sink *sink

	name  string
	level LogLevel
}

type sink struct {
	mu     sync.Mutex
	writer io.Writer
	closer io.Closer

	timeFormat string
	noColor    bool
	json       bool
	exit       func(int)
}

type logEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`
}

// NewLogger creates a logger writing to stdout and, if file is set, to a
// lumberjack-rotated log file.
func NewLogger(name string, level LogLevel, file string, noTerminal bool) *Logger {
	return New(name, Options{
		Level:      level,
		File:       file,
		NoTerminal: noTerminal,
	})
}

// New creates a logger from the given options.
func New(name string, opts Options) *Logger {
	opts.applyDefaults()

	var writers []io.Writer
	var closer io.Closer

	if !opts.NoTerminal {
		writers = append(writers, os.Stdout)
	}
	if opts.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.Rotation.MaxSize,
			MaxBackups: opts.Rotation.MaxBackups,
			MaxAge:     opts.Rotation.MaxAge,
			Compress:   opts.Rotation.Compress,
		}
		writers = append(writers, rotated)
		closer = rotated
	}
	if opts.Writer != nil {
		writers = append(writers, opts.Writer)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	return &Logger{
		sink: &sink{
			writer:     io.MultiWriter(writers...),
			closer:     closer,
			timeFormat: opts.TimeFormat,
			// Colors only make sense when the terminal is the only target.
			noColor: opts.NoColor || opts.NoTerminal || opts.File != "" || opts.Writer != nil,
			json:    opts.JSON,
			exit:    os.Exit,
		},
		name:  name,
		level: opts.Level,
	}
}

// NewDiscard returns a logger that drops every message.
func NewDiscard() *Logger {
	return New("", Options{Level: Off, NoTerminal: true})
}

// Level returns the minimum level this logger writes.
func (l *Logger) Level() LogLevel {
	return l.level
}

// Name returns the component path of this logger.
func (l *Logger) Name() string {
	return l.name
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if l == nil || level < l.level || l.level == Off {
		return
	}

	s := l.sink
	timestamp := time.Now().Format(s.timeFormat)
	formatted := msg
	if len(args) > 0 {
		formatted = fmt.Sprintf(msg, args...)
	}

	s.mu.Lock()
	if s.json {
		entry := logEntry{
			Timestamp: timestamp,
			Level:     level.String(),
			Component: l.name,
			Message:   formatted,
		}
		line, _ := json.Marshal(entry)
		fmt.Fprintf(s.writer, "%s\n", line)
	} else {
		prefix := fmt.Sprintf("[%s] %-5s", timestamp, level)
		if l.name != "" {
			prefix = fmt.Sprintf("%s [%s]", prefix, l.name)
		}

		if s.noColor {
			fmt.Fprintf(s.writer, "%s %s\n", prefix, formatted)
		} else {
			fmt.Fprintf(s.writer, "%s%s %s%s\n", color(level), prefix, formatted, colorReset)
		}
	}
	s.mu.Unlock()

	if level == Fatal {
		s.exit(1)
	}
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(Debug, msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(Info, msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(Warn, msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(Error, msg, args...)
}

func (l *Logger) Fatal(msg string, args ...any) {
	l.log(Fatal, msg, args...)
}

// Named returns a child logger for a sub component, e.g. "pakfs/mount".
func (l *Logger) Named(name string) *Logger {
	if l == nil {
		return NewDiscard()
	}

	child := name
	if l.name != "" {
		child = fmt.Sprintf("%s/%s", l.name, name)
	}

	return &Logger{
		sink:  l.sink,
		name:  child,
		level: l.level,
	}
}

// Close releases the rotated log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.sink.closer == nil {
		return nil
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	return l.sink.closer.Close()
}
