// Package logs configures the process-wide go-logging backends.
package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/op/go-logging"
)

const (
	DefaultDir   = "logs"
	DefaultLevel = "info"

	fileTimeLayout = "2006-01-02T15-04-05"
	format         = `%{time:2006-01-02 15:04:05} %{level:.5s} %{module} %{message}`
)

type Options struct {
	Dir   string
	Level string
	// Console is where console lines go, nil for none. The live UI sets it to
	// nil while it owns the terminal.
	Console io.Writer
	Now     func() time.Time
}

// Output is the active log file.
type Output struct {
	Path string
	file *os.File
}

func (o *Output) Close() error {
	if o == nil || o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	return err
}

// ParseLevel accepts go-logging level names in any case.
func ParseLevel(raw string) (logging.Level, error) {
	if raw == "" {
		raw = DefaultLevel
	}
	level, err := logging.LogLevel(raw)
	if err != nil {
		return logging.INFO, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}

// Setup opens a new timestamped log file in opts.Dir and routes every
// package logger to it and to opts.Console.
func Setup(opts Options) (*Output, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	dir := opts.Dir
	if dir == "" {
		dir = DefaultDir
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, now().Format(fileTimeLayout)+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}

	backends := []logging.Backend{leveled(file, level)}
	if opts.Console != nil {
		backends = append(backends, leveled(opts.Console, level))
	}
	logging.SetBackend(backends...)
	return &Output{Path: path, file: file}, nil
}

// Console routes logging to w only, for commands that never write a file.
func Console(w io.Writer, raw string) error {
	level, err := ParseLevel(raw)
	if err != nil {
		return err
	}
	logging.SetBackend(leveled(w, level))
	return nil
}

func leveled(w io.Writer, level logging.Level) logging.LeveledBackend {
	base := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(base, logging.MustStringFormatter(format))
	backend := logging.AddModuleLevel(formatted)
	backend.SetLevel(level, "")
	return backend
}
