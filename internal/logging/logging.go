// Package logging builds the process loggers. Components take a plain
// *log.Logger; this package decides where the output goes.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the log sink.
type Options struct {
	// File, when set, receives a copy of every line through a size-rotated
	// writer.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Verbose enables request-level logging. Without it the quiet loggers
	// discard their output.
	Verbose bool

	// Stderr overrides os.Stderr, mainly for tests.
	Stderr io.Writer
}

// Sink owns the shared writer and hands out prefixed loggers.
type Sink struct {
	out     io.Writer
	rotator *lumberjack.Logger
	verbose bool
}

// New creates a Sink. The log file directory is created if needed.
func New(opts Options) (*Sink, error) {
	var stderr io.Writer = os.Stderr
	if opts.Stderr != nil {
		stderr = opts.Stderr
	}

	s := &Sink{out: stderr, verbose: opts.Verbose}
	if opts.File == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0750); err != nil {
		return nil, err
	}
	s.rotator = &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	s.out = io.MultiWriter(stderr, s.rotator)
	return s, nil
}

// Logger returns a logger tagged with component, e.g. "[sync] ".
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.out, "["+component+"] ", log.LstdFlags)
}

// Verbose returns a logger that only writes when verbose output is on.
func (s *Sink) Verbose(component string) *log.Logger {
	if !s.verbose {
		return log.New(io.Discard, "", 0)
	}
	return s.Logger(component)
}

// Close flushes and closes the rotated file, if any.
func (s *Sink) Close() error {
	if s.rotator == nil {
		return nil
	}
	return s.rotator.Close()
}
