// Package debuglog is the append-only diagnostics file that separation runs
// write to. Structured lines go through logfmt; subprocess output is copied
// in raw.
package debuglog

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/apex/log/handlers/logfmt"
	"github.com/apex/log/handlers/multi"
	"github.com/cockroachdb/errors"
)

type Log struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	logger *log.Logger
}

// Open appends to path, creating it and its parent directory as needed.
// Entries are also handed to fanout when it is non-nil.
func Open(path string, fanout log.Handler) (*Log, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve debug log path %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, errors.Wrap(err, "create debug log directory")
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open debug log %s", abs)
	}

	l := &Log{path: abs, file: f}
	var handler log.Handler = logfmt.New(&lockedWriter{l: l})
	if fanout != nil {
		handler = multi.New(handler, fanout)
	}
	l.logger = &log.Logger{Handler: handler, Level: log.DebugLevel}
	return l, nil
}

// Discard returns a Log that drops everything.
func Discard() *Log {
	return &Log{logger: &log.Logger{Handler: discard.New(), Level: log.DebugLevel}}
}

// Path is the absolute location of the log file, empty for Discard.
func (l *Log) Path() string {
	return l.path
}

// WithFields starts an entry on the debug logger.
func (l *Log) WithFields(fields log.Fields) *log.Entry {
	return l.logger.WithFields(fields)
}

// Writer returns a writer that appends raw bytes to the file.
func (l *Log) Writer() io.Writer {
	if l.file == nil {
		return io.Discard
	}
	return &lockedWriter{l: l}
}

func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

type lockedWriter struct {
	l *Log
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.l.mu.Lock()
	defer w.l.mu.Unlock()
	return w.l.file.Write(p)
}
