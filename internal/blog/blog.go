// Package blog is fbuild's logging facility: a thin wrapper around the
// standard library's log.Logger adding subsystem prefixes and a
// verbose-gated trace level, plus an optional JSON-lines sink for the
// monitor status page. Grounded on this codebase's stdlib-only internal/trace
// and cmd/autobuilder logging: no third-party structured-logging library
// is used anywhere in the corpus, so blog stays on the standard library
// too (see DESIGN.md).
package blog

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var verbose int32

// SetVerbose enables or disables Tracef output process-wide.
func SetVerbose(v bool) {
	if v {
		atomic.StoreInt32(&verbose, 1)
	} else {
		atomic.StoreInt32(&verbose, 0)
	}
}

func Verbose() bool { return atomic.LoadInt32(&verbose) != 0 }

// Entry is one JSON-lines record written to the monitor sink.
type Entry struct {
	Time      time.Time `json:"time"`
	Subsystem string    `json:"subsystem"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

var (
	sinkMu sync.Mutex
	sink   io.Writer
)

// SetSink directs a copy of every logged line, as an Entry, to w
// (typically the monitor package's status page). Pass nil to disable.
func SetSink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = w
}

func emit(subsystem, level, msg string) {
	sinkMu.Lock()
	w := sink
	sinkMu.Unlock()
	if w == nil {
		return
	}
	b, err := json.Marshal(Entry{Time: time.Now(), Subsystem: subsystem, Level: level, Message: msg})
	if err != nil {
		return
	}
	b = append(b, '\n')
	w.Write(b)
}

// Logger logs on behalf of one subsystem (e.g. "driver", "worker",
// "cache"), prefixing every line and optionally duplicating it to the
// monitor sink.
type Logger struct {
	subsystem string
	std       *log.Logger
}

// New returns a Logger that writes to os.Stderr prefixed with
// "subsystem: ", in the manner of this codebase's log.Printf calls.
func New(subsystem string) *Logger {
	return &Logger{subsystem: subsystem, std: log.New(os.Stderr, subsystem+": ", log.LstdFlags)}
}

func (l *Logger) Printf(format string, args ...interface{}) {
	l.std.Printf(format, args...)
	emit(l.subsystem, "info", sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.std.Printf(format, args...)
	emit(l.subsystem, "error", sprintf(format, args...))
}

// Tracef logs only when verbose mode is enabled (-verbose), matching
// this codebase's gated Chrome-trace-style diagnostics.
func (l *Logger) Tracef(format string, args ...interface{}) {
	if !Verbose() {
		return
	}
	l.std.Printf(format, args...)
	emit(l.subsystem, "trace", sprintf(format, args...))
}

// StdLogger exposes the underlying *log.Logger for APIs (such as
// dist.Server) that want a plain log.Logger rather than blog's wrapper.
func (l *Logger) StdLogger() *log.Logger { return l.std }

func sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
