// Package logging provides structured, hierarchical, level-aware logging for
// the graph reuse core. It continues the mutagen pkg/logging design: a
// Logger that still functions (as a silent no-op) when nil, colorized level
// prefixes, and Sublogger-based component naming so that a trace through
// GraphCacheProtocol, InputTracker, and PartialReuseCoordinator reads as one
// coherent, named stream (e.g. "engine.graphcache", "engine.inputtracker").
package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"

	"github.com/fatih/color"

	"github.com/buildcore/pipcache/pkg/engine"
)

// writer is an io.Writer that splits its input stream into lines and routes
// each line through a logging callback.
type writer struct {
	callback func(string)
	buffer   []byte
}

func trimCarriageReturn(buffer []byte) []byte {
	if len(buffer) > 0 && buffer[len(buffer)-1] == '\r' {
		return buffer[:len(buffer)-1]
	}
	return buffer
}

// Write implements io.Writer.Write.
func (w *writer) Write(buffer []byte) (int, error) {
	w.buffer = append(w.buffer, buffer...)

	var processed int
	remaining := w.buffer
	for {
		index := bytes.IndexByte(remaining, '\n')
		if index == -1 {
			break
		}
		w.callback(string(trimCarriageReturn(remaining[:index])))
		processed += index + 1
		remaining = remaining[index+1:]
	}

	if processed > 0 {
		leftover := len(w.buffer) - processed
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}
		w.buffer = w.buffer[:leftover]
	}

	return len(buffer), nil
}

// Logger is the main logger type. A nil *Logger is valid and silently
// discards all output, so components can be constructed with a nil logger in
// tests without guarding every call site.
type Logger struct {
	// prefix is the dotted component path for this logger (e.g.
	// "engine.graphcache.peer").
	prefix string
}

// RootLogger is the root logger from which all other loggers derive.
var RootLogger = &Logger{}

// Sublogger creates a new sublogger with the specified name appended to this
// logger's prefix.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{prefix: prefix}
}

func (l *Logger) output(calldepth int, line string) {
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	log.Output(calldepth, line)
}

// Print logs information with fmt.Print semantics.
func (l *Logger) Print(v ...interface{}) {
	if l != nil {
		l.output(3, fmt.Sprint(v...))
	}
}

// Info logs information at the default (informational) level.
func (l *Logger) Info(v ...interface{}) {
	if l != nil {
		l.output(3, fmt.Sprint(v...))
	}
}

// Infof logs information at the default (informational) level using
// fmt.Printf semantics.
func (l *Logger) Infof(format string, v ...interface{}) {
	if l != nil {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// Debug logs information with fmt.Print semantics, but only if debugging is
// enabled.
func (l *Logger) Debug(v ...interface{}) {
	if l != nil && engine.DebugEnabled {
		l.output(3, fmt.Sprint(v...))
	}
}

// Debugf logs information with fmt.Printf semantics, but only if debugging is
// enabled.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l != nil && engine.DebugEnabled {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// Writer returns an io.Writer that writes lines using Info.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return io.Discard
	}
	return &writer{callback: func(s string) { l.Info(s) }}
}

// Warn logs a warning, colorized yellow when the destination supports color.
func (l *Logger) Warn(v ...interface{}) {
	if l != nil {
		l.output(3, color.YellowString("Warning: %s", fmt.Sprint(v...)))
	}
}

// Warnf logs a formatted warning, colorized yellow.
func (l *Logger) Warnf(format string, v ...interface{}) {
	if l != nil {
		l.output(3, color.YellowString("Warning: "+format, v...))
	}
}

// Error logs an error, colorized red.
func (l *Logger) Error(err error) {
	if l != nil {
		l.output(3, color.RedString("Error: %v", err))
	}
}

// Errorf logs a formatted error, colorized red.
func (l *Logger) Errorf(format string, v ...interface{}) {
	if l != nil {
		l.output(3, color.RedString("Error: "+format, v...))
	}
}
