// Package slamlog provides the three-stream leveled logger shared by every
// slam package: an ops stream for lifecycle events worth an operator's
// attention, a diag stream for per-iteration mapper diagnostics, and a trace
// stream for high-frequency per-candidate-match detail that is off by
// default.
package slamlog

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// LogLevel identifies a logging stream.
type LogLevel int

const (
	// LogOps routes to the ops stream: keyframe culling decisions,
	// stop/reset/finish transitions, loop closure triggers.
	LogOps LogLevel = iota
	// LogDiag routes to the diag stream: per-iteration counts of
	// triangulated, fused and culled points.
	LogDiag
	// LogTrace routes to the trace stream: per-candidate-match detail.
	LogTrace
)

// LogWriters holds the io.Writers backing each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	mu          sync.RWMutex
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures all three streams at once. A nil writer disables that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	opsLogger = newLogger("[localmapper] ", w.Ops)
	diagLogger = newLogger("[localmapper] ", w.Diag)
	traceLogger = newLogger("[localmapper] ", w.Trace)
}

// SetLogWriter configures a single stream. A nil writer disables it.
func SetLogWriter(level LogLevel, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	switch level {
	case LogOps:
		opsLogger = newLogger("[localmapper] ", w)
	case LogDiag:
		diagLogger = newLogger("[localmapper] ", w)
	case LogTrace:
		traceLogger = newLogger("[localmapper] ", w)
	default:
		panic(fmt.Sprintf("slamlog.SetLogWriter: unknown LogLevel %d", level))
	}
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) {
	mu.RLock()
	l := opsLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) {
	mu.RLock()
	l := diagLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) {
	mu.RLock()
	l := traceLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}
