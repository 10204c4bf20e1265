// Package monitoring provides the diagnostic loggers shared by the place field
// packages.
package monitoring

import (
	"log"
	"sync/atomic"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

var debug atomic.Bool

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug turns Debugf output on or off.
func SetDebug(on bool) { debug.Store(on) }

// DebugEnabled reports whether Debugf currently logs.
func DebugEnabled() bool { return debug.Load() }

// Debugf logs through Logf only when debug output is enabled. Used for
// per-step counts that are too noisy for normal runs.
func Debugf(format string, v ...interface{}) {
	if !debug.Load() {
		return
	}
	Logf("[debug] "+format, v...)
}

// Since logs the elapsed time of a step at debug level:
//
//	defer monitoring.Since(time.Now(), "compute %d neurons", n)
func Since(start time.Time, format string, v ...interface{}) {
	if !debug.Load() {
		return
	}
	Logf("[debug] "+format+" took %s", append(v, time.Since(start).Round(time.Microsecond))...)
}
