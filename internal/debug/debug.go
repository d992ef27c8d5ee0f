// Package debug provides verbosity-gated logging for the bridge.
//
// Everything goes to stderr so nothing interleaves with protocol traffic.
// TRACE/DEBUG output is suppressed unless verbose mode is on (flag or
// AMM_DEBUG env); WARNING output honors quiet mode; ERROR always prints.
package debug

import (
	"fmt"
	"os"
	"sync/atomic"
)

var (
	verboseMode atomic.Bool
	quietMode   atomic.Bool
)

func init() {
	if os.Getenv("AMM_DEBUG") != "" {
		verboseMode.Store(true)
	}
}

// SetVerbose enables TRACE/DEBUG output.
func SetVerbose(v bool) {
	verboseMode.Store(v)
}

// SetQuiet suppresses INFO/WARNING output. ERROR is never suppressed.
func SetQuiet(q bool) {
	quietMode.Store(q)
}

// Verbose reports whether TRACE/DEBUG output is enabled.
func Verbose() bool {
	return verboseMode.Load()
}

// Tracef logs high-volume diagnostics (per-line routing, fan-out hits).
func Tracef(format string, args ...any) {
	if verboseMode.Load() {
		fmt.Fprintf(os.Stderr, "TRACE "+format+"\n", args...)
	}
}

// Debugf logs development diagnostics.
func Debugf(format string, args ...any) {
	if verboseMode.Load() {
		fmt.Fprintf(os.Stderr, "DEBUG "+format+"\n", args...)
	}
}

// Infof logs normal operational messages.
func Infof(format string, args ...any) {
	if !quietMode.Load() {
		fmt.Fprintf(os.Stderr, "INFO  "+format+"\n", args...)
	}
}

// Warnf logs recoverable problems (malformed lines, unknown panels).
func Warnf(format string, args ...any) {
	if !quietMode.Load() {
		fmt.Fprintf(os.Stderr, "WARN  "+format+"\n", args...)
	}
}

// Errorf logs failures that drop a line or a session.
func Errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ERROR "+format+"\n", args...)
}
