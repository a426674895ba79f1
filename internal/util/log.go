package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int32

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLogLevel atomic.Int32
	useColors       atomic.Bool

	outMu sync.Mutex
	out   io.Writer = os.Stderr
)

func init() {
	currentLogLevel.Store(int32(LevelInfo))
	useColors.Store(true)
}

// SetLogLevel sets the minimum log level to display
func SetLogLevel(level LogLevel) {
	currentLogLevel.Store(int32(level))
}

// SetVerbose enables verbose (debug) logging
func SetVerbose(verbose bool) {
	if verbose {
		SetLogLevel(LevelDebug)
	}
}

// SetQuiet enables quiet mode (errors only)
func SetQuiet(quiet bool) {
	if quiet {
		SetLogLevel(LevelError)
	}
}

// IsVerbose reports whether debug output is enabled
func IsVerbose() bool {
	return level() <= LevelDebug
}

// IsQuiet reports whether only errors are shown
func IsQuiet() bool {
	return level() >= LevelError
}

// SetColors enables or disables colored output
func SetColors(enabled bool) {
	useColors.Store(enabled)
}

// SetOutput redirects log output, mainly for tests
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
}

func level() LogLevel {
	return LogLevel(currentLogLevel.Load())
}

func colorize(color string, text string) string {
	if !useColors.Load() {
		return text
	}
	reset := "\033[0m"
	return color + text + reset
}

func write(color, tag, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(out, "%s %s %s\n", colorize(color, timestamp()), tag, msg)
}

// TraceLog logs per-entry notes that are too noisy even for --verbose
func TraceLog(format string, args ...interface{}) {
	if level() <= LevelTrace {
		write("\033[90m", "[TRACE]", format, args...)
	}
}

// DebugLog logs debug messages
func DebugLog(format string, args ...interface{}) {
	if level() <= LevelDebug {
		write("\033[90m", "[DEBUG]", format, args...)
	}
}

// InfoLog logs informational messages
func InfoLog(format string, args ...interface{}) {
	if level() <= LevelInfo {
		write("\033[36m", "[INFO] ", format, args...)
	}
}

// WarnLog logs warning messages
func WarnLog(format string, args ...interface{}) {
	if level() <= LevelWarn {
		write("\033[33m", "[WARN] ", format, args...)
	}
}

// ErrorLog logs error messages
func ErrorLog(format string, args ...interface{}) {
	if level() <= LevelError {
		write("\033[31m", "[ERROR]", format, args...)
	}
}

// SuccessLog logs success messages (always shown unless quiet)
func SuccessLog(format string, args ...interface{}) {
	if level() <= LevelInfo {
		write("\033[32m", "[OK]   ", format, args...)
	}
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}
