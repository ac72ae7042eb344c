package util

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm default logger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// LogWire records one protocol line at trace level. Lines are logged verbatim
// so a session can be followed by reading the log.
func LogWire(connID uint32, direction string, line []byte) {
	logger := pterm.DefaultLogger
	if !logger.CanPrint(pterm.LogLevelTrace) {
		return
	}
	logger.Trace(fmt.Sprintf("[%08x] %s", connID, direction),
		logger.Args("line", string(trimNewline(line))))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// EnableTrace additionally shows every line sent and received.
func EnableTrace() {
	pterm.DefaultLogger.Level = pterm.LogLevelTrace
}

// SetLogOutput redirects all log output, e.g. to io.Discard in tests.
func SetLogOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
