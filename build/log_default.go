//go:build !stdlog && !nolog
// +build !stdlog,!nolog

package build

import "os"

// LoggingType is a log type that writes to both stdout and the log rotator, if
// present.
const LoggingType = LogTypeDefault

// LogLevel is the level used by sub-loggers created for the stdout logging
// type. It is unused by the default build.
var LogLevel = "info"

// Write writes the byte slice to stdout and to the log rotator, if one has
// been attached.
func (w *LogWriter) Write(b []byte) (int, error) {
	_, _ = os.Stdout.Write(b)

	if r := w.fileWriter(); r != nil {
		_, _ = r.Write(b)
	}

	return len(b), nil
}
