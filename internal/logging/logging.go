// Package logging builds the process-wide slog logger: console or session
// file, plus optional OpenTelemetry and Graylog sinks.
package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath names the log file of one simulator session.
func LogFilePath(logsDir, name string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", name, sessionStart.UTC().Format("20060102_150405")),
	)
}
