// Package logging configures slog for the command line tools.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
)

// LogFilePath names the log file of a run started at sessionStart.
func LogFilePath(logsDir, toolName string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", toolName, sessionStart.Format("20060102_150405")),
	)
}

// OpenLogFile creates logsDir if needed and opens a fresh log file in it.
func OpenLogFile(logsDir, toolName string, sessionStart time.Time) (*os.File, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	path := LogFilePath(logsDir, toolName, sessionStart)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

// NewGELFWriter returns a writer shipping each log line to a Graylog input
// over UDP.
func NewGELFWriter(addr, facility string) (io.WriteCloser, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to graylog at %s: %w", addr, err)
	}
	w.Facility = facility
	return w, nil
}
