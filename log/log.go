// Package log provides claude-in-a-box's leveled loggers and the rotating
// run-log file (logs/claude-in-a-box-YYYYMMDD-HHMMSS.log).
// Debug-level tracing is gated by the CIAB_DEBUG environment variable.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

var (
	InfoLog    *log.Logger
	WarningLog *log.Logger
	ErrorLog   *log.Logger
	DebugLog   *log.Logger

	DebugEnabled bool

	logFile  *os.File
	logsPath string
)

// Initialize opens the run log file and wires up the leveled loggers. It
// must be called once near the top of main, mirroring its
// log.Initialize(daemonFlag)/defer log.Close() bracketing.
func Initialize(debug bool) {
	DebugEnabled = debug || os.Getenv("CIAB_DEBUG") == "1"

	dir, err := logsDir()
	if err != nil {
		initFallback()
		ErrorLog.Printf("failed to resolve logs directory: %v", err)
		return
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		initFallback()
		ErrorLog.Printf("failed to create logs directory: %v", err)
		return
	}

	logsPath = filepath.Join(dir, fmt.Sprintf("claude-in-a-box-%s.log", time.Now().Format("20060102-150405")))
	f, err := os.OpenFile(logsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		initFallback()
		ErrorLog.Printf("failed to open log file %s: %v", logsPath, err)
		return
	}
	logFile = f

	InfoLog = log.New(f, "INFO: ", log.Ldate|log.Ltime|log.Lmicroseconds)
	WarningLog = log.New(f, "WARN: ", log.Ldate|log.Ltime|log.Lmicroseconds)
	ErrorLog = log.New(f, "ERROR: ", log.Ldate|log.Ltime|log.Lmicroseconds)

	if DebugEnabled {
		DebugLog = log.New(f, "DEBUG: ", log.Ldate|log.Ltime|log.Lmicroseconds)
	} else {
		DebugLog = log.New(io.Discard, "", 0)
	}
}

// initFallback wires the loggers to stderr so callers never see a nil
// logger, even if the log directory could not be created.
func initFallback() {
	InfoLog = log.New(os.Stderr, "INFO: ", log.Ldate|log.Ltime)
	WarningLog = log.New(os.Stderr, "WARN: ", log.Ldate|log.Ltime)
	ErrorLog = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime)
	DebugLog = log.New(io.Discard, "", 0)
}

func logsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".claude-in-a-box", "logs"), nil
}

// Debug logs a debug-level message when debug mode is enabled.
func Debug(format string, v ...interface{}) {
	if DebugEnabled && DebugLog != nil {
		DebugLog.Printf(format, v...)
	}
}

// Close flushes and closes the run log file.
func Close() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

func init() {
	// Ensure the package is always usable even if Initialize is never
	// called (e.g. in unit tests that import packages transitively
	// depending on log but never run main).
	initFallback()
}
