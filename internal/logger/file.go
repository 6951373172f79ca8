package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileLogger logs swarm events to files under a log directory. It creates
// timestamped per-run log files and maintains a latest.log symlink pointing
// to the most recent run. It is thread-safe and supports log level
// filtering like ConsoleLogger.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates a FileLogger writing to the given directory at the
// given level. The directory is created if it doesn't exist.
func NewFileLogger(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Timestamped filename: run-YYYYMMDD-HHMMSS.log
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", time.Now().Format("20060102-150405")))
	runLog, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	fl := &FileLogger{
		logDir:   logDir,
		runLog:   runLog,
		runFile:  runFile,
		logLevel: normalizeLogLevel(logLevel),
	}

	fl.updateLatestSymlink()
	return fl, nil
}

// updateLatestSymlink points latest.log at the current run file. Symlink
// failures are non-fatal (some filesystems don't support them).
func (fl *FileLogger) updateLatestSymlink() {
	latest := filepath.Join(fl.logDir, "latest.log")
	os.Remove(latest)
	os.Symlink(filepath.Base(fl.runFile), latest)
}

// Close closes the underlying run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog != nil {
		err := fl.runLog.Close()
		fl.runLog = nil
		return err
	}
	return nil
}

// Path returns the current run log file path.
func (fl *FileLogger) Path() string {
	return fl.runFile
}

func (fl *FileLogger) write(level, message string) {
	if logLevelToInt(strings.ToLower(level)) < logLevelToInt(fl.logLevel) {
		return
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog == nil {
		return
	}

	line := fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), level, message)
	fl.runLog.WriteString(line)
}

// LogDebug logs a debug-level message to the run log.
func (fl *FileLogger) LogDebug(message string) { fl.write("DEBUG", message) }

// LogInfo logs an info-level message to the run log.
func (fl *FileLogger) LogInfo(message string) { fl.write("INFO", message) }

// LogWarn logs a warning-level message to the run log.
func (fl *FileLogger) LogWarn(message string) { fl.write("WARN", message) }

// LogError logs an error-level message to the run log.
func (fl *FileLogger) LogError(message string) { fl.write("ERROR", message) }

// MultiLogger fans a message out to several loggers (typically console plus
// file).
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger over the given destinations.
// Nil entries are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	ml := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			ml.loggers = append(ml.loggers, l)
		}
	}
	return ml
}

// LogDebug forwards to every destination.
func (ml *MultiLogger) LogDebug(message string) {
	for _, l := range ml.loggers {
		l.LogDebug(message)
	}
}

// LogInfo forwards to every destination.
func (ml *MultiLogger) LogInfo(message string) {
	for _, l := range ml.loggers {
		l.LogInfo(message)
	}
}

// LogWarn forwards to every destination.
func (ml *MultiLogger) LogWarn(message string) {
	for _, l := range ml.loggers {
		l.LogWarn(message)
	}
}

// LogError forwards to every destination.
func (ml *MultiLogger) LogError(message string) {
	for _, l := range ml.loggers {
		l.LogError(message)
	}
}
