package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger provides component-tagged debug logging for courier runs.
// All components of one process write to <dir>/<session-id>-courier.log.
//
// Package loggers are usually created in init(), before the run's output
// directory is known, so the file is opened on the first write. Call
// SetDirectory before logging to choose where it lands.
type Logger struct {
	sessionID string
	component string
	file      *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logPath   string
}

var (
	// Global session ID for the current execution
	sessionID     string
	sessionIDOnce sync.Once

	dirMu  sync.RWMutex
	logDir string

	registryMu sync.Mutex
	registry   []*Logger
)

// getSessionID returns or creates the session ID for this execution
func getSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

// SetDirectory sets the directory log files are written to. Loggers that
// already opened a file keep writing to it until Close.
func SetDirectory(dir string) {
	dirMu.Lock()
	defer dirMu.Unlock()
	logDir = dir
}

// directory returns the configured log directory, defaulting to
// ~/.courier/logs, and makes sure it exists.
func directory() (string, error) {
	dirMu.RLock()
	dir := logDir
	dirMu.RUnlock()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".courier", "logs")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return dir, nil
}

// NewLogger creates a logger for a specific component. No file is touched
// until the first entry is written.
func NewLogger(component string) *Logger {
	l := &Logger{
		sessionID: getSessionID(),
		component: component,
	}
	registryMu.Lock()
	registry = append(registry, l)
	registryMu.Unlock()
	return l
}

// open lazily opens the shared log file. If that fails the logger falls back
// to stderr for the rest of its life. Must be called with l.mu held.
func (l *Logger) open() {
	if l.logger != nil {
		return
	}

	dir, err := directory()
	if err != nil {
		l.fallback(err)
		return
	}

	logPath := filepath.Join(dir, fmt.Sprintf("%s-courier.log", l.sessionID))
	// Append mode: every component shares the same file
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		l.fallback(fmt.Errorf("failed to open log file: %w", err))
		return
	}

	l.file = file
	l.logPath = logPath
	l.logger = log.New(file, "", 0) // timestamps are formatted per entry
}

func (l *Logger) fallback(err error) {
	l.logger = log.New(os.Stderr, "", 0)
	l.logger.Println(l.formatLogEntry("WARN", fmt.Sprintf("file logging unavailable, using stderr: %v", err)))
}

// formatLogEntry creates a structured log entry with timestamp, component, and level
func (l *Logger) formatLogEntry(level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

func (l *Logger) write(level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.open()
	l.logger.Println(l.formatLogEntry(level, fmt.Sprintf(format, v...)))
}

// Printf logs a formatted message
func (l *Logger) Printf(format string, v ...interface{}) {
	l.write("INFO", format, v...)
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write("DEBUG", format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write("INFO", format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write("WARN", format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write("ERROR", format, v...)
}

// Writer returns an io.Writer that writes to this logger's destination
func (l *Logger) Writer() io.Writer {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.open()
	if l.file != nil {
		return l.file
	}
	return os.Stderr
}

// SessionID returns the current session ID
func (l *Logger) SessionID() string {
	return l.sessionID
}

// LogPath returns the path to the log file, or "" before the first write or
// when logging fell back to stderr.
func (l *Logger) LogPath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logPath
}

// Close closes the log file. Safe to call multiple times; a later write
// reopens the file in append mode.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	if l.file != nil {
		err = l.file.Close()
	}
	l.file = nil
	l.logger = nil
	l.logPath = ""
	return err
}

// CloseAll closes every logger created by this process.
func CloseAll() error {
	registryMu.Lock()
	loggers := append([]*Logger(nil), registry...)
	registryMu.Unlock()

	var firstErr error
	for _, l := range loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetSessionID returns the current global session ID
func GetSessionID() string {
	return getSessionID()
}

// GetLogDirectory returns the directory where logs are stored
func GetLogDirectory() (string, error) {
	return directory()
}
