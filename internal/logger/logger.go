// Package logger adapts the teacher's file-backed logger
// (internal/logger in the reference clangd-query client) to take a
// Settings value at construction instead of relying on any process-wide
// mutable toggle, per spec.md §9's design note on global logging state.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the logging level.
type LogLevel int

const (
	LevelError LogLevel = iota
	LevelInfo
	LevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// LogEntry represents a single log entry in memory.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
}

// Logger is the logging surface consumed by rpc.Client and Session.
type Logger interface {
	Error(format string, args ...interface{})
	Info(format string, args ...interface{})
	Debug(format string, args ...interface{})
	GetLogs(minLevel LogLevel) string
}

// Settings configures a FileLogger. Passed by value to New; there is no
// package-level mutable logging configuration anywhere in this package.
type Settings struct {
	// FilePath, when non-empty, is the log file opened in append mode.
	// When empty, file output is skipped and only the in-memory ring
	// buffer (used by GetLogs) is maintained.
	FilePath string
	// FileLevel is the minimum severity written to FilePath.
	FileLevel LogLevel
	// MaxFileSize rotates (truncates) the log file once it exceeds this
	// many bytes at startup. Zero disables rotation.
	MaxFileSize int64
	// MaxMemoryEntries bounds the in-memory ring buffer GetLogs reads
	// from. Zero defaults to 10000.
	MaxMemoryEntries int
	// Correlate, when non-empty, is written as a bracketed field before
	// the message on every formatted line
	// (used for ClientConfig.ID so concurrent sessions' interleaved logs
	// can be told apart).
	Correlate string
	// MirrorTo additionally receives every formatted line regardless of
	// FileLevel, e.g. os.Stderr during development.
	MirrorTo io.Writer
}

// FileLogger implements Logger with optional file output and an
// in-memory ring buffer, exactly as the teacher's FileLogger does;
// construction now takes Settings instead of two loose parameters.
type FileLogger struct {
	file      *os.File
	settings  Settings
	mu        sync.Mutex

	memoryLogs []LogEntry
	maxMemory  int
}

// New creates a FileLogger from s. If s.FilePath is empty, no file is
// opened and only the in-memory buffer (and MirrorTo, if set) are used.
func New(s Settings) (*FileLogger, error) {
	maxMemory := s.MaxMemoryEntries
	if maxMemory <= 0 {
		maxMemory = 10000
	}

	l := &FileLogger{
		settings:   s,
		memoryLogs: make([]LogEntry, 0, maxMemory),
		maxMemory:  maxMemory,
	}

	if s.FilePath == "" {
		return l, nil
	}

	logDir := filepath.Dir(s.FilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if s.MaxFileSize > 0 {
		if info, err := os.Stat(s.FilePath); err == nil && info.Size() > s.MaxFileSize {
			os.Remove(s.FilePath)
		}
	}

	file, err := os.OpenFile(s.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	l.file = file
	return l, nil
}

func (l *FileLogger) log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := LogEntry{Timestamp: time.Now(), Level: level, Message: fmt.Sprintf(format, args...)}

	if len(l.memoryLogs) >= l.maxMemory {
		l.memoryLogs = l.memoryLogs[1:]
	}
	l.memoryLogs = append(l.memoryLogs, entry)

	if level > l.settings.FileLevel && l.settings.MirrorTo == nil {
		return
	}

	formatted := formatEntry(entry, l.settings.Correlate)

	if level <= l.settings.FileLevel && l.file != nil {
		l.file.WriteString(formatted)
	}
	if l.settings.MirrorTo != nil {
		io.WriteString(l.settings.MirrorTo, formatted)
	}
}

func formatEntry(entry LogEntry, correlate string) string {
	if correlate != "" {
		return fmt.Sprintf("[%s] [%s] [%s] %s\n",
			entry.Timestamp.Format("2006-01-02 15:04:05.000"), entry.Level, correlate, entry.Message)
	}
	return fmt.Sprintf("[%s] [%s] %s\n",
		entry.Timestamp.Format("2006-01-02 15:04:05.000"), entry.Level, entry.Message)
}

func (l *FileLogger) Error(format string, args ...interface{}) { l.log(LevelError, format, args...) }
func (l *FileLogger) Info(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *FileLogger) Debug(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }

// Close closes the log file, if one is open.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// GetLogs returns filtered, newline-joined in-memory log entries.
func (l *FileLogger) GetLogs(minLevel LogLevel) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var result []string
	for _, entry := range l.memoryLogs {
		if entry.Level <= minLevel {
			result = append(result, strings.TrimSuffix(formatEntry(entry, l.settings.Correlate), "\n"))
		}
	}
	return strings.Join(result, "\n")
}

// NullLogger discards every message.
type NullLogger struct{}

func (NullLogger) Error(format string, args ...interface{}) {}
func (NullLogger) Info(format string, args ...interface{})  {}
func (NullLogger) Debug(format string, args ...interface{}) {}
func (NullLogger) GetLogs(minLevel LogLevel) string         { return "" }

// ShouldRedactOutbound implements spec.md §6's log-payload redaction
// rule: suppress the body of an outbound notification whose method ends
// with didOpen, or didChange with a full-document (no range) first
// content change, or didSave carrying params.text. window/logMessage is
// handled separately by the session, which never logs it at all.
func ShouldRedactOutbound(method string, isFullDocumentChange, hasSaveText bool) bool {
	switch {
	case strings.HasSuffix(method, "didOpen"):
		return true
	case strings.HasSuffix(method, "didChange"):
		return isFullDocumentChange
	case strings.HasSuffix(method, "didSave"):
		return hasSaveText
	default:
		return false
	}
}
