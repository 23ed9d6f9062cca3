package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Logger appends audit events to a file, one JSON object per line. It is safe
// for concurrent use.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	writer io.Writer
	path   string
}

// NewLogger opens path for appending, creating it and its directory with
// owner-only permissions.
func NewLogger(path string) (*Logger, error) {
	if path == "" {
		return nil, fmt.Errorf("audit log file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &Logger{file: file, writer: file, path: path}, nil
}

// NewWriterLogger writes events to w.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{writer: w}
}

// NewNullLogger discards every event.
func NewNullLogger() *Logger {
	return &Logger{writer: io.Discard}
}

// Log writes the event and syncs the file.
func (l *Logger) Log(event *Event) error {
	if event == nil {
		return fmt.Errorf("audit event cannot be nil")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil {
		return fmt.Errorf("audit logger is closed")
	}
	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync audit log: %w", err)
		}
	}
	return nil
}

// Path returns the file path, or "" when not file backed.
func (l *Logger) Path() string {
	return l.path
}

// Close closes the file. Logging afterwards returns an error.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writer = nil
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
