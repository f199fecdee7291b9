package logger

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Logger provides leveled logging (info/warning/error) to stdout/stderr and,
// when a log directory is configured, to per-level files.
type Logger struct {
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	mu         sync.Mutex
}

// New creates a Logger. With an empty logDir all output goes to the console
// only; otherwise each level additionally appends to its own file under logDir.
func New(logDir string) *Logger {
	l := &Logger{}

	infoWriter := io.Writer(os.Stdout)
	warningWriter := io.Writer(os.Stdout)
	errorWriter := io.Writer(os.Stderr)

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Fatalf("Failed to create log directory: %v", err)
		}
		infoWriter = io.MultiWriter(os.Stdout, openLogFile(filepath.Join(logDir, "info.log")))
		warningWriter = io.MultiWriter(os.Stdout, openLogFile(filepath.Join(logDir, "warning.log")))
		errorWriter = io.MultiWriter(os.Stderr, openLogFile(filepath.Join(logDir, "error.log")))
	}

	l.infoLog = log.New(infoWriter, "[INFO] ", log.Ldate|log.Ltime)
	l.warningLog = log.New(warningWriter, "[WARNING] ", log.Ldate|log.Ltime)
	l.errorLog = log.New(errorWriter, "[ERROR] ", log.Ldate|log.Ltime)

	return l
}

// openLogFile opens or creates a log file for appending.
func openLogFile(filename string) *os.File {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file %s: %v", filename, err)
	}
	return file
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Printf(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Printf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Printf(format, v...)
}
