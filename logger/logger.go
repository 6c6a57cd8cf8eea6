package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents log severity
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger provides leveled logging to stdout and an optional daily file
type Logger struct {
	mu       sync.Mutex
	level    Level
	logger   *log.Logger
	file     *os.File
	filePath string
	stdout   io.Writer
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the default logger with optional file output
func Init(logDir string, minLevel Level) error {
	var initErr error
	once.Do(func() {
		defaultLogger = &Logger{
			level:  minLevel,
			logger: log.New(os.Stdout, "", 0),
			stdout: os.Stdout,
		}

		if logDir != "" {
			if err := os.MkdirAll(logDir, 0755); err != nil {
				initErr = fmt.Errorf("failed to create log directory: %w", err)
				return
			}

			logFileName := fmt.Sprintf("uploader_%s.log", time.Now().Format("2006-01-02"))
			logPath := filepath.Join(logDir, logFileName)

			f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				initErr = fmt.Errorf("failed to open log file: %w", err)
				return
			}

			defaultLogger.file = f
			defaultLogger.filePath = logPath
			defaultLogger.logger = log.New(f, "", 0)
		}
	})
	return initErr
}

// Close closes the log file if one is open
func Close() {
	if defaultLogger != nil && defaultLogger.file != nil {
		defaultLogger.mu.Lock()
		defaultLogger.file.Close()
		defaultLogger.file = nil
		defaultLogger.logger = log.New(defaultLogger.stdout, "", 0)
		defaultLogger.mu.Unlock()
	}
}

// SetLevel sets the minimum log level
func SetLevel(level Level) {
	l := getDefaultLogger()
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// FilePath returns the path of the current log file, or "" when logging to stdout only.
func FilePath() string {
	l := getDefaultLogger()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ""
	}
	return l.filePath
}

// SetOutput redirects the default logger. Used by tests and the CLI.
func SetOutput(w io.Writer) {
	l := getDefaultLogger()
	l.mu.Lock()
	l.logger = log.New(w, "", 0)
	l.stdout = w
	l.mu.Unlock()
}

func getDefaultLogger() *Logger {
	if defaultLogger == nil {
		defaultLogger = &Logger{
			level:  INFO,
			logger: log.New(os.Stdout, "", 0),
			stdout: os.Stdout,
		}
	}
	return defaultLogger
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	message := fmt.Sprintf(format, args...)

	// Get caller info (skip 2 frames: log, public func)
	_, file, line, ok := runtime.Caller(2)
	caller := "unknown"
	if ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	logLine := fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, level, caller, message)
	l.logger.Println(logLine)

	// Also print to stdout if logging to file
	if l.file != nil {
		fmt.Fprintln(l.stdout, logLine)
	}
}

// raw writes text verbatim, no timestamp or newline added.
func (l *Logger) raw(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	io.WriteString(l.stdout, text)
	if l.file != nil {
		l.file.WriteString(text)
	}
}

// Debug logs a debug message
func Debug(format string, args ...interface{}) {
	getDefaultLogger().log(DEBUG, format, args...)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	getDefaultLogger().log(INFO, format, args...)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	getDefaultLogger().log(WARN, format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	getDefaultLogger().log(ERROR, format, args...)
}

// Raw echoes external tool output unchanged to stdout and the log file.
func Raw(text string) {
	if text == "" {
		return
	}
	getDefaultLogger().raw(text)
}

// WithError logs an error with the error object
func WithError(err error, format string, args ...interface{}) {
	if err == nil {
		return
	}
	message := fmt.Sprintf(format, args...)
	getDefaultLogger().log(ERROR, "%s: %v", message, err)
}

// WarnWithError logs a warning with the error object
func WarnWithError(err error, format string, args ...interface{}) {
	if err == nil {
		return
	}
	message := fmt.Sprintf(format, args...)
	getDefaultLogger().log(WARN, "%s: %v", message, err)
}
