package logger

import (
	"io"
	"log"
	"os"
)

// Logger defines the itemdeck logging contract.
// Implementations should support standard log levels and be safe for concurrent use.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// StdLogger wraps Go's standard logger to implement the itemdeck logging contract.
type StdLogger struct {
	logger *log.Logger
}

// NewStdLogger creates a new StdLogger writing to stdout.
func NewStdLogger() *StdLogger {
	return NewStdLoggerTo(os.Stdout)
}

// NewStdLoggerTo creates a new StdLogger writing to out. Useful for
// capturing log output in tests.
func NewStdLoggerTo(out io.Writer) *StdLogger {
	return &StdLogger{
		logger: log.New(out, "", log.LstdFlags),
	}
}

func (l *StdLogger) Info(msg string, args ...any) {
	l.logger.Printf("[INFO] "+msg, args...)
}

func (l *StdLogger) Warn(msg string, args ...any) {
	l.logger.Printf("[WARN] "+msg, args...)
}

func (l *StdLogger) Error(msg string, args ...any) {
	l.logger.Printf("[ERROR] "+msg, args...)
}

func (l *StdLogger) Debug(msg string, args ...any) {
	l.logger.Printf("[DEBUG] "+msg, args...)
}

// Default provides a global default logger instance using Go's standard logger.
var Default Logger = NewStdLogger()
