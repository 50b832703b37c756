// Package logger wraps github.com/cenkalti/log with the formatting used by all rainhub components.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cenkalti/log"
)

var (
	mu      sync.RWMutex
	handler log.Handler
)

func init() {
	SetHandler(log.NewFileHandler(os.Stderr))
}

// SetHandler changes the global logging handler.
// Loggers created before the call keep the previous handler.
func SetHandler(h log.Handler) {
	h.SetFormatter(logFormatter{})
	mu.Lock()
	handler = h
	mu.Unlock()
}

// SetLevel sets the logging level on the global handler.
func SetLevel(l log.Level) {
	mu.RLock()
	defer mu.RUnlock()
	handler.SetLevel(l)
}

// ParseLevel converts a level name such as "debug" or "warning" to a log.Level.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return log.DEBUG, nil
	case "info", "":
		return log.INFO, nil
	case "notice":
		return log.NOTICE, nil
	case "warning", "warn":
		return log.WARNING, nil
	case "error":
		return log.ERROR, nil
	case "critical":
		return log.CRITICAL, nil
	}
	return log.INFO, fmt.Errorf("unknown log level: %q", s)
}

// Logger is for logging messages from inside of the program in various logging levels.
type Logger log.Logger

// New returns a new Logger with a name.
// Log messages are prefixed with this name by the default Handler.
func New(name string) Logger {
	mu.RLock()
	h := handler
	mu.RUnlock()
	l := log.NewLogger(name)
	l.SetLevel(log.DEBUG) // forward all messages to handler
	l.SetHandler(h)
	return l
}

type logFormatter struct{}

// Format outputs a message like "2014-02-28 18:15:57 INFO     [transfer] manager.go:42  transfer added"
func (f logFormatter) Format(rec *log.Record) string {
	return fmt.Sprintf("%s %-8s [%s] %-16s %s",
		fmt.Sprint(rec.Time)[:19],
		rec.Level,
		rec.LoggerName,
		filepath.Base(rec.Filename)+":"+strconv.Itoa(rec.Line),
		rec.Message)
}
