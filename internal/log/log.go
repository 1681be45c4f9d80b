// Package log is the process-wide leveled key/value logger. All packages
// log through it so that lines share one format:
//
//	2025-01-01T00:00:00.000000Z [INFO] connected host=192.168.4.1 attempts=0
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu       sync.Mutex
	logger   *stdlog.Logger
	initOnce sync.Once
	minLevel = LevelInfo
)

func initLogger() {
	initOnce.Do(func() {
		// Timestamps are written by logLine in RFC3339Nano, so the
		// stdlib logger carries no flags of its own.
		logger = stdlog.New(os.Stderr, "", 0)
	})
}

// SetLevel sets the minimum level that will be emitted.
func SetLevel(l Level) {
	initLogger()
	mu.Lock()
	minLevel = l
	mu.Unlock()
}

// SetOutput redirects log output. Used by tests to capture lines.
func SetOutput(w io.Writer) {
	initLogger()
	mu.Lock()
	logger.SetOutput(w)
	mu.Unlock()
}

// Debug logs a debug-level message with optional key/value pairs.
func Debug(msg string, kv ...any) {
	logLine(LevelDebug, msg, kv...)
}

// Info logs an info-level message with optional key/value pairs.
func Info(msg string, kv ...any) {
	logLine(LevelInfo, msg, kv...)
}

// Warn logs a warning with optional key/value pairs.
func Warn(msg string, kv ...any) {
	logLine(LevelWarn, msg, kv...)
}

// Error logs an error-level message. The error is prepended to the
// key/value list under the key "err".
func Error(msg string, err error, kv ...any) {
	extended := append([]any{"err", err}, kv...)
	logLine(LevelError, msg, extended...)
}

func logLine(level Level, msg string, kv ...any) {
	initLogger()

	mu.Lock()
	defer mu.Unlock()
	if !enabled(level) {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339Nano))
	b.WriteString(" [")
	b.WriteString(string(level))
	b.WriteString("] ")
	b.WriteString(msg)
	appendKVs(&b, kv)
	logger.Println(b.String())
}

func enabled(level Level) bool {
	switch minLevel {
	case LevelDebug:
		return true
	case LevelInfo:
		return level != LevelDebug
	case LevelWarn:
		return level == LevelWarn || level == LevelError
	case LevelError:
		return level == LevelError
	default:
		return true
	}
}

// appendKVs formats kv as pairs: key, value, key, value. Non-string keys
// and a trailing odd value are skipped rather than breaking the line.
func appendKVs(b *strings.Builder, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(formatValue(kv[i+1]))
	}
}

func formatValue(v any) string {
	s := fmt.Sprint(v)
	if strings.ContainsAny(s, " \t") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
