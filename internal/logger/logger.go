package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
	captures   []io.Writer
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w)
	loggerMu.Unlock()
}

func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// AttachCapture mirrors every log line into w until the returned detach
// function runs. Strategy runs use this to record their own output.
func AttachCapture(w io.Writer) (detach func()) {
	loggerMu.Lock()
	captures = append(captures, w)
	loggerMu.Unlock()
	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		for i, c := range captures {
			if c == w {
				captures = append(captures[:i], captures[i+1:]...)
				return
			}
		}
	}
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout)
	}
	return baseLogger
}

func emit(level slog.Level, msg string) {
	switch level {
	case slog.LevelDebug:
		activeLogger().Debug(msg)
	case slog.LevelWarn:
		activeLogger().Warn(msg)
	case slog.LevelError:
		activeLogger().Error(msg)
	default:
		activeLogger().Info(msg)
	}
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	for _, c := range captures {
		fmt.Fprintf(c, "%s %s\n", level.String(), msg)
	}
}

func Debugf(format string, v ...any) {
	emit(slog.LevelDebug, fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	emit(slog.LevelInfo, fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	emit(slog.LevelWarn, fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	emit(slog.LevelError, fmt.Sprintf(format, v...))
}

// InfoBlock logs a multi-line block one line at a time so each line keeps
// its own timestamp prefix.
func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		Infof("%s", line)
	}
}
