// Package eventlog provides the worker and CLI's console logger:
// timestamped, level-filtered, colorized when writing to a TTY.
// Restyled (at far smaller scope) after the teacher's
// internal/logger.ConsoleLogger (internal/logger/console.go) - the same
// mutex-guarded io.Writer, [HH:MM:SS] [LEVEL] prefix, and
// isatty-gated color, narrowed to the Debugf/Infof/Warnf/Errorf surface
// the orchestrator actually needs.
package eventlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

const (
	levelDebug int = iota
	levelInfo
	levelWarn
	levelError
)

// Logger writes level-filtered, timestamped lines to an io.Writer.
// Safe for concurrent use by multiple worker goroutines.
type Logger struct {
	writer   io.Writer
	minLevel int
	color    bool
	mu       sync.Mutex
}

// New returns a Logger writing to w, filtered to minLevel ("debug",
// "info", "warn", "error"; defaults to "info" on an unrecognized
// value). Color is enabled automatically when w is a TTY.
func New(w io.Writer, minLevel string) *Logger {
	return &Logger{
		writer:   w,
		minLevel: parseLevel(minLevel),
		color:    isTerminalWriter(w),
	}
}

func isTerminalWriter(w io.Writer) bool {
	if w == os.Stdout {
		return isatty.IsTerminal(os.Stdout.Fd())
	}
	if w == os.Stderr {
		return isatty.IsTerminal(os.Stderr.Fd())
	}
	return false
}

func parseLevel(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.logf(levelDebug, "DEBUG", format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.logf(levelInfo, "INFO", format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.logf(levelWarn, "WARN", format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.logf(levelError, "ERROR", format, args...) }

func (l *Logger) logf(level int, label, format string, args ...interface{}) {
	if l.writer == nil || level < l.minLevel {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05")
	msg := fmt.Sprintf(format, args...)

	var line string
	if l.color {
		line = fmt.Sprintf("[%s] [%s] %s\n", ts, colorLabel(level, label), msg)
	} else {
		line = fmt.Sprintf("[%s] [%s] %s\n", ts, label, msg)
	}
	_, _ = l.writer.Write([]byte(line))
}

func colorLabel(level int, label string) string {
	switch level {
	case levelDebug:
		return color.New(color.FgCyan).Sprint(label)
	case levelWarn:
		return color.New(color.FgYellow).Sprint(label)
	case levelError:
		return color.New(color.FgRed).Sprint(label)
	default:
		return color.New(color.FgBlue).Sprint(label)
	}
}
