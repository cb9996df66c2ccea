// Package logger is an asynchronous, service-prefixed logger. Writes go through a buffered
// channel so request paths never block on log I/O; when the buffer is full the line is dropped.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const asyncBufferSize = 8192

// slowCallThreshold is the duration above which LogDuration reports at info level.
const slowCallThreshold = 100 * time.Millisecond

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

var (
	mu       sync.RWMutex
	prefix   string
	logLevel = levelInfo
	out      = log.New(os.Stderr, "", log.LstdFlags)

	ch   chan entry
	once sync.Once
)

// entry with a non-nil flushed channel is a Flush marker, not a line.
type entry struct {
	msg     string
	flushed chan struct{}
}

func parseLevel(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func initWorker() {
	mu.Lock()
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		logLevel = parseLevel(v)
	}
	mu.Unlock()
	ch = make(chan entry, asyncBufferSize)
	go func() {
		for e := range ch {
			if e.flushed != nil {
				close(e.flushed)
				continue
			}
			mu.RLock()
			l := out
			mu.RUnlock()
			l.Print(e.msg)
		}
	}()
}

func enabled(l level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= logLevel
}

func enqueue(l level, msg string) {
	once.Do(initWorker)
	if !enabled(l) {
		return
	}
	select {
	case ch <- entry{msg: msg}:
	default:
	}
}

// SetPrefix sets the service tag printed in front of every line ("auth", "migrate").
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetLevel overrides LOG_LEVEL. Accepts debug, info, warn, error.
func SetLevel(s string) {
	once.Do(initWorker)
	mu.Lock()
	logLevel = parseLevel(s)
	mu.Unlock()
}

// SetOutput redirects log lines, mostly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = log.New(w, "", 0)
	mu.Unlock()
}

// Flush blocks until every line queued before the call has been written, or one second passes.
func Flush() {
	once.Do(initWorker)
	done := make(chan struct{})
	select {
	case ch <- entry{flushed: done}:
	case <-time.After(time.Second):
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

func tag() string {
	mu.RLock()
	defer mu.RUnlock()
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

func Debugf(format string, v ...any) {
	enqueue(levelDebug, tag()+"DEBUG: "+fmt.Sprintf(format, v...))
}

func Info(v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	enqueue(levelWarn, tag()+"WARN: "+fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprintf(format, v...))
}

// LogDuration reports how long fn took. At info level only calls slower than 100ms are logged;
// at debug level every call is.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if elapsed >= slowCallThreshold {
		enqueue(levelInfo, fmt.Sprintf("%sfn=%s duration_ms=%d slow=true", tag(), fn, elapsed.Milliseconds()))
		return
	}
	enqueue(levelDebug, fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
}

// DeferLogDuration is meant for defer: defer logger.DeferLogDuration("session.FindByID", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}

// MaskID hides all but the first four characters of an identifier. Use it for session ids;
// bearer tokens must never be logged at all.
func MaskID(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
