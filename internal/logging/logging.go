// Package logging owns the process-wide slog backend and hands out one
// leveled logger per subsystem.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/decred/slog"
)

// Subsystem tags.
const (
	API        = "API"
	Sessions   = "SESS"
	Settlement = "SETL"
	Chain      = "CHAN"
	Game       = "GAME"
	Feed       = "FEED"
)

var (
	mu      sync.Mutex
	backend = slog.NewBackend(os.Stdout)
	level   = slog.LevelInfo
	loggers = map[string]slog.Logger{}
)

// Init sets the output and level. A new writer only applies to loggers
// created afterwards, so call it before anything asks for a Logger.
func Init(w io.Writer, levelName string) {
	mu.Lock()
	defer mu.Unlock()

	if w != nil {
		backend = slog.NewBackend(w)
	}
	if lvl, ok := slog.LevelFromString(levelName); ok {
		level = lvl
	}
	for _, l := range loggers {
		l.SetLevel(level)
	}
}

// Logger returns the logger for a subsystem tag.
func Logger(tag string) slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[tag]; ok {
		return l
	}
	l := backend.Logger(tag)
	l.SetLevel(level)
	loggers[tag] = l
	return l
}
