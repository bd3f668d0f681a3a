// Package logging configures the process logger and carries the small
// helpers the coordinators share for reporting failures.
package logging

import (
	"github.com/mordilloSan/go-logger/logger"
)

type Mode int

const (
	// ModeCLI logs info and above, or everything when verbose.
	ModeCLI Mode = iota
	// ModeTUI keeps the terminal clean for the interface and only lets errors through.
	ModeTUI
)

func Init(mode Mode, verbose bool) {
	var levels []logger.Level
	switch {
	case verbose:
		levels = logger.AllLevels()
	case mode == ModeTUI:
		levels = []logger.Level{logger.ErrorLevel}
	default:
		levels = []logger.Level{logger.InfoLevel, logger.WarnLevel, logger.ErrorLevel}
	}

	logger.Init(logger.Config{
		Levels: levels,
	})
}

// Failure records a failed operation under a short context tag such as
// "search" or "subscribe:scan_progress".
func Failure(tag string, err error, kv ...any) {
	if err == nil {
		return
	}
	fields := append([]any{"context", tag, "error", err}, kv...)
	logger.ErrorKV("operation failed", fields...)
}

// Attempt records a retried attempt that did not succeed.
func Attempt(tag string, attempt int, err error) {
	logger.WarnKV("attempt failed", "context", tag, "attempt", attempt, "error", err)
}
