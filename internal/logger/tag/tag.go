// Package tag provides standardized attributes for structured logging.
//
// Keys use kebab-case. Use these instead of raw strings so run loop and
// observer output stays greppable.
package tag

import (
	"log/slog"
	"time"
)

// Error creates a tag for error values.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Step creates a tag for an absolute step counter.
func Step(step int) slog.Attr {
	return slog.Int("step", step)
}

// Target creates a tag for a step target.
func Target(step int) slog.Attr {
	return slog.Int("target", step)
}

// Observer creates a tag for a registered observer key.
func Observer(key string) slog.Attr {
	return slog.String("observer", key)
}

// Kind creates a tag for an observer classification.
func Kind(kind string) slog.Attr {
	return slog.String("kind", kind)
}

// Reason creates a tag for a termination reason.
func Reason(reason string) slog.Attr {
	return slog.String("reason", reason)
}

// File creates a tag for file paths.
func File(path string) slog.Attr {
	return slog.String("file", path)
}

// RunID creates a tag for run identifiers.
func RunID(id string) slog.Attr {
	return slog.String("run-id", id)
}

// Elapsed creates a tag for wall time durations.
func Elapsed(d time.Duration) slog.Attr {
	return slog.Duration("elapsed", d)
}
