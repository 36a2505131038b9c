// Package logging owns the process logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

var (
	level  = new(slog.LevelVar)
	logger = newLogger(os.Stderr)
)

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// Logger returns the process logger.
func Logger() *slog.Logger {
	return logger
}

// SetLevel changes the minimum level of the process logger.
func SetLevel(l slog.Level) {
	level.Set(l)
}
