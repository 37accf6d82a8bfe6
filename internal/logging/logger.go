// Package logging provides the library's zerolog defaults.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New creates a console logger writing to w at the given level.
// Timestamps use a short time-of-day format suitable for interactive use.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Default returns the logger used when the client config does not supply
// one: console output on stderr, warn level. Libraries should be quiet by
// default; callers opt into debug logging via Config.Logger.
func Default() zerolog.Logger {
	return New(os.Stderr, zerolog.WarnLevel)
}
