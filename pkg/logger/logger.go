// Package logger provides a structured zerolog logger for dyn-wol.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init creates and returns a zerolog.Logger configured with the given log level.
// Supported levels: trace, debug, info, warn, error. Defaults to info.
func Init(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(
		zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		},
	).Level(lvl).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
