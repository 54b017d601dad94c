package cliconfig

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger

func init() {
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().
		Level(zerolog.InfoLevel)
}

// Logger returns the CLI logger.
func Logger() zerolog.Logger {
	return logger
}

// SetDebug raises the CLI logger to debug level when on is true.
func SetDebug(on bool) {
	if on {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}
}
