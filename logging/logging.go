package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"sizero-service/config"
)

// Log is the process-wide logger. Production writes JSON lines to stdout,
// development gets the console writer.
var Log zerolog.Logger

func init() {
	if config.Config("ENV") == "development" {
		Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Str("service", "sizero-service").
			Logger()
		return
	}

	Log = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "sizero-service").
		Logger()
}
