package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process root logger. Packages never use it directly;
// they derive a component logger via WithComponent so every line carries
// a stable component field.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init configures the root logger once at startup. Unrecognized levels
// fall back to info rather than failing boot: logging must not be the
// reason the relayer cannot start. JSON output is meant for production;
// the console writer for interactive runs.
func Init(level string, jsonOutput bool, output io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if output == nil {
		output = os.Stdout
	}

	sink := output
	if !jsonOutput {
		sink = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}
	Logger = zerolog.New(sink).With().Timestamp().Logger()
}

// WithComponent derives a child logger for one pipeline component
// (router, relaypool, settlement, ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
