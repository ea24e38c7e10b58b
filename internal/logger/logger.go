package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName is attached to every log line of the server.
const ServiceName = "exstem-proctor"

// Setup initializes the global zerolog logger.
//   - level: trace, debug, info, warn, error, fatal or panic (default info)
//   - format: "json" for production, "pretty" for human-readable dev output
func Setup(level, format string) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(level))

	return zerolog.New(newWriter(format, os.Stdout)).
		With().
		Timestamp().
		Caller().
		Str("service", ServiceName).
		Logger()
}

// SetupCLI returns a terse stderr logger for the command-line tools, leaving
// stdout free for their output.
func SetupCLI(level string) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(level))
	return zerolog.New(newWriter("pretty", os.Stderr)).With().Timestamp().Logger()
}

func newWriter(format string, out io.Writer) io.Writer {
	if format == "pretty" {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
