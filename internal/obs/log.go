package obs

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogOptions controls logger behavior at initialisation time.
type LogOptions struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Defaults to "info" when empty or unrecognised.
	Level string
	// Pretty enables human-friendly console output. Keep false in
	// production to emit pure JSON.
	Pretty bool
	// Output is the writer logs are sent to. Defaults to os.Stdout.
	Output io.Writer
}

var (
	logOnce sync.Once
	logger  zerolog.Logger
)

// InitLog initialises the shared logger. Only the first call has any effect.
func InitLog(opts LogOptions) zerolog.Logger {
	logOnce.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano

		out := opts.Output
		if out == nil {
			out = os.Stdout
		}
		if opts.Pretty {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		}

		logger = zerolog.New(out).Level(parseLevel(opts.Level)).With().Timestamp().Logger()
	})
	return logger
}

// Log returns the shared logger. Safe to call before InitLog; it falls back
// to JSON on stdout at info level.
func Log() *zerolog.Logger {
	InitLog(LogOptions{})
	return &logger
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
