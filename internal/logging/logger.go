package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/rs/zerolog"
)

// New builds the process logger. DEV gets a human-readable console writer,
// every other environment gets JSON on stderr.
func New(c config.EnvConfig) zerolog.Logger {
	var out io.Writer = os.Stderr
	if c.GetEnv() == "DEV" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	return NewWithWriter(out, c.GetLogLevel()).With().
		Str("app", c.GetAppName()).
		Str("env", c.GetEnv()).
		Logger()
}

// NewWithWriter builds a timestamped logger at the named level. Unknown
// levels fall back to info.
func NewWithWriter(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
