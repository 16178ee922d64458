package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a timestamped JSON logger on stdout. Unknown levels fall back to info.
func New(level string) zerolog.Logger {
	return NewWithWriter(os.Stdout, level)
}

func NewWithWriter(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

// Component derives a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
