package shared

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is a thin wrapper to allow DI/testing.
type Logger interface {
	Printf(string, ...any)
	Warnf(string, ...any)
	Fatalf(string, ...any)
}

type zeroLogger struct{ l zerolog.Logger }

// NewLogger returns a leveled JSON logger writing to stdout, tagged with the
// component name.
func NewLogger(component string, level string) Logger {
	return newLogger(os.Stdout, component, level)
}

// NopLogger discards everything.
func NopLogger() Logger {
	return &zeroLogger{l: zerolog.Nop()}
}

func newLogger(w io.Writer, component, level string) *zeroLogger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	l := zerolog.New(w).Level(lvl).With().Timestamp().Str("component", component).Logger()
	return &zeroLogger{l: l}
}

func (z *zeroLogger) Printf(format string, args ...any) { z.l.Info().Msgf(format, args...) }
func (z *zeroLogger) Warnf(format string, args ...any)  { z.l.Warn().Msgf(format, args...) }
func (z *zeroLogger) Fatalf(format string, args ...any) { z.l.Fatal().Msgf(format, args...) }
