package zerolog

import (
	"io"

	"github.com/3rs4lg4d0/eventpipe/evp"
	"github.com/rs/zerolog"
)

// zerolog implementation of evp.Logger interface.
type Logger struct {
	Logger zerolog.Logger
}

var _ evp.Logger = (*Logger)(nil)

// New builds a Logger writing JSON lines to w at the given level
// (debug, info, warn or error). Unknown levels fall back to info.
func New(w io.Writer, level string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return &Logger{Logger: zerolog.New(w).Level(lvl).With().Timestamp().Str("component", "eventpipe").Logger()}
}

func (l *Logger) Debug(msg string) {
	l.Logger.Debug().Msg(msg)
}

func (l *Logger) Warn(msg string) {
	l.Logger.Warn().Msg(msg)
}

func (l *Logger) Error(msg string, err error) {
	l.Logger.Err(err).Msg(msg)
}

func (l *Logger) Info(msg string) {
	l.Logger.Info().Msg(msg)
}
