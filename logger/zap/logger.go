package zap

import (
	"github.com/3rs4lg4d0/eventpipe/evp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zap implementation of evp.Logger interface.
type Logger struct {
	Logger *zap.Logger
}

var _ evp.Logger = (*Logger)(nil)

// New builds a production zap Logger at the given level. Unknown levels fall
// back to info.
func New(level string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: l.Named("eventpipe")}, nil
}

func (l *Logger) Debug(msg string) {
	l.Logger.Debug(msg)
}

func (l *Logger) Warn(msg string) {
	l.Logger.Warn(msg)
}

func (l *Logger) Error(msg string, err error) {
	l.Logger.Error(msg, zap.Error(err))
}

func (l *Logger) Info(msg string) {
	l.Logger.Info(msg)
}
