package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

func NewLogger(level string) *Logger {
	config := zap.Config{
		Encoding:         "json",
		Level:            zap.NewAtomicLevelAt(parseLevel(level)),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:   "message",
			LevelKey:     "level",
			TimeKey:      "time",
			CallerKey:    "caller",
			EncodeLevel:  zapcore.LowercaseLevelEncoder,
			EncodeTime:   zapcore.ISO8601TimeEncoder,
			EncodeCaller: zapcore.ShortCallerEncoder,
		},
	}

	logger, err := config.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return &Logger{SugaredLogger: logger.Sugar(), level: config.Level}
}

// SetLevel changes the level of every logger derived from l.
func (l *Logger) SetLevel(level string) {
	l.level.SetLevel(parseLevel(level))
}

func parseLevel(level string) zapcore.Level {
	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return logLevel
}
