// Package logging provides the structured, leveled logger used throughout
// voicegate. It reconstructs the teacher corpus's pervasive commons.Logger
// call shape (Infow/Warnw/Errorw with key-value pairs) on top of
// go.uber.org/zap and gopkg.in/natefinch/lumberjack.v2, the two libraries
// the teacher's own go.mod declares for this concern.
package logging

import (
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the sugared, key-value logging surface every package in this
// module depends on. Passing an interface (rather than *zap.SugaredLogger
// directly) keeps call sites decoupled from the zap import and makes tests
// free to supply a no-op or recording stub.
type Logger interface {
	Debugw(msg string, kv ...any)
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
	With(kv ...any) Logger
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// Config controls NewApplicationLogger's output.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// FilePath, when non-empty, additionally rotates logs through
	// lumberjack at this path. Stdout output always happens regardless.
	FilePath   string
	MaxSizeMB  int // lumberjack MaxSize, default 100
	MaxBackups int // lumberjack MaxBackups, default 3
	MaxAgeDays int // lumberjack MaxAge, default 28
}

// NewApplicationLogger builds the application-wide Logger. It always writes
// JSON-encoded entries to stdout; when cfg.FilePath is set it additionally
// tees to a rotating file via lumberjack.
func NewApplicationLogger(cfg Config) (Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), level),
	}

	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    defaultInt(cfg.MaxSizeMB, 100),
			MaxBackups: defaultInt(cfg.MaxBackups, 3),
			MaxAge:     defaultInt(cfg.MaxAgeDays, 28),
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	core := zapcore.NewTee(cores...)
	base := zap.New(core, zap.AddCaller())
	return &zapLogger{s: base.Sugar()}, nil
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, err
	}
	return l, nil
}

func (z *zapLogger) Debugw(msg string, kv ...any) { z.s.Debugw(msg, kv...) }
func (z *zapLogger) Infow(msg string, kv ...any)  { z.s.Infow(msg, kv...) }
func (z *zapLogger) Warnw(msg string, kv ...any)  { z.s.Warnw(msg, kv...) }
func (z *zapLogger) Errorw(msg string, kv ...any) { z.s.Errorw(msg, kv...) }
func (z *zapLogger) Sync() error                  { return z.s.Sync() }

func (z *zapLogger) With(kv ...any) Logger {
	return &zapLogger{s: z.s.With(kv...)}
}
