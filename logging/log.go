package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerKey struct{}

func NewContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey{}, logger)
}

func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return New(zap.DebugLevel, "", false)
}

// Rotation bounds the log file written next to the console output.
type Rotation struct {
	MaxFiles  int // old files kept, 0 keeps all
	MaxSizeMB int
	MaxAge    int // days
}

var DefaultRotation = Rotation{MaxSizeMB: 500, MaxAge: 28}

func New(level zapcore.LevelEnabler, logFileName string, json bool) *zap.Logger {
	return NewWithRotation(level, logFileName, json, DefaultRotation)
}

func NewWithRotation(level zapcore.LevelEnabler, logFileName string, json bool, rot Rotation) *zap.Logger {
	var encoder zapcore.Encoder
	if json {
		encoder = zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)}

	if logFileName != "" {
		if rot.MaxSizeMB <= 0 {
			rot.MaxSizeMB = DefaultRotation.MaxSizeMB
		}
		fileLogger := &lumberjack.Logger{
			Filename:   logFileName,
			MaxSize:    rot.MaxSizeMB,
			MaxBackups: rot.MaxFiles,
			MaxAge:     rot.MaxAge,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(fileLogger), zap.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...))
}
