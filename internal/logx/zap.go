package logx

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// ZapLogger adapts *zap.Logger to the Logger interface.
type ZapLogger struct {
	z *zap.Logger
}

// NewZap builds a ZapLogger. When filePath is non-empty, output is
// rotated through lumberjack (100MB/file, 5 backups, 28 days) instead
// of going straight to stderr; development toggles a human-readable
// console encoder instead of JSON.
func NewZap(filePath string, development bool) (*ZapLogger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)
	if development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var ws zapcore.WriteSyncer
	if filePath != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	} else {
		ws = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, ws, zapcore.DebugLevel)
	return &ZapLogger{z: zap.New(core)}, nil
}

func (l *ZapLogger) Record(level Level, message string, fields ...Field) {
	zf := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		zf = append(zf, zap.Any(f.Key, f.Value))
	}

	switch level {
	case Debug:
		l.z.Debug(message, zf...)
	case Info:
		l.z.Info(message, zf...)
	case Warn:
		l.z.Warn(message, zf...)
	case Error:
		l.z.Error(message, zf...)
	default:
		l.z.Info(message, zf...)
	}
}

// Sync flushes any buffered log entries. Call on shutdown.
func (l *ZapLogger) Sync() error {
	return l.z.Sync()
}
