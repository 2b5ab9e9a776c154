package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is replaced by InitLogger. Until then it discards everything, so
// packages and tests can log without setup.
var Log = zap.NewNop().Sugar()

// InitLogger makes Log write to stdout at the given level. Format is
// "console" (the default) or "json".
func InitLogger(levelStr, format string) {
	Log = New(levelStr, format, os.Stdout).Sugar()
	Log.Infof("Logger initialized at level: %s", Level(levelStr).String())
}

// Level parses levelStr, falling back to info when it is empty or invalid.
func Level(levelStr string) zapcore.Level {
	level, err := zapcore.ParseLevel(levelStr)
	if err != nil || levelStr == "" {
		return zap.InfoLevel
	}
	return level
}

// New builds a logger writing to w.
func New(levelStr, format string, w io.Writer) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		// Console output is docker friendly.
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), Level(levelStr))
	return zap.New(core, zap.AddCaller())
}
