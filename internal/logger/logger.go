package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is a nop until Init runs, so library code can log unconditionally.
var Log = zap.NewNop().Sugar()

// Init initializes the global logger.
// If logPath is provided, logs are appended to that file. Otherwise they are
// written to stdout with colored levels.
func Init(verbose bool, logPath string) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encoderConfig.EncodeCaller = nil

	// No color codes inside files
	if logPath != "" {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	logLevel := zap.InfoLevel
	if verbose {
		logLevel = zap.DebugLevel
	}

	var writer zapcore.WriteSyncer
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			writer = zapcore.AddSync(os.Stdout)
			println("Failed to open log file: " + err.Error())
		} else {
			writer = zapcore.AddSync(f)
		}
	} else {
		writer = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		writer,
		logLevel,
	)

	Log = zap.New(core).Sugar()
}

// Sync flushes any buffered log entries.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
