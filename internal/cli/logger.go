package cli

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the zap logger shared by all commands. Logs go to stderr
// so stdout stays clean for NDJSON consumers.
func newLogger(globals *Globals) *zap.Logger {
	if globals == nil || globals.Quiet {
		return zap.NewNop()
	}
	lvl := zapcore.InfoLevel
	if globals.Verbose {
		lvl = zapcore.DebugLevel
	} else if parsed, err := zapcore.ParseLevel(globals.Level); err == nil {
		lvl = parsed
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
