// Package logging builds the zap loggers used across bookload.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options control logger construction.
type Options struct {
	// Verbose enables debug logs
	Verbose bool

	// Quiet only keeps warnings and errors; Verbose wins if both are set
	Quiet bool

	// Writer receives log lines (default: stderr)
	Writer io.Writer

	// NoColor disables level colouring
	NoColor bool
}

// Level returns the minimum level for the options.
func (o Options) Level() zapcore.Level {
	switch {
	case o.Verbose:
		return zapcore.DebugLevel
	case o.Quiet:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// New returns a console-encoded logger. Report output goes to stdout, so
// logs default to stderr to keep the two apart.
func New(opts Options) *zap.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	if opts.NoColor {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		zap.NewAtomicLevelAt(opts.Level()),
	)

	return zap.New(core, zap.WithCaller(opts.Verbose))
}
