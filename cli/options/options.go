// Package options contains CLI flags and helpers shared across commands.
package options

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/nspcc-dev/chatmesh/pkg/config"
)

// ConfigFlag points at the node's YAML configuration file.
var ConfigFlag = &cli.StringFlag{
	Name:     "config",
	Aliases:  []string{"c"},
	Usage:    "Path to the node configuration file",
	Required: true,
}

// DebugFlag forces debug-level logging regardless of the configured level.
var DebugFlag = &cli.BoolFlag{
	Name:  "debug",
	Usage: "Enable debug-level logging",
}

// HandleLoggingParams builds a zap.Logger from the node's logging config,
// following the teacher's HandleLoggingParams (cli/options/options.go):
// ProductionConfig with caller/stacktrace disabled, a string duration
// encoder, and a timestamp encoder gated on whether stdout is a terminal.
func HandleLoggingParams(ctx *cli.Context, cfg config.LoggerConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		var err error
		level, err = zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log setting: %w", err)
		}
	}
	if ctx != nil && ctx.Bool("debug") {
		level = zapcore.DebugLevel
	}

	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.DisableStacktrace = true
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if term.IsTerminal(int(os.Stdout.Fd())) {
		cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cc.EncoderConfig.EncodeTime = func(time.Time, zapcore.PrimitiveArrayEncoder) {}
	}
	cc.Level = zap.NewAtomicLevelAt(level)
	cc.Sampling = nil

	if cfg.File != "" {
		cc.OutputPaths = []string{cfg.File}
		cc.ErrorOutputPaths = []string{cfg.File}
	}

	return cc.Build()
}
