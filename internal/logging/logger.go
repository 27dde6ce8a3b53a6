// Package logging builds the logr.Logger shared by the CLI and the plan runner.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Options controls where and how log lines are written.
type Options struct {
	Level string
	// JSON switches from the console encoder to structured JSON lines.
	JSON bool
	// Writer defaults to stderr so command output on stdout stays parseable.
	Writer io.Writer
}

// New returns a controller-runtime logger configured with the given level string.
func New(level string) (logr.Logger, error) {
	return NewWithOptions(Options{Level: level})
}

// NewWithOptions returns a zap-backed logr.Logger for opts.
func NewWithOptions(o Options) (logr.Logger, error) {
	zapLevel, dev, err := ParseLevel(o.Level)
	if err != nil {
		return logr.Logger{}, err
	}
	w := o.Writer
	if w == nil {
		w = os.Stderr
	}
	opts := crzap.Options{Development: dev && !o.JSON, DestWriter: w}
	if !o.JSON {
		opts.Encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	atomic := zap.NewAtomicLevelAt(zapLevel)
	opts.Level = &atomic
	return crzap.New(crzap.UseFlagOptions(&opts)), nil
}

// ParseLevel maps a CLI level name onto a zap level. The second result
// reports whether development mode (stack traces on warnings) applies.
func ParseLevel(level string) (zapcore.Level, bool, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, true, nil
	case "info", "":
		return zapcore.InfoLevel, false, nil
	case "warn", "warning":
		return zapcore.WarnLevel, false, nil
	case "error":
		return zapcore.ErrorLevel, false, nil
	default:
		return zapcore.InfoLevel, false, fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", level)
	}
}
