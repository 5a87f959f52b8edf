// Package logging builds the zap loggers used across the recorder.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// NewSugaredLogger returns the process-wide logger. Verbose selects zap's
// human-readable development config at debug level; the default is
// production JSON, one object per line.
func NewSugaredLogger(verbose bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l.Sugar(), nil
}
