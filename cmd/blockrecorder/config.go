package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

// Store backend names accepted by --store-backend.
const (
	backendCSV  = "csv"
	backendBolt = "bolt"
)

// Config holds all configuration for the blockrecorder application
type Config struct {
	// Application settings
	Verbose bool

	// Blockchain settings
	RPCURL         string
	GenesisHeight  uint64
	PollInterval   time.Duration
	RequestTimeout time.Duration

	// Storage settings
	StoragePath  string
	StoreBackend string

	// Metrics settings
	MetricsHost string
	MetricsPort int
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// buildConfig builds a Config from CLI context flags
func buildConfig(c *cli.Context) (*Config, error) {
	cfg := &Config{
		Verbose:        c.Bool("verbose"),
		RPCURL:         c.String("rpc-url"),
		GenesisHeight:  c.Uint64("genesis-height"),
		PollInterval:   c.Duration("poll-interval"),
		RequestTimeout: c.Duration("request-timeout"),
		StoragePath:    c.String("storage-path"),
		StoreBackend:   c.String("store-backend"),
		MetricsHost:    c.String("metrics-host"),
		MetricsPort:    c.Int("metrics-port"),
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc-url must not be empty")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll-interval must be greater than 0, got %s", cfg.PollInterval)
	}
	if cfg.StoreBackend != backendCSV && cfg.StoreBackend != backendBolt {
		return nil, fmt.Errorf("store-backend must be %q or %q, got %q", backendCSV, backendBolt, cfg.StoreBackend)
	}

	return cfg, nil
}
