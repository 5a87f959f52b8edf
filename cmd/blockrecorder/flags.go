package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

// runFlags returns all CLI flags for the blockrecorder run command
func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
			Value:   false,
		},
		&cli.StringFlag{
			Name:     "rpc-url",
			Aliases:  []string{"r"},
			Usage:    "The Tendermint RPC URL to fetch blocks from",
			EnvVars:  []string{"RPC_URL", "TM_NODE"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "storage-path",
			Aliases: []string{"d"},
			Usage:   "Directory holding the record file and the lock marker",
			EnvVars: []string{"STORAGE_PATH"},
			Value:   "/data",
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Aliases: []string{"p"},
			Usage:   "How long to sleep between polls of the remote chain height",
			EnvVars: []string{"POLL_INTERVAL"},
			Value:   1 * time.Second,
		},
		&cli.Uint64Flag{
			Name:    "genesis-height",
			Aliases: []string{"g"},
			Usage:   "The first height to record when the store is empty",
			EnvVars: []string{"GENESIS_HEIGHT"},
			Value:   1,
		},
		&cli.StringFlag{
			Name:    "store-backend",
			Aliases: []string{"s"},
			Usage:   "Record store backend to use (csv or bolt)",
			EnvVars: []string{"STORE_BACKEND"},
			Value:   "csv",
		},
		&cli.DurationFlag{
			Name:    "request-timeout",
			Aliases: []string{"t"},
			Usage:   "Timeout for a single RPC request; a timed-out request counts as unreachable",
			EnvVars: []string{"REQUEST_TIMEOUT"},
			Value:   5 * time.Second,
		},
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for Prometheus metrics server (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Aliases: []string{"m"},
			Usage:   "Port for Prometheus metrics server",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9090,
		},
	}
}
