package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/alloylabs/blockrecorder/internal/proclock"
	"github.com/alloylabs/blockrecorder/internal/recordstore"
)

// Exit codes are distinct so a supervisor can tell "don't restart, another
// instance owns this record" from "restart, the failure may be transient".
const (
	exitCodeStartup        = 1
	exitCodeAlreadyRunning = 2
	exitCodePersistence    = 3
)

func main() {
	app := &cli.App{
		Name:  "blockrecorder",
		Usage: "Record finalized block heights and hashes from a Tendermint RPC endpoint",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the block recorder",
				Flags:  runFlags(),
				Action: run,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, proclock.ErrAlreadyRunning):
		return exitCodeAlreadyRunning
	case errors.Is(err, recordstore.ErrPersistence):
		return exitCodePersistence
	}
	return exitCodeStartup
}
