package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/mzorec/memoir/internal/cli"
	"github.com/mzorec/memoir/internal/config"
)

const quickStart = `memoir - session transcript commits for AI agent memory

Quick start:
  memoir watch --root ~/transcripts     Watch roots and commit idle sessions
  memoir close -p PATH                  Close one transcript explicitly
  memoir ensure -n PROJECT              Settle a namespace before reading
  memoir sessions                       List sessions with uncommitted work

For help:
  memoir --help                         All commands and flags
`

func main() {
	// Show quick start if no args provided
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Apply config defaults before parsing
	// These will be overridden by CLI flags if specified
	vars := kong.Vars{
		"config_format": cfg.Format,
		"config_level":  cfg.Level,
	}

	ctx := kong.Parse(&c,
		kong.Name("memoir"),
		kong.Description("memoir: commit closed agent sessions into a knowledge graph store"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		vars,
	)

	// Create globals with config fallbacks
	globals := cli.NewGlobalsWithConfig(&c, cfg)
	err = ctx.Run(globals)
	if err != nil {
		os.Exit(1)
	}
}
