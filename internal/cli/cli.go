package cli

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/mzorec/memoir/internal/config"
)

// CLI is the top-level command structure for kong
type CLI struct {
	Format  string `help:"Output format: ndjson (machine-readable), text, or auto" enum:"ndjson,text,auto" default:"${config_format}"`
	Level   string `help:"Log level: debug, info, warn, error" default:"${config_level}"`
	Quiet   bool   `short:"q" help:"Suppress logging output"`
	Verbose bool   `short:"v" help:"Enable verbose debug logging"`

	Close    CloseCmd    `cmd:"" help:"Close a session and commit its transcript to the graph store"`
	Sessions SessionsCmd `cmd:"" help:"List sessions with uncommitted work"`
	Ensure   EnsureCmd   `cmd:"" help:"Settle uncommitted sessions before reading the graph"`
	Watch    WatchCmd    `cmd:"" help:"Watch transcript roots and commit sessions as they go quiet"`
	Config   ConfigCmd   `cmd:"" help:"Configuration commands"`
}

// Globals carries shared flags, writers and resolved config into every command.
type Globals struct {
	Format  string
	Level   string
	Quiet   bool
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config

	debug *zap.SugaredLogger
}

// NewGlobalsWithConfig builds Globals from parsed flags, resolving the
// "auto" format against the terminal.
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	format := c.Format
	if format == "auto" || format == "" {
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			format = "text"
		} else {
			format = "ndjson"
		}
	}
	g := &Globals{
		Format:  format,
		Level:   c.Level,
		Quiet:   c.Quiet,
		Verbose: c.Verbose,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}
	if g.Verbose {
		g.debug = newLogger(g).Sugar()
	}
	return g
}

// Debug logs a debug line when --verbose is set.
func (g *Globals) Debug(format string, args ...interface{}) {
	if g.debug == nil {
		return
	}
	g.debug.Debugf(format, args...)
}
