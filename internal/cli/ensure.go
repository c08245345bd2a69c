package cli

import (
	"context"
	"time"

	"github.com/mzorec/memoir/internal/output"
)

// EnsureCmd settles uncommitted sessions so a reader sees current knowledge.
// It never fails the caller on pending work; partial settlement is reported
// and the remaining commits continue in the background.
type EnsureCmd struct {
	Namespace []string      `short:"n" help:"Namespaces to settle (can be repeated; default is all)"`
	Wait      time.Duration `help:"Override the total wait bound"`
}

// Run executes the ensure command
func (c *EnsureCmd) Run(globals *Globals) error {
	if c.Wait > 0 {
		globals.Config.Engine.LazyWait = c.Wait
	}
	core, err := buildCore(globals)
	if err != nil {
		return outputErrorCommon(globals, "SETUP_FAILED", err.Error())
	}

	res, err := core.gate.EnsureCommitted(context.Background(), c.Namespace)
	if err != nil {
		return outputErrorCommon(globals, "ENSURE_FAILED", err.Error())
	}

	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).WriteEnsureResult(string(res.Status), res.Pending)
	}
	return output.NewTextWriter(globals.Stdout).WriteEnsureResult(string(res.Status), res.Pending)
}
