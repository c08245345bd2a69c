package cli

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ConfigCmd groups configuration subcommands.
type ConfigCmd struct {
	Show ConfigShowCmd `cmd:"" help:"Show the resolved configuration"`
}

// ConfigShowCmd prints the configuration after files, environment and flags
// have been merged.
type ConfigShowCmd struct{}

// Run executes the config show command
func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.Config

	if globals.Format == "ndjson" {
		enc := json.NewEncoder(globals.Stdout)
		return enc.Encode(map[string]interface{}{
			"type":          "config",
			"schemaVersion": 1,
			"format":        cfg.Format,
			"level":         cfg.Level,
			"state_dir":     cfg.StateDir,
			"watch": map[string]interface{}{
				"roots":           cfg.Watch.Roots,
				"suffixes":        cfg.Watch.Suffixes,
				"namespace_depth": cfg.Watch.NamespaceDepth,
				"debounce":        cfg.Watch.Debounce.String(),
			},
			"engine": map[string]interface{}{
				"inactivity_timeout": cfg.Engine.InactivityTimeout.String(),
				"sweep_interval":     cfg.Engine.SweepInterval.String(),
				"lazy_wait":          cfg.Engine.LazyWait.String(),
				"max_retry_attempts": cfg.Engine.MaxRetryAttempts,
				"retry_backoff_base": cfg.Engine.RetryBackoffBase.String(),
				"retry_backoff_cap":  cfg.Engine.RetryBackoffCap.String(),
				"commit_concurrency": cfg.Engine.CommitConcurrency,
			},
			"graph": map[string]interface{}{
				"driver":     cfg.Graph.Driver,
				"index_cmd":  cfg.Graph.IndexCmd,
				"delete_cmd": cfg.Graph.DeleteCmd,
			},
		})
	}

	fmt.Fprintln(globals.Stdout, "Current Configuration:")
	fmt.Fprintf(globals.Stdout, "  format: %s\n", cfg.Format)
	fmt.Fprintf(globals.Stdout, "  level: %s\n", cfg.Level)
	fmt.Fprintf(globals.Stdout, "  state_dir: %s\n", cfg.StateDir)
	fmt.Fprintln(globals.Stdout, "Watch:")
	fmt.Fprintf(globals.Stdout, "  roots: %s\n", strings.Join(cfg.Watch.Roots, ", "))
	fmt.Fprintf(globals.Stdout, "  suffixes: %s\n", strings.Join(cfg.Watch.Suffixes, ", "))
	fmt.Fprintf(globals.Stdout, "  namespace_depth: %d\n", cfg.Watch.NamespaceDepth)
	fmt.Fprintf(globals.Stdout, "  debounce: %s\n", cfg.Watch.Debounce)
	fmt.Fprintln(globals.Stdout, "Engine:")
	fmt.Fprintf(globals.Stdout, "  inactivity_timeout: %s\n", cfg.Engine.InactivityTimeout)
	fmt.Fprintf(globals.Stdout, "  sweep_interval: %s\n", cfg.Engine.SweepInterval)
	fmt.Fprintf(globals.Stdout, "  lazy_wait: %s\n", cfg.Engine.LazyWait)
	fmt.Fprintf(globals.Stdout, "  max_retry_attempts: %d\n", cfg.Engine.MaxRetryAttempts)
	fmt.Fprintf(globals.Stdout, "  retry_backoff_base: %s\n", cfg.Engine.RetryBackoffBase)
	fmt.Fprintf(globals.Stdout, "  retry_backoff_cap: %s\n", cfg.Engine.RetryBackoffCap)
	fmt.Fprintf(globals.Stdout, "  commit_concurrency: %d\n", cfg.Engine.CommitConcurrency)
	fmt.Fprintln(globals.Stdout, "Graph:")
	fmt.Fprintf(globals.Stdout, "  driver: %s\n", cfg.Graph.Driver)
	if cfg.Graph.IndexCmd != "" {
		fmt.Fprintf(globals.Stdout, "  index_cmd: %s\n", cfg.Graph.IndexCmd)
	}
	if cfg.Graph.DeleteCmd != "" {
		fmt.Fprintf(globals.Stdout, "  delete_cmd: %s\n", cfg.Graph.DeleteCmd)
	}
	return nil
}
