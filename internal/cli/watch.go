package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mzorec/memoir/internal/domain"
	"github.com/mzorec/memoir/internal/engine"
	"github.com/mzorec/memoir/internal/notify"
	"github.com/mzorec/memoir/internal/output"
)

// WatchCmd runs the long-lived daemon: it tracks transcript activity under
// the configured roots and sweeps idle sessions into the graph store.
type WatchCmd struct {
	Root []string `short:"r" type:"path" help:"Transcript root to watch (can be repeated; defaults from config)"`
}

// Run executes the watch command
func (c *WatchCmd) Run(globals *Globals) error {
	roots := c.Root
	if len(roots) == 0 {
		roots = globals.Config.Watch.Roots
	}
	if len(roots) == 0 {
		return outputErrorCommon(globals, "NO_ROOTS", "no transcript roots configured",
			"pass --root or set watch.roots in the config file")
	}

	core, err := buildCore(globals)
	if err != nil {
		return outputErrorCommon(globals, "SETUP_FAILED", err.Error())
	}
	defer core.logger.Sync()

	cfg := core.cfg
	if cfg.Graph.Driver == "" || cfg.Graph.Driver == "memory" {
		core.logger.Warn("graph driver is memory; commits will not outlive this process")
	}

	watcher, err := notify.NewWatcher(notify.WatcherOptions{
		Roots:    roots,
		Suffixes: cfg.Watch.Suffixes,
		Debounce: cfg.Watch.Debounce,
		Logger:   core.logger,
	})
	if err != nil {
		return outputErrorCommon(globals, "WATCH_FAILED", err.Error())
	}
	defer watcher.Close()

	sweeper := engine.NewSweeper(core.engine, core.reg, engine.SweeperOptions{
		Interval:    cfg.Engine.SweepInterval,
		Inactivity:  cfg.Engine.InactivityTimeout,
		MaxAttempts: cfg.Engine.MaxRetryAttempts,
		Concurrency: cfg.Engine.CommitConcurrency,
		Logger:      core.logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	go sweeper.Run(ctx)

	if globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteInfo(fmt.Sprintf("watching %d root(s)", len(roots)))
	} else {
		for _, root := range roots {
			fmt.Fprintf(globals.Stdout, "Watching: %s\n", root)
		}
	}

	for {
		select {
		case <-ctx.Done():
			core.logger.Info("shutting down")
			return nil
		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			c.track(core, ev)
		case err, ok := <-watcher.Errors():
			if !ok {
				return nil
			}
			core.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// track registers activity for one transcript path.
func (c *WatchCmd) track(core *core, ev notify.Event) {
	ns := domain.NamespaceFromPath(ev.Path, core.cfg.Watch.NamespaceDepth)
	rec, err := core.reg.GetOrCreate(ev.Path, ns)
	if err != nil {
		core.logger.Warn("register session", zap.String("path", ev.Path), zap.Error(err))
		return
	}
	if err := core.reg.Touch(rec.SessionID, ev.Time); err != nil {
		core.logger.Warn("touch session", zap.String("session_id", rec.SessionID), zap.Error(err))
	}
}
