package cli

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mzorec/memoir/internal/commit"
	"github.com/mzorec/memoir/internal/config"
	"github.com/mzorec/memoir/internal/engine"
	"github.com/mzorec/memoir/internal/gate"
	"github.com/mzorec/memoir/internal/graph"
	"github.com/mzorec/memoir/internal/registry"
	"github.com/mzorec/memoir/internal/transcript"
)

// core wires the registry, engine and gate from resolved configuration.
// Every command that touches session state goes through it.
type core struct {
	cfg    *config.Config
	reg    *registry.Registry
	engine *engine.Engine
	gate   *gate.Gate
	logger *zap.Logger
}

func buildCore(globals *Globals) (*core, error) {
	cfg := globals.Config
	logger := newLogger(globals)

	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Open(registry.Options{
		Dir:               cfg.StateDir,
		InactivityTimeout: cfg.Engine.InactivityTimeout,
		// Memory-store artifacts vanish with the process, so restored commit
		// state must not point at them.
		DiscardArtifacts: cfg.Graph.Driver == "" || cfg.Graph.Driver == "memory",
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	pipeline := commit.New(store, reg, commit.Options{
		Logger: logger,
		Policy: commit.RetryPolicy{
			MaxAttempts: cfg.Engine.MaxRetryAttempts,
			BackoffBase: cfg.Engine.RetryBackoffBase,
			BackoffCap:  cfg.Engine.RetryBackoffCap,
		},
	})

	eng := engine.New(reg, &transcript.NDJSONFilter{}, pipeline, engine.Options{
		Logger:            logger,
		CommitConcurrency: cfg.Engine.CommitConcurrency,
	})

	g := gate.New(eng, reg, gate.Options{
		MaxWait:     cfg.Engine.LazyWait,
		MaxAttempts: cfg.Engine.MaxRetryAttempts,
		Concurrency: cfg.Engine.CommitConcurrency,
		Logger:      logger,
	})

	return &core{cfg: cfg, reg: reg, engine: eng, gate: g, logger: logger}, nil
}

// newStore selects the graph store backend from configuration.
func newStore(cfg *config.Config) (graph.Store, error) {
	switch cfg.Graph.Driver {
	case "", "memory":
		return graph.NewMemory(), nil
	case "exec":
		return graph.NewExecStore(cfg.Graph.IndexCmd, cfg.Graph.DeleteCmd)
	default:
		return nil, fmt.Errorf("unknown graph driver %q (want exec or memory)", cfg.Graph.Driver)
	}
}
