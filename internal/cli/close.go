package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mzorec/memoir/internal/domain"
	"github.com/mzorec/memoir/internal/output"
)

// CloseCmd closes one session: it fingerprints the transcript, commits it to
// the graph store if anything changed, and reports the resulting artifact.
type CloseCmd struct {
	Session string        `short:"s" help:"Session id to close"`
	Path    string        `short:"p" type:"path" help:"Transcript path to close (registered if not yet tracked)"`
	Reason  string        `short:"r" help:"Free-text reason recorded with the close"`
	Wait    time.Duration `help:"Bound the wait for the commit (default: wait until it finishes); it continues in the background on expiry"`
}

// Run executes the close command
func (c *CloseCmd) Run(globals *Globals) error {
	core, err := buildCore(globals)
	if err != nil {
		return outputErrorCommon(globals, "SETUP_FAILED", err.Error())
	}

	sessionID, err := c.resolveSession(core)
	if err != nil {
		return outputErrorCommon(globals, "SESSION_NOT_FOUND", err.Error(),
			"pass --path to register a transcript, or run 'memoir sessions' to list known ids")
	}

	if c.Reason != "" {
		core.logger.Info("explicit close requested",
			zap.String("session_id", sessionID),
			zap.String("reason", c.Reason))
	}

	ctx := context.Background()
	if c.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Wait)
		defer cancel()
	}

	res, err := core.engine.Close(ctx, sessionID, domain.TriggerExplicit)
	if err != nil && res.Status != domain.CloseStatusPending {
		return outputErrorCommon(globals, "CLOSE_FAILED", err.Error())
	}

	if globals.Format == "ndjson" {
		if err := output.NewNDJSONWriter(globals.Stdout).WriteCloseResult(res); err != nil {
			return err
		}
	} else {
		if err := output.NewTextWriter(globals.Stdout).WriteCloseResult(res); err != nil {
			return err
		}
	}

	if res.Status == domain.CloseStatusError {
		return fmt.Errorf("close failed: %s", res.Message)
	}
	return nil
}

// resolveSession maps the --session/--path flags to a registered session id.
// With neither flag the most recently active session is closed.
func (c *CloseCmd) resolveSession(core *core) (string, error) {
	if c.Path != "" {
		abs, err := filepath.Abs(c.Path)
		if err != nil {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		ns := domain.NamespaceFromPath(abs, core.cfg.Watch.NamespaceDepth)
		rec, err := core.reg.GetOrCreate(abs, ns)
		if err != nil {
			return "", err
		}
		return rec.SessionID, nil
	}

	if c.Session != "" {
		if _, ok := core.reg.Snapshot(c.Session); !ok {
			return "", fmt.Errorf("unknown session %q", c.Session)
		}
		return c.Session, nil
	}

	var latest domain.SessionRecord
	for _, rec := range core.reg.All() {
		if rec.LastActivityAt.After(latest.LastActivityAt) {
			latest = rec
		}
	}
	if latest.SessionID == "" {
		return "", fmt.Errorf("no sessions registered")
	}
	return latest.SessionID, nil
}
