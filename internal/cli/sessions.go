package cli

import (
	"github.com/samber/lo"

	"github.com/mzorec/memoir/internal/domain"
	"github.com/mzorec/memoir/internal/output"
)

// SessionsCmd lists sessions the registry still owes work for.
type SessionsCmd struct {
	Namespace string `short:"n" help:"Limit the listing to one namespace"`
	All       bool   `short:"a" help:"Show every tracked session, committed ones included"`
}

// Run executes the sessions command
func (c *SessionsCmd) Run(globals *Globals) error {
	core, err := buildCore(globals)
	if err != nil {
		return outputErrorCommon(globals, "SETUP_FAILED", err.Error())
	}

	var recs []domain.SessionRecord
	if c.All {
		recs = core.reg.All()
		if c.Namespace != "" {
			recs = lo.Filter(recs, func(r domain.SessionRecord, _ int) bool {
				return r.Namespace == c.Namespace
			})
		}
	} else {
		recs = core.reg.ListUnindexed(c.Namespace)
	}

	infos := lo.Map(recs, func(r domain.SessionRecord, _ int) domain.SessionInfo {
		return domain.NewSessionInfo(r)
	})

	if globals.Format == "ndjson" {
		w := output.NewNDJSONWriter(globals.Stdout)
		for _, info := range infos {
			if err := w.WriteSession(info); err != nil {
				return err
			}
		}
		return nil
	}
	return output.NewTextWriter(globals.Stdout).WriteSessions(infos)
}
