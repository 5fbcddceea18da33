package command

import (
	"fmt"
	"maps"
	"slices"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/meshstore/internal/cli/output"
	"github.com/yndnr/meshstore/internal/server/httpserver/handler"
)

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Query the running server",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show readiness, per-datastore state and pending restores",
				Action: systemStatus,
			},
			{
				Name:   "health",
				Usage:  "Check server readiness; exits non-zero when not ready",
				Action: systemHealth,
			},
		},
	}
}

// statusView combines readiness with the restore coordinator's view.
type statusView struct {
	Server  string                   `json:"server"`
	Health  *handler.HealthResponse  `json:"health"`
	Restore *handler.RestoreResponse `json:"restore,omitempty"`
}

func (s statusView) Table() *output.Table {
	t := output.NewTable("DATASTORE", "STATE", "PENDING_RESTORE")
	pending := map[string]bool{}
	if s.Restore != nil {
		for _, p := range s.Restore.Pending {
			pending[p] = true
		}
	}
	for _, ds := range slices.Sorted(maps.Keys(s.Health.Datastores)) {
		t.AddRow(ds, s.Health.Datastores[ds], yesNo(pending[ds]))
	}
	return t
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func systemStatus(c *cli.Context) error {
	cl, err := client(c)
	if err != nil {
		return err
	}
	health, err := cl.Health(c.Context)
	if health == nil {
		return err
	}
	view := statusView{Server: cl.BaseURL(), Health: health}
	if view.Restore, err = cl.RestorePending(c.Context); err != nil {
		return err
	}

	fmt.Fprintf(stderr(c), "server %s (%s): %s\n", view.Server, health.Version, health.Status)
	if p := view.Restore; p != nil && len(p.Pending) > 0 && p.Backup != nil {
		fmt.Fprintf(stderr(c), "restore artifact %s (backup %s) waiting for: %v\n", p.Path, p.Backup.BackupID, p.Pending)
	}
	return render(c, view)
}

func systemHealth(c *cli.Context) error {
	cl, err := client(c)
	if err != nil {
		return err
	}
	health, err := cl.Health(c.Context)
	if health != nil {
		if rerr := render(c, health); rerr != nil {
			return rerr
		}
	}
	if err != nil {
		return fmt.Errorf("not ready: %w", err)
	}
	return nil
}
