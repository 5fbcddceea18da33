package command

import (
	"errors"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/meshstore/internal/cli/output"
	"github.com/yndnr/meshstore/internal/server/httpserver/handler"
)

// DatastoreCommand returns the datastore subcommand group.
func DatastoreCommand() *cli.Command {
	return &cli.Command{
		Name:    "datastore",
		Aliases: []string{"ds"},
		Usage:   "Inspect the datastores of the running server",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List datastores and their shard replicas",
				Action: datastoreList,
			},
			{
				Name:      "get",
				Usage:     "Read a subtree from the local replicas of a datastore",
				ArgsUsage: "TYPE [PATH]",
				Action:    datastoreGet,
			},
		},
	}
}

type datastoreTable []handler.DatastoreResponse

func (d datastoreTable) Table() *output.Table {
	t := output.NewTable("DATASTORE", "SHARD", "STATE", "LEADER", "TERM", "LAST_INDEX", "APPLIED_INDEX", "RESTORED").
		MarkWide("TERM", "RESTORED")
	for _, ds := range d {
		for _, sh := range ds.Shards {
			t.AddRow(
				ds.Type,
				sh.Name,
				sh.State,
				yesNo(sh.Leader),
				strconv.FormatUint(sh.Term, 10),
				strconv.FormatUint(sh.LastIndex, 10),
				strconv.FormatUint(sh.AppliedIndex, 10),
				yesNo(ds.Restored),
			)
		}
	}
	return t
}

func datastoreList(c *cli.Context) error {
	cl, err := client(c)
	if err != nil {
		return err
	}
	list, err := cl.Datastores(c.Context)
	if err != nil {
		return err
	}
	return render(c, datastoreTable(list))
}

// datastoreGet prints the node at PATH, or the whole tree when PATH is
// empty. Non-table formats carry the raw node.
func datastoreGet(c *cli.Context) error {
	domain := c.Args().Get(0)
	if domain == "" {
		return errors.New("datastore type required")
	}
	cl, err := client(c)
	if err != nil {
		return err
	}
	node, err := cl.ReadTree(c.Context, domain, c.Args().Get(1))
	if err != nil {
		return err
	}
	return render(c, node)
}
