package command

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/meshstore/internal/backup"
	"github.com/yndnr/meshstore/internal/cli/connection"
	"github.com/yndnr/meshstore/internal/cli/output"
	"github.com/yndnr/meshstore/internal/server/config"
	"github.com/yndnr/meshstore/internal/storage/snapshot"
	"github.com/yndnr/meshstore/internal/telemetry/logger"
)

// BackupCommand returns the backup subcommand group.
//
// list, inspect, verify, prune and stage work on the backup directory
// named by the server config and need no running server; create asks the
// server to capture its datastores.
func BackupCommand() *cli.Command {
	return &cli.Command{
		Name:    "backup",
		Aliases: []string{"bk"},
		Usage:   "Manage backup bundles",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List backups, oldest first",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "remote", Usage: "Ask the server instead of reading the backup dir"},
				},
				Action: backupList,
			},
			{
				Name:      "inspect",
				Usage:     "Show a backup's header without decrypting it",
				ArgsUsage: "ID|latest|FILE",
				Action:    backupInspect,
			},
			{
				Name:      "verify",
				Usage:     "Decode and validate a whole backup, then summarize its shards",
				ArgsUsage: "ID|latest|FILE",
				Action:    backupVerify,
			},
			{
				Name:   "create",
				Usage:  "Capture every datastore of the running server into a new backup",
				Action: backupCreate,
			},
			{
				Name:   "prune",
				Usage:  "Apply the retention policy to the backup dir",
				Action: backupPrune,
			},
			{
				Name:      "stage",
				Usage:     "Copy a verified backup to the restore path for the next server start",
				ArgsUsage: "ID|latest",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Replace a restore artifact that is already staged"},
				},
				Action: backupStage,
			},
		},
	}
}

// backupTable lists bundle headers.
type backupTable []*snapshot.Info

func (b backupTable) Table() *output.Table {
	t := output.NewTable("ID", "CREATED", "DATASTORES", "ENCRYPTED", "SIZE", "NODE", "CHECKSUM", "PATH").
		MarkWide("NODE", "CHECKSUM", "PATH")
	for _, info := range b {
		cipher := "no"
		if info.Encrypted {
			cipher = info.Cipher
		}
		t.AddRow(
			info.BackupID,
			formatTime(info.CreatedAt),
			strings.Join(info.Datastores, ","),
			cipher,
			humanize.IBytes(uint64(max(info.Size, 0))),
			info.NodeID,
			info.Checksum,
			info.Path,
		)
	}
	return t
}

// verifyReport is the result of a full decode.
type verifyReport struct {
	Backup *snapshot.Info `json:"backup"`
	Shards []shardSummary `json:"shards"`
}

type shardSummary struct {
	Datastore    string `json:"datastore"`
	Shard        string `json:"shard"`
	LastIndex    int64  `json:"last_index"`
	LastTerm     int64  `json:"last_term"`
	AppliedIndex int64  `json:"applied_index"`
	Unapplied    int    `json:"unapplied"`
	ElectionTerm int64  `json:"election_term"`
	VotedFor     string `json:"voted_for,omitempty"`
	Servers      int    `json:"servers"`
}

func (r verifyReport) Table() *output.Table {
	t := output.NewTable("DATASTORE", "SHARD", "LAST", "APPLIED", "UNAPPLIED", "TERM", "VOTED_FOR", "SERVERS").
		MarkWide("VOTED_FOR", "SERVERS")
	for _, s := range r.Shards {
		t.AddRow(
			s.Datastore,
			s.Shard,
			fmt.Sprintf("%d/%d", s.LastIndex, s.LastTerm),
			strconv.FormatInt(s.AppliedIndex, 10),
			strconv.Itoa(s.Unapplied),
			strconv.FormatInt(s.ElectionTerm, 10),
			s.VotedFor,
			strconv.Itoa(s.Servers),
		)
	}
	return t
}

func summarize(b *snapshot.Bundle) []shardSummary {
	var out []shardSummary
	for _, ds := range b.Datastores {
		for _, sh := range ds.Shards {
			s := shardSummary{
				Datastore:    ds.Type,
				Shard:        sh.Name,
				LastIndex:    sh.Log.LastIndex,
				LastTerm:     sh.Log.LastTerm,
				AppliedIndex: sh.Log.LastAppliedIndex,
				Unapplied:    len(sh.Log.UnappliedEntries),
				ElectionTerm: sh.Log.ElectionTerm,
				VotedFor:     sh.Log.ElectionVotedFor,
			}
			if sh.Log.ServerConfig != nil {
				s.Servers = len(sh.Log.ServerConfig.Servers)
			}
			out = append(out, s)
		}
	}
	return out
}

// localBackups opens the backup dir of the configured server. The
// manager logs through a discarding logger; commands report results
// themselves.
func localBackups(c *cli.Context) (*backup.Manager, *config.ServerConfig, error) {
	cfg, err := serverConfig(c)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Backup.Dir == "" {
		return nil, nil, errors.New("server config has no backup.dir")
	}
	enc, err := config.EncryptionConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	mgr, err := backup.NewManager(config.ToBackupConfig(cfg, "", enc, logger.Discard()))
	if err != nil {
		return nil, nil, err
	}
	return mgr, cfg, nil
}

// resolveBackup maps an argument to a bundle path. Anything that names an
// existing file is used as is; otherwise it is a backup id or "latest".
func resolveBackup(c *cli.Context) (string, error) {
	arg := c.Args().First()
	if arg == "" {
		return "", errors.New("backup id, \"latest\" or file path required")
	}
	if st, err := os.Stat(arg); err == nil && !st.IsDir() {
		return filepath.Abs(arg)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	mgr, _, err := localBackups(c)
	if err != nil {
		return "", err
	}
	return mgr.Path(arg)
}

func backupList(c *cli.Context) error {
	var (
		infos []*snapshot.Info
		err   error
	)
	if c.Bool("remote") {
		var cl *connection.Client
		if cl, err = client(c); err == nil {
			infos, err = cl.ListBackups(c.Context)
		}
	} else {
		var mgr *backup.Manager
		if mgr, _, err = localBackups(c); err == nil {
			infos, err = mgr.List()
		}
	}
	if err != nil {
		return err
	}
	if infos == nil {
		infos = []*snapshot.Info{}
	}
	return render(c, backupTable(infos))
}

func backupInspect(c *cli.Context) error {
	path, err := resolveBackup(c)
	if err != nil {
		return err
	}
	info, err := snapshot.InspectFile(path)
	if err != nil {
		return err
	}
	return render(c, backupTable{info})
}

// backupVerify decodes the whole bundle. Encrypted bundles take their key
// from the server config.
func backupVerify(c *cli.Context) error {
	path, err := resolveBackup(c)
	if err != nil {
		return err
	}
	header, err := snapshot.InspectFile(path)
	if err != nil {
		return err
	}

	var enc snapshot.EncryptionConfig
	if header.Encrypted {
		cfg, err := serverConfig(c)
		if err != nil {
			return fmt.Errorf("backup is encrypted: %w", err)
		}
		if enc, err = config.EncryptionConfig(cfg); err != nil {
			return err
		}
	}

	bundle, info, err := snapshot.ReadFile(path, enc)
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr(c), "backup %s is valid: %d datastores\n", info.BackupID, len(bundle.Datastores))
	return render(c, verifyReport{Backup: info, Shards: summarize(bundle)})
}

func backupCreate(c *cli.Context) error {
	cl, err := client(c)
	if err != nil {
		return err
	}
	sp := output.NewSpinner(stderr(c), "capturing datastores")
	sp.Start()
	info, err := cl.CreateBackup(c.Context)
	if err != nil {
		sp.Fail("backup failed")
		return err
	}
	sp.Success("backup " + info.BackupID + " created")
	return render(c, backupTable{info})
}

func backupPrune(c *cli.Context) error {
	mgr, cfg, err := localBackups(c)
	if err != nil {
		return err
	}
	removed, err := mgr.Prune()
	if err != nil {
		return err
	}
	return render(c, map[string]any{
		"dir":             mgr.Dir(),
		"removed":         removed,
		"retention_count": cfg.Backup.RetentionCount,
		"retention_days":  cfg.Backup.RetentionDays,
	})
}

// backupStage places a backup where the server's restore coordinator
// looks for it. The server consumes it on its next start.
func backupStage(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("backup id or \"latest\" required")
	}
	mgr, cfg, err := localBackups(c)
	if err != nil {
		return err
	}

	target := filepath.Join(cfg.Restore.Dir, cfg.Restore.FileName)
	if _, err := os.Stat(target); err == nil && !c.Bool("force") {
		return fmt.Errorf("restore artifact %s already staged; use --force to replace it", target)
	}

	info, err := mgr.Stage(id, target)
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr(c), "staged %s at %s; restart the server to restore\n", info.BackupID, target)
	return render(c, backupTable{info})
}

