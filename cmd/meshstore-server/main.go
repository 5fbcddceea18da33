package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/meshstore/internal/infra/buildinfo"
	"github.com/yndnr/meshstore/internal/server/config"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "meshstore-server",
		Usage:   "Raft-replicated data tree server with snapshot restore",
		Version: buildinfo.String(),
		Commands: []*cli.Command{
			serveCommand(),
			checkConfigCommand(),
			versionCommand(),
		},
		DefaultCommand: "serve",
	}
}

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML configuration file",
			EnvVars: []string{"MESHSTORE_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "Override storage.data_dir",
		},
		&cli.StringFlag{
			Name:  "http-addr",
			Usage: "Override server.http.addr",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Override log.level (debug, info, warn, error)",
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Restore pending snapshots, bootstrap every datastore and serve the admin API",
		Flags: configFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, c.String("config"))
		},
	}
}

func checkConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-config",
		Usage: "Load and validate the configuration, then print it with secrets masked",
		Flags: configFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return printConfig(c.App.Writer, cfg)
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(c *cli.Context) error {
			info := buildinfo.Get()
			fmt.Fprintf(c.App.Writer, "meshstore-server %s\n", info.Version)
			fmt.Fprintf(c.App.Writer, "  commit:     %s\n", info.Commit)
			fmt.Fprintf(c.App.Writer, "  built:      %s\n", info.BuildTime)
			fmt.Fprintf(c.App.Writer, "  go version: %s\n", info.GoVersion)
			return nil
		},
	}
}

// run starts the server and blocks until ctx is cancelled or the HTTP
// server fails.
func run(ctx context.Context, cfg *config.ServerConfig, configFile string) error {
	srv, err := newServer(cfg, configFile, os.Stdout)
	if err != nil {
		return err
	}
	return srv.run(ctx)
}
