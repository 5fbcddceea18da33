package command

import (
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	cliconfig "github.com/yndnr/meshstore/internal/cli/config"
	"github.com/yndnr/meshstore/internal/cli/connection"
	"github.com/yndnr/meshstore/internal/cli/output"
	"github.com/yndnr/meshstore/internal/infra/buildinfo"
	"github.com/yndnr/meshstore/internal/infra/tlsroots"
	"github.com/yndnr/meshstore/internal/server/config"
)

const profileKey = "profile"

// App creates the meshstore-cli application.
func App() *cli.App {
	return &cli.App{
		Name:    "meshstore-cli",
		Usage:   "Inspect, create and stage meshstore backups; query a running server",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			BackupCommand(),
			DatastoreCommand(),
			SystemCommand(),
			ConfigCommand(),
		},
		Before: loadProfile,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "profile",
			Usage:   "CLI profile file",
			EnvVars: []string{"MESHSTORE_CLI_PROFILE"},
			Value:   cliconfig.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Admin API address of meshstore-server (default from profile)",
			EnvVars: []string{"MESHSTORE_SERVER"},
		},
		&cli.StringFlag{
			Name:    "server-config",
			Aliases: []string{"c"},
			Usage:   "Server config file, for commands that work on local files (default from profile)",
			EnvVars: []string{"MESHSTORE_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml (default from profile)",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show extra columns",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Admin API request timeout (default from profile)",
		},
		&cli.StringFlag{
			Name:  "ca-file",
			Usage: "CA bundle for a TLS admin API; implies https (default from profile)",
		},
	}
}

// loadProfile reads the profile and lays the global flags over it.
func loadProfile(c *cli.Context) error {
	p, err := cliconfig.Load(c.String("profile"))
	if err != nil {
		return err
	}
	if c.IsSet("server") {
		p.Server = c.String("server")
	}
	if c.IsSet("server-config") {
		p.ServerConfig = c.String("server-config")
	}
	if c.IsSet("output") {
		p.Output = c.String("output")
	}
	if c.IsSet("timeout") {
		p.Timeout = c.Duration("timeout")
	}
	if c.IsSet("ca-file") {
		p.CAFile = c.String("ca-file")
	}
	if _, err := output.ParseFormat(p.Output); err != nil {
		return err
	}
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[profileKey] = p
	return nil
}

// profile returns the effective profile. Commands run without Before, as
// in tests, get the defaults.
func profile(c *cli.Context) *cliconfig.CLIConfig {
	if p, ok := c.App.Metadata[profileKey].(*cliconfig.CLIConfig); ok {
		return p
	}
	return cliconfig.Default()
}

// client returns an admin API client for the profile's server.
func client(c *cli.Context) (*connection.Client, error) {
	p := profile(c)
	var opts []connection.Option
	if p.TLS() {
		tlsCfg, err := tlsroots.ClientConfig(p.CAFile, p.CertFile, p.KeyFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, connection.WithTLSConfig(tlsCfg))
	}
	if p.Timeout > 0 {
		opts = append(opts, connection.WithTimeout(p.Timeout))
	}
	return connection.NewClient(p.Server, opts...), nil
}

// serverConfig loads the server configuration named by the profile.
func serverConfig(c *cli.Context) (*config.ServerConfig, error) {
	path := profile(c).ServerConfig
	cfg, err := config.Load(path, nil)
	if err != nil {
		return nil, fmt.Errorf("server config %s: %w", path, err)
	}
	return cfg, nil
}

// render writes data in the selected output format.
func render(c *cli.Context, data any) error {
	format, err := output.ParseFormat(profile(c).Output)
	if err != nil {
		return err
	}
	return output.NewFormatter(format, c.Bool("wide")).Format(stdout(c), data)
}

func stdout(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return io.Discard
}

func stderr(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return io.Discard
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(time.DateTime)
}
