package command

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	cliconfig "github.com/yndnr/meshstore/internal/cli/config"
	"github.com/yndnr/meshstore/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration management",
		Subcommands: []*cli.Command{
			{
				Name:  "cli",
				Usage: "CLI profile",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Show the effective profile",
						Action: configCLIShow,
					},
					{
						Name:   "save",
						Usage:  "Write the effective profile, global flags included, to the profile file",
						Action: configCLISave,
					},
				},
			},
			{
				Name:  "server",
				Usage: "Server configuration",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Show the server config with defaults applied and secrets masked",
						Action: configServerShow,
					},
					{
						Name:      "test",
						Usage:     "Validate a server config file",
						ArgsUsage: "[FILE]",
						Action:    configServerTest,
					},
				},
			},
		},
	}
}

// tagged converts a yaml-tagged struct into a generic map so every output
// format uses the config keys.
func tagged(v any) (map[string]any, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func configCLIShow(c *cli.Context) error {
	m, err := tagged(profile(c))
	if err != nil {
		return err
	}
	return render(c, m)
}

func configCLISave(c *cli.Context) error {
	path := c.String("profile")
	if err := cliconfig.Save(profile(c), path); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "profile saved to %s\n", path)
	return nil
}

func configServerShow(c *cli.Context) error {
	cfg, err := serverConfig(c)
	if err != nil {
		return err
	}
	m, err := tagged(config.Sanitize(cfg))
	if err != nil {
		return err
	}
	return render(c, m)
}

// configServerTest loads FILE, or the profile's server config, exactly as
// meshstore-server would.
func configServerTest(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = profile(c).ServerConfig
	}
	if path == "" {
		return errors.New("config file required")
	}
	cfg, err := config.Load(path, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	names := make([]string, 0, len(cfg.Datastores))
	for _, ds := range cfg.Datastores {
		names = append(names, ds.Type)
	}
	fmt.Fprintf(stdout(c), "%s: ok (%d datastores: %v)\n", path, len(names), names)
	return nil
}
